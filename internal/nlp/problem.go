// Package nlp holds the finite nonlinear program produced by a
// transcription and a reference solver for it.
package nlp

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/sym"
)

var (
	ErrShape      = errors.New("nlp: inconsistent problem dimensions")
	ErrInfeasible = errors.New("nlp: constraints could not be satisfied")
)

// Option keys understood by solvers.
const (
	OptionJacobianConstant = "jac_c_constant"
)

// Block names a contiguous range of constraint rows.
type Block struct {
	Name   string
	Offset int
	Len    int
}

// Problem is
//
//	minimize F(X) subject to LBG <= G(X) <= UBG, LBX <= X <= UBX
//
// in the scaled decision vector X.
type Problem struct {
	X []*sym.Node
	F *sym.Node
	G []*sym.Node

	LBX      []float64
	UBX      []float64
	X0       []float64
	Discrete []bool

	LBG []float64
	UBG []float64

	Blocks  []Block
	Options map[string]string
}

// AddConstraints appends rows with their bounds under a block name.
func (p *Problem) AddConstraints(name string, g []*sym.Node, lb, ub []float64) {
	if len(g) == 0 {
		return
	}
	p.Blocks = append(p.Blocks, Block{Name: name, Offset: len(p.G), Len: len(g)})
	p.G = append(p.G, g...)
	p.LBG = append(p.LBG, lb...)
	p.UBG = append(p.UBG, ub...)
}

// AddEqualities appends rows constrained to zero.
func (p *Problem) AddEqualities(name string, g []*sym.Node) {
	zeros := make([]float64, len(g))
	p.AddConstraints(name, g, zeros, zeros)
}

// Block returns the named constraint block.
func (p *Problem) Block(name string) (Block, bool) {
	for _, b := range p.Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return Block{}, false
}

func (p *Problem) Validate() error {
	n := len(p.X)
	for name, v := range map[string]int{"lbx": len(p.LBX), "ubx": len(p.UBX), "x0": len(p.X0), "discrete": len(p.Discrete)} {
		if v != n {
			return fmt.Errorf("%w: %s has %d entries for %d variables", ErrShape, name, v, n)
		}
	}
	m := len(p.G)
	if len(p.LBG) != m || len(p.UBG) != m {
		return fmt.Errorf("%w: %d constraints with %d lower and %d upper bounds", ErrShape, m, len(p.LBG), len(p.UBG))
	}
	return nil
}

// Evaluator computes the objective and constraints numerically.
type Evaluator struct {
	fn *sym.Expr
	n  int
	m  int
}

// Compile builds an evaluator for the problem.
func (p *Problem) Compile() (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f := p.F
	if f == nil {
		return nil, fmt.Errorf("%w: no objective", ErrShape)
	}
	fn, err := sym.Compile("nlp", [][]*sym.Node{p.X}, [][]*sym.Node{{f}, p.G})
	if err != nil {
		return nil, err
	}
	return &Evaluator{fn: fn, n: len(p.X), m: len(p.G)}, nil
}

func (e *Evaluator) Size() (int, int) { return e.n, e.m }

// Eval returns the objective and writes the constraints into g, which must
// have one entry per constraint.
func (e *Evaluator) Eval(x, g []float64) (float64, error) {
	f := []float64{0}
	if err := e.fn.Eval([][]float64{x}, [][]float64{f, g}); err != nil {
		return math.NaN(), err
	}
	return f[0], nil
}

// Violation is the largest bound violation of g.
func Violation(g, lb, ub []float64) float64 {
	worst := 0.0
	for i, v := range g {
		switch {
		case v < lb[i]:
			worst = math.Max(worst, lb[i]-v)
		case v > ub[i]:
			worst = math.Max(worst, v-ub[i])
		case math.IsNaN(v):
			return math.Inf(1)
		}
	}
	return worst
}
