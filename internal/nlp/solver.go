package nlp

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Solution is the result of a solve, in the scaled decision vector.
type Solution struct {
	X          []float64
	F          float64
	G          []float64
	Violation  float64
	Iterations int
	Converged  bool
}

type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}

// AugmentedLagrangianOptions configure the reference solver.
type AugmentedLagrangianOptions struct {
	MaxOuter      int     `yaml:"max_outer"`
	MaxInner      int     `yaml:"max_inner"`
	Tolerance     float64 `yaml:"tolerance"`
	GradientTol   float64 `yaml:"gradient_tolerance"`
	Penalty       float64 `yaml:"penalty"`
	PenaltyGrowth float64 `yaml:"penalty_growth"`
	MaxPenalty    float64 `yaml:"max_penalty"`
	FiniteStep    float64 `yaml:"finite_step"`
}

func DefaultAugmentedLagrangianOptions() AugmentedLagrangianOptions {
	return AugmentedLagrangianOptions{
		MaxOuter:      40,
		MaxInner:      500,
		Tolerance:     1e-7,
		GradientTol:   1e-9,
		Penalty:       10,
		PenaltyGrowth: 10,
		MaxPenalty:    1e9,
		FiniteStep:    1e-6,
	}
}

// AugmentedLagrangian solves problems with the Powell-Hestenes-Rockafellar
// method: bound-constrained subproblems are replaced by penalized
// unconstrained ones minimized with L-BFGS, using finite-difference
// gradients. Variable bounds enter as penalized rows as well, and the
// final iterate is clipped into them. Variables with equal bounds are held
// fixed. Discrete flags are ignored.
type AugmentedLagrangian struct {
	Options AugmentedLagrangianOptions
	Log     *zap.Logger
}

func NewAugmentedLagrangian(opts AugmentedLagrangianOptions, log *zap.Logger) *AugmentedLagrangian {
	if log == nil {
		log = zap.NewNop()
	}
	return &AugmentedLagrangian{Options: opts, Log: log}
}

// row is one two-sided constraint on a value computed from x.
type row struct {
	lb, ub     float64
	lamL, lamU float64
}

func (r *row) equality() bool { return r.lb == r.ub }

// penalty returns the augmented-Lagrangian term of value c.
func (r *row) penalty(c, mu float64) float64 {
	if r.equality() {
		h := c - r.lb
		return r.lamU*h + 0.5*mu*h*h
	}
	var t float64
	if !math.IsInf(r.ub, 1) {
		s := math.Max(0, r.lamU+mu*(c-r.ub))
		t += (s*s - r.lamU*r.lamU) / (2 * mu)
	}
	if !math.IsInf(r.lb, -1) {
		s := math.Max(0, r.lamL+mu*(r.lb-c))
		t += (s*s - r.lamL*r.lamL) / (2 * mu)
	}
	return t
}

func (r *row) update(c, mu float64) {
	if r.equality() {
		r.lamU += mu * (c - r.lb)
		return
	}
	if !math.IsInf(r.ub, 1) {
		r.lamU = math.Max(0, r.lamU+mu*(c-r.ub))
	}
	if !math.IsInf(r.lb, -1) {
		r.lamL = math.Max(0, r.lamL+mu*(r.lb-c))
	}
}

func (s *AugmentedLagrangian) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	ev, err := p.Compile()
	if err != nil {
		return nil, err
	}
	opts := s.Options
	n, m := ev.Size()

	// Free variables are optimized; fixed ones stay at their bound.
	x := make([]float64, n)
	var free []int
	var boundRows []row
	for i := 0; i < n; i++ {
		lb, ub := p.LBX[i], p.UBX[i]
		if math.IsNaN(lb) || math.IsNaN(ub) {
			return nil, fmt.Errorf("%w: variable %d has NaN bounds", ErrShape, i)
		}
		if lb > ub {
			return nil, fmt.Errorf("%w: variable %d has bounds [%g, %g]", ErrInfeasible, i, lb, ub)
		}
		if lb == ub {
			x[i] = lb
			continue
		}
		x[i] = math.Min(math.Max(p.X0[i], lb), ub)
		free = append(free, i)
		boundRows = append(boundRows, row{lb: lb, ub: ub})
	}
	rows := make([]row, m)
	for j := range rows {
		rows[j] = row{lb: p.LBG[j], ub: p.UBG[j]}
	}

	g := make([]float64, m)
	full := make([]float64, n)
	expand := func(z []float64) []float64 {
		copy(full, x)
		for k, i := range free {
			full[i] = z[k]
		}
		return full
	}

	mu := opts.Penalty
	lagrangian := func(z []float64) float64 {
		f, err := ev.Eval(expand(z), g)
		if err != nil {
			return math.Inf(1)
		}
		for j := range rows {
			f += rows[j].penalty(g[j], mu)
		}
		for k := range boundRows {
			f += boundRows[k].penalty(z[k], mu)
		}
		return f
	}
	fdSettings := &fd.Settings{Formula: fd.Central, Step: opts.FiniteStep}
	problem := optimize.Problem{
		Func: lagrangian,
		Grad: func(grad, z []float64) {
			fd.Gradient(grad, lagrangian, z, fdSettings)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	z := make([]float64, len(free))
	for k, i := range free {
		z[k] = x[i]
	}

	sol := &Solution{}
	prev := math.Inf(1)
	for outer := 0; outer < opts.MaxOuter; outer++ {
		sol.Iterations = outer + 1
		if len(z) > 0 {
			res, err := optimize.Minimize(problem, z, &optimize.Settings{
				GradientThreshold: opts.GradientTol,
				MajorIterations:   opts.MaxInner,
			}, &optimize.LBFGS{})
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if res == nil {
				return nil, err
			}
			if err != nil {
				s.Log.Debug("inner minimization stopped", zap.Int("outer", outer), zap.Error(err))
			}
			copy(z, res.X)
		}

		if _, err := ev.Eval(expand(z), g); err != nil {
			return nil, err
		}
		viol := 0.0
		for j := range rows {
			viol = math.Max(viol, Violation(g[j:j+1], []float64{rows[j].lb}, []float64{rows[j].ub}))
			rows[j].update(g[j], mu)
		}
		for k := range boundRows {
			viol = math.Max(viol, Violation(z[k:k+1], []float64{boundRows[k].lb}, []float64{boundRows[k].ub}))
			boundRows[k].update(z[k], mu)
		}
		s.Log.Debug("augmented lagrangian iteration",
			zap.Int("outer", outer), zap.Float64("violation", viol), zap.Float64("penalty", mu))

		sol.Violation = viol
		if viol <= opts.Tolerance {
			sol.Converged = true
			break
		}
		if viol > 0.25*prev {
			mu = math.Min(mu*opts.PenaltyGrowth, opts.MaxPenalty)
		}
		prev = viol
	}

	for k := range z {
		z[k] = math.Min(math.Max(z[k], boundRows[k].lb), boundRows[k].ub)
	}
	sol.X = append([]float64(nil), expand(z)...)
	sol.G = make([]float64, m)
	sol.F, err = ev.Eval(sol.X, sol.G)
	if err != nil {
		return nil, err
	}
	sol.Violation = Violation(sol.G, p.LBG, p.UBG)
	if !sol.Converged {
		s.Log.Warn("solver did not reach the constraint tolerance",
			zap.Float64("violation", sol.Violation), zap.Int("iterations", sol.Iterations))
	}
	return sol, nil
}
