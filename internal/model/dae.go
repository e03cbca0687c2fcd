// Package model declares the collaborators a transcription depends on: the
// model provider supplying the DAE and the data provider supplying
// per-scenario inputs.
package model

import (
	"errors"
	"fmt"

	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

var ErrInvalidDAE = errors.New("model: invalid DAE")

// Alias states that Name equals Sign times Canonical.
type Alias struct {
	Name      string
	Canonical string
	Sign      float64
}

// LookupTable evaluates a tabulated relation. Inputs name the variables
// whose values are passed, in order, to Fn's scalar inputs.
type LookupTable struct {
	Inputs []string
	Fn     sym.Function
}

// DAE is the symbolic model. All symbols are scalar and named.
type DAE struct {
	Builder *sym.Builder
	Time    *sym.Node

	States         []*sym.Node
	Derivatives    []*sym.Node
	Algebraics     []*sym.Node
	Controls       []*sym.Node
	ConstantInputs []*sym.Node
	Parameters     []*sym.Node
	// LookupTables are placeholder symbols replaced by table evaluations.
	LookupTables []*sym.Node

	Residual        []*sym.Node
	InitialResidual []*sym.Node

	Aliases       []Alias
	Nominals      map[string][]float64
	Discrete      map[string]bool
	Interpolation map[string]timeseries.Method
}

func (d *DAE) Validate() error {
	if d.Builder == nil {
		return fmt.Errorf("%w: no builder", ErrInvalidDAE)
	}
	if d.Time == nil {
		return fmt.Errorf("%w: no time symbol", ErrInvalidDAE)
	}
	if len(d.States) != len(d.Derivatives) {
		return fmt.Errorf("%w: %d states but %d derivatives", ErrInvalidDAE, len(d.States), len(d.Derivatives))
	}
	seen := make(map[string]bool)
	lists := [][]*sym.Node{{d.Time}, d.States, d.Derivatives, d.Algebraics, d.Controls, d.ConstantInputs, d.Parameters, d.LookupTables}
	for _, l := range lists {
		for _, s := range l {
			if !s.IsSymbol() {
				return fmt.Errorf("%w: %v is not a symbol", ErrInvalidDAE, s)
			}
			if seen[s.Name()] {
				return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidDAE, s.Name())
			}
			seen[s.Name()] = true
		}
	}
	return nil
}

// Nominal returns the nominal of a variable, defaulting to 1.
func (d *DAE) Nominal(name string) []float64 {
	if n, ok := d.Nominals[name]; ok && len(n) > 0 {
		return n
	}
	return []float64{1}
}

// ModelProvider supplies the DAE once per problem.
type ModelProvider interface {
	DAE() *DAE
	LookupTable(name string) (LookupTable, bool)
}

// StaticModel serves a fixed DAE.
type StaticModel struct {
	Model  *DAE
	Tables map[string]LookupTable
}

func (m *StaticModel) DAE() *DAE { return m.Model }

func (m *StaticModel) LookupTable(name string) (LookupTable, bool) {
	t, ok := m.Tables[name]
	return t, ok
}

// VectorVariable is a named group of symbols, used for path and extra
// variables which may be vector valued.
type VectorVariable struct {
	Name    string
	Symbols []*sym.Node
}

func NewVectorVariable(b *sym.Builder, name string, width int) VectorVariable {
	return VectorVariable{Name: name, Symbols: b.Symbols(name, width)}
}
