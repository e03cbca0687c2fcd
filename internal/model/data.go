package model

import (
	"math"

	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// Parameter is a parameter value. When Expr is set it gives the value in
// terms of other parameter symbols and Value is ignored.
type Parameter struct {
	Value float64
	Expr  *sym.Node
}

// SeedValue is an initial guess: a series for time-dependent variables or
// plain values for extra variables and initial derivatives.
type SeedValue struct {
	Series *timeseries.Series
	Values []float64
}

// DataProvider supplies numeric inputs. Every per-name lookup reports
// whether an entry exists instead of failing.
type DataProvider interface {
	// Times returns the time grid of a variable. The empty name selects the
	// collocation grid.
	Times(variable string) []float64
	EnsembleSize() int
	Probability(member int) float64
	Parameter(member int, name string) (Parameter, bool)
	// DynamicParameters names parameters that are never inlined as constants.
	DynamicParameters() []string
	ConstantInput(member int, name string) (*timeseries.Series, bool)
	History(member int, name string) (*timeseries.Series, bool)
	Seed(member int, name string) (SeedValue, bool)
	Bound(name string) (Bound, bool)
}

// Member is the data of one ensemble member.
type Member struct {
	Probability    float64
	Parameters     map[string]Parameter
	ConstantInputs map[string]*timeseries.Series
	History        map[string]*timeseries.Series
	Seeds          map[string]SeedValue
}

func NewMember(probability float64) *Member {
	return &Member{
		Probability:    probability,
		Parameters:     make(map[string]Parameter),
		ConstantInputs: make(map[string]*timeseries.Series),
		History:        make(map[string]*timeseries.Series),
		Seeds:          make(map[string]SeedValue),
	}
}

// MemoryData is an in-memory DataProvider.
type MemoryData struct {
	Grid          []float64
	VariableTimes map[string][]float64
	Members       []*Member
	Dynamic       []string
	Bounds        map[string]Bound
}

// NewMemoryData creates data for n equally likely members on the given
// collocation grid.
func NewMemoryData(grid []float64, n int) *MemoryData {
	d := &MemoryData{
		Grid:          grid,
		VariableTimes: make(map[string][]float64),
		Bounds:        make(map[string]Bound),
	}
	for i := 0; i < n; i++ {
		d.Members = append(d.Members, NewMember(1/float64(n)))
	}
	return d
}

func (d *MemoryData) Times(variable string) []float64 {
	if t, ok := d.VariableTimes[variable]; ok && variable != "" {
		return t
	}
	return d.Grid
}

func (d *MemoryData) EnsembleSize() int { return len(d.Members) }

func (d *MemoryData) Probability(member int) float64 {
	return d.Members[member].Probability
}

func (d *MemoryData) Parameter(member int, name string) (Parameter, bool) {
	p, ok := d.Members[member].Parameters[name]
	return p, ok
}

func (d *MemoryData) DynamicParameters() []string { return d.Dynamic }

func (d *MemoryData) ConstantInput(member int, name string) (*timeseries.Series, bool) {
	s, ok := d.Members[member].ConstantInputs[name]
	return s, ok
}

func (d *MemoryData) History(member int, name string) (*timeseries.Series, bool) {
	s, ok := d.Members[member].History[name]
	return s, ok
}

func (d *MemoryData) Seed(member int, name string) (SeedValue, bool) {
	s, ok := d.Members[member].Seeds[name]
	return s, ok
}

func (d *MemoryData) Bound(name string) (Bound, bool) {
	b, ok := d.Bounds[name]
	return b, ok
}

// SetParameter assigns the same value in every member.
func (d *MemoryData) SetParameter(name string, v float64) {
	for _, m := range d.Members {
		m.Parameters[name] = Parameter{Value: v}
	}
}

// SetConstantInput assigns the same series in every member.
func (d *MemoryData) SetConstantInput(name string, s *timeseries.Series) {
	for _, m := range d.Members {
		m.ConstantInputs[name] = s
	}
}

// SetInitial fixes the value of a variable at the first grid time in every
// member.
func (d *MemoryData) SetInitial(name string, v float64) {
	s := timeseries.MustNew([]float64{d.Grid[0]}, []float64{v})
	for _, m := range d.Members {
		m.History[name] = s
	}
}

// SetHistory assigns the same history in every member.
func (d *MemoryData) SetHistory(name string, s *timeseries.Series) {
	for _, m := range d.Members {
		m.History[name] = s
	}
}

// SetBound sets scalar bounds. Use math.Inf for one-sided bounds.
func (d *MemoryData) SetBound(name string, lower, upper float64) {
	b := Bound{}
	if !math.IsInf(lower, -1) {
		b.Lower = Scalar(lower)
	}
	if !math.IsInf(upper, 1) {
		b.Upper = Scalar(upper)
	}
	d.Bounds[name] = b
}
