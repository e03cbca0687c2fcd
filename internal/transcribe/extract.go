package transcribe

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// Results are the physical values of one member's variables decoded from a
// solution vector, each on its own grid.
type Results struct {
	reg    *registry.Registry
	Values map[string][]float64
	Grids  map[string][]float64
}

// Get returns the values of a variable or alias.
func (r *Results) Get(name string) ([]float64, bool) {
	canonical, sign := r.reg.Canonical(name)
	v, ok := r.Values[canonical]
	if !ok || sign == 1 {
		return v, ok
	}
	out := make([]float64, len(v))
	for i := range v {
		out[i] = sign * v[i]
	}
	return out, true
}

// Series returns a scalar result as a time series.
func (r *Results) Series(name string) (*timeseries.Series, error) {
	canonical, _ := r.reg.Canonical(name)
	v, ok := r.Get(name)
	grid, hasGrid := r.Grids[canonical]
	if !ok || !hasGrid {
		return nil, fmt.Errorf("%w: no time series result for %s", registry.ErrNotFound, name)
	}
	return timeseries.New(grid, v)
}

// Names lists the canonical result names in sorted order.
func (r *Results) Names() []string {
	names := make([]string, 0, len(r.Values))
	for k := range r.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ExtractControls decodes the controls, which are shared by all members.
func (p *Problem) ExtractControls(x []float64) (map[string][]float64, error) {
	c := p.ctx
	tr, err := c.transcribed()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64)
	for _, v := range c.reg.OfKind(registry.Control) {
		if out[v.Name], err = tr.layout.Decode(x, 0, v.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ExtractResults decodes every variable of a member from a solution
// vector. Integrated states are recovered by replaying the integrator.
func (p *Problem) ExtractResults(x []float64, member int) (*Results, error) {
	c := p.ctx
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, err
	}
	if len(x) != len(tr.x) {
		return nil, fmt.Errorf("solution has %d entries, decision vector has %d", len(x), len(tr.x))
	}
	res := &Results{reg: c.reg, Values: make(map[string][]float64), Grids: make(map[string][]float64)}

	controls, err := p.ExtractControls(x)
	if err != nil {
		return nil, err
	}
	for name, v := range controls {
		res.Values[name] = v
		res.Grids[name] = c.data.Times(name)
	}

	integrated, err := c.replayIntegrators(tr, member, x)
	if err != nil {
		return nil, err
	}
	states := append(append([]*registry.Variable{}, tr.differentiated...), c.reg.OfKind(registry.Algebraic)...)
	states = append(states, tr.pathVars...)
	for _, v := range states {
		if i := c.integratedIndex(tr, v.Name); i >= 0 {
			res.Values[v.Name] = integrated[i]
		} else if res.Values[v.Name], err = tr.layout.Decode(x, member, v.Name); err != nil {
			return nil, err
		}
		if v.Width() == 1 {
			res.Grids[v.Name] = c.varTimes(tr, v)
		}
	}
	for _, v := range tr.extraVars {
		if res.Values[v.Name], err = tr.layout.Decode(x, member, v.Name); err != nil {
			return nil, err
		}
	}
	for _, v := range tr.differentiated {
		key := "initial_" + c.ders[v.Name].Name()
		if res.Values[key], err = tr.layout.Decode(x, member, key); err != nil {
			return nil, err
		}
	}
	for i, v := range tr.constantInputs {
		res.Values[v.Name] = append([]float64(nil), tr.members[member].constantInputs[i]...)
		res.Grids[v.Name] = tr.times
	}
	return res, nil
}

// replayIntegrators evaluates the integrated states of a member on the
// collocation grid.
func (c *Context) replayIntegrators(tr *transcription, m int, x []float64) ([][]float64, error) {
	nI := len(tr.integrated)
	if nI == 0 {
		return nil, nil
	}
	if tr.extractors == nil {
		tr.extractors = make(map[int]*sym.Expr)
	}
	f, ok := tr.extractors[m]
	if !ok {
		var outs []*sym.Node
		for _, v := range tr.integrated {
			_, vals, err := c.discretized(tr, m, v)
			if err != nil {
				return nil, err
			}
			outs = append(outs, vals...)
		}
		var err error
		if f, err = sym.Compile(fmt.Sprintf("integrated_states_%d", m), [][]*sym.Node{tr.x}, [][]*sym.Node{outs}); err != nil {
			return nil, err
		}
		tr.extractors[m] = f
	}
	n := len(tr.times)
	flat := make([]float64, nI*n)
	if err := f.Eval([][]float64{x}, [][]float64{flat}); err != nil {
		return nil, err
	}
	out := make([][]float64, nI)
	for i := range out {
		out[i] = flat[i*n : (i+1)*n]
	}
	return out, nil
}
