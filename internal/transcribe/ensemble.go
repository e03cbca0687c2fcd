package transcribe

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// ensemble splits the model parameters into those identical in every member
// (inlined as constants) and those passed per member.
type ensemble struct {
	constSyms   []*sym.Node
	constValues []float64

	params []*sym.Node
	names  []string
	// values holds the per-member values of params.
	values [][]float64

	// resolved holds every parameter value of every member.
	resolved []map[string]float64
}

func (e *ensemble) constNames() []string {
	names := make([]string, len(e.constSyms))
	for i, s := range e.constSyms {
		names[i] = s.Name()
	}
	return names
}

func (c *Context) aggregateEnsemble() (*ensemble, error) {
	n := c.data.EnsembleSize()
	e := &ensemble{resolved: make([]map[string]float64, n)}

	exprs := make([]map[string]*sym.Node, n)
	for m := 0; m < n; m++ {
		vals, ex, err := c.resolveParameters(m)
		if err != nil {
			return nil, err
		}
		e.resolved[m], exprs[m] = vals, ex
	}
	dynamic := c.dynamicParameters(exprs)

	e.values = make([][]float64, n)
	for _, p := range c.dae.Parameters {
		name := p.Name()
		v0 := e.resolved[0][name]
		same := !dynamic[name]
		for m := 1; m < n && same; m++ {
			same = e.resolved[m][name] == v0
		}
		if same && !math.IsNaN(v0) {
			e.constSyms = append(e.constSyms, p)
			e.constValues = append(e.constValues, v0)
			continue
		}
		e.params = append(e.params, p)
		e.names = append(e.names, name)
		for m := 0; m < n; m++ {
			e.values[m] = append(e.values[m], e.resolved[m][name])
		}
	}
	return e, nil
}

// resolveParameters evaluates every parameter of a member numerically.
// Parameters given as expressions are resolved against the others until
// no progress is made.
func (c *Context) resolveParameters(m int) (map[string]float64, map[string]*sym.Node, error) {
	vals := make(map[string]float64, len(c.dae.Parameters))
	pending := make(map[string]*sym.Node)
	exprs := make(map[string]*sym.Node)
	for _, p := range c.dae.Parameters {
		v, ok := c.data.Parameter(m, p.Name())
		if !ok {
			return nil, nil, model.Missing("parameter", p.Name())
		}
		switch {
		case v.Expr == nil:
			vals[p.Name()] = v.Value
		case v.Expr.IsConst():
			vals[p.Name()] = v.Expr.Value()
		default:
			pending[p.Name()] = v.Expr
			exprs[p.Name()] = v.Expr
		}
	}

	for len(pending) > 0 {
		names := make([]string, 0, len(pending))
		for name := range pending {
			names = append(names, name)
		}
		sort.Strings(names)

		progress := false
		for _, name := range names {
			free := sym.FreeSymbols(pending[name])
			values := make([]float64, len(free))
			ready := true
			for i, s := range free {
				v, ok := vals[s.Name()]
				if !ok {
					ready = false
					break
				}
				values[i] = v
			}
			if !ready {
				continue
			}
			out, err := sym.Evaluate([]*sym.Node{pending[name]}, free, values)
			if err != nil {
				return nil, nil, fmt.Errorf("parameter %s: %w", name, err)
			}
			vals[name] = out[0]
			delete(pending, name)
			progress = true
		}
		if !progress {
			return nil, nil, fmt.Errorf("%w: parameter %s cannot be resolved numerically",
				model.ErrMissingData, names[0])
		}
	}
	return vals, exprs, nil
}

// dynamicParameters returns the parameters declared dynamic together with
// those whose expression depends on a dynamic one.
func (c *Context) dynamicParameters(exprs []map[string]*sym.Node) map[string]bool {
	dynamic := make(map[string]bool)
	for _, name := range c.data.DynamicParameters() {
		dynamic[name] = true
	}
	for changed := true; changed; {
		changed = false
		for _, ex := range exprs {
			for name, e := range ex {
				if dynamic[name] {
					continue
				}
				for _, s := range sym.FreeSymbols(e) {
					if dynamic[s.Name()] {
						dynamic[name] = true
						changed = true
						break
					}
				}
			}
		}
	}
	return dynamic
}

// constantInputValues samples every constant input of a member on the
// collocation grid.
func (c *Context) constantInputValues(m int, vars []*registry.Variable, times []float64) ([][]float64, error) {
	out := make([][]float64, len(vars))
	for i, v := range vars {
		s, ok := c.data.ConstantInput(m, v.Name)
		if !ok {
			return nil, model.Missing("constant input", v.Name)
		}
		out[i] = s.Sample(times, math.NaN(), math.NaN(), v.Interpolation)
	}
	return out, nil
}

// parameterValues returns the symbols and values of all parameters of a
// member, for substitution into bound expressions.
func (e *ensemble) parameterValues(params []*sym.Node, m int) ([]*sym.Node, []float64) {
	vals := make([]float64, len(params))
	for i, p := range params {
		vals[i] = e.resolved[m][p.Name()]
	}
	return params, vals
}

func (e *ensemble) sameParams(names []string) bool {
	return slices.Equal(e.names, names)
}
