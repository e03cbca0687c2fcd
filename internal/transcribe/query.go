package transcribe

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// Variable returns the model symbol of a scalar variable, negated for
// aliases with a negative sign.
func (c *Context) Variable(name string) (*sym.Node, error) {
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if v.Width() > 1 {
		return nil, fmt.Errorf("%w: %s is a vector, use VariableVector", model.ErrUnsupported, name)
	}
	return c.b.Scale(sign, v.Symbol()), nil
}

// VariableVector returns all symbols of a variable.
func (c *Context) VariableVector(name string) ([]*sym.Node, error) {
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	return c.b.ScaleVec([]float64{sign}, v.Symbols), nil
}

// Der returns the derivative symbol of a differentiated state, algebraic
// state or control.
func (c *Context) Der(name string) (*sym.Node, error) {
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	d, ok := c.ders[v.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s has no derivative", model.ErrUnsupported, v.Kind, name)
	}
	return c.b.Scale(sign, d), nil
}

// StateVector returns the scaled decision-vector entries of a variable.
func (c *Context) StateVector(name string, member int) ([]*sym.Node, error) {
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, err
	}
	v, _, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	slot, ok := tr.layout.Slot(member, v.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no slot in the decision vector", registry.ErrNotFound, name)
	}
	return tr.x[slot.Offset : slot.Offset+slot.Len], nil
}

// ExtraVariable returns the physical value of an extra variable.
func (c *Context) ExtraVariable(name string, member int) ([]*sym.Node, error) {
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, err
	}
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if v.Kind != registry.Extra {
		return nil, fmt.Errorf("%w: %s is a %s", model.ErrUnsupported, name, v.Kind)
	}
	_, vals, err := c.discretized(tr, member, v)
	if err != nil {
		return nil, err
	}
	return c.b.ScaleVec([]float64{sign}, vals), nil
}

// StateAt returns a state, path variable, control, constant input or
// parameter at time t. Times before the first grid point are served from
// the history. With extrapolate unset, other times outside the grid are an
// error. Scaled returns the value divided by the nominal.
func (c *Context) StateAt(name string, t float64, member int, scaled, extrapolate bool) (*sym.Node, error) {
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, err
	}
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	b := c.b
	switch v.Kind {
	case registry.Differentiated, registry.Algebraic, registry.Path, registry.Control:
		if v.Width() > 1 {
			return nil, fmt.Errorf("%w: state_at() not supported for vector state %s", model.ErrUnsupported, name)
		}
		val, err := c.valueAt(tr, member, v, t, extrapolate)
		if err != nil {
			return nil, err
		}
		if scaled {
			val = b.Scale(1/v.ScalarNominal(), val)
		}
		return b.Scale(sign, val), nil
	case registry.ConstantInput:
		s, ok := c.data.ConstantInput(member, v.Name)
		if !ok {
			return nil, model.Missing("constant input", v.Name)
		}
		left, right := math.NaN(), math.NaN()
		if extrapolate {
			left, right = s.Values[0], s.Values[len(s.Values)-1]
		}
		return b.Const(sign * s.At(t, left, right, v.Interpolation)), nil
	case registry.Parameter:
		return b.Const(sign * tr.ens.resolved[member][v.Name]), nil
	case registry.Time:
		return b.Const(t), nil
	}
	return nil, fmt.Errorf("%w: cannot evaluate %s %s at a time", model.ErrUnsupported, v.Kind, name)
}

// ControlAt is StateAt restricted to controls.
func (c *Context) ControlAt(name string, t float64, member int, scaled, extrapolate bool) (*sym.Node, error) {
	v, _, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if v.Kind != registry.Control {
		return nil, fmt.Errorf("%w: %s is a %s, not a control", model.ErrUnsupported, name, v.Kind)
	}
	return c.StateAt(name, t, member, scaled, extrapolate)
}

// valueAt interpolates the physical value of a canonical variable.
func (c *Context) valueAt(tr *transcription, m int, v *registry.Variable, t float64, extrapolate bool) (*sym.Node, error) {
	times, values, err := c.discretized(tr, m, v)
	if err != nil {
		return nil, err
	}
	if t < tr.t0 && t < times[0] {
		if h, ok := c.data.History(m, v.Name); ok {
			left, right := math.NaN(), math.NaN()
			if extrapolate {
				left, right = h.Values[0], h.Values[len(h.Values)-1]
			}
			return c.b.Const(h.At(t, left, right, v.Interpolation)), nil
		}
		if extrapolate {
			return values[0], nil
		}
		return c.b.Const(math.NaN()), nil
	}
	if !extrapolate && (t < times[0] || t > times[len(times)-1]) {
		return nil, fmt.Errorf("%w: %s at t=%g, grid is [%g, %g]", ErrOutOfRange, v.Name, t, times[0], times[len(times)-1])
	}
	return c.interpolate(times, values, t, v.Interpolation), nil
}

// DerAt returns the backward difference of a variable at t. At the initial
// time a differentiated state returns its initial-derivative slot; at the
// first known time the derivative is zero.
func (c *Context) DerAt(name string, t float64, member int) (*sym.Node, error) {
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, err
	}
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if t == tr.t0 && v.Kind == registry.Differentiated {
		return c.b.Scale(sign, c.initialDerivativeSlot(tr, member, v)), nil
	}

	grid := c.varTimes(tr, v)
	if t <= tr.t0 {
		if h, ok := c.data.History(member, v.Name); ok && h.Len() > 1 {
			grid = append(append([]float64{}, h.Times[:h.Len()-1]...), grid...)
		}
	}
	if t == grid[0] {
		return c.b.Const(0), nil
	}
	for i := 0; i+1 < len(grid); i++ {
		if grid[i] < t && t <= grid[i+1] {
			x0, err := c.StateAt(name, grid[i], member, false, true)
			if err != nil {
				return nil, err
			}
			x1, err := c.StateAt(name, grid[i+1], member, false, true)
			if err != nil {
				return nil, err
			}
			return c.b.Scale(1/(grid[i+1]-grid[i]), c.b.Sub(x1, x0)), nil
		}
	}
	return nil, fmt.Errorf("%w: derivative of %s at t=%g", ErrOutOfRange, name, t)
}

// statesIn returns the knots of a variable in [t0, tf] together with the
// interpolated end points when those are not knots. NaN ends select the
// grid ends.
func (c *Context) statesIn(name string, t0, tf float64, member int) ([]float64, []*sym.Node, error) {
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, nil, err
	}
	v, sign, err := c.reg.Get(name)
	if err != nil {
		return nil, nil, err
	}
	times, values, err := c.discretized(tr, member, v)
	if err != nil {
		return nil, nil, err
	}
	if math.IsNaN(t0) {
		t0 = tr.t0
	}
	if math.IsNaN(tf) {
		tf = times[len(times)-1]
	}

	var grid []float64
	var vals []*sym.Node
	if t0 < times[0] {
		if h, ok := c.data.History(member, v.Name); ok {
			for k, t := range h.Times {
				if t >= times[0] {
					break
				}
				grid = append(grid, t)
				vals = append(vals, c.b.Const(h.Values[k]))
			}
		}
	}
	for k, t := range times {
		grid = append(grid, t)
		vals = append(vals, values[k])
	}

	var outT []float64
	var outV []*sym.Node
	add := func(t float64, x *sym.Node) {
		outT = append(outT, t)
		outV = append(outV, c.b.Scale(sign, x))
	}
	if !contains(grid, t0) {
		x, err := c.StateAt(name, t0, member, false, false)
		if err != nil {
			return nil, nil, err
		}
		outT, outV = append(outT, t0), append(outV, x)
	}
	for k, t := range grid {
		if t >= t0 && t <= tf {
			add(t, vals[k])
		}
	}
	if !contains(grid, tf) && tf > t0 {
		x, err := c.StateAt(name, tf, member, false, false)
		if err != nil {
			return nil, nil, err
		}
		outT, outV = append(outT, tf), append(outV, x)
	}
	return outT, outV, nil
}

// StatesIn returns the values of a variable at its knots in [t0, tf],
// bracketed by the interpolated values at t0 and tf.
func (c *Context) StatesIn(name string, t0, tf float64, member int) ([]*sym.Node, error) {
	_, vals, err := c.statesIn(name, t0, tf, member)
	return vals, err
}

// Integral integrates a variable over [t0, tf] with the trapezoidal rule on
// the points of StatesIn.
func (c *Context) Integral(name string, t0, tf float64, member int) (*sym.Node, error) {
	times, vals, err := c.statesIn(name, t0, tf, member)
	if err != nil {
		return nil, err
	}
	terms := make([]*sym.Node, 0, len(vals))
	for i := 0; i+1 < len(vals); i++ {
		dt := times[i+1] - times[i]
		terms = append(terms, c.b.Scale(dt/2, c.b.Add(vals[i], vals[i+1])))
	}
	return c.b.Sum(terms), nil
}

// MapPathExpression evaluates an expression in the model symbols at every
// collocation time of a member.
func (c *Context) MapPathExpression(expr *sym.Node, member int) ([]*sym.Node, error) {
	tr, err := c.transcribedMember(member)
	if err != nil {
		return nil, err
	}
	if tr.members == nil || member >= len(tr.members) || tr.members[member] == nil || tr.members[member].integrators == nil {
		return nil, fmt.Errorf("member %d has not been discretized yet", member)
	}
	b := c.b
	ms := tr.members[member]
	inlined := b.SubstituteValues([]*sym.Node{expr}, tr.ens.constSyms, tr.ens.constValues)
	f, err := sym.Compile("map_path_expression", c.pathInputs(tr), [][]*sym.Node{inlined})
	if err != nil {
		return nil, err
	}
	initial, err := b.Call(f, ms.initialInputs...)
	if err != nil {
		return nil, err
	}

	n := len(tr.times)
	steps := n - 1
	integrated := make([][]*sym.Node, len(tr.integrated))
	for i, v := range tr.integrated {
		if _, integrated[i], err = c.discretized(tr, member, v); err != nil {
			return nil, err
		}
	}
	var params, states, extra []*sym.Node
	for j := 1; j <= steps; j++ {
		inv := 1 / (tr.times[j] - tr.times[j-1])
		var xs, ds []*sym.Node
		for i := range integrated {
			xs = append(xs, integrated[i][j])
			ds = append(ds, b.Scale(inv, b.Sub(integrated[i][j], integrated[i][j-1])))
		}
		for i := range ms.collocated {
			xs = append(xs, ms.collocated[i][j])
			ds = append(ds, b.Scale(inv, b.Sub(ms.collocated[i][j], ms.collocated[i][j-1])))
		}
		states = append(states, xs...)
		states = append(states, ds...)
		states = append(states, b.Consts(columnAt(ms.constantInputs, j))...)
		states = append(states, b.Const(tr.times[j]))
		for i, v := range tr.pathVars {
			for k := 0; k < v.Width(); k++ {
				states = append(states, ms.pathValues[i][k*n+j])
			}
		}
		params = append(params, b.Consts(ms.params)...)
		extra = append(extra, ms.extra...)
	}
	out, err := b.Call(sym.Map(f, steps, c.opts.Parallel), params, states, extra)
	if err != nil {
		return nil, err
	}
	return append([]*sym.Node{initial[0][0]}, out[0]...), nil
}

func contains(grid []float64, t float64) bool {
	for _, g := range grid {
		if g == t {
			return true
		}
	}
	return false
}
