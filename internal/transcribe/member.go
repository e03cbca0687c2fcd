package transcribe

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// varTimes is the grid a variable is discretized on.
func (c *Context) varTimes(tr *transcription, v *registry.Variable) []float64 {
	if v.Kind == registry.Path || c.isIntegrated(v.Name) {
		return tr.times
	}
	return c.data.Times(v.Name)
}

func (c *Context) integratedIndex(tr *transcription, name string) int {
	for i, v := range tr.integrated {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// discretized returns the physical values of a variable of a member on
// its own grid. Vector variables are returned component-major.
func (c *Context) discretized(tr *transcription, m int, v *registry.Variable) ([]float64, []*sym.Node, error) {
	slot, ok := tr.layout.Slot(m, v.Name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s has no slot in the decision vector", registry.ErrNotFound, v.Name)
	}
	b := c.b
	if slot.Scalar {
		i := c.integratedIndex(tr, v.Name)
		if m >= len(tr.members) || tr.members[m] == nil || tr.members[m].integrators == nil {
			return nil, nil, fmt.Errorf("integrated state %s of member %d is not available yet", v.Name, m)
		}
		values := append([]*sym.Node{b.Scale(v.ScalarNominal(), tr.x[slot.Offset])}, tr.members[m].integrators[i]...)
		return tr.times, values, nil
	}
	times := c.varTimes(tr, v)
	n := len(times)
	values := make([]*sym.Node, slot.Len)
	for i := range values {
		values[i] = b.Scale(v.NominalAt(i/n), tr.x[slot.Offset+i])
	}
	return times, values, nil
}

// initialDerivativeSlot returns the physical initial derivative of a
// differentiated state.
func (c *Context) initialDerivativeSlot(tr *transcription, m int, v *registry.Variable) *sym.Node {
	off := tr.layout.DerivativeOffset(m, len(tr.differentiated))
	return c.b.Scale(v.ScalarNominal()/tr.initialDt[v.Name], tr.x[off+v.Index])
}

// buildMember derives the discretized quantities of a member that do not
// depend on the integrator.
func (c *Context) buildMember(tr *transcription, m int) (*memberState, error) {
	b := c.b
	ms := &memberState{params: tr.ens.values[m]}

	for _, v := range tr.extraVars {
		_, vals, err := c.discretized(tr, m, v)
		if err != nil {
			return nil, err
		}
		ms.extra = append(ms.extra, vals...)
	}

	ms.collocated = make([][]*sym.Node, len(tr.collocated))
	for i, v := range tr.collocated {
		times, vals, err := c.discretized(tr, m, v)
		if err != nil {
			return nil, err
		}
		ms.collocated[i] = c.interpolateAll(times, vals, tr.times, v.Interpolation)
	}

	var err error
	ms.constantInputs, err = c.constantInputValues(m, tr.constantInputs, tr.times)
	if err != nil {
		return nil, err
	}

	ms.pathValues = make([][]*sym.Node, len(tr.pathVars))
	for i, v := range tr.pathVars {
		if _, ms.pathValues[i], err = c.discretized(tr, m, v); err != nil {
			return nil, err
		}
	}

	var initialState []*sym.Node
	for _, v := range tr.integrated {
		slot, _ := tr.layout.Slot(m, v.Name)
		initialState = append(initialState, b.Scale(v.ScalarNominal(), tr.x[slot.Offset]))
	}
	for i := range tr.collocated {
		initialState = append(initialState, ms.collocated[i][0])
	}

	for _, v := range append(append([]*registry.Variable{}, tr.integrated...), tr.collocated...) {
		if v.Kind == registry.Differentiated {
			ms.initialDerivatives = append(ms.initialDerivatives, c.initialDerivativeSlot(tr, m, v))
			continue
		}
		d, err := c.historyDerivative(tr, m, v)
		if err != nil {
			return nil, err
		}
		ms.initialDerivatives = append(ms.initialDerivatives, b.Const(d))
	}

	var initialPath []*sym.Node
	n := len(tr.times)
	for i, v := range tr.pathVars {
		for k := 0; k < v.Width(); k++ {
			initialPath = append(initialPath, ms.pathValues[i][k*n])
		}
	}

	ms.initialInputs = [][]*sym.Node{
		b.Consts(ms.params),
		sym.Concat(initialState, ms.initialDerivatives, b.Consts(columnAt(ms.constantInputs, 0)),
			[]*sym.Node{b.Const(tr.t0)}, initialPath),
		ms.extra,
	}
	return ms, nil
}

// historyDerivative is the backward difference of a variable's history at
// the initial time, or zero when there is none.
func (c *Context) historyDerivative(tr *transcription, m int, v *registry.Variable) (float64, error) {
	h, ok := c.data.History(m, v.Name)
	if !ok || h.Len() == 1 || h.Times[0] == tr.t0 {
		return 0, nil
	}
	last := h.Len() - 1
	if h.Times[last] != tr.t0 {
		return 0, historyEndError(v.Name, h.Times[last], tr.t0)
	}
	return (h.Values[last] - h.Values[last-1]) / (h.Times[last] - h.Times[last-1]), nil
}

// columnAt returns the j-th sample of every series.
func columnAt(series [][]float64, j int) []float64 {
	out := make([]float64, len(series))
	for i, s := range series {
		out[i] = s[j]
	}
	return out
}
