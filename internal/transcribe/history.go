package transcribe

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

func historyEndError(name string, end, t0 float64) error {
	return fmt.Errorf("%w: history of %s ends at %g, not at the initial time %g",
		model.ErrUnsupported, name, end, t0)
}

// initialSteps computes the step scaling each initial-derivative slot: the
// last step of member 0's history when it extends before the initial time,
// otherwise the first collocation step.
func (c *Context) initialSteps(tr *transcription) error {
	tr.initialDt = make(map[string]float64, len(tr.differentiated))
	for _, v := range tr.differentiated {
		dt := tr.times[1] - tr.times[0]
		if h, ok := c.data.History(0, v.Name); ok && h.Len() > 1 && h.Times[0] != tr.t0 {
			last := h.Len() - 1
			if h.Times[last] != tr.t0 {
				return historyEndError(v.Name, h.Times[last], tr.t0)
			}
			dt = h.Times[last] - h.Times[last-1]
		}
		tr.initialDt[v.Name] = dt
	}
	return nil
}

// applyHistory fixes the initial values of states and controls given by
// the history and constrains the initial derivatives of differentiated
// states to the history's last backward difference.
func (c *Context) applyHistory(tr *transcription, m int, p *nlp.Problem) error {
	vars := append(append(append([]*registry.Variable{}, tr.differentiated...),
		c.reg.OfKind(registry.Algebraic)...), c.reg.OfKind(registry.Control)...)
	for _, v := range vars {
		h, ok := c.data.History(m, v.Name)
		if !ok {
			continue
		}
		val := h.At(tr.t0, math.NaN(), math.NaN(), v.Interpolation) / v.ScalarNominal()
		if math.IsNaN(val) {
			continue
		}
		slot, _ := tr.layout.Slot(m, v.Name)
		idx := slot.Offset
		if val < p.LBX[idx] || val > p.UBX[idx] {
			c.log.Warn("initial value outside bounds",
				zap.String("variable", v.Name), zap.Int("member", m), zap.Float64("value", val))
		}
		p.LBX[idx], p.UBX[idx] = val, val
	}

	var cons []*sym.Node
	derOffset := tr.layout.DerivativeOffset(m, len(tr.differentiated))
	for i, v := range tr.differentiated {
		h, ok := c.data.History(m, v.Name)
		if !ok || h.Len() <= 1 {
			continue
		}
		last := h.Len() - 1
		if math.IsNaN(h.Values[last-1]) {
			continue
		}
		if h.Times[last] != tr.t0 {
			return historyEndError(v.Name, h.Times[last], tr.t0)
		}
		dt := tr.t0 - h.Times[last-1]
		if math.IsNaN(h.Values[last]) {
			// The value at t0 is free, so the derivative follows it.
			slot, _ := tr.layout.Slot(m, v.Name)
			x0 := c.b.Scale(v.ScalarNominal(), tr.x[slot.Offset])
			slope := c.b.Scale(1/dt, c.b.Sub(x0, c.b.Const(h.Values[last-1])))
			cons = append(cons, c.b.Sub(c.initialDerivativeSlot(tr, m, v), slope))
			continue
		}
		val := h.At(tr.t0, math.NaN(), math.NaN(), v.Interpolation)
		der := (val - h.Values[last-1]) / dt
		scaled := der * tr.initialDt[v.Name] / v.ScalarNominal()
		p.LBX[derOffset+i], p.UBX[derOffset+i] = scaled, scaled
	}
	p.AddEqualities(fmt.Sprintf("initial_derivatives[%d]", m), cons)
	return nil
}
