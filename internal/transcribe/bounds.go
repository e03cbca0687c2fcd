package transcribe

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// constraintBound expands a bound of a constraint of the given width.
func (c *Context) constraintBound(tr *transcription, m int, v model.BoundValue, lower bool, idx, width int) ([]float64, error) {
	side := "upper"
	if lower {
		side = "lower"
	}
	switch v.Kind {
	case model.Unbounded:
		return filled(width, model.Fill(lower)), nil
	case model.BoundScalar:
		return filled(width, v.Scalar), nil
	case model.BoundVector:
		switch len(v.Vector) {
		case width:
			return append([]float64(nil), v.Vector...), nil
		case 1:
			return filled(width, v.Vector[0]), nil
		}
		return nil, &ConstraintShapeError{Index: idx, Side: side, Width: width, BoundLen: len(v.Vector), Wrapped: model.ErrShapeMismatch}
	case model.BoundExpr:
		val, err := c.evaluateBound(tr, m, v.Expr)
		if err != nil {
			return nil, err
		}
		return filled(width, val), nil
	}
	return nil, fmt.Errorf("%w: series bound on constraint #%d", model.ErrUnsupported, idx)
}

// evaluateBound resolves a bound expression with the member's parameters.
func (c *Context) evaluateBound(tr *transcription, m int, e *sym.Node) (float64, error) {
	params, values := tr.ens.parameterValues(c.dae.Parameters, m)
	out, err := sym.EvaluateConst(c.b.SubstituteValues([]*sym.Node{e}, params, values)...)
	if err != nil {
		return 0, fmt.Errorf("bound expression: %w", err)
	}
	return out[0], nil
}

// pathBound expands a path-constraint bound to one value per row and
// collocation time, indexed [row][time].
func (c *Context) pathBound(tr *transcription, m int, v model.BoundValue, lower bool, idx, width int) ([][]float64, error) {
	n := len(tr.times)
	rows := make([][]float64, width)
	fillValue := model.Fill(lower)
	side := "upper"
	if lower {
		side = "lower"
	}
	constantRows := func(vals []float64) {
		for r := range rows {
			rows[r] = filled(n, vals[r])
		}
	}
	switch v.Kind {
	case model.Unbounded:
		constantRows(filled(width, fillValue))
	case model.BoundScalar:
		constantRows(filled(width, v.Scalar))
	case model.BoundVector:
		switch {
		case len(v.Vector) == width:
			constantRows(v.Vector)
		case len(v.Vector) == 1:
			constantRows(filled(width, v.Vector[0]))
		case width == 1 && len(v.Vector) == n:
			rows[0] = append([]float64(nil), v.Vector...)
		default:
			return nil, &ConstraintShapeError{Index: idx, Side: side, Width: width, BoundLen: len(v.Vector), Wrapped: model.ErrShapeMismatch}
		}
	case model.BoundSeries:
		s := v.Series
		if s.Width != width && !(width == 1 && s.Width <= 1) {
			return nil, &ConstraintShapeError{Index: idx, Side: side, Width: width, BoundLen: s.Width, Wrapped: model.ErrShapeMismatch}
		}
		vals := s.SampleComponents(tr.times, fillValue, fillValue, timeseries.Linear)
		for r := range rows {
			rows[r] = vals[r*n : (r+1)*n]
		}
	case model.BoundExpr:
		val, err := c.evaluateBound(tr, m, v.Expr)
		if err != nil {
			return nil, err
		}
		constantRows(filled(width, val))
	}
	return rows, nil
}

// addPathConstraints stacks the path constraints at the initial time and at
// the end of every step, with bounds recomputed for the member.
func (c *Context) addPathConstraints(tr *transcription, m int, form Formulation, p *nlp.Problem, initial []*sym.Node, steps [][]*sym.Node) error {
	pf := tr.fns
	if pf.nConstraints() == 0 {
		return nil
	}
	cons, err := form.PathConstraints(c, m)
	if err != nil {
		return err
	}
	if len(cons) != len(pf.widths) {
		return fmt.Errorf("%w: member %d has %d path constraints, member 0 has %d",
			model.ErrShapeMismatch, m, len(cons), len(pf.widths))
	}

	n := len(tr.times)
	lb := make([][][]float64, len(cons))
	ub := make([][][]float64, len(cons))
	for i, pc := range cons {
		w := pf.widths[i]
		if len(pc.Expr) != w {
			return fmt.Errorf("%w: path constraint #%d of member %d has width %d, want %d",
				model.ErrShapeMismatch, i, m, len(pc.Expr), w)
		}
		if lb[i], err = c.pathBound(tr, m, pc.Lower, true, i, w); err != nil {
			return err
		}
		if ub[i], err = c.pathBound(tr, m, pc.Upper, false, i, w); err != nil {
			return err
		}
	}

	g := append([]*sym.Node(nil), initial...)
	for _, s := range steps {
		g = append(g, s...)
	}
	var lbg, ubg []float64
	for t := 0; t < n; t++ {
		for i := range cons {
			for r := 0; r < pf.widths[i]; r++ {
				lbg = append(lbg, lb[i][r][t])
				ubg = append(ubg, ub[i][r][t])
			}
		}
	}
	p.AddConstraints(fmt.Sprintf("path_constraints[%d]", m), g, lbg, ubg)
	return nil
}
