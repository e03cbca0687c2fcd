package transcribe

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// Transcribe discretizes the problem into a nonlinear program. It may be
// called repeatedly; the compiled DAE functions are reused between calls
// until ClearCache.
func (p *Problem) Transcribe() (_ *nlp.Problem, err error) {
	c := p.ctx
	start := time.Now()
	c.tr = nil
	defer func() {
		if err != nil {
			c.tr = nil
		}
	}()

	tr, err := c.prepare()
	if err != nil {
		return nil, err
	}
	if tr.ens, err = c.aggregateEnsemble(); err != nil {
		return nil, err
	}
	if err := c.initialSteps(tr); err != nil {
		return nil, err
	}
	if tr.layout, err = c.buildLayout(tr); err != nil {
		return nil, err
	}
	tr.x = c.b.Symbols("X", tr.layout.Size())
	c.log.Debug("decision vector laid out",
		zap.Int("controls", tr.layout.ControlSize), zap.Int("states", tr.layout.StateSize))

	if err := c.ensureFunctions(tr); err != nil {
		return nil, err
	}
	if tr.fns, err = c.buildPathFunctions(tr, p.form); err != nil {
		return nil, err
	}

	prob := &nlp.Problem{
		X:        tr.x,
		LBX:      slices.Clone(tr.layout.LBX),
		UBX:      slices.Clone(tr.layout.UBX),
		X0:       slices.Clone(tr.layout.X0),
		Discrete: slices.Clone(tr.layout.Discrete),
		Options:  map[string]string{nlp.OptionJacobianConstant: "no"},
	}
	if c.LinearCollocation() {
		prob.Options[nlp.OptionJacobianConstant] = "yes"
	}

	n := c.data.EnsembleSize()
	tr.members = make([]*memberState, n)
	for m := 0; m < n; m++ {
		if tr.members[m], err = c.buildMember(tr, m); err != nil {
			return nil, err
		}
	}
	if err := c.addInitialResidual(tr, prob); err != nil {
		return nil, err
	}

	var objective []*sym.Node
	for m := 0; m < n; m++ {
		c.log.Info("transcribing ensemble member", zap.Int("member", m+1), zap.Int("members", n))
		f, err := c.transcribeMember(tr, m, p.form, prob)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", m, err)
		}
		objective = append(objective, c.b.Scale(c.data.Probability(m), f))
	}
	prob.F = c.b.Sum(objective)

	if err := prob.Validate(); err != nil {
		return nil, err
	}
	if c.opts.JacobianCheck.Enabled {
		if _, err := CheckJacobian(prob, c.opts.JacobianCheck, c.log); err != nil {
			c.log.Warn("jacobian check failed", zap.Error(err))
		}
	}
	c.log.Info("done transcribing problem",
		zap.Int("variables", len(prob.X)), zap.Int("constraints", len(prob.G)),
		zap.Duration("elapsed", time.Since(start)))
	return prob, nil
}

func (c *Context) prepare() (*transcription, error) {
	times := c.data.Times("")
	if len(times) < 2 {
		return nil, fmt.Errorf("%w: collocation grid needs at least two times", model.ErrMissingData)
	}
	if err := checkGrid("collocation grid", times); err != nil {
		return nil, err
	}
	tr := &transcription{times: slices.Clone(times), t0: times[0]}

	integrated := make(map[string]bool)
	for _, name := range c.opts.IntegratedStates {
		v, _, err := c.reg.Get(name)
		if err != nil {
			return nil, fmt.Errorf("integrated state: %w", err)
		}
		if v.Width() > 1 {
			return nil, fmt.Errorf("%w: vector symbol not supported for integrated state %s", model.ErrUnsupported, name)
		}
		if v.Kind != registry.Differentiated {
			return nil, fmt.Errorf("%w: integrated state %s is a %s", model.ErrUnsupported, name, v.Kind)
		}
		integrated[v.Name] = true
	}

	tr.differentiated = c.reg.OfKind(registry.Differentiated)
	for _, v := range tr.differentiated {
		if integrated[v.Name] {
			tr.integrated = append(tr.integrated, v)
		} else {
			tr.collocated = append(tr.collocated, v)
		}
	}
	tr.collocated = append(tr.collocated, c.reg.OfKind(registry.Algebraic)...)
	tr.collocated = append(tr.collocated, c.reg.OfKind(registry.Control)...)
	tr.constantInputs = c.reg.OfKind(registry.ConstantInput)
	tr.pathVars = c.reg.OfKind(registry.Path)
	tr.extraVars = c.reg.OfKind(registry.Extra)

	// isIntegrated consults the transcription, so publish it for layout.
	c.tr = tr
	return tr, nil
}

func (c *Context) buildLayout(tr *transcription) (*layout.Layout, error) {
	plan := &layout.Plan{InitialTime: tr.t0, EnsembleSize: c.data.EnsembleSize()}
	entry := func(v *registry.Variable, times []float64, integrated bool) layout.Entry {
		return layout.Entry{
			Name:          v.Name,
			Times:         times,
			Width:         v.Width(),
			Integrated:    integrated,
			Nominal:       v.Nominal,
			Discrete:      v.Discrete,
			Interpolation: v.Interpolation,
		}
	}
	for _, v := range slices.Concat(c.reg.OfKind(registry.Control), tr.differentiated, c.reg.OfKind(registry.Algebraic)) {
		if err := checkGrid(v.Name, c.data.Times(v.Name)); err != nil {
			return nil, err
		}
	}
	for _, v := range c.reg.OfKind(registry.Control) {
		plan.Controls = append(plan.Controls, entry(v, c.data.Times(v.Name), false))
	}
	for _, v := range tr.differentiated {
		plan.States = append(plan.States, entry(v, c.data.Times(v.Name), c.isIntegrated(v.Name)))
	}
	for _, v := range c.reg.OfKind(registry.Algebraic) {
		plan.States = append(plan.States, entry(v, c.data.Times(v.Name), false))
	}
	for _, v := range tr.pathVars {
		plan.States = append(plan.States, entry(v, tr.times, false))
	}
	for _, v := range tr.extraVars {
		plan.Extras = append(plan.Extras, entry(v, nil, false))
	}
	for _, v := range tr.differentiated {
		plan.Derivatives = append(plan.Derivatives, layout.DerivativeEntry{
			Name:    c.ders[v.Name].Name(),
			State:   v.Name,
			Nominal: v.ScalarNominal(),
			Dt:      tr.initialDt[v.Name],
		})
	}

	controls, err := layout.DiscretizeControls(plan, c.data, c.log)
	if err != nil {
		return nil, err
	}
	states, err := layout.DiscretizeStates(plan, c.data, c.log)
	if err != nil {
		return nil, err
	}
	return layout.Merge(plan, controls, states), nil
}

// addInitialResidual requires the DAE and initial residuals of every member
// to vanish at the initial time.
func (c *Context) addInitialResidual(tr *transcription, p *nlp.Problem) error {
	var params, states []*sym.Node
	for _, ms := range tr.members {
		params = append(params, ms.initialInputs[0]...)
		in := ms.initialInputs[1]
		// The residual map takes the state vector without path variables.
		states = append(states, in[:len(in)-len(registry.Symbols(tr.pathVars))]...)
	}
	out, err := c.b.Call(c.cache.initial, params, states)
	if err != nil {
		return err
	}
	p.AddEqualities("initial_residual", out[0])
	return nil
}

// stepOutputs are the per-step path expressions of a member, indexed by
// step, each evaluated at the end of its interval.
type stepOutputs struct {
	objective   []*sym.Node
	constraints [][]*sym.Node
	delayed     [][]*sym.Node
}

func (c *Context) transcribeMember(tr *transcription, m int, form Formulation, p *nlp.Problem) (*sym.Node, error) {
	if err := c.applyHistory(tr, m, p); err != nil {
		return nil, err
	}
	steps, err := c.accumulate(tr, m, p)
	if err != nil {
		return nil, err
	}
	ms := tr.members[m]
	pf := tr.fns
	b := c.b

	var initDelayed []*sym.Node
	if pf.nDelays > 0 {
		out, err := b.Call(pf.delayed, ms.initialInputs...)
		if err != nil {
			return nil, err
		}
		initDelayed = out[0]
	}
	if err := c.addDelayConstraints(tr, m, p, initDelayed, steps.delayed); err != nil {
		return nil, err
	}

	f, err := form.Objective(c, m)
	if err != nil {
		return nil, fmt.Errorf("objective: %w", err)
	}
	terms := []*sym.Node{}
	if f != nil {
		terms = append(terms, f)
	}
	if pf.nObjective > 0 {
		out, err := b.Call(pf.objective, ms.initialInputs...)
		if err != nil {
			return nil, err
		}
		terms = append(terms, out[0][0])
		terms = append(terms, steps.objective...)
	}

	cons, err := form.Constraints(c, m)
	if err != nil {
		return nil, fmt.Errorf("constraints: %w", err)
	}
	var g []*sym.Node
	var lbg, ubg []float64
	for i, con := range cons {
		lb, err := c.constraintBound(tr, m, con.Lower, true, i, len(con.Expr))
		if err != nil {
			return nil, err
		}
		ub, err := c.constraintBound(tr, m, con.Upper, false, i, len(con.Expr))
		if err != nil {
			return nil, err
		}
		g = append(g, con.Expr...)
		lbg = append(lbg, lb...)
		ubg = append(ubg, ub...)
	}
	p.AddConstraints(fmt.Sprintf("constraints[%d]", m), g, lbg, ubg)

	if pf.nConstraints() > 0 {
		out, err := b.Call(pf.constraints, ms.initialInputs...)
		if err != nil {
			return nil, err
		}
		if err := c.addPathConstraints(tr, m, form, p, out[0], steps.constraints); err != nil {
			return nil, err
		}
	}
	return b.Sum(terms), nil
}

// accumulate advances the member through every collocation interval with
// the step function, records the integrated states and adds the collocation
// constraints.
func (c *Context) accumulate(tr *transcription, m int, p *nlp.Problem) (*stepOutputs, error) {
	b := c.b
	ms := tr.members[m]
	pf := tr.fns
	n := len(tr.times)
	steps := n - 1
	nI := len(tr.integrated)

	var U []*sym.Node
	for j := 0; j < steps; j++ {
		for i := range tr.collocated {
			U = append(U, ms.collocated[i][j])
		}
		for i := range tr.collocated {
			U = append(U, ms.collocated[i][j+1])
		}
		U = append(U, b.Consts(columnAt(ms.constantInputs, j))...)
		U = append(U, b.Consts(columnAt(ms.constantInputs, j+1))...)
		U = append(U, b.Const(tr.times[j]), b.Const(tr.times[j+1]))
		for i, v := range tr.pathVars {
			for k := 0; k < v.Width(); k++ {
				U = append(U, ms.pathValues[i][k*n+j+1])
			}
		}
	}
	P := sym.Repeat(sym.Concat(b.Consts(ms.params), ms.extra), steps)

	X0 := make([]*sym.Node, nI)
	for i, v := range tr.integrated {
		slot, _ := tr.layout.Slot(m, v.Name)
		X0[i] = b.Scale(v.ScalarNominal(), tr.x[slot.Offset])
	}

	out, err := b.Call(pf.step, X0, U, P)
	if err != nil {
		return nil, err
	}
	Y := out[0]
	ms.integrators = make([][]*sym.Node, nI)
	if nI > 0 {
		for i := range ms.integrators {
			ms.integrators[i] = make([]*sym.Node, steps)
			for j := 0; j < steps; j++ {
				ms.integrators[i][j] = out[0][j*nI+i]
			}
		}
		Y = out[1]
	}

	ny := pf.nStepY
	nRC := c.cache.nCollocRes
	nCon := pf.nConstraints()
	so := &stepOutputs{}
	var colloc []*sym.Node
	for j := 0; j < steps; j++ {
		col := Y[j*ny : (j+1)*ny]
		colloc = append(colloc, col[:nRC]...)
		k := nRC
		if pf.nObjective > 0 {
			so.objective = append(so.objective, col[k])
			k++
		}
		so.constraints = append(so.constraints, col[k:k+nCon])
		k += nCon
		so.delayed = append(so.delayed, col[k:k+pf.nDelays])
	}
	p.AddEqualities(fmt.Sprintf("collocation[%d]", m), colloc)
	return so, nil
}

// checkGrid rejects grids whose times are not strictly increasing.
func checkGrid(name string, times []float64) error {
	for i := 1; i < len(times); i++ {
		if !(times[i] > times[i-1]) {
			return fmt.Errorf("%w: %s times must be strictly increasing, got %g after %g",
				model.ErrShapeMismatch, name, times[i], times[i-1])
		}
	}
	return nil
}
