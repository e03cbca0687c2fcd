package transcribe

import (
	"fmt"
	"math/rand"
	"slices"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// linearitySeed makes the affinity check reproducible.
const linearitySeed = 42

// symbolSets are the symbol vectors the DAE functions are written in.
type symbolSets struct {
	intVars, colVars []*sym.Node
	intDers, colDers []*sym.Node
	inputs           []*sym.Node
}

func (c *Context) symbols(tr *transcription) symbolSets {
	s := symbolSets{
		intVars: registry.Symbols(tr.integrated),
		colVars: registry.Symbols(tr.collocated),
		inputs:  registry.Symbols(tr.constantInputs),
	}
	for _, v := range tr.integrated {
		s.intDers = append(s.intDers, c.ders[v.Name])
	}
	for _, v := range tr.collocated {
		s.colDers = append(s.colDers, c.ders[v.Name])
	}
	return s
}

// stateVector is the model-side state input shared by the collocated
// residual, the initial residual and the path functions.
func (s symbolSets) stateVector(time *sym.Node) []*sym.Node {
	return sym.Concat(s.intVars, s.colVars, s.intDers, s.colDers, s.inputs, []*sym.Node{time})
}

// residuals returns the DAE and initial residuals with lookup tables
// expanded and ensemble-constant parameters inlined.
func (c *Context) residuals(ens *ensemble) ([]*sym.Node, []*sym.Node, error) {
	res := c.dae.Residual
	initial := c.dae.InitialResidual

	if len(c.dae.LookupTables) > 0 {
		if c.data.EnsembleSize() > 1 {
			c.log.Warn("lookup tables are shared by all ensemble members",
				zap.Int("tables", len(c.dae.LookupTables)))
		}
		values := make([]*sym.Node, len(c.dae.LookupTables))
		for i, s := range c.dae.LookupTables {
			table, ok := c.model.LookupTable(s.Name())
			if !ok {
				return nil, nil, model.Missing("lookup table", s.Name())
			}
			args := make([][]*sym.Node, len(table.Inputs))
			for k, name := range table.Inputs {
				v, _, err := c.reg.Get(name)
				if err != nil {
					return nil, nil, fmt.Errorf("lookup table %s: %w", s.Name(), err)
				}
				args[k] = []*sym.Node{v.Symbol()}
			}
			out, err := c.b.Call(table.Fn, args...)
			if err != nil {
				return nil, nil, fmt.Errorf("lookup table %s: %w", s.Name(), err)
			}
			values[i] = out[0][0]
		}
		res = c.b.Substitute(res, c.dae.LookupTables, values)
		initial = c.b.Substitute(initial, c.dae.LookupTables, values)
	}

	res = c.b.SubstituteValues(res, ens.constSyms, ens.constValues)
	initial = c.b.SubstituteValues(initial, ens.constSyms, ens.constValues)
	return res, initial, nil
}

// ensureFunctions builds the collocated residual, the integrator step and
// the initial-residual map unless cached versions match the current
// ensemble parameters, inlined parameter values and integrated states.
func (c *Context) ensureFunctions(tr *transcription) error {
	intNames := registry.Names(tr.integrated)
	constNames := tr.ens.constNames()
	if c.cache != nil && tr.ens.sameParams(c.cache.params) && slices.Equal(intNames, c.cache.integrated) &&
		c.cache.members == c.data.EnsembleSize() &&
		slices.Equal(constNames, c.cache.constNames) && slices.Equal(tr.ens.constValues, c.cache.constValues) {
		return nil
	}

	res, initial, err := c.residuals(tr.ens)
	if err != nil {
		return err
	}
	s := c.symbols(tr)
	params := tr.ens.params

	var intRes, colRes []*sym.Node
	for _, r := range res {
		if sym.DependsOn([]*sym.Node{r}, s.intDers) {
			intRes = append(intRes, r)
		} else {
			colRes = append(colRes, r)
		}
	}
	if len(intRes) != len(s.intVars) {
		return fmt.Errorf("%w: %d residual equations involve the derivatives of %d integrated states",
			model.ErrUnsupported, len(intRes), len(s.intVars))
	}

	fc := &functionCache{
		params:      slices.Clone(tr.ens.names),
		constNames:  constNames,
		constValues: slices.Clone(tr.ens.constValues),
		integrated:  intNames,
		members:     c.data.EnsembleSize(),
		nCollocRes:  len(colRes),
	}

	if c.opts.CheckCollocationLinearity && len(colRes) > 0 {
		fc.linear = c.collocationIsAffine(colRes, s, params)
	}

	if len(s.intVars) > 0 {
		fc.integrator, err = c.buildIntegrator(intRes, s, params)
		if err != nil {
			return err
		}
	}

	fc.collocated, err = sym.Compile("dae_residual_collocated",
		[][]*sym.Node{params, s.stateVector(c.dae.Time)}, [][]*sym.Node{colRes})
	if err != nil {
		return err
	}

	initialFn, err := sym.Compile("initial_residual",
		[][]*sym.Node{params, s.stateVector(c.dae.Time)}, [][]*sym.Node{sym.Concat(res, initial)})
	if err != nil {
		return err
	}
	fc.initial = sym.Map(initialFn, c.data.EnsembleSize(), c.opts.Parallel)

	c.cache = fc
	return nil
}

// collocationIsAffine substitutes random values for time, constant inputs
// and ensemble parameters and checks the remaining dependence on states and
// derivatives.
func (c *Context) collocationIsAffine(colRes []*sym.Node, s symbolSets, params []*sym.Node) bool {
	fixed := sym.Concat([]*sym.Node{c.dae.Time}, s.inputs, params)
	rng := rand.New(rand.NewSource(linearitySeed))
	values := make([]float64, len(fixed))
	for i := range values {
		values[i] = rng.Float64()
	}
	randomized := c.b.SubstituteValues(colRes, fixed, values)
	free := sym.Concat(s.colVars, s.intVars, s.colDers, s.intDers)
	if sym.IsAffine(randomized, free) {
		return true
	}
	c.log.Warn("the DAE residual contains equations that are not affine; " +
		"the constraint Jacobian will not be constant")
	return false
}

// buildIntegrator creates the implicit step of the integrated states: the
// root I of the theta-blended residual given the previous value I0.
func (c *Context) buildIntegrator(intRes []*sym.Node, s symbolSets, params []*sym.Node) (*sym.Newton, error) {
	b := c.b
	nI := len(s.intVars)
	I := b.Symbols("I", nI)
	I0 := b.Symbols("I0", nI)
	C0 := b.Symbols("C0", len(s.colVars))
	CI0 := b.Symbols("CI0", len(s.inputs))
	dt := b.Symbol("dt")

	dI := b.DivVec(b.SubVec(I, I0), dt)
	end := b.Substitute(intRes, sym.Concat(s.intVars, s.intDers), sym.Concat(I, dI))
	start := b.Substitute(intRes,
		sym.Concat(s.intVars, s.colVars, s.intDers, s.inputs, []*sym.Node{c.dae.Time}),
		sym.Concat(I0, C0, dI, CI0, []*sym.Node{b.Sub(c.dae.Time, dt)}))
	r := b.LerpVec(c.opts.Theta, start, end)

	rest := sym.Concat(C0, CI0, []*sym.Node{dt}, s.colVars, s.colDers, s.inputs, []*sym.Node{c.dae.Time})
	f, err := sym.Compile("dae_residual_integrated", [][]*sym.Node{I, I0, params, rest}, [][]*sym.Node{r})
	if err != nil {
		return nil, err
	}
	return sym.Rootfinder("integrator_step", f, c.opts.Newton)
}

// pathFunctions are the formulation's path expressions compiled against
// the model symbols, and the per-step function built from them.
type pathFunctions struct {
	objective   *sym.Expr
	constraints *sym.Expr
	delayed     *sym.Expr

	nObjective int
	// widths of the member-0 path constraints.
	widths  []int
	nDelays int
	delays  []DelayedFeedback

	step   sym.Function
	nStepY int
}

func (pf *pathFunctions) nConstraints() int {
	n := 0
	for _, w := range pf.widths {
		n += w
	}
	return n
}

// pathInputs is the model-side input signature of path functions.
func (c *Context) pathInputs(tr *transcription) [][]*sym.Node {
	s := c.symbols(tr)
	return [][]*sym.Node{
		tr.ens.params,
		sym.Concat(s.stateVector(c.dae.Time), registry.Symbols(tr.pathVars)),
		registry.Symbols(tr.extraVars),
	}
}

func (c *Context) buildPathFunctions(tr *transcription, form Formulation) (*pathFunctions, error) {
	pf := &pathFunctions{}
	inline := func(exprs []*sym.Node) []*sym.Node {
		return c.b.SubstituteValues(exprs, tr.ens.constSyms, tr.ens.constValues)
	}
	inputs := c.pathInputs(tr)

	obj, err := form.PathObjective(c, 0)
	if err != nil {
		return nil, fmt.Errorf("path objective: %w", err)
	}
	var objOut []*sym.Node
	if obj != nil {
		objOut = inline([]*sym.Node{obj})
	}
	pf.nObjective = len(objOut)
	if pf.objective, err = sym.Compile("path_objective", inputs, [][]*sym.Node{objOut}); err != nil {
		return nil, fmt.Errorf("path objective: %w", err)
	}

	cons, err := form.PathConstraints(c, 0)
	if err != nil {
		return nil, fmt.Errorf("path constraints: %w", err)
	}
	var conOut []*sym.Node
	for _, pc := range cons {
		pf.widths = append(pf.widths, len(pc.Expr))
		conOut = append(conOut, pc.Expr...)
	}
	if pf.constraints, err = sym.Compile("path_constraints", inputs, [][]*sym.Node{inline(conOut)}); err != nil {
		return nil, fmt.Errorf("path constraints: %w", err)
	}

	pf.delays, err = form.DelayedFeedback(c)
	if err != nil {
		return nil, fmt.Errorf("delayed feedback: %w", err)
	}
	delayOut := make([]*sym.Node, len(pf.delays))
	for i, d := range pf.delays {
		delayOut[i] = d.Expr
	}
	pf.nDelays = len(delayOut)
	if pf.delayed, err = sym.Compile("delayed_feedback", inputs, [][]*sym.Node{inline(delayOut)}); err != nil {
		return nil, fmt.Errorf("delayed feedback: %w", err)
	}

	if err := c.buildStep(tr, pf); err != nil {
		return nil, err
	}
	return pf, nil
}

// stepInputSize is the length of one column of the step function's U
// input: collocated values at both ends, constant inputs at both ends,
// both times, and path variables at the end.
func stepInputSize(nC, nCI, nPV int) int {
	return 2*nC + 2*nCI + 2 + nPV
}

// buildStep creates the function advancing one collocation interval. Given
// the integrated states at the start, it returns them at the end followed
// by the collocation residual and the path expressions evaluated at the
// end of the interval.
func (c *Context) buildStep(tr *transcription, pf *pathFunctions) error {
	b := c.b
	fc := c.cache
	s := c.symbols(tr)
	nI, nC, nCI := len(s.intVars), len(s.colVars), len(s.inputs)
	pathSyms := registry.Symbols(tr.pathVars)
	nPV := len(pathSyms)
	params := tr.ens.params
	extra := registry.Symbols(tr.extraVars)

	accX := b.Symbols("accumulated_X", nI)
	U := b.Symbols("accumulated_U", stepInputSize(nC, nCI, nPV))
	C0, C1 := U[:nC], U[nC:2*nC]
	CI0, CI1 := U[2*nC:2*nC+nCI], U[2*nC+nCI:2*nC+2*nCI]
	t0, t1 := U[2*nC+2*nCI], U[2*nC+2*nCI+1]
	PV1 := U[2*nC+2*nCI+2:]
	dt := b.Sub(t1, t0)

	dC := b.DivVec(b.SubVec(C1, C0), dt)
	I1 := accX
	if nI > 0 {
		out, err := b.Call(fc.integrator, accX, accX, params,
			sym.Concat(C0, CI0, []*sym.Node{dt}, C1, dC, CI1, []*sym.Node{t1}))
		if err != nil {
			return err
		}
		I1 = out[0]
	}
	dI := b.DivVec(b.SubVec(I1, accX), dt)

	var y []*sym.Node
	if fc.nCollocRes > 0 {
		end, err := b.Call(fc.collocated, params, sym.Concat(I1, C1, dI, dC, CI1, []*sym.Node{t1}))
		if err != nil {
			return err
		}
		start, err := b.Call(fc.collocated, params, sym.Concat(accX, C0, dI, dC, CI0, []*sym.Node{t0}))
		if err != nil {
			return err
		}
		y = b.LerpVec(c.opts.Theta, start[0], end[0])
	}

	implicit := [][]*sym.Node{params, sym.Concat(I1, C1, dI, dC, CI1, []*sym.Node{t1}, PV1), extra}
	for _, f := range []*sym.Expr{pf.objective, pf.constraints, pf.delayed} {
		out, err := b.Call(f, implicit...)
		if err != nil {
			return err
		}
		y = append(y, out[0]...)
	}
	pf.nStepY = len(y)

	outputs := [][]*sym.Node{y}
	if nI > 0 {
		outputs = [][]*sym.Node{I1, y}
	}
	step, err := sym.Compile("accumulated", [][]*sym.Node{accX, U, sym.Concat(params, extra)}, outputs)
	if err != nil {
		return err
	}

	steps := len(tr.times) - 1
	if nI > 0 {
		pf.step, err = sym.Fold(step, steps)
		return err
	}
	pf.step = sym.Map(step, steps, c.opts.Parallel)
	return nil
}
