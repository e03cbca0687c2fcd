package experiment

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/problems"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// ReplaySubsteps is the number of RK4 steps per collocation interval.
const ReplaySubsteps = 20

// replaySystem solves the model residual for the state derivatives, with
// the controls interpolated linearly between the optimized values.
type replaySystem struct {
	newton   *sym.Newton
	controls [][]float64
	inputs   []*timeseries.Series
	params   []float64
	times    []float64
	guess    []float64
	args     []float64
}

func (s *replaySystem) Derivative(x []float64, t float64) ([]float64, error) {
	args := s.args[:0]
	args = append(args, x...)
	for _, u := range s.controls {
		args = append(args, timeseries.At(s.times, u, t, u[0], u[len(u)-1], timeseries.Linear))
	}
	for _, in := range s.inputs {
		_, last := in.Last()
		args = append(args, in.At(t, in.Values[0], last, timeseries.Linear))
	}
	args = append(args, t)
	args = append(args, s.params...)
	s.args = args

	der := make([]float64, len(x))
	if err := s.newton.Eval([][]float64{s.guess, args}, [][]float64{der}); err != nil {
		return nil, err
	}
	copy(s.guess, der)
	return der, nil
}

// Replay simulates a member forward from the optimized initial state with
// the optimized controls and returns the differentiated states on the
// collocation grid. Only models without algebraic states or lookup tables
// can be replayed.
func Replay(c *problems.Case, res *Result, member int) (map[string][]float64, error) {
	if member < 0 || member >= len(res.Members) {
		return nil, fmt.Errorf("member %d out of range", member)
	}
	return replay(c, member, res.Times, res.Controls, res.Members[member].States)
}

func replay(c *problems.Case, member int, times []float64, controls, states map[string][]float64) (map[string][]float64, error) {
	dae := c.Model.DAE()
	if len(dae.Algebraics) > 0 || len(dae.LookupTables) > 0 {
		return nil, fmt.Errorf("%w: replay needs an explicit ODE", model.ErrUnsupported)
	}

	sys := &replaySystem{times: times, guess: make([]float64, len(dae.States))}
	x0 := make([]float64, len(dae.States))
	for i, s := range dae.States {
		v, ok := states[s.Name()]
		if !ok {
			return nil, model.Missing("state result", s.Name())
		}
		x0[i] = v[0]
	}
	for _, u := range dae.Controls {
		v, ok := controls[u.Name()]
		if !ok {
			return nil, model.Missing("control result", u.Name())
		}
		sys.controls = append(sys.controls, v)
	}
	for _, in := range dae.ConstantInputs {
		s, ok := c.Data.ConstantInput(member, in.Name())
		if !ok {
			return nil, model.Missing("constant input", in.Name())
		}
		sys.inputs = append(sys.inputs, s)
	}
	params, err := parameterValues(c.Data, dae.Parameters, member)
	if err != nil {
		return nil, err
	}
	sys.params = params

	inputs := sym.Concat(dae.States, dae.Controls, dae.ConstantInputs, []*sym.Node{dae.Time}, dae.Parameters)
	residual, err := sym.Compile("replay_residual", [][]*sym.Node{dae.Derivatives, inputs}, [][]*sym.Node{dae.Residual})
	if err != nil {
		return nil, err
	}
	if sys.newton, err = sym.Rootfinder("replay_derivatives", residual, sym.DefaultRootfinderOptions()); err != nil {
		return nil, err
	}

	xs, err := integrators.Integrate(sys, integrators.NewRK4(), x0, times, ReplaySubsteps)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	out := make(map[string][]float64, len(dae.States))
	for i, s := range dae.States {
		col := make([]float64, len(xs))
		for j := range xs {
			col[j] = xs[j][i]
		}
		out[s.Name()] = col
	}
	return out, nil
}

// parameterValues resolves parameters, evaluating expression-valued ones
// against the plain values.
func parameterValues(data model.DataProvider, params []*sym.Node, member int) ([]float64, error) {
	values := make([]float64, len(params))
	var exprs []int
	for i, p := range params {
		v, ok := data.Parameter(member, p.Name())
		if !ok {
			return nil, model.Missing("parameter", p.Name())
		}
		if v.Expr != nil {
			exprs = append(exprs, i)
			continue
		}
		values[i] = v.Value
	}
	for _, i := range exprs {
		v, _ := data.Parameter(member, params[i].Name())
		out, err := sym.Evaluate([]*sym.Node{v.Expr}, params, values)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", params[i].Name(), err)
		}
		values[i] = out[0]
	}
	return values, nil
}

// replayError is the largest absolute difference between the optimized and
// the replayed states.
func replayError(optimized, replayed map[string][]float64) float64 {
	worst := 0.0
	for name, r := range replayed {
		o := optimized[name]
		for i := range r {
			worst = math.Max(worst, math.Abs(r[i]-o[i]))
		}
	}
	return worst
}
