package transcribe

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// delayDurations evaluates every delay at every collocation time. Delays
// may depend on time, constant inputs and parameters only.
func (c *Context) delayDurations(tr *transcription, m int, delays []DelayedFeedback) ([][]float64, error) {
	if len(delays) == 0 {
		return nil, nil
	}
	exprs := make([]*sym.Node, len(delays))
	for i, d := range delays {
		if d.Delay == nil {
			return nil, fmt.Errorf("%w: feedback into %s has no delay", model.ErrUnresolvedDelay, d.State)
		}
		exprs[i] = d.Delay
	}
	params, values := tr.ens.parameterValues(c.dae.Parameters, m)
	exprs = c.b.SubstituteValues(exprs, params, values)

	inputs := registry.Symbols(tr.constantInputs)
	f, err := sym.Compile("delay_durations", [][]*sym.Node{{c.dae.Time}, inputs}, [][]*sym.Node{exprs})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrUnresolvedDelay, err)
	}
	n := len(tr.times)
	ci := tr.members[m].constantInputs
	in := make([]float64, 0, n*len(inputs))
	for j := 0; j < n; j++ {
		in = append(in, columnAt(ci, j)...)
	}
	out := make([]float64, n*len(delays))
	if err := sym.Map(f, n, false).Eval([][]float64{tr.times, in}, [][]float64{out}); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrUnresolvedDelay, err)
	}

	durations := make([][]float64, len(delays))
	for i := range delays {
		durations[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			d := out[j*len(delays)+i]
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, fmt.Errorf("%w: delay of feedback into %s is %g at t=%g",
					model.ErrUnresolvedDelay, delays[i].State, d, tr.times[j])
			}
			durations[i][j] = d
		}
	}
	return durations, nil
}

// delayHistory evaluates the delayed expressions on the union of the state
// histories before the initial time. Values that cannot be computed are NaN.
func (c *Context) delayHistory(tr *transcription, m int) ([]float64, [][]float64, error) {
	vars := append(append([]*registry.Variable{}, tr.integrated...), tr.collocated...)
	var grids [][]float64
	for _, v := range vars {
		if h, ok := c.data.History(m, v.Name); ok {
			grids = append(grids, h.Times)
		}
	}
	var times []float64
	for _, t := range timeseries.Union(grids...) {
		if t < tr.t0 {
			times = append(times, t)
		}
	}
	if len(times) == 0 {
		return nil, nil, nil
	}

	nan := math.NaN()
	states := make([][]float64, len(vars))
	for i, v := range vars {
		h, ok := c.data.History(m, v.Name)
		if !ok {
			states[i] = filled(len(times), nan)
			continue
		}
		states[i] = h.Sample(times, nan, nan, v.Interpolation)
	}
	inputs := make([][]float64, len(tr.constantInputs))
	for i, v := range tr.constantInputs {
		s, ok := c.data.ConstantInput(m, v.Name)
		if !ok {
			return nil, nil, model.Missing("constant input", v.Name)
		}
		inputs[i] = s.Sample(times, nan, nan, v.Interpolation)
	}

	f := tr.fns.delayed
	nPath := len(registry.Symbols(tr.pathVars))
	nExtra := len(registry.Symbols(tr.extraVars))
	values := make([][]float64, len(times))
	for k, t := range times {
		state := columnAt(states, k)
		ders := filled(len(vars), nan)
		if k > 0 {
			dt := t - times[k-1]
			for i := range vars {
				ders[i] = (states[i][k] - states[i][k-1]) / dt
			}
		}
		in := make([]float64, 0, f.SizeIn()[1])
		in = append(in, state...)
		in = append(in, ders...)
		in = append(in, columnAt(inputs, k)...)
		in = append(in, t)
		in = append(in, filled(nPath, nan)...)
		values[k] = make([]float64, tr.fns.nDelays)
		err := f.Eval([][]float64{tr.members[m].params, in, filled(nExtra, nan)}, [][]float64{values[k]})
		if err != nil {
			return nil, nil, err
		}
	}
	return times, values, nil
}

// delayNominals evaluates the delayed expressions at the variable nominals.
// Zero or undefined results fall back to one.
func (c *Context) delayNominals(tr *transcription, m int) ([]float64, error) {
	vars := append(append([]*registry.Variable{}, tr.integrated...), tr.collocated...)
	in := make([]float64, 0, tr.fns.delayed.SizeIn()[1])
	for _, v := range vars {
		in = append(in, v.ScalarNominal())
	}
	in = append(in, make([]float64, len(vars))...)
	in = append(in, columnAt(tr.members[m].constantInputs, 0)...)
	in = append(in, tr.t0)
	for _, v := range tr.pathVars {
		for k := 0; k < v.Width(); k++ {
			in = append(in, v.NominalAt(k))
		}
	}
	var extra []float64
	for _, v := range tr.extraVars {
		for k := 0; k < v.Width(); k++ {
			extra = append(extra, v.NominalAt(k))
		}
	}
	out := make([]float64, tr.fns.nDelays)
	if err := tr.fns.delayed.Eval([][]float64{tr.members[m].params, in, extra}, [][]float64{out}); err != nil {
		return nil, err
	}
	for i, v := range out {
		v = math.Abs(v)
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 1
		}
		out[i] = v
	}
	return out, nil
}

// addDelayConstraints requires every delayed-feedback state to equal the
// delayed expression at each collocation time. The expression is known on
// the history grid, at the initial time and at the end of every step.
func (c *Context) addDelayConstraints(tr *transcription, m int, p *nlp.Problem, initial []*sym.Node, steps [][]*sym.Node) error {
	delays := tr.fns.delays
	if len(delays) == 0 {
		return nil
	}
	durations, err := c.delayDurations(tr, m, delays)
	if err != nil {
		return err
	}
	histTimes, histValues, err := c.delayHistory(tr, m)
	if err != nil {
		return err
	}
	nominals, err := c.delayNominals(tr, m)
	if err != nil {
		return err
	}

	b := c.b
	var cons []*sym.Node
	for i, d := range delays {
		v, sign, err := c.reg.Get(d.State)
		if err != nil {
			return fmt.Errorf("delayed feedback: %w", err)
		}
		inTimes, inValues, err := c.discretized(tr, m, v)
		if err != nil {
			return fmt.Errorf("delayed feedback into %s: %w", d.State, err)
		}
		in := c.interpolateAll(inTimes, inValues, tr.times, v.Interpolation)

		earliest := math.Inf(1)
		for j, t := range tr.times {
			earliest = math.Min(earliest, t-durations[i][j])
		}

		// The window of history reaching back to the earliest delayed time
		// must be complete, otherwise the history is dropped and the
		// earliest discretized value is held backward.
		useHistory := len(histTimes) > 0
		if useHistory {
			start := sort.SearchFloat64s(histTimes, earliest)
			if start == len(histTimes) || histTimes[start] != earliest {
				start--
			}
			start = max(start, 0)
			for k := start; k < len(histTimes); k++ {
				if math.IsNaN(histValues[k][i]) {
					c.log.Warn("incomplete history for delayed feedback, extrapolating backward",
						zap.String("state", d.State), zap.Int("member", m))
					useHistory = false
					break
				}
			}
		}

		var outTimes []float64
		var outValues []*sym.Node
		if useHistory {
			for k, t := range histTimes {
				outTimes = append(outTimes, t)
				outValues = append(outValues, b.Const(histValues[k][i]))
			}
		}
		outTimes = append(outTimes, tr.times...)
		outValues = append(outValues, initial[i])
		for j := range steps {
			outValues = append(outValues, steps[j][i])
		}

		for j, t := range tr.times {
			delayed := c.interpolate(outTimes, outValues, t-durations[i][j], timeseries.Linear)
			diff := b.Sub(b.Scale(sign, in[j]), delayed)
			cons = append(cons, b.Scale(1/nominals[i], diff))
		}
	}
	p.AddEqualities(fmt.Sprintf("delayed_feedback[%d]", m), cons)
	return nil
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
