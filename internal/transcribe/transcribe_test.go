package transcribe_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
	"github.com/san-kum/dynopt/internal/transcribe"
)

func integratorData() *model.MemoryData {
	data := model.NewMemoryData([]float64{0, 1, 2}, 1)
	data.SetBound("u", -2, 2)
	data.SetInitial("x", 1)
	return data
}

func TestIntegratorShape(t *testing.T) {
	_, prob := newProblem(t, firstOrder(false, false), integratorData(), &terminal{state: "x", tf: 2}, transcribe.DefaultOptions())

	// u and x on three times plus the initial derivative of x.
	assert.Len(t, prob.X, 7)
	assert.Len(t, prob.G, 3)

	b, ok := prob.Block("initial_residual")
	require.True(t, ok)
	assert.Equal(t, 1, b.Len)
	b, ok = prob.Block("collocation[0]")
	require.True(t, ok)
	assert.Equal(t, 2, b.Len)

	assert.Equal(t, "yes", prob.Options[nlp.OptionJacobianConstant])
	for i := 0; i < 3; i++ {
		assert.Equal(t, -2.0, prob.LBX[i])
		assert.Equal(t, 2.0, prob.UBX[i])
	}
}

func TestIntegratorSolve(t *testing.T) {
	tests := []struct {
		name       string
		integrated []string
		tol        float64
	}{
		{"collocated", nil, 1e-4},
		{"integrated", []string{"x"}, 1e-2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := transcribe.DefaultOptions()
			opts.IntegratedStates = tt.integrated
			p, prob := newProblem(t, firstOrder(false, false), integratorData(), &terminal{state: "x", tf: 2}, opts)

			sol, err := nlp.NewAugmentedLagrangian(nlp.DefaultAugmentedLagrangianOptions(), nil).Solve(context.Background(), prob)
			require.NoError(t, err)
			assert.Less(t, sol.F, tt.tol*tt.tol)

			res, err := p.ExtractResults(sol.X, 0)
			require.NoError(t, err)
			x, ok := res.Get("x")
			require.True(t, ok)
			require.Len(t, x, 3)
			assert.InDelta(t, 1, x[0], 1e-9)
			assert.InDelta(t, 0, x[2], tt.tol)

			u, ok := res.Get("u")
			require.True(t, ok)
			for _, v := range u {
				assert.GreaterOrEqual(t, v, -2.0)
				assert.LessOrEqual(t, v, 2.0)
			}
		})
	}
}

func TestIntegratedStateRemovesCollocation(t *testing.T) {
	opts := transcribe.DefaultOptions()
	opts.IntegratedStates = []string{"x"}
	_, prob := newProblem(t, firstOrder(false, false), integratorData(), &terminal{state: "x", tf: 2}, opts)

	// x is a single initial value; u on three times; one derivative slot.
	assert.Len(t, prob.X, 5)
	_, ok := prob.Block("collocation[0]")
	assert.False(t, ok)
}

func TestThetaBlending(t *testing.T) {
	const k = 0.5
	grid := []float64{0, 1, 3}
	for _, theta := range []float64{0, 0.5, 1} {
		dae := firstOrder(true, false)
		dae.Nominals = map[string][]float64{"x": {2}}
		data := model.NewMemoryData(grid, 1)
		data.SetParameter("k", k)

		opts := transcribe.DefaultOptions()
		opts.Theta = theta
		p, prob := newProblem(t, dae, data, &terminal{state: "x", tf: 3}, opts)

		rng := rand.New(rand.NewSource(int64(theta*10) + 1))
		x := make([]float64, len(prob.X))
		for i := range x {
			x[i] = rng.Float64()*4 - 2
		}
		_, g := evaluate(t, prob, x)
		got := block(t, prob, g, "collocation[0]")

		l := p.Context().Layout()
		xs, err := l.Decode(x, 0, "x")
		require.NoError(t, err)
		us, err := l.Decode(x, 0, "u")
		require.NoError(t, err)
		require.Len(t, got, len(grid)-1)
		for j := range got {
			dt := grid[j+1] - grid[j]
			fd := (xs[j+1] - xs[j]) / dt
			start := fd + k*xs[j] - us[j]
			end := fd + k*xs[j+1] - us[j+1]
			assert.InDelta(t, (1-theta)*start+theta*end, got[j], 1e-12, "theta %g step %d", theta, j)
		}
	}
}

func TestCollocationLinearity(t *testing.T) {
	nonlinear := func() *model.DAE {
		b := sym.NewBuilder()
		x, dx, u := b.Symbol("x"), b.Symbol("der(x)"), b.Symbol("u")
		return &model.DAE{
			Builder:     b,
			Time:        b.Symbol("time"),
			States:      []*sym.Node{x},
			Derivatives: []*sym.Node{dx},
			Controls:    []*sym.Node{u},
			Residual:    []*sym.Node{b.Sub(dx, b.Mul(x, u))},
		}
	}
	tests := []struct {
		name     string
		dae      *model.DAE
		linear   bool
		warnings int
	}{
		{"affine", firstOrder(true, true), true, 0},
		{"bilinear", nonlinear(), false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			data := integratorData()
			data.SetParameter("k", 1)
			data.SetConstantInput("c", timeseries.Constant(data.Grid, 0.5))

			p, err := transcribe.New(&model.StaticModel{Model: tt.dae}, data, &terminal{state: "x", tf: 2}, transcribe.DefaultOptions(), zap.New(core))
			require.NoError(t, err)
			prob, err := p.Transcribe()
			require.NoError(t, err)

			assert.Equal(t, tt.linear, p.Context().LinearCollocation())
			want := "no"
			if tt.linear {
				want = "yes"
			}
			assert.Equal(t, want, prob.Options[nlp.OptionJacobianConstant])
			assert.Equal(t, tt.warnings, logs.FilterMessageSnippet("not affine").Len())

			// The check runs once per compiled function set.
			_, err = p.Transcribe()
			require.NoError(t, err)
			assert.Equal(t, tt.warnings, logs.FilterMessageSnippet("not affine").Len())

			p.ClearCache()
			_, err = p.Transcribe()
			require.NoError(t, err)
			assert.Equal(t, 2*tt.warnings, logs.FilterMessageSnippet("not affine").Len())
		})
	}
}

func TestInlinedParameterChange(t *testing.T) {
	collocation := func(p *transcribe.Problem, prob *nlp.Problem) []float64 {
		vec := embed(t, p, 0, map[string][]float64{"u": {0, 1, -1}, "x": {1, 3, 2}, "initial_der(x)": {2}})
		_, g := evaluate(t, prob, vec)
		return block(t, prob, g, "collocation[0]")
	}
	data := integratorData()
	data.SetParameter("k", 1)
	p, prob := newProblem(t, firstOrder(true, false), data, &terminal{state: "x", tf: 2}, transcribe.DefaultOptions())
	before := collocation(p, prob)

	data.SetParameter("k", 3)
	prob, err := p.Transcribe()
	require.NoError(t, err)
	after := collocation(p, prob)

	fresh := integratorData()
	fresh.SetParameter("k", 3)
	q, qprob := newProblem(t, firstOrder(true, false), fresh, &terminal{state: "x", tf: 2}, transcribe.DefaultOptions())
	assert.NotEqual(t, before, after)
	assert.InDeltaSlice(t, collocation(q, qprob), after, 1e-12)
}

func TestLinearityCheckDisabled(t *testing.T) {
	opts := transcribe.DefaultOptions()
	opts.CheckCollocationLinearity = false
	p, prob := newProblem(t, firstOrder(false, false), integratorData(), &terminal{state: "x", tf: 2}, opts)
	assert.False(t, p.Context().LinearCollocation())
	assert.Equal(t, "no", prob.Options[nlp.OptionJacobianConstant])
}

// roundTrip declares a path variable and an extra variable next to the
// model variables.
type roundTrip struct {
	transcribe.Base
}

func (roundTrip) PathVariables(b *sym.Builder) []model.VectorVariable {
	return []model.VectorVariable{model.NewVectorVariable(b, "p", 2)}
}

func (roundTrip) ExtraVariables(b *sym.Builder) []model.VectorVariable {
	return []model.VectorVariable{{Name: "e", Symbols: []*sym.Node{b.Symbol("e")}}}
}

func (roundTrip) Objective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	e, err := ctx.ExtraVariable("e", m)
	if err != nil {
		return nil, err
	}
	return ctx.Builder().Square(e[0]), nil
}

func TestExtractRoundTrip(t *testing.T) {
	b := sym.NewBuilder()
	x, dx, y, u := b.Symbol("x"), b.Symbol("der(x)"), b.Symbol("y"), b.Symbol("u")
	dae := &model.DAE{
		Builder:     b,
		Time:        b.Symbol("time"),
		States:      []*sym.Node{x},
		Derivatives: []*sym.Node{dx},
		Algebraics:  []*sym.Node{y},
		Controls:    []*sym.Node{u},
		Residual:    []*sym.Node{b.Sub(dx, y), b.Sub(y, b.Scale(2, u))},
		Aliases:     []model.Alias{{Name: "neg_x", Canonical: "x", Sign: -1}},
		Nominals:    map[string][]float64{"x": {10}, "y": {0.1}, "p": {3, 4}},
	}
	grid := []float64{0, 0.5, 1, 2}
	data := model.NewMemoryData(grid, 2)

	p, prob := newProblem(t, dae, data, roundTrip{}, transcribe.DefaultOptions())
	n := len(grid)

	rng := rand.New(rand.NewSource(3))
	series := func(k int) []float64 {
		out := make([]float64, k)
		for i := range out {
			out[i] = rng.NormFloat64() * 5
		}
		return out
	}
	controls := map[string][]float64{"u": series(n)}
	members := []map[string][]float64{}
	l := p.Context().Layout()
	vec := make([]float64, len(prob.X))
	for m := 0; m < 2; m++ {
		values := map[string][]float64{
			"x":              series(n),
			"y":              series(n),
			"p":              series(2 * n),
			"e":              series(1),
			"initial_der(x)": series(1),
		}
		for name, v := range values {
			require.NoError(t, l.Embed(vec, m, name, v))
		}
		members = append(members, values)
	}
	require.NoError(t, l.Embed(vec, 0, "u", controls["u"]))

	got, err := p.ExtractControls(vec)
	require.NoError(t, err)
	assert.InDeltaSlice(t, controls["u"], got["u"], 1e-12)

	for m, values := range members {
		res, err := p.ExtractResults(vec, m)
		require.NoError(t, err)
		for name, want := range values {
			v, ok := res.Get(name)
			require.True(t, ok, name)
			assert.InDeltaSlice(t, want, v, 1e-12, "member %d %s", m, name)
		}
		neg, ok := res.Get("neg_x")
		require.True(t, ok)
		for i := range neg {
			assert.InDelta(t, -values["x"][i], neg[i], 1e-12)
		}
		s, err := res.Series("x")
		require.NoError(t, err)
		assert.Equal(t, grid, s.Times)
	}
}

// delayed feeds x back into y with the delay read from constant input d.
type delayed struct {
	transcribe.Base
}

func (delayed) DelayedFeedback(ctx *transcribe.Context) ([]transcribe.DelayedFeedback, error) {
	x, err := ctx.Variable("x")
	if err != nil {
		return nil, err
	}
	d, err := ctx.Variable("d")
	if err != nil {
		return nil, err
	}
	return []transcribe.DelayedFeedback{{Expr: x, State: "y", Delay: d}}, nil
}

func delayDAE() *model.DAE {
	b := sym.NewBuilder()
	x, dx, y, u, d := b.Symbol("x"), b.Symbol("der(x)"), b.Symbol("y"), b.Symbol("u"), b.Symbol("d")
	return &model.DAE{
		Builder:        b,
		Time:           b.Symbol("time"),
		States:         []*sym.Node{x},
		Derivatives:    []*sym.Node{dx},
		Algebraics:     []*sym.Node{y},
		Controls:       []*sym.Node{u},
		ConstantInputs: []*sym.Node{d},
		Residual:       []*sym.Node{b.Sub(dx, u)},
	}
}

func delayData(history []float64, delay float64) *model.MemoryData {
	grid := []float64{0, 1, 2, 3}
	data := model.NewMemoryData(grid, 1)
	data.SetConstantInput("d", timeseries.Constant(grid, delay))
	hist := []float64{-3, -2, -1, 0}
	data.SetHistory("x", timeseries.MustNew(hist[len(hist)-len(history):], history))
	return data
}

func TestDelayedFeedback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p, err := transcribe.New(&model.StaticModel{Model: delayDAE()}, delayData([]float64{-2, -1, 0, 1}, 1), delayed{}, transcribe.DefaultOptions(), zap.New(core))
	require.NoError(t, err)
	prob, err := p.Transcribe()
	require.NoError(t, err)

	// x = 1 + t and y = x(t - 1) = t solve the problem exactly.
	vec := embed(t, p, 0, map[string][]float64{
		"u":              {1, 1, 1, 1},
		"x":              {1, 2, 3, 4},
		"y":              {0, 1, 2, 3},
		"initial_der(x)": {1},
	})
	_, g := evaluate(t, prob, vec)
	rows := block(t, prob, g, "delayed_feedback[0]")
	require.Len(t, rows, 4)
	for j, r := range rows {
		assert.InDelta(t, 0, r, 1e-12, "time %d", j)
	}
	for _, r := range block(t, prob, g, "collocation[0]") {
		assert.InDelta(t, 0, r, 1e-12)
	}
	assert.Zero(t, logs.FilterMessageSnippet("incomplete history").Len())

	// The initial value and derivative come from the history.
	slot, ok := p.Context().Layout().Slot(0, "x")
	require.True(t, ok)
	assert.Equal(t, 1.0, prob.LBX[slot.Offset])
	assert.Equal(t, 1.0, prob.UBX[slot.Offset])
	der, ok := p.Context().Layout().Slot(0, "initial_der(x)")
	require.True(t, ok)
	assert.Equal(t, 1.0, prob.LBX[der.Offset])
}

func TestDelayedFeedbackIncompleteHistory(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p, err := transcribe.New(&model.StaticModel{Model: delayDAE()}, delayData([]float64{math.NaN(), math.NaN(), 1}, 1), delayed{}, transcribe.DefaultOptions(), zap.New(core))
	require.NoError(t, err)
	prob, err := p.Transcribe()
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("incomplete history").Len())

	// Without history the delayed value before t0 is held at x(t0).
	vec := embed(t, p, 0, map[string][]float64{
		"u":              {1, 1, 1, 1},
		"x":              {1, 2, 3, 4},
		"y":              {1, 1, 2, 3},
		"initial_der(x)": {1},
	})
	_, g := evaluate(t, prob, vec)
	for _, r := range block(t, prob, g, "delayed_feedback[0]") {
		assert.InDelta(t, 0, r, 1e-12)
	}
}

func TestDelayedFeedbackUnresolved(t *testing.T) {
	t.Run("nan duration", func(t *testing.T) {
		p, err := transcribe.New(&model.StaticModel{Model: delayDAE()}, delayData([]float64{-2, -1, 0, 1}, math.NaN()), delayed{}, transcribe.DefaultOptions(), zap.NewNop())
		require.NoError(t, err)
		_, err = p.Transcribe()
		assert.ErrorIs(t, err, model.ErrUnresolvedDelay)
		_, err = p.Context().StateAt("x", 0, 0, false, false)
		assert.ErrorIs(t, err, transcribe.ErrNotTranscribed)
	})
	t.Run("state dependent", func(t *testing.T) {
		form := &stateDelay{}
		p, err := transcribe.New(&model.StaticModel{Model: delayDAE()}, delayData([]float64{-2, -1, 0, 1}, 1), form, transcribe.DefaultOptions(), zap.NewNop())
		require.NoError(t, err)
		_, err = p.Transcribe()
		assert.ErrorIs(t, err, model.ErrUnresolvedDelay)
	})
}

type stateDelay struct {
	transcribe.Base
}

func (stateDelay) DelayedFeedback(ctx *transcribe.Context) ([]transcribe.DelayedFeedback, error) {
	x, err := ctx.Variable("x")
	if err != nil {
		return nil, err
	}
	return []transcribe.DelayedFeedback{{Expr: x, State: "y", Delay: x}}, nil
}

// tracking drives x(tf) to one with a quadratic control cost.
type tracking struct {
	transcribe.Base
	tf float64
}

func (f *tracking) Objective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	x, err := ctx.StateAt("x", f.tf, m, false, false)
	if err != nil {
		return nil, err
	}
	b := ctx.Builder()
	return b.Square(b.Sub(x, b.Const(1))), nil
}

func (f *tracking) PathObjective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	u, err := ctx.Variable("u")
	if err != nil {
		return nil, err
	}
	return ctx.Builder().Square(u), nil
}

func TestEnsembleObjective(t *testing.T) {
	grid := []float64{0, 1, 2, 4}
	ks := []float64{1, 2}
	cs := []float64{0.5, -0.25}
	probs := []float64{0.3, 0.7}

	ens := model.NewMemoryData(grid, 2)
	for m := range ks {
		ens.Members[m].Probability = probs[m]
		ens.Members[m].Parameters["k"] = model.Parameter{Value: ks[m]}
		ens.Members[m].ConstantInputs["c"] = timeseries.Constant(grid, cs[m])
	}
	ens.SetInitial("x", 0.2)
	pe, probEns := newProblem(t, firstOrder(true, true), ens, &tracking{tf: 4}, transcribe.DefaultOptions())

	rng := rand.New(rand.NewSource(11))
	vec := make([]float64, len(probEns.X))
	for i := range vec {
		vec[i] = rng.Float64()
	}
	fE, _ := evaluate(t, probEns, vec)

	le := pe.Context().Layout()
	want := 0.0
	for m := range ks {
		single := model.NewMemoryData(grid, 1)
		single.SetParameter("k", ks[m])
		single.SetConstantInput("c", timeseries.Constant(grid, cs[m]))
		single.SetInitial("x", 0.2)
		_, probM := newProblem(t, firstOrder(true, true), single, &tracking{tf: 4}, transcribe.DefaultOptions())

		start := le.ControlSize + m*le.MemberSize
		vm := append(append([]float64{}, vec[:le.ControlSize]...), vec[start:start+le.MemberSize]...)
		require.Len(t, vm, len(probM.X))
		fM, _ := evaluate(t, probM, vm)
		want += probs[m] * fM
	}
	assert.InDelta(t, want, fE, 1e-10)
}

func TestQueries(t *testing.T) {
	data := model.NewMemoryData([]float64{0, 1, 2}, 1)
	data.SetHistory("x", timeseries.MustNew([]float64{-1, 0}, []float64{0.5, 1}))
	p, prob := newProblem(t, firstOrder(false, false), data, &terminal{state: "x", tf: 2}, transcribe.DefaultOptions())
	ctx := p.Context()

	vec := embed(t, p, 0, map[string][]float64{
		"u":              {3, 1, 2},
		"x":              {1, 2, 4},
		"initial_der(x)": {0.5},
	})
	eval := func(nodes ...*sym.Node) []float64 {
		t.Helper()
		out, err := sym.Evaluate(nodes, prob.X, vec)
		require.NoError(t, err)
		return out
	}

	at := func(name string, tm float64) float64 {
		t.Helper()
		n, err := ctx.StateAt(name, tm, 0, false, false)
		require.NoError(t, err)
		return eval(n)[0]
	}
	assert.InDelta(t, 0.75, at("x", -0.5), 1e-12)
	assert.InDelta(t, 3, at("x", 1.5), 1e-12)
	assert.InDelta(t, 1.5, at("u", 1.5), 1e-12)
	assert.InDelta(t, 1.5, at("time", 1.5), 1e-12)

	_, err := ctx.StateAt("x", 3, 0, false, false)
	assert.ErrorIs(t, err, transcribe.ErrOutOfRange)
	n, err := ctx.StateAt("x", 3, 0, false, true)
	require.NoError(t, err)
	assert.InDelta(t, 4, eval(n)[0], 1e-12)

	_, err = ctx.ControlAt("x", 1, 0, false, false)
	assert.ErrorIs(t, err, model.ErrUnsupported)

	d0, err := ctx.DerAt("x", 0, 0)
	require.NoError(t, err)
	d2, err := ctx.DerAt("x", 2, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 2}, eval(d0, d2), 1e-12)

	in, err := ctx.StatesIn("x", 0.5, 1.5, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.5, 2, 3}, eval(in...), 1e-12)

	integral, err := ctx.Integral("x", 0, 2, 0)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, eval(integral)[0], 1e-12)

	xs, err := ctx.Variable("x")
	require.NoError(t, err)
	us, err := ctx.Variable("u")
	require.NoError(t, err)
	path, err := ctx.MapPathExpression(ctx.Builder().Mul(xs, us), 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 2, 8}, eval(path...), 1e-12)

	sv, err := ctx.StateVector("x", 0)
	require.NoError(t, err)
	assert.Len(t, sv, 3)
}

func TestLookupTable(t *testing.T) {
	b := sym.NewBuilder()
	x, dx, u, q := b.Symbol("x"), b.Symbol("der(x)"), b.Symbol("u"), b.Symbol("q")
	in := b.Symbol("table_in")
	fn, err := sym.Compile("double", [][]*sym.Node{{in}}, [][]*sym.Node{{b.Scale(2, in)}})
	require.NoError(t, err)
	dae := &model.DAE{
		Builder:      b,
		Time:         b.Symbol("time"),
		States:       []*sym.Node{x},
		Derivatives:  []*sym.Node{dx},
		Controls:     []*sym.Node{u},
		LookupTables: []*sym.Node{q},
		Residual:     []*sym.Node{b.Sub(dx, b.Add(q, u))},
	}
	mp := &model.StaticModel{Model: dae, Tables: map[string]model.LookupTable{"q": {Inputs: []string{"x"}, Fn: fn}}}
	p, err := transcribe.New(mp, integratorData(), &terminal{state: "x", tf: 2}, transcribe.DefaultOptions(), zap.NewNop())
	require.NoError(t, err)
	prob, err := p.Transcribe()
	require.NoError(t, err)

	vec := embed(t, p, 0, map[string][]float64{"u": {0, 1, -1}, "x": {1, 3, 2}, "initial_der(x)": {2}})
	_, g := evaluate(t, prob, vec)
	got := block(t, prob, g, "collocation[0]")
	assert.InDeltaSlice(t, []float64{(3 - 1) - 2*3 - 1, (2 - 3) - 2*2 + 1}, got, 1e-12)

	t.Run("missing", func(t *testing.T) {
		mp := &model.StaticModel{Model: dae}
		p, err := transcribe.New(mp, integratorData(), transcribe.Base{}, transcribe.DefaultOptions(), zap.NewNop())
		require.NoError(t, err)
		_, err = p.Transcribe()
		assert.ErrorIs(t, err, model.ErrMissingData)
	})
}

// bounded adds a two-row constraint and a path constraint with the given
// bounds.
type bounded struct {
	transcribe.Base
	lower, upper model.BoundValue
	path         *transcribe.PathConstraint
}

func (f *bounded) Constraints(ctx *transcribe.Context, m int) ([]transcribe.Constraint, error) {
	x0, err := ctx.StateAt("x", 0, m, false, false)
	if err != nil {
		return nil, err
	}
	x1, err := ctx.StateAt("x", 1, m, false, false)
	if err != nil {
		return nil, err
	}
	return []transcribe.Constraint{{Expr: []*sym.Node{x0, x1}, Lower: f.lower, Upper: f.upper}}, nil
}

func (f *bounded) PathConstraints(ctx *transcribe.Context, m int) ([]transcribe.PathConstraint, error) {
	if f.path == nil {
		return nil, nil
	}
	return []transcribe.PathConstraint{*f.path}, nil
}

func TestConstraintBounds(t *testing.T) {
	tests := []struct {
		name       string
		lower      model.BoundValue
		upper      model.BoundValue
		wantLower  []float64
		wantUpper  []float64
		shapeError bool
	}{
		{"scalar", model.Scalar(-1), model.Scalar(1), []float64{-1, -1}, []float64{1, 1}, false},
		{"vector", model.Vector(-1, -2), model.Vector(1), []float64{-1, -2}, []float64{1, 1}, false},
		{"unbounded", model.BoundValue{}, model.Scalar(3), []float64{math.Inf(-1), math.Inf(-1)}, []float64{3, 3}, false},
		{"mismatch", model.Vector(1, 2, 3), model.Scalar(0), nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := &bounded{lower: tt.lower, upper: tt.upper}
			p, err := transcribe.New(&model.StaticModel{Model: firstOrder(false, false)}, integratorData(), form, transcribe.DefaultOptions(), zap.NewNop())
			require.NoError(t, err)
			prob, err := p.Transcribe()
			if tt.shapeError {
				assert.ErrorIs(t, err, model.ErrShapeMismatch)
				var se *transcribe.ConstraintShapeError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, "lower", se.Side)
				assert.Equal(t, 2, se.Width)
				assert.Equal(t, 3, se.BoundLen)
				return
			}
			require.NoError(t, err)
			b, ok := prob.Block("constraints[0]")
			require.True(t, ok)
			assert.Equal(t, tt.wantLower, prob.LBG[b.Offset:b.Offset+b.Len])
			assert.Equal(t, tt.wantUpper, prob.UBG[b.Offset:b.Offset+b.Len])
		})
	}
}

func TestPathConstraintBounds(t *testing.T) {
	build := func(t *testing.T, pc *transcribe.PathConstraint) *nlp.Problem {
		dae := firstOrder(true, false)
		data := integratorData()
		data.SetParameter("k", 0.5)
		p, err := transcribe.New(&model.StaticModel{Model: dae}, data, &bounded{path: pc}, transcribe.DefaultOptions(), zap.NewNop())
		require.NoError(t, err)
		pc.Expr = []*sym.Node{dae.States[0]}
		prob, err := p.Transcribe()
		require.NoError(t, err)
		return prob
	}

	t.Run("series", func(t *testing.T) {
		pc := &transcribe.PathConstraint{
			Lower: model.FromSeries(timeseries.MustNew([]float64{0, 2}, []float64{0, 4})),
			Upper: model.Scalar(10),
		}
		prob := build(t, pc)
		b, ok := prob.Block("path_constraints[0]")
		require.True(t, ok)
		assert.Equal(t, []float64{0, 2, 4}, prob.LBG[b.Offset:b.Offset+b.Len])
		assert.Equal(t, []float64{10, 10, 10}, prob.UBG[b.Offset:b.Offset+b.Len])
	})
	t.Run("parameter expression", func(t *testing.T) {
		pc := &transcribe.PathConstraint{Upper: model.BoundValue{}}
		dae := firstOrder(true, false)
		data := integratorData()
		data.SetParameter("k", 0.5)
		pc.Lower = model.FromExpr(dae.Builder.Scale(4, dae.Parameters[0]))
		pc.Expr = []*sym.Node{dae.States[0]}
		p, err := transcribe.New(&model.StaticModel{Model: dae}, data, &bounded{path: pc}, transcribe.DefaultOptions(), zap.NewNop())
		require.NoError(t, err)
		prob, err := p.Transcribe()
		require.NoError(t, err)
		b, ok := prob.Block("path_constraints[0]")
		require.True(t, ok)
		assert.Equal(t, []float64{2, 2, 2}, prob.LBG[b.Offset:b.Offset+b.Len])
		assert.True(t, math.IsInf(prob.UBG[b.Offset], 1))
	})
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name   string
		dae    func() *model.DAE
		data   func() *model.MemoryData
		opts   func(*transcribe.Options)
		target error
	}{
		{
			name:   "missing parameter",
			dae:    func() *model.DAE { return firstOrder(true, false) },
			data:   integratorData,
			target: model.ErrMissingData,
		},
		{
			name:   "missing constant input",
			dae:    func() *model.DAE { return firstOrder(false, true) },
			data:   integratorData,
			target: model.ErrMissingData,
		},
		{
			name:   "integrated control",
			dae:    func() *model.DAE { return firstOrder(false, false) },
			data:   integratorData,
			opts:   func(o *transcribe.Options) { o.IntegratedStates = []string{"u"} },
			target: model.ErrUnsupported,
		},
		{
			name:   "unknown integrated state",
			dae:    func() *model.DAE { return firstOrder(false, false) },
			data:   integratorData,
			opts:   func(o *transcribe.Options) { o.IntegratedStates = []string{"nope"} },
			target: registry.ErrNotFound,
		},
		{
			name: "history not ending at t0",
			dae:  func() *model.DAE { return firstOrder(false, false) },
			data: func() *model.MemoryData {
				d := integratorData()
				d.SetHistory("x", timeseries.MustNew([]float64{-2, -1}, []float64{0, 1}))
				return d
			},
			target: model.ErrUnsupported,
		},
		{
			name: "repeated grid time",
			dae:  func() *model.DAE { return firstOrder(false, false) },
			data: func() *model.MemoryData {
				d := model.NewMemoryData([]float64{0, 1, 1, 2}, 1)
				d.SetInitial("x", 1)
				return d
			},
			target: model.ErrShapeMismatch,
		},
		{
			name: "decreasing control grid",
			dae:  func() *model.DAE { return firstOrder(false, false) },
			data: func() *model.MemoryData {
				d := integratorData()
				d.VariableTimes["u"] = []float64{0, 2, 1}
				return d
			},
			target: model.ErrShapeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := transcribe.DefaultOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			p, err := transcribe.New(&model.StaticModel{Model: tt.dae()}, tt.data(), &terminal{state: "x", tf: 2}, opts, zap.NewNop())
			require.NoError(t, err)
			_, err = p.Transcribe()
			assert.ErrorIs(t, err, tt.target)
		})
	}

	t.Run("theta out of range", func(t *testing.T) {
		opts := transcribe.DefaultOptions()
		opts.Theta = 1.5
		_, err := transcribe.New(&model.StaticModel{Model: firstOrder(false, false)}, integratorData(), transcribe.Base{}, opts, zap.NewNop())
		assert.ErrorIs(t, err, model.ErrUnsupported)
	})
	t.Run("vector state_at", func(t *testing.T) {
		p, _ := newProblem(t, firstOrder(false, false), integratorData(), roundTrip{}, transcribe.DefaultOptions())
		_, err := p.Context().StateAt("p", 1, 0, false, false)
		assert.ErrorIs(t, err, model.ErrUnsupported)
	})
}

func TestMemberOutOfRange(t *testing.T) {
	p, prob := newProblem(t, firstOrder(false, false), integratorData(), &terminal{state: "x", tf: 2}, transcribe.DefaultOptions())
	ctx := p.Context()
	x := make([]float64, len(prob.X))

	for _, m := range []int{-1, 1} {
		_, err := p.ExtractResults(x, m)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange, "ExtractResults member %d", m)
		_, err = ctx.StateAt("x", 1, m, false, false)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange, "StateAt member %d", m)
		_, err = ctx.StateVector("x", m)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange)
		_, err = ctx.ExtraVariable("x", m)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange)
		_, err = ctx.DerAt("x", 1, m)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange)
		_, err = ctx.StatesIn("x", 0, 2, m)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange)
		_, err = ctx.MapPathExpression(ctx.Builder().Const(1), m)
		assert.ErrorIs(t, err, transcribe.ErrOutOfRange)

		_, ok := ctx.Layout().Slot(m, "x")
		assert.False(t, ok)
	}

	_, err := p.ExtractResults(x, 0)
	assert.NoError(t, err)
}

func TestJacobianCheck(t *testing.T) {
	dae := firstOrder(false, false)
	dae.Nominals = map[string][]float64{"x": {1e4}}
	core, logs := observer.New(zapcore.InfoLevel)
	opts := transcribe.DefaultOptions()
	opts.JacobianCheck.Enabled = true
	p, err := transcribe.New(&model.StaticModel{Model: dae}, integratorData(), &terminal{state: "x", tf: 2}, opts, zap.New(core))
	require.NoError(t, err)
	prob, err := p.Transcribe()
	require.NoError(t, err)
	assert.NotZero(t, logs.FilterMessage("Exceedence in jacobian of constraints evaluated at x0").Len())

	require.NotEmpty(t, prob.Blocks)

	// A column with coefficients 1e4 and 1 spans too wide a range.
	b := sym.NewBuilder()
	a, c := b.Symbol("a"), b.Symbol("c")
	small := &nlp.Problem{
		X:        []*sym.Node{a, c},
		F:        b.Square(a),
		G:        []*sym.Node{b.Scale(1e4, a), b.Add(a, c)},
		LBX:      []float64{-1, -1},
		UBX:      []float64{1, 1},
		X0:       []float64{0.5, 0.5},
		Discrete: []bool{false, false},
		LBG:      []float64{0, 0},
		UBG:      []float64{0, 0},
		Blocks:   []nlp.Block{{Name: "scaled", Offset: 0, Len: 2}},
	}
	report, err := transcribe.CheckJacobian(small, opts.JacobianCheck, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, 0, report.Entries[0].Row)
	assert.Equal(t, 0, report.Entries[0].Column)
	assert.InDelta(t, 1e4, report.Entries[0].Value, 1e-3)
	assert.Equal(t, "scaled", report.Entries[0].Block)
	assert.Equal(t, []int{0}, report.Columns)
}
