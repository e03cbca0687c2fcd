package transcribe_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/transcribe"
)

// firstOrder builds der(x) = -k*x + u + c, with k a parameter and c a
// constant input. Either may be dropped.
func firstOrder(withK, withC bool) *model.DAE {
	b := sym.NewBuilder()
	x, dx, u := b.Symbol("x"), b.Symbol("der(x)"), b.Symbol("u")
	d := &model.DAE{
		Builder:     b,
		Time:        b.Symbol("time"),
		States:      []*sym.Node{x},
		Derivatives: []*sym.Node{dx},
		Controls:    []*sym.Node{u},
	}
	rhs := u
	if withK {
		k := b.Symbol("k")
		d.Parameters = append(d.Parameters, k)
		rhs = b.Sub(rhs, b.Mul(k, x))
	}
	if withC {
		c := b.Symbol("c")
		d.ConstantInputs = append(d.ConstantInputs, c)
		rhs = b.Add(rhs, c)
	}
	d.Residual = []*sym.Node{b.Sub(dx, rhs)}
	return d
}

// terminal minimizes the square of a state at the final time.
type terminal struct {
	transcribe.Base
	state string
	tf    float64
}

func (f *terminal) Objective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	x, err := ctx.StateAt(f.state, f.tf, m, false, false)
	if err != nil {
		return nil, err
	}
	return ctx.Builder().Square(x), nil
}

func newProblem(t *testing.T, dae *model.DAE, data model.DataProvider, form transcribe.Formulation, opts transcribe.Options) (*transcribe.Problem, *nlp.Problem) {
	t.Helper()
	p, err := transcribe.New(&model.StaticModel{Model: dae}, data, form, opts, zap.NewNop())
	require.NoError(t, err)
	prob, err := p.Transcribe()
	require.NoError(t, err)
	return p, prob
}

func evaluate(t *testing.T, prob *nlp.Problem, x []float64) (float64, []float64) {
	t.Helper()
	ev, err := prob.Compile()
	require.NoError(t, err)
	g := make([]float64, len(prob.G))
	f, err := ev.Eval(x, g)
	require.NoError(t, err)
	return f, g
}

func block(t *testing.T, prob *nlp.Problem, g []float64, name string) []float64 {
	t.Helper()
	b, ok := prob.Block(name)
	require.True(t, ok, "missing constraint block %s", name)
	return g[b.Offset : b.Offset+b.Len]
}

// embed writes physical values into a fresh scaled vector.
func embed(t *testing.T, p *transcribe.Problem, member int, values map[string][]float64) []float64 {
	t.Helper()
	l := p.Context().Layout()
	x := make([]float64, l.Size())
	for name, v := range values {
		require.NoError(t, l.Embed(x, member, name, v))
	}
	return x
}
