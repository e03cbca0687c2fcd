package nlp_test

import (
	"context"
	"math"
	"testing"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/sym"
)

var inf = math.Inf(1)

// quadratic is min (a-3)^2 + (b+1)^2 subject to a + b = 1, a in [0, 1.5].
func quadratic() *nlp.Problem {
	b := sym.NewBuilder()
	x := b.Symbols("x", 2)
	p := &nlp.Problem{
		X:        x,
		F:        b.Add(b.Square(b.Sub(x[0], b.Const(3))), b.Square(b.Add(x[1], b.Const(1)))),
		LBX:      []float64{0, -inf},
		UBX:      []float64{1.5, inf},
		X0:       []float64{0, 0},
		Discrete: []bool{false, false},
	}
	p.AddEqualities("sum", []*sym.Node{b.Add(x[0], x[1])})
	p.UBG[0], p.LBG[0] = 1, 1
	return p
}

func TestBlocks(t *testing.T) {
	g := NewWithT(t)
	b := sym.NewBuilder()
	x := b.Symbols("x", 2)
	p := &nlp.Problem{X: x}
	p.AddEqualities("empty", nil)
	p.AddEqualities("first", x)
	p.AddConstraints("second", []*sym.Node{b.Add(x[0], x[1])}, []float64{-1}, []float64{1})

	g.Expect(p.Blocks).To(HaveLen(2))
	_, ok := p.Block("empty")
	g.Expect(ok).To(BeFalse())
	blk, ok := p.Block("second")
	g.Expect(ok).To(BeTrue())
	g.Expect(blk).To(Equal(nlp.Block{Name: "second", Offset: 2, Len: 1}))
	g.Expect(p.LBG).To(Equal([]float64{0, 0, -1}))
	g.Expect(p.UBG).To(Equal([]float64{0, 0, 1}))
}

func TestValidate(t *testing.T) {
	g := NewWithT(t)
	p := quadratic()
	g.Expect(p.Validate()).To(Succeed())

	p.X0 = p.X0[:1]
	g.Expect(p.Validate()).To(MatchError(nlp.ErrShape))

	p = quadratic()
	p.LBG = nil
	g.Expect(p.Validate()).To(MatchError(nlp.ErrShape))

	p = quadratic()
	p.F = nil
	_, err := p.Compile()
	g.Expect(err).To(MatchError(nlp.ErrShape))
}

func TestEvaluator(t *testing.T) {
	g := NewWithT(t)
	ev, err := quadratic().Compile()
	g.Expect(err).NotTo(HaveOccurred())
	n, m := ev.Size()
	g.Expect(n).To(Equal(2))
	g.Expect(m).To(Equal(1))

	c := make([]float64, 1)
	f, err := ev.Eval([]float64{1, 2}, c)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(f).To(BeNumerically("~", 4+9, 1e-12))
	g.Expect(c[0]).To(BeNumerically("~", 3, 1e-12))
}

func TestViolation(t *testing.T) {
	tests := []struct {
		name string
		g    []float64
		want float64
	}{
		{"inside", []float64{0, 1}, 0},
		{"below", []float64{-2, 1}, 1},
		{"above", []float64{0, 4}, 2},
		{"nan", []float64{math.NaN(), 0}, inf},
	}
	lb := []float64{-1, 0}
	ub := []float64{1, 2}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nlp.Violation(tt.g, lb, ub); got != tt.want {
				t.Errorf("Violation(%v) = %g, want %g", tt.g, got, tt.want)
			}
		})
	}
}

func TestAugmentedLagrangian(t *testing.T) {
	g := NewWithT(t)
	s := nlp.NewAugmentedLagrangian(nlp.DefaultAugmentedLagrangianOptions(), zap.NewNop())
	sol, err := s.Solve(context.Background(), quadratic())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Converged).To(BeTrue())
	g.Expect(sol.X[0]).To(BeNumerically("~", 1.5, 1e-4))
	g.Expect(sol.X[1]).To(BeNumerically("~", -0.5, 1e-4))
	g.Expect(sol.F).To(BeNumerically("~", 2.5, 1e-3))
	g.Expect(sol.Violation).To(BeNumerically("<=", 1e-6))
	// The upper bound of x[0] is active and must hold exactly.
	g.Expect(sol.X[0]).To(BeNumerically("<=", 1.5))
}

func TestAugmentedLagrangianRespectsBounds(t *testing.T) {
	g := NewWithT(t)
	b := sym.NewBuilder()
	x := b.Symbols("x", 3)
	// Each target lies outside its box, so every bound is active.
	p := &nlp.Problem{
		X: x,
		F: b.Add(b.Add(
			b.Square(b.Sub(x[0], b.Const(5))),
			b.Square(b.Add(x[1], b.Const(4)))),
			b.Square(b.Sub(x[2], b.Const(0.3)))),
		LBX:      []float64{-1, -1, 0.5},
		UBX:      []float64{1, 1, 2},
		X0:       []float64{0, 0, 1},
		Discrete: []bool{false, false, false},
	}
	sol, err := nlp.NewAugmentedLagrangian(nlp.DefaultAugmentedLagrangianOptions(), nil).Solve(context.Background(), p)
	g.Expect(err).NotTo(HaveOccurred())
	for i, v := range sol.X {
		g.Expect(v).To(BeNumerically(">=", p.LBX[i]), "x[%d]", i)
		g.Expect(v).To(BeNumerically("<=", p.UBX[i]), "x[%d]", i)
	}
	g.Expect(sol.X).To(HaveLen(3))
	g.Expect(sol.X[0]).To(BeNumerically("~", 1, 1e-4))
	g.Expect(sol.X[1]).To(BeNumerically("~", -1, 1e-4))
	g.Expect(sol.X[2]).To(BeNumerically("~", 0.5, 1e-4))
}

func TestAugmentedLagrangianInequality(t *testing.T) {
	g := NewWithT(t)
	b := sym.NewBuilder()
	x := b.Symbols("x", 2)
	p := &nlp.Problem{
		X:        x,
		F:        b.Add(b.Square(x[0]), b.Square(b.Sub(x[1], b.Const(2)))),
		LBX:      []float64{-10, 0.5},
		UBX:      []float64{10, 0.5},
		X0:       []float64{5, 0},
		Discrete: []bool{false, false},
	}
	p.AddConstraints("floor", []*sym.Node{b.Sub(x[0], x[1])}, []float64{1}, []float64{inf})

	sol, err := nlp.NewAugmentedLagrangian(nlp.DefaultAugmentedLagrangianOptions(), nil).Solve(context.Background(), p)
	g.Expect(err).NotTo(HaveOccurred())
	// x[1] is fixed by its bounds, so x[0] >= 1.5 is active.
	g.Expect(sol.X[1]).To(Equal(0.5))
	g.Expect(sol.X[0]).To(BeNumerically("~", 1.5, 1e-4))
}

func TestAugmentedLagrangianErrors(t *testing.T) {
	t.Run("crossed bounds", func(t *testing.T) {
		g := NewWithT(t)
		p := quadratic()
		p.LBX[0], p.UBX[0] = 2, 1
		_, err := nlp.NewAugmentedLagrangian(nlp.DefaultAugmentedLagrangianOptions(), nil).Solve(context.Background(), p)
		g.Expect(err).To(MatchError(nlp.ErrInfeasible))
	})
	t.Run("cancelled", func(t *testing.T) {
		g := NewWithT(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := nlp.NewAugmentedLagrangian(nlp.DefaultAugmentedLagrangianOptions(), nil).Solve(ctx, quadratic())
		g.Expect(err).To(MatchError(context.Canceled))
	})
	t.Run("infeasible constraints", func(t *testing.T) {
		g := NewWithT(t)
		core, logs := observer.New(zapcore.WarnLevel)
		opts := nlp.DefaultAugmentedLagrangianOptions()
		opts.MaxOuter = 3
		b := sym.NewBuilder()
		x := b.Symbols("x", 1)
		p := &nlp.Problem{X: x, F: b.Square(x[0]), LBX: []float64{0}, UBX: []float64{1}, X0: []float64{0}, Discrete: []bool{false}}
		p.AddConstraints("out of reach", x, []float64{5}, []float64{inf})

		sol, err := nlp.NewAugmentedLagrangian(opts, zap.New(core)).Solve(context.Background(), p)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(sol.Converged).To(BeFalse())
		g.Expect(logs.FilterMessageSnippet("did not reach").Len()).To(Equal(1))
	})
}
