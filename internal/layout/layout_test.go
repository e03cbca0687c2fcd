package layout_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/timeseries"
)

type source struct {
	bounds map[string]model.Bound
	seeds  map[string]model.SeedValue
}

func (s *source) Bound(name string) (model.Bound, bool) {
	b, ok := s.bounds[name]
	return b, ok
}

func (s *source) Seed(member int, name string) (model.SeedValue, bool) {
	v, ok := s.seeds[name]
	return v, ok
}

func newPlan(members int) *layout.Plan {
	grid := []float64{0, 1, 2}
	return &layout.Plan{
		InitialTime:  0,
		EnsembleSize: members,
		Controls: []layout.Entry{
			{Name: "u", Times: grid, Nominal: []float64{2}},
			{Name: "v", Times: []float64{0, 2}, Discrete: true},
		},
		States: []layout.Entry{
			{Name: "x", Times: grid, Nominal: []float64{10}},
			{Name: "w", Times: grid, Integrated: true},
			{Name: "y", Times: grid},
			{Name: "q", Times: grid, Width: 2, Nominal: []float64{1, 4}},
		},
		Extras: []layout.Entry{
			{Name: "e", Width: 2},
		},
		Derivatives: []layout.DerivativeEntry{
			{Name: "der(x)", State: "x", Nominal: 10, Dt: 1},
			{Name: "der(w)", State: "w", Nominal: 1, Dt: 1},
		},
	}
}

func build(plan *layout.Plan, src layout.Source, log *zap.Logger) (*layout.Layout, error) {
	controls, err := layout.DiscretizeControls(plan, src, log)
	if err != nil {
		return nil, err
	}
	states, err := layout.DiscretizeStates(plan, src, log)
	if err != nil {
		return nil, err
	}
	return layout.Merge(plan, controls, states), nil
}

var _ = Describe("Decision vector layout", func() {
	var src *source

	BeforeEach(func() {
		src = &source{bounds: map[string]model.Bound{}, seeds: map[string]model.SeedValue{}}
	})

	It("tiles every member block without gaps or overlaps", func() {
		l, err := build(newPlan(3), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		Expect(l.ControlSize).To(Equal(3 + 2))
		// x:3 w:1 y:3 q:6 e:2 derivatives:2
		Expect(l.MemberSize).To(Equal(17))
		Expect(l.Size()).To(Equal(l.ControlSize + 3*l.MemberSize))
		for m := 0; m < 3; m++ {
			for i, c := range l.Coverage(m) {
				Expect(c).To(Equal(1), "member %d index %d", m, i)
			}
		}
	})

	It("shares control slots across members", func() {
		l, err := build(newPlan(2), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		u0, _ := l.Slot(0, "u")
		u1, _ := l.Slot(1, "u")
		Expect(u0).To(Equal(u1))
		x0, _ := l.Slot(0, "x")
		x1, _ := l.Slot(1, "x")
		Expect(x1.Offset - x0.Offset).To(Equal(l.MemberSize))
	})

	It("places initial derivatives at the end of each member block", func() {
		l, err := build(newPlan(2), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		for m := 0; m < 2; m++ {
			s, ok := l.Slot(m, "initial_der(x)")
			Expect(ok).To(BeTrue())
			Expect(s.Offset).To(Equal(l.DerivativeOffset(m, 2)))
		}
	})

	It("scales scalar, vector and series bounds by the nominal", func() {
		src.bounds["u"] = model.Between(-2, 2)
		src.bounds["x"] = model.Bound{
			Lower: model.FromSeries(timeseries.MustNew([]float64{0.5, 2}, []float64{10, 40})),
			Upper: model.Vector(100, 200, 300),
		}
		src.bounds["q"] = model.Bound{Upper: model.Vector(1, 8)}

		l, err := build(newPlan(1), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		u, _ := l.Slot(0, "u")
		Expect(l.LBX[u.Offset : u.Offset+u.Len]).To(Equal([]float64{-1, -1, -1}))

		x, _ := l.Slot(0, "x")
		lbx := l.LBX[x.Offset : x.Offset+x.Len]
		Expect(math.IsInf(lbx[0], -1)).To(BeTrue())
		Expect(lbx[1]).To(BeNumerically("~", 2, 1e-12))
		Expect(lbx[2]).To(BeNumerically("~", 4, 1e-12))
		Expect(l.UBX[x.Offset : x.Offset+x.Len]).To(Equal([]float64{10, 20, 30}))

		q, _ := l.Slot(0, "q")
		Expect(l.UBX[q.Offset : q.Offset+q.Len]).To(Equal([]float64{1, 1, 1, 2, 2, 2}))
	})

	It("applies seeds with zero fill", func() {
		src.seeds["x"] = model.SeedValue{Series: timeseries.MustNew([]float64{1, 2}, []float64{20, 30})}
		src.seeds["e"] = model.SeedValue{Values: []float64{3, 4}}
		src.seeds["initial_der(x)"] = model.SeedValue{Values: []float64{5}}

		l, err := build(newPlan(1), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		x, _ := l.Slot(0, "x")
		Expect(l.X0[x.Offset : x.Offset+3]).To(Equal([]float64{0, 2, 3}))
		e, _ := l.Slot(0, "e")
		Expect(l.X0[e.Offset : e.Offset+2]).To(Equal([]float64{3, 4}))
		d, _ := l.Slot(0, "initial_der(x)")
		Expect(l.X0[d.Offset]).To(BeNumerically("~", 0.5, 1e-12))
	})

	It("marks discrete variables", func() {
		l, err := build(newPlan(1), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		v, _ := l.Slot(0, "v")
		Expect(l.Discrete[v.Offset]).To(BeTrue())
		Expect(l.Discrete[0]).To(BeFalse())
	})

	It("logs NaN bounds as errors without failing", func() {
		core, logs := observer.New(zapcore.ErrorLevel)
		src.bounds["y"] = model.Bound{Lower: model.Scalar(math.NaN())}

		_, err := build(newPlan(1), src, zap.New(core))
		Expect(err).NotTo(HaveOccurred())
		Expect(logs.FilterMessage("lower bound contains NaN").Len()).To(Equal(1))
	})

	It("rejects vector-valued integrated states and controls", func() {
		plan := newPlan(1)
		plan.States[1].Width = 2
		_, err := layout.DiscretizeStates(plan, src, zap.NewNop())
		Expect(errors.Is(err, model.ErrUnsupported)).To(BeTrue())

		plan = newPlan(1)
		plan.Controls[0].Width = 3
		_, err = layout.DiscretizeControls(plan, src, zap.NewNop())
		Expect(errors.Is(err, model.ErrUnsupported)).To(BeTrue())
	})

	It("rejects bounds of the wrong length", func() {
		src.bounds["x"] = model.Bound{Lower: model.Vector(1, 2)}
		_, err := build(newPlan(1), src, zap.NewNop())
		Expect(errors.Is(err, model.ErrShapeMismatch)).To(BeTrue())
	})

	It("round-trips physical values through embed and decode", func() {
		l, err := build(newPlan(2), src, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		x := make([]float64, l.Size())
		values := map[string][]float64{
			"u":              {1, -2, 0.5},
			"x":              {10, 20, 35},
			"q":              {1, 2, 3, 4, 8, 12},
			"initial_der(x)": {7},
		}
		for name, v := range values {
			Expect(l.Embed(x, 1, name, v)).To(Succeed())
		}
		for name, v := range values {
			got, err := l.Decode(x, 1, name)
			Expect(err).NotTo(HaveOccurred())
			for i := range v {
				Expect(got[i]).To(BeNumerically("~", v[i], 1e-12), name)
			}
		}
		q, _ := l.Slot(1, "q")
		Expect(x[q.Offset+3]).To(BeNumerically("~", 1, 1e-12))
	})
})
