package problems

import (
	"math"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
	"github.com/san-kum/dynopt/internal/transcribe"
)

const (
	DefaultArea        = 2.0
	DefaultSpill       = 0.1
	DefaultInflow      = 1.0
	DefaultTargetLevel = 1.0
	DefaultMinLevel    = 0.2
	DefaultMaxLevel    = 2.0
	DefaultMaxRelease  = 3.0

	// inflowSpread is the relative inflow difference between the driest
	// and the wettest ensemble member.
	inflowSpread  = 0.4
	drawdown      = 0.5
	releaseEffort = 0.01
	peakWeight    = 0.5
)

// reservoirForm tracks a target level inside a band that narrows over the
// horizon, and penalizes the peak outflow through an extra variable.
type reservoirForm struct {
	transcribe.Base
	level, outflow, release *sym.Node
	peak                    *sym.Node
	upper                   *timeseries.Series
}

func (f *reservoirForm) ExtraVariables(*sym.Builder) []model.VectorVariable {
	return []model.VectorVariable{{Name: "peak", Symbols: []*sym.Node{f.peak}}}
}

func (f *reservoirForm) PathObjective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	b := ctx.Builder()
	return b.Add(
		b.Square(b.Sub(f.level, b.Const(DefaultTargetLevel))),
		b.Scale(releaseEffort, b.Square(f.release))), nil
}

func (f *reservoirForm) PathConstraints(ctx *transcribe.Context, m int) ([]transcribe.PathConstraint, error) {
	b := ctx.Builder()
	return []transcribe.PathConstraint{
		{Expr: []*sym.Node{f.level}, Lower: model.Scalar(DefaultMinLevel), Upper: model.FromSeries(f.upper)},
		{Expr: []*sym.Node{b.Sub(f.outflow, f.peak)}, Upper: model.Scalar(0)},
	}, nil
}

func (f *reservoirForm) Objective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	peak, err := ctx.ExtraVariable("peak", m)
	if err != nil {
		return nil, err
	}
	return ctx.Builder().Scale(peakWeight, peak[0]), nil
}

// Reservoir is a storage with an uncontrolled spill:
//
//	area * der(level) = inflow - outflow
//	outflow = release + spill * level
//
// With several ensemble members each member sees a scaled inflow.
func Reservoir(cfg *config.Config) (*Case, error) {
	d := newDAE()
	b := d.b
	level, dlevel := d.state("level")
	outflow := d.algebraic("outflow")
	release := d.control("release")
	inflow := d.input("inflow")
	area, spill := d.param("area"), d.param("spill")

	d.equation(b.Mul(area, dlevel), b.Sub(inflow, outflow))
	d.equation(outflow, b.Add(release, b.Mul(spill, level)))

	data, err := newData(cfg, map[string]float64{"area": DefaultArea, "spill": DefaultSpill})
	if err != nil {
		return nil, err
	}
	grid := data.Grid
	n := len(data.Members)
	for m, member := range data.Members {
		scale := 1.0
		if n > 1 {
			scale += inflowSpread * (float64(m)/float64(n-1) - 0.5)
		}
		values := make([]float64, len(grid))
		for i, t := range grid {
			values[i] = scale * DefaultInflow * (1 + 0.5*math.Sin(2*math.Pi*t/cfg.Horizon))
		}
		member.ConstantInputs["inflow"] = timeseries.MustNew(grid, values)
	}
	data.SetBound("release", 0, DefaultMaxRelease)
	data.SetBound("peak", 0, inf)
	data.SetInitial("level", cfg.InitialValue("level", DefaultTargetLevel))

	horizon := grid[len(grid)-1]
	form := &reservoirForm{
		level:   level,
		outflow: outflow,
		release: release,
		peak:    b.Symbol("peak"),
		upper: timeseries.MustNew(
			[]float64{grid[0], horizon / 2, horizon},
			[]float64{DefaultMaxLevel, DefaultMaxLevel, DefaultMaxLevel - drawdown}),
	}
	return &Case{Name: "reservoir", Model: &model.StaticModel{Model: d.DAE}, Data: data, Form: form}, nil
}
