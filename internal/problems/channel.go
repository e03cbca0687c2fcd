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
	DefaultTravelTime      = 1.0
	DefaultDemand          = 0.5
	DefaultStorage         = 1.0
	DefaultChannelCapacity = 2.0

	// historicRelease is the release assumed before the initial time.
	historicRelease = 0.5
)

// channelForm routes the release through a channel whose outflow arrives
// travel_time later.
type channelForm struct {
	transcribe.Base
	release, storage *sym.Node
	travel           *sym.Node
	target           float64
}

func (f *channelForm) PathObjective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	b := ctx.Builder()
	return b.Add(
		b.Square(b.Sub(f.storage, b.Const(f.target))),
		b.Scale(releaseEffort, b.Square(f.release))), nil
}

func (f *channelForm) DelayedFeedback(*transcribe.Context) ([]transcribe.DelayedFeedback, error) {
	return []transcribe.DelayedFeedback{{Expr: f.release, State: "arrival", Delay: f.travel}}, nil
}

// Channel is a downstream storage fed by a delayed upstream release:
//
//	der(storage) = arrival - demand
//	arrival(t) = release(t - travel_time)
//
// The release before the initial time is given as history.
func Channel(cfg *config.Config) (*Case, error) {
	d := newDAE()
	b := d.b
	storage, dstorage := d.state("storage")
	arrival := d.algebraic("arrival")
	release := d.control("release")
	demand := d.input("demand")
	travel := d.param("travel_time")

	d.equation(dstorage, b.Sub(arrival, demand))

	data, err := newData(cfg, map[string]float64{"travel_time": DefaultTravelTime})
	if err != nil {
		return nil, err
	}
	grid := data.Grid
	data.SetConstantInput("demand", timeseries.Constant(grid, DefaultDemand))

	// The history must reach back over the longest delay.
	dt := grid[1] - grid[0]
	steps := int(math.Ceil(cfg.Param("travel_time", DefaultTravelTime)/dt - 1e-9))
	past := make([]float64, steps+1)
	for i := range past {
		past[i] = grid[0] - float64(steps-i)*dt
	}
	data.SetHistory("release", timeseries.Constant(past, historicRelease))

	data.SetBound("release", 0, DefaultChannelCapacity)
	data.SetBound("storage", 0, inf)
	initial := cfg.InitialValue("storage", DefaultStorage)
	data.SetInitial("storage", initial)

	form := &channelForm{release: release, storage: storage, travel: travel, target: initial}
	return &Case{Name: "channel", Model: &model.StaticModel{Model: d.DAE}, Data: data, Form: form}, nil
}
