// Package optim sweeps problem parameters over a grid of values, solving
// each combination and ranking the runs by a result metric.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
)

// Trial is one point of the grid with its outcome. Err is set when the
// run failed; failed trials never rank best.
type Trial struct {
	Params map[string]float64
	Value  float64
	Result *experiment.Result
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	// Workers bounds the concurrent solves. Zero means one.
	Workers int
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%d parameters but %d value ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("no values for parameter %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Points enumerates the grid in row-major order.
func (g *GridSearch) Points() []map[string]float64 {
	var out []map[string]float64
	g.enumerate(0, map[string]float64{}, &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		point := make(map[string]float64, len(current))
		for k, v := range current {
			point[k] = v
		}
		*out = append(*out, point)
		return
	}
	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[name] = val
		g.enumerate(depth+1, current, out)
	}
	delete(current, name)
}

// Search runs every grid point with the parameters merged over base and
// returns the trials sorted by metric, best first. Cancelling ctx stops
// pending trials.
func (g *GridSearch) Search(
	ctx context.Context,
	base *config.Config,
	run func(ctx context.Context, cfg *config.Config) (*experiment.Result, error),
	metricName string,
) ([]Trial, error) {
	points := g.Points()
	trials := make([]Trial, len(points))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.Workers, 1))
	for i, point := range points {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := base.Clone()
			if cfg.Params == nil {
				cfg.Params = make(map[string]float64)
			}
			for k, v := range point {
				cfg.Params[k] = v
			}
			trials[i] = Trial{Params: point, Value: math.Inf(1)}
			res, err := run(ctx, cfg)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				trials[i].Err = err
				return nil
			}
			val, ok := res.Metrics[metricName]
			if !ok {
				return fmt.Errorf("run has no metric %q", metricName)
			}
			trials[i].Value, trials[i].Result = val, res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(trials, func(a, b int) bool {
		return trials[a].Value < trials[b].Value
	})
	return trials, nil
}

// Best returns the first successful trial.
func Best(trials []Trial) (Trial, bool) {
	for _, t := range trials {
		if t.Err == nil {
			return t, true
		}
	}
	return Trial{}, false
}
