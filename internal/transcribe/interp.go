package transcribe

import (
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// interpolate evaluates symbolic samples at t. Points outside the grid take
// the nearest end value.
func (c *Context) interpolate(times []float64, values []*sym.Node, t float64, m timeseries.Method) *sym.Node {
	i, j, w := timeseries.Bracket(times, t)
	if i == j {
		return values[i]
	}
	switch m {
	case timeseries.PiecewiseConstantForward:
		return values[i]
	case timeseries.PiecewiseConstantBackward:
		return values[j]
	}
	return c.b.Lerp(w, values[i], values[j])
}

func (c *Context) interpolateAll(times []float64, values []*sym.Node, ts []float64, m timeseries.Method) []*sym.Node {
	if timeseries.Equal(times, ts) {
		return values
	}
	out := make([]*sym.Node, len(ts))
	for k, t := range ts {
		out[k] = c.interpolate(times, values, t, m)
	}
	return out
}
