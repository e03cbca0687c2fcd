package metrics

import "math"

// ControlEffort is the time average of the summed absolute value of the
// selected controls, integrated with the trapezoidal rule. With no names
// every control counts. A single sample yields its own effort.
type ControlEffort struct {
	controls []string

	integral float64
	t0, prev float64
	last     float64
	samples  int
}

func NewControlEffort(controls ...string) *ControlEffort {
	return &ControlEffort{controls: controls}
}

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(s Sample) {
	var effort float64
	for _, v := range pick(s.Controls, c.controls) {
		effort += math.Abs(v)
	}
	if c.samples == 0 {
		c.t0 = s.Time
	} else {
		c.integral += 0.5 * (effort + c.last) * (s.Time - c.prev)
	}
	c.prev, c.last = s.Time, effort
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	switch {
	case c.samples == 0:
		return 0
	case c.prev == c.t0:
		return c.last
	}
	return c.integral / (c.prev - c.t0)
}

func (c *ControlEffort) Reset() {
	*c = ControlEffort{controls: c.controls}
}
