package metrics

import "math"

// Stability is the fraction of samples at which every selected state lies
// within threshold in magnitude. Exit records the first time that failed.
type Stability struct {
	threshold float64
	states    []string

	inside, samples int
	exit            float64
}

// NewStability watches the named states, or all of them when none are
// given.
func NewStability(threshold float64, states ...string) *Stability {
	return &Stability{threshold: threshold, states: states, exit: math.NaN()}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(sample Sample) {
	s.samples++
	for _, v := range pick(sample.States, s.states) {
		if math.Abs(v) > s.threshold {
			if math.IsNaN(s.exit) {
				s.exit = sample.Time
			}
			return
		}
	}
	s.inside++
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1
	}
	return float64(s.inside) / float64(s.samples)
}

// Exit is the first observed time outside the threshold, or NaN.
func (s *Stability) Exit() float64 { return s.exit }

func (s *Stability) Reset() {
	s.inside, s.samples, s.exit = 0, 0, math.NaN()
}
