package metrics

import "gonum.org/v1/gonum/floats"

// StateEnergy is the time integral of the squared state norm, by the
// trapezoidal rule.
type StateEnergy struct {
	name  string
	total float64
	prevT float64
	prevE float64
	seen  bool
}

func NewStateEnergy() *StateEnergy {
	return &StateEnergy{name: "state_energy"}
}

func (e *StateEnergy) Name() string { return e.name }

func (e *StateEnergy) Observe(s Sample) {
	n := floats.Norm(sorted(s.States), 2)
	energy := n * n
	if e.seen {
		e.total += 0.5 * (energy + e.prevE) * (s.Time - e.prevT)
	}
	e.prevT, e.prevE, e.seen = s.Time, energy, true
}

func (e *StateEnergy) Value() float64 { return e.total }

func (e *StateEnergy) Reset() {
	e.total, e.prevT, e.prevE, e.seen = 0, 0, 0, false
}

// TerminalError is the state norm at the last observed sample.
type TerminalError struct {
	name string
	last float64
}

func NewTerminalError() *TerminalError {
	return &TerminalError{name: "terminal_error"}
}

func (e *TerminalError) Name() string { return e.name }

func (e *TerminalError) Observe(s Sample) {
	e.last = floats.Norm(sorted(s.States), 2)
}

func (e *TerminalError) Value() float64 { return e.last }

func (e *TerminalError) Reset() { e.last = 0 }
