// Package metrics summarizes optimized trajectories.
package metrics

import "sort"

// Sample holds the value of every scalar state and control at one time.
type Sample struct {
	Time     float64
	States   map[string]float64
	Controls map[string]float64
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Trajectory is one ensemble member's solution on the collocation grid.
type Trajectory struct {
	Times    []float64
	States   map[string][]float64
	Controls map[string][]float64
}

// At returns the sample at index i.
func (tr *Trajectory) At(i int) Sample {
	s := Sample{
		Time:     tr.Times[i],
		States:   make(map[string]float64, len(tr.States)),
		Controls: make(map[string]float64, len(tr.Controls)),
	}
	for name, v := range tr.States {
		s.States[name] = v[i]
	}
	for name, v := range tr.Controls {
		s.Controls[name] = v[i]
	}
	return s
}

// Evaluate resets every metric, feeds it the whole trajectory and returns
// the values by name.
func Evaluate(tr *Trajectory, ms []Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
	}
	for i := range tr.Times {
		s := tr.At(i)
		for _, m := range ms {
			m.Observe(s)
		}
	}
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

// Defaults returns the metrics reported for every run.
func Defaults() []Metric {
	return []Metric{
		NewControlEffort(),
		NewStateEnergy(),
		NewTerminalError(),
		NewStability(10),
	}
}

func sorted(m map[string]float64) []float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// pick returns the named entries of m, skipping absent ones, or every
// entry in name order when names is empty.
func pick(m map[string]float64, names []string) []float64 {
	if len(names) == 0 {
		return sorted(m)
	}
	out := make([]float64, 0, len(names))
	for _, n := range names {
		if v, ok := m[n]; ok {
			out = append(out, v)
		}
	}
	return out
}
