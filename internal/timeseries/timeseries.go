// Package timeseries holds time-ordered sample data and its interpolation.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrNotOrdered = errors.New("timeseries: times are not strictly increasing")
	ErrShape      = errors.New("timeseries: values do not match times")
	ErrEmpty      = errors.New("timeseries: no samples")
)

// Method selects how values between samples are obtained.
type Method int

const (
	Linear Method = iota
	// PiecewiseConstantForward holds the value of the sample at or before t.
	PiecewiseConstantForward
	// PiecewiseConstantBackward takes the value of the sample at or after t.
	PiecewiseConstantBackward
)

func (m Method) String() string {
	switch m {
	case Linear:
		return "linear"
	case PiecewiseConstantForward:
		return "forward"
	case PiecewiseConstantBackward:
		return "backward"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "", "linear":
		return Linear, nil
	case "forward", "piecewise_constant_forward":
		return PiecewiseConstantForward, nil
	case "backward", "piecewise_constant_backward":
		return PiecewiseConstantBackward, nil
	}
	return Linear, fmt.Errorf("unknown interpolation method: %s", s)
}

// Series is a strictly time-ordered sequence of samples. Vector-valued
// series store their values row-major, Width values per time.
type Series struct {
	Times  []float64
	Values []float64
	Width  int
}

func New(times, values []float64) (*Series, error) {
	s := &Series{Times: times, Values: values, Width: 1}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is like New but panics on invalid input.
func MustNew(times, values []float64) *Series {
	s, err := New(times, values)
	if err != nil {
		panic(err)
	}
	return s
}

// NewVector builds a series whose samples are rows of the given width.
func NewVector(times []float64, rows [][]float64) (*Series, error) {
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	width := len(rows[0])
	values := make([]float64, 0, len(rows)*width)
	for _, r := range rows {
		if len(r) != width {
			return nil, ErrShape
		}
		values = append(values, r...)
	}
	s := &Series{Times: times, Values: values, Width: width}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Constant returns a scalar series holding v at every given time.
func Constant(times []float64, v float64) *Series {
	values := make([]float64, len(times))
	for i := range values {
		values[i] = v
	}
	return &Series{Times: times, Values: values, Width: 1}
}

func (s *Series) Validate() error {
	if s.Width < 1 {
		s.Width = 1
	}
	if len(s.Times) == 0 {
		return ErrEmpty
	}
	if len(s.Values) != len(s.Times)*s.Width {
		return fmt.Errorf("%w: %d times, %d values, width %d", ErrShape, len(s.Times), len(s.Values), s.Width)
	}
	for i := 1; i < len(s.Times); i++ {
		if !(s.Times[i] > s.Times[i-1]) {
			return fmt.Errorf("%w at index %d", ErrNotOrdered, i)
		}
	}
	return nil
}

func (s *Series) Len() int { return len(s.Times) }

// Component returns the scalar values of component k.
func (s *Series) Component(k int) []float64 {
	if s.Width <= 1 {
		return s.Values
	}
	out := make([]float64, len(s.Times))
	for i := range out {
		out[i] = s.Values[i*s.Width+k]
	}
	return out
}

// Last returns the final sample time and value of component 0.
func (s *Series) Last() (float64, float64) {
	i := len(s.Times) - 1
	return s.Times[i], s.Values[i*s.Width]
}

// At interpolates component 0 at t.
func (s *Series) At(t, left, right float64, m Method) float64 {
	return At(s.Times, s.Component(0), t, left, right, m)
}

// Sample interpolates component 0 at each of ts.
func (s *Series) Sample(ts []float64, left, right float64, m Method) []float64 {
	return Interpolate(s.Times, s.Component(0), ts, left, right, m)
}

// SampleComponents interpolates every component at each of ts and returns
// the result component-major: all times of component 0 first.
func (s *Series) SampleComponents(ts []float64, left, right float64, m Method) []float64 {
	out := make([]float64, 0, len(ts)*s.Width)
	for k := 0; k < s.Width; k++ {
		out = append(out, Interpolate(s.Times, s.Component(k), ts, left, right, m)...)
	}
	return out
}

// Interpolate samples (times, values) at each of ts. Points before the
// first sample get left and points after the last get right.
func Interpolate(times, values, ts []float64, left, right float64, m Method) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = At(times, values, t, left, right, m)
	}
	return out
}

func At(times, values []float64, t, left, right float64, m Method) float64 {
	n := len(times)
	if n == 0 || math.IsNaN(t) {
		return math.NaN()
	}
	if t < times[0] {
		return left
	}
	if t > times[n-1] {
		return right
	}
	// first index with times[j] >= t
	j := sort.SearchFloat64s(times, t)
	if times[j] == t {
		return values[j]
	}
	i := j - 1
	switch m {
	case PiecewiseConstantForward:
		return values[i]
	case PiecewiseConstantBackward:
		return values[j]
	}
	w := (t - times[i]) / (times[j] - times[i])
	return (1-w)*values[i] + w*values[j]
}

// Bracket locates t on the grid. It returns the indices of the two samples
// around t and the linear weight of the right one. Out-of-range points are
// clamped to the nearest end.
func Bracket(times []float64, t float64) (int, int, float64) {
	n := len(times)
	if n == 1 || t <= times[0] {
		return 0, 0, 0
	}
	if t >= times[n-1] {
		return n - 1, n - 1, 0
	}
	j := sort.SearchFloat64s(times, t)
	if times[j] == t {
		return j, j, 0
	}
	i := j - 1
	return i, j, (t - times[i]) / (times[j] - times[i])
}

// Equal reports whether two time grids are identical.
func Equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Union merges time grids into one sorted grid without duplicates.
func Union(grids ...[]float64) []float64 {
	var all []float64
	for _, g := range grids {
		all = append(all, g...)
	}
	sort.Float64s(all)
	out := all[:0]
	for i, t := range all {
		if i == 0 || t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}
