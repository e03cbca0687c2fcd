package sym

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Mapped evaluates a function independently over n columns. Every input and
// output is the column-major concatenation of n copies of the wrapped
// function's corresponding vector.
type Mapped struct {
	f        Function
	n        int
	sizeIn   []int
	sizeOut  []int
	parallel bool
}

// Map replicates f over n columns. Columns are evaluated concurrently when
// parallel is set, so f must be pure.
func Map(f Function, n int, parallel bool) *Mapped {
	return &Mapped{
		f:        f,
		n:        n,
		sizeIn:   scaleSizes(f.SizeIn(), n),
		sizeOut:  scaleSizes(f.SizeOut(), n),
		parallel: parallel,
	}
}

func scaleSizes(sizes []int, n int) []int {
	out := make([]int, len(sizes))
	for i, s := range sizes {
		out[i] = s * n
	}
	return out
}

func (m *Mapped) Name() string   { return fmt.Sprintf("map%d_%s", m.n, m.f.Name()) }
func (m *Mapped) SizeIn() []int  { return m.sizeIn }
func (m *Mapped) SizeOut() []int { return m.sizeOut }

func (m *Mapped) Eval(in, out [][]float64) error {
	if err := checkSizes(m.Name(), "input", in, m.sizeIn); err != nil {
		return err
	}
	if err := checkSizes(m.Name(), "output", out, m.sizeOut); err != nil {
		return err
	}
	baseIn, baseOut := m.f.SizeIn(), m.f.SizeOut()
	column := func(j int) error {
		return m.f.Eval(columnOf(in, baseIn, j), columnOf(out, baseOut, j))
	}

	if !m.parallel || m.n < 2 {
		for j := 0; j < m.n; j++ {
			if err := column(j); err != nil {
				return fmt.Errorf("column %d: %w", j, err)
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for j := 0; j < m.n; j++ {
		g.Go(func() error {
			if err := column(j); err != nil {
				return fmt.Errorf("column %d: %w", j, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func columnOf(vs [][]float64, sizes []int, j int) [][]float64 {
	col := make([][]float64, len(vs))
	for k, s := range sizes {
		col[k] = vs[k][j*s : (j+1)*s]
	}
	return col
}

// Folded threads an accumulator through n sequential evaluations of a
// function. The wrapped function's first input is the accumulator and its
// first output is the next accumulator value.
//
// The folded function takes the initial accumulator followed by the
// column-major remaining inputs. It returns every intermediate accumulator
// followed by the column-major remaining outputs.
type Folded struct {
	f       Function
	n       int
	sizeIn  []int
	sizeOut []int
}

func Fold(f Function, n int) (*Folded, error) {
	in, out := f.SizeIn(), f.SizeOut()
	if len(in) == 0 || len(out) == 0 || in[0] != out[0] {
		return nil, fmt.Errorf("%w: %s cannot be folded, accumulator sizes differ", ErrDimensionMismatch, f.Name())
	}
	sizeIn := scaleSizes(in, n)
	sizeIn[0] = in[0]
	return &Folded{f: f, n: n, sizeIn: sizeIn, sizeOut: scaleSizes(out, n)}, nil
}

func (m *Folded) Name() string   { return fmt.Sprintf("fold%d_%s", m.n, m.f.Name()) }
func (m *Folded) SizeIn() []int  { return m.sizeIn }
func (m *Folded) SizeOut() []int { return m.sizeOut }

func (m *Folded) Eval(in, out [][]float64) error {
	if err := checkSizes(m.Name(), "input", in, m.sizeIn); err != nil {
		return err
	}
	if err := checkSizes(m.Name(), "output", out, m.sizeOut); err != nil {
		return err
	}
	baseIn, baseOut := m.f.SizeIn(), m.f.SizeOut()
	acc := in[0]
	for j := 0; j < m.n; j++ {
		colIn := make([][]float64, len(in))
		colIn[0] = acc
		for k := 1; k < len(in); k++ {
			s := baseIn[k]
			colIn[k] = in[k][j*s : (j+1)*s]
		}
		colOut := columnOf(out, baseOut, j)
		if err := m.f.Eval(colIn, colOut); err != nil {
			return fmt.Errorf("step %d: %w", j, err)
		}
		acc = colOut[0]
	}
	return nil
}
