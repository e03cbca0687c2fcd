package sym

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultNewtonTol     = 1e-12
	DefaultNewtonMaxIter = 50
)

type RootfinderOptions struct {
	Tol     float64
	MaxIter int
}

func DefaultRootfinderOptions() RootfinderOptions {
	return RootfinderOptions{Tol: DefaultNewtonTol, MaxIter: DefaultNewtonMaxIter}
}

// Newton solves residual(x, p...) = 0 for x. Its inputs are those of the
// residual, with the first input used as the initial guess, and its single
// output is the root.
type Newton struct {
	name     string
	residual Function
	opts     RootfinderOptions
}

// Rootfinder wraps residual, whose first input and only output must have
// the same size, into an implicit function.
func Rootfinder(name string, residual Function, opts RootfinderOptions) (*Newton, error) {
	in, out := residual.SizeIn(), residual.SizeOut()
	if len(in) == 0 || len(out) != 1 || in[0] != out[0] {
		return nil, fmt.Errorf("%w: rootfinder %s needs a square residual", ErrDimensionMismatch, name)
	}
	if opts.Tol <= 0 {
		opts.Tol = DefaultNewtonTol
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultNewtonMaxIter
	}
	return &Newton{name: name, residual: residual, opts: opts}, nil
}

func (r *Newton) Name() string   { return r.name }
func (r *Newton) SizeIn() []int  { return r.residual.SizeIn() }
func (r *Newton) SizeOut() []int { return r.residual.SizeOut() }

func (r *Newton) Eval(in, out [][]float64) error {
	if err := checkSizes(r.name, "input", in, r.SizeIn()); err != nil {
		return err
	}
	n := len(in[0])
	x := out[0]
	copy(x, in[0])
	if n == 0 {
		return nil
	}

	args := make([][]float64, len(in))
	copy(args, in)
	res := make([]float64, n)
	eval := func(dst, xv []float64) error {
		args[0] = xv
		return r.residual.Eval(args, [][]float64{dst})
	}

	var evalErr error
	jac := mat.NewDense(n, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	var lu mat.LU
	dx := mat.NewVecDense(n, nil)

	for iter := 0; iter < r.opts.MaxIter; iter++ {
		if err := eval(res, x); err != nil {
			return err
		}
		if floats.Norm(res, math.Inf(1)) <= r.opts.Tol {
			return nil
		}
		if floats.HasNaN(res) {
			break
		}

		fd.Jacobian(jac, func(y, xv []float64) {
			if err := eval(y, xv); err != nil && evalErr == nil {
				evalErr = err
			}
		}, x, settings)
		if evalErr != nil {
			return evalErr
		}

		lu.Factorize(jac)
		if err := lu.SolveVecTo(dx, false, mat.NewVecDense(n, res)); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return fmt.Errorf("%s: %w", r.name, err)
			}
		}
		step := dx.RawVector().Data
		floats.Sub(x, step)
		if floats.Norm(step, math.Inf(1)) <= r.opts.Tol*(1+floats.Norm(x, math.Inf(1))) {
			return nil
		}
	}

	if err := eval(res, x); err == nil && floats.Norm(res, math.Inf(1)) <= r.opts.Tol {
		return nil
	}
	return fmt.Errorf("%w: %s after %d iterations", ErrNoConvergence, r.name, r.opts.MaxIter)
}
