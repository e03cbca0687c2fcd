package sym

import (
	"errors"
	"fmt"
)

var (
	// ErrFreeSymbol indicates an expression references a symbol that is not
	// an input of the function being compiled.
	ErrFreeSymbol = errors.New("sym: free symbol in expression")

	// ErrNotSymbol indicates a function input is not a plain symbol.
	ErrNotSymbol = errors.New("sym: function input is not a symbol")

	// ErrDimensionMismatch indicates input or output buffers of the wrong size.
	ErrDimensionMismatch = errors.New("sym: dimension mismatch")

	// ErrNoConvergence indicates the Newton iteration of a rootfinder failed.
	ErrNoConvergence = errors.New("sym: rootfinder did not converge")
)

// EvalError wraps an evaluation failure with the name of the function.
type EvalError struct {
	Function string
	Wrapped  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Function, e.Wrapped)
}

func (e *EvalError) Unwrap() error {
	return e.Wrapped
}
