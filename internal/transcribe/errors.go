package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTranscribed indicates a query made before Transcribe.
	ErrNotTranscribed = errors.New("transcribe: problem has not been transcribed")

	// ErrOutOfRange indicates a query time outside a variable's grid with
	// extrapolation disabled.
	ErrOutOfRange = errors.New("transcribe: time outside of variable range")
)

// ConstraintShapeError reports bounds whose length disagrees with the width
// of the constraint they belong to.
type ConstraintShapeError struct {
	Index    int
	Side     string
	Width    int
	BoundLen int
	Wrapped  error
}

func (e *ConstraintShapeError) Error() string {
	return fmt.Sprintf("shape mismatch between constraint #%d (%d,) and its %s bound (%d,)",
		e.Index, e.Width, e.Side, e.BoundLen)
}

func (e *ConstraintShapeError) Unwrap() error {
	return e.Wrapped
}
