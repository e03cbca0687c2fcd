package model

import (
	"errors"
	"fmt"
)

// Error classes shared by everything that builds a discretized problem.
var (
	// ErrMissingData indicates a required parameter, constant input, lookup
	// table or history entry was not supplied.
	ErrMissingData = errors.New("missing data")

	// ErrUnsupported indicates a configuration that cannot be transcribed,
	// such as a vector-valued integrated state or control.
	ErrUnsupported = errors.New("unsupported configuration")

	// ErrShapeMismatch indicates bounds whose length disagrees with the
	// quantity they bound.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnresolvedDelay indicates a delay duration that is not a finite
	// number at transcription time.
	ErrUnresolvedDelay = errors.New("delay duration is not resolvable")
)

// MissingDataError names the entry that was not found.
type MissingDataError struct {
	What string
	Name string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("no value specified for %s %s", e.What, e.Name)
}

func (e *MissingDataError) Unwrap() error {
	return ErrMissingData
}

func Missing(what, name string) error {
	return &MissingDataError{What: what, Name: name}
}
