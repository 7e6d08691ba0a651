package pipeline

import (
	"errors"
	"fmt"
)

// ErrActuation marks OS input or capture failures that are fatal to the
// in-flight click. Diagnostic and telemetry failures never carry it; they
// are logged and absorbed.
var ErrActuation = errors.New("actuation failure")

func actuationError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrActuation, op, err)
}
