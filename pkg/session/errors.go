package session

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/binding"
)

var (
	ErrAlreadyRun  = errors.New("pipeline has already run")
	ErrClosed      = errors.New("session is closed")
	ErrUnsupported = errors.New("unsupported operation")
	ErrNoPipeline  = errors.New("pipeline must be set")
	ErrNoRuntime   = errors.New("runtime must be set")
)

// ResourceError reports a sink that could not be opened or written.
type ResourceError struct {
	Output binding.Output
	Err    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("unable to use output %s: %v", e.Output, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError reports a request the driver cannot serve, such
// as a missing pipeline source or an unknown URI scheme.
type UnsupportedOperationError struct {
	Op string
}

func (e *UnsupportedOperationError) Error() string {
	return "unsupported operation: " + e.Op
}

// Is makes errors.Is(err, ErrUnsupported) match.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupported
}
