package xproc

import (
	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/qname"
)

// ErrorNamespace is the namespace of standard error codes.
const ErrorNamespace = "http://www.w3.org/ns/xproc-error"

// ErrorCode returns a standard error code, e.g. ErrorCode("XD0006").
func ErrorCode(local string) qname.QName {
	return qname.New(ErrorNamespace, local)
}

// ExecutionError is raised by an engine while loading or running a pipeline.
type ExecutionError struct {
	Code    *qname.QName
	Message string
	Cause   error
}

// NewError creates an ExecutionError with a code.
func NewError(code qname.QName, msg string) *ExecutionError {
	return &ExecutionError{Code: &code, Message: msg}
}

// WrapError creates an ExecutionError caused by err. A zero code means the
// error carries no code.
func WrapError(err error, code qname.QName, msg string) *ExecutionError {
	e := &ExecutionError{Message: msg, Cause: err}
	if !code.IsZero() {
		e.Code = &code
	}

	return e
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if e.Code != nil {
		if msg == "" {
			msg = e.Code.Local
		} else {
			msg = e.Code.Local + ": " + msg
		}
	}

	if e.Cause != nil {
		if msg == "" {
			return e.Cause.Error()
		}

		return msg + ": " + e.Cause.Error()
	}

	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the code, or nil.
func (e *ExecutionError) ErrorCode() *qname.QName {
	return e.Code
}

// CodeOf returns the code of the outermost ExecutionError in err's chain.
func CodeOf(err error) *qname.QName {
	var xerr *ExecutionError
	if errors.As(err, &xerr) {
		return xerr.Code
	}

	return nil
}

// UnderlyingCause unwraps err past every ExecutionError layer and returns the
// first cause that is not an ExecutionError, or nil when there is none.
func UnderlyingCause(err error) error {
	var xerr *ExecutionError
	if !errors.As(err, &xerr) {
		return nil
	}

	cause := xerr.Cause
	for cause != nil {
		next, ok := cause.(*ExecutionError)
		if !ok {
			return cause
		}

		cause = next.Cause
	}

	return nil
}
