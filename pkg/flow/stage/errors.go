package stage

import "github.com/pkg/errors"

var (
	ErrRunnerMustBeSet = errors.New("runner must be set")
	ErrInputMustBeSet  = errors.New("input must be set")
	ErrFanoutTotal     = errors.New("total must be greater than 0")
)
