package binding

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUndeclaredPort matches every BindingError.
var ErrUndeclaredPort = errors.New("binding for undeclared port")

// Direction is the side of the pipeline a port belongs to.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// BindingError reports a binding for a port the pipeline does not declare.
type BindingError struct {
	Port      string
	Direction Direction
	Origin    Origin
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("There is a binding for the %s port '%s' but the pipeline declares no such port.", e.Direction, e.Port)
}

// Is makes errors.Is(err, ErrUndeclaredPort) match.
func (e *BindingError) Is(target error) bool {
	return target == ErrUndeclaredPort
}
