package driver

import (
	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/xproc"
)

// LookupErrorMessage returns the registered message for the code of err, or
// the fallback message.
func (d *Driver) LookupErrorMessage(err error) string {
	return d.registry.Lookup(xproc.CodeOf(err))
}

// ErrorCodeAndMessage returns "<code>: <message>" for err.
func (d *Driver) ErrorCodeAndMessage(err error) string {
	return d.registry.CodeAndMessage(xproc.CodeOf(err))
}

// FormattedErrorMessage combines the raw message of the execution error in
// err with its registered message.
func (d *Driver) FormattedErrorMessage(err error) string {
	var xerr *xproc.ExecutionError
	if !errors.As(err, &xerr) {
		return d.registry.Format(nil, err.Error())
	}

	return d.registry.Format(xerr.Code, xerr.Message)
}

// Report logs err and returns the process exit code.
func (d *Driver) Report(err error) int {
	if err == nil {
		return 0
	}

	var xerr *xproc.ExecutionError

	switch {
	case errors.As(err, &xerr):
		if xerr.Code != nil {
			d.logger.Error().Str("code", xerr.Code.Local).Msg(d.FormattedErrorMessage(err))
		} else {
			d.logger.Error().Msg(err.Error())
		}

		if cause := xproc.UnderlyingCause(err); cause != nil {
			d.logger.Error().Msg("Underlying exception: " + cause.Error())
		}
	default:
		d.logger.Error().Msg("Pipeline failed: " + err.Error())

		if cause := errors.Cause(err); cause != err {
			d.logger.Error().Msg("Underlying exception: " + cause.Error())
		}
	}

	if d.debug {
		d.logger.Debug().Msgf("%+v", err)
	}

	return 1
}
