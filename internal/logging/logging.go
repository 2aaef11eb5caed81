// Package logging builds the console logger of the command line.
package logging

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Environment variables overriding Options.
const (
	EnvLevel     = "PIPEDRIVER_LOG_LEVEL"
	EnvNoColor   = "PIPEDRIVER_LOG_NOCOLOR"
	EnvTimestamp = "PIPEDRIVER_LOG_TIMESTAMP"
)

var ErrUnknownLevel = errors.New("unknown log level")

// Options configures the logger.
type Options struct {
	Level     string
	Debug     bool
	NoColor   bool
	Timestamp bool
}

// FromEnv overrides opts with the environment read through getenv. Values
// that cannot be read are ignored.
func FromEnv(opts Options, getenv func(string) string) Options {
	if level := strings.TrimSpace(getenv(EnvLevel)); level != "" {
		opts.Level = level
	}

	if v, err := strconv.ParseBool(getenv(EnvNoColor)); err == nil {
		opts.NoColor = v
	}

	if v, err := strconv.ParseBool(getenv(EnvTimestamp)); err == nil {
		opts.Timestamp = v
	}

	return opts
}

// ParseLevel reads a level name. An empty name is info.
func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.NoLevel, errors.Wrapf(ErrUnknownLevel, "%q", level)
	}

	return lvl, nil
}

// New returns a logger writing human readable lines to w. Debug forces at
// least the debug level.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	if opts.Debug && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    opts.NoColor,
		TimeFormat: time.RFC3339,
	}

	if !opts.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	ctx := zerolog.New(output).Level(lvl).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}

	return ctx.Logger(), nil
}
