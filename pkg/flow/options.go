package flow

import (
	"github.com/rs/zerolog"

	"github.com/askiada/pipedriver/pkg/flow/stage"
)

// Option configures an Engine.
type Option func(e *Engine)

// WithObserver adds an observer to every run of every pipeline loaded by the
// engine.
func WithObserver(obs stage.Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, obs)
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithBuffer sets how many documents a fan-out holds for each of its readers.
func WithBuffer(size int) Option {
	return func(e *Engine) {
		e.buffer = size
	}
}
