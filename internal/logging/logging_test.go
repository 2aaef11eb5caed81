package logging_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/pipedriver/internal/logging"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		opts      logging.Options
		wantLevel zerolog.Level
		wantErr   bool
	}{
		"default":          {wantLevel: zerolog.InfoLevel},
		"warn":             {opts: logging.Options{Level: "WARN"}, wantLevel: zerolog.WarnLevel},
		"debug forces":     {opts: logging.Options{Level: "error", Debug: true}, wantLevel: zerolog.DebugLevel},
		"debug keeps more": {opts: logging.Options{Level: "trace", Debug: true}, wantLevel: zerolog.TraceLevel},
		"unknown":          {opts: logging.Options{Level: "loud"}, wantErr: true},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			logger, err := logging.New(&bytes.Buffer{}, tc.opts)
			if tc.wantErr {
				require.ErrorIs(t, err, logging.ErrUnknownLevel)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantLevel, logger.GetLevel())
		})
	}
}

func TestNewWritesPlainLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger, err := logging.New(&buf, logging.Options{NoColor: true})
	require.NoError(t, err)

	logger.Info().Str("port", "result").Msg("copy output")
	logger.Debug().Msg("hidden")

	assert.Contains(t, buf.String(), "INF copy output port=result")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestFromEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		logging.EnvLevel:     "debug",
		logging.EnvNoColor:   "true",
		logging.EnvTimestamp: "not a bool",
	}

	got := logging.FromEnv(logging.Options{Level: "info", Timestamp: true}, func(key string) string { return env[key] })

	assert.Equal(t, logging.Options{Level: "debug", NoColor: true, Timestamp: true}, got)
}
