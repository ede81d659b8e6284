// Package diagnostics provides structured, leveled internal logging for
// everything that is not part of the host's stdout wire protocol — dial
// timing, session-state transitions, RPC latency. It never writes to
// os.Stdout: hostlog owns that channel exclusively.
package diagnostics

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger scoped to one invocation.
type Logger struct {
	zerolog.Logger
}

// New builds a diagnostics logger writing to stderr (or, when logFile is
// non-empty, additionally to that file) at Debug level when extreme is
// set, Info when verbose, Warn otherwise.
func New(verbose, extreme bool, logFile string) *Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: true}
	if logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out = io.MultiWriter(out, f)
		}
	}

	level := zerolog.WarnLevel
	switch {
	case extreme:
		level = zerolog.DebugLevel
	case verbose:
		level = zerolog.InfoLevel
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{Logger: l}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return &Logger{Logger: zerolog.New(io.Discard)}
}
