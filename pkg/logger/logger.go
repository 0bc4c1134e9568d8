// Package logger builds the process-wide zerolog instance and the named
// sub-loggers every service derives from it.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the log level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output instead of JSON
}

// New builds the root logger. Unrecognised levels fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

// Component derives the sub-logger a service attaches to itself, so every
// line it emits carries the component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
