// Package logging wires the process-wide structured logger directly on
// zerolog. This repo is a single binary with one logging backend for its
// whole lifetime, so it has no use for a backend-agnostic facade (see
// DESIGN.md for the full justification).
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process logger.
type Config struct {
	// Level is one of: trace, debug, info, warn, error. Defaults to info.
	Level string
	// Pretty enables the human-readable console writer instead of JSON,
	// intended for local development only.
	Pretty bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a zerolog.Logger from cfg, with the service name and a
// request-independent timestamp field pre-attached.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := parseLevel(cfg.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "trade-ingress").
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "", "info":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
