// =============================================================================
// SRI Receipts - Logging
// =============================================================================
//
// Structured logging for every component. Components receive a
// zerolog.Logger explicitly; the CLI also stores it on the context so that
// deeply nested calls can recover it with FromContext.
//
// FORMATS:
//   - "console" : human readable, colored when attached to a terminal
//   - "json"    : one JSON object per line, for log shipping
//
// =============================================================================

package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger.
type ContextKey string

// LoggerKey is the context key for the logger instance.
const LoggerKey ContextKey = "logger"

// Options controls how New builds the logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string

	// Format is "console" or "json".
	// Default: "console"
	Format string

	// Output is where log lines are written.
	// Default: os.Stderr
	Output io.Writer
}

// New creates a structured logger from the given options.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Logger()
}

// NewWithWriter creates a JSON logger writing to w at debug level.
// Tests use it to capture and inspect log output.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, falling back to info.
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithContext adds the logger to the context.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context, or a disabled logger
// when none was stored.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}
