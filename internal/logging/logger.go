// Package logging provides structured logging for go-test-swarm.
//
// The parent process logs with slog. Each execution unit logs JSON to its
// own stderr, which the parent captures through an OutputHandler, and to a
// per-test file under the session log directory.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures a logger.
type Options struct {
	// Format is "json" or "text". Anything else selects JSON.
	Format string
	// Level is "debug", "info", "warn" or "error".
	Level string
	// Verbose forces debug level and adds source locations.
	Verbose bool
}

// NewLogger creates a logger writing to stderr.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return New(os.Stderr, Options{Format: format, Level: level, Verbose: verbose})
}

// NewLoggerWithWriter creates a logger that writes to a custom writer.
// Useful for testing.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	return New(w, Options{Format: format, Level: level})
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(newHandler(w, opts))
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	level := parseLevel(opts.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.Verbose,
	}

	if strings.EqualFold(opts.Format, "text") {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
