package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// SessionDirPrefix prefixes every session log directory.
const SessionDirPrefix = "test_session_"

// SessionTimeLayout formats the session start time in directory names.
const SessionTimeLayout = "2006-01-02__15-04-05"

// SessionDir returns the directory holding the per-test logs of the session
// that started at start.
func SessionDir(logDir string, start time.Time) string {
	return filepath.Join(logDir, SessionDirPrefix+start.Format(SessionTimeLayout))
}

// UnitLogger is the logger used inside an execution unit. Every record
// goes to the unit's stderr as JSON and, when a log directory is set, to
// <logDir>/test_session_<start>/<test>.log as text.
type UnitLogger struct {
	testName string
	logger   *slog.Logger
	file     *os.File
}

// UnitLoggerConfig configures NewUnitLogger.
type UnitLoggerConfig struct {
	TestName     string
	Stderr       io.Writer
	LogDir       string
	SessionStart time.Time
	Level        string
}

// NewUnitLogger opens the per-test log file and builds the unit logger.
func NewUnitLogger(cfg UnitLoggerConfig) (*UnitLogger, error) {
	level := parseLevel(cfg.Level)
	handlers := []slog.Handler{
		slog.NewJSONHandler(cfg.Stderr, &slog.HandlerOptions{Level: level}),
	}

	var file *os.File
	if cfg.LogDir != "" {
		dir := SessionDir(cfg.LogDir, cfg.SessionStart)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, cfg.TestName+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open test log: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return &UnitLogger{
		testName: cfg.TestName,
		logger:   slog.New(fanout(handlers)).With("test", cfg.TestName),
		file:     file,
	}, nil
}

// Logger exposes the underlying slog logger, already tagged with the test.
func (l *UnitLogger) Logger() *slog.Logger { return l.logger }

// Start records the beginning of an attempt.
func (l *UnitLogger) Start(attempt int) {
	l.logger.Info("test_started", "attempt", attempt)
}

// End records the end of an attempt and returns its duration rounded to
// hundredths of a second.
func (l *UnitLogger) End(start time.Time, st status.Status, attempt int) time.Duration {
	d := time.Since(start).Round(10 * time.Millisecond)
	l.logger.Info("test_ended",
		"status", st.String(),
		"attempt", attempt,
		"duration_s", status.RoundSeconds(d),
	)
	return d
}

// Exception records a failure message and its stack trace.
func (l *UnitLogger) Exception(msg, trace string) {
	l.logger.Error("test_exception", "message", msg, "trace", trace)
}

// Close closes the per-test log file.
func (l *UnitLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func fanout(hs []slog.Handler) slog.Handler {
	if len(hs) == 1 {
		return hs[0]
	}
	return fanoutHandler(hs)
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
