package unit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/protocol"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/testcase"
)

// ServeFDs runs the child side of the protocol over the inherited file
// descriptors.
func ServeFDs(ctx context.Context, cat *catalog.Catalog) error {
	in := os.NewFile(protocol.ChildReadFD, "grant")
	out := os.NewFile(protocol.ChildWriteFD, "result")
	if in == nil || out == nil {
		return errors.New("unit channel file descriptors are not available")
	}
	defer in.Close()
	defer out.Close()
	return Serve(ctx, cat, in, out, os.Stderr)
}

// Serve waits for the grant on in, announces readiness on out, runs the
// granted test up to MaxReruns times and writes the final result. Test
// outcomes are never returned as errors; only channel failures are.
func Serve(ctx context.Context, cat *catalog.Catalog, in io.Reader, out io.Writer, stderr io.Writer) error {
	grant, err := protocol.ReadGrant(in)
	if err != nil {
		return err
	}

	w := protocol.NewWriter(out)
	if err := w.Ready(); err != nil {
		return fmt.Errorf("send readiness: %w", err)
	}

	ulog, err := logging.NewUnitLogger(logging.UnitLoggerConfig{
		TestName:     grant.TestName,
		Stderr:       stderr,
		LogDir:       grant.LogDir,
		SessionStart: grant.SessionStart,
		Level:        grant.LogLevel,
	})
	if err != nil {
		// Keep running without the per-test file.
		ulog, _ = logging.NewUnitLogger(logging.UnitLoggerConfig{
			TestName: grant.TestName,
			Stderr:   stderr,
			Level:    grant.LogLevel,
		})
		ulog.Logger().Warn("test_log_unavailable", "error", err)
	}
	defer ulog.Close()

	final := run(ctx, cat, grant, ulog)
	if err := w.Final(final); err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	return nil
}

func run(ctx context.Context, cat *catalog.Catalog, grant protocol.Grant, ulog *logging.UnitLogger) protocol.Final {
	final := protocol.Final{TestName: grant.TestName}

	_, factory, ok := cat.Lookup(grant.TestName)
	if !ok {
		ulog.Logger().Error("test_not_found")
		final.Status = status.Error
		final.Retries = 1
		final.Message = "test not found in catalog"
		return final
	}

	maxRuns := max(grant.MaxReruns, 1)
	logw := &logWriter{logger: ulog.Logger()}

	for attempt := 1; attempt <= maxRuns; attempt++ {
		ulog.Start(attempt)
		start := time.Now()

		outcome := attemptOnce(factory, testcase.NewT(grant.TestName, logw))
		if outcome.Status != status.Passed {
			ulog.Exception(outcome.Message, outcome.Trace)
		}
		d := ulog.End(start, outcome.Status, attempt)

		final.Status = outcome.Status
		final.Duration = status.RoundSeconds(d)
		final.Retries = attempt
		final.Message = outcome.Message

		if outcome.Status == status.Passed || ctx.Err() != nil {
			break
		}
	}
	return final
}

// attemptOnce builds a fresh case and executes it. A panicking factory is
// an ERROR like any other.
func attemptOnce(factory catalog.Factory, t *testcase.T) (out testcase.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = testcase.Outcome{
				Status:  status.Error,
				Message: fmt.Sprintf("panic: %v", r),
				Trace:   string(debug.Stack()),
			}
		}
	}()
	c := factory()
	if c == nil {
		return testcase.Outcome{Status: status.Error, Message: "factory returned no test case"}
	}
	return testcase.Execute(c, t)
}

// logWriter routes T.Logf output into the unit logger.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Info("test_log", "line", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
