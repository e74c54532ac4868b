// Package orchestrator runs one test session end to end: selection,
// preflight, metrics, the scheduler, the optional dashboard, and the
// report and exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-test-swarm/internal/admission"
	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/config"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/metrics"
	"github.com/randomizedcoder/go-test-swarm/internal/preflight"
	"github.com/randomizedcoder/go-test-swarm/internal/registry"
	"github.com/randomizedcoder/go-test-swarm/internal/report"
	"github.com/randomizedcoder/go-test-swarm/internal/scheduler"
	"github.com/randomizedcoder/go-test-swarm/internal/stats"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/tui"
	"github.com/randomizedcoder/go-test-swarm/internal/unit"
)

// Process exit codes.
const (
	ExitPassed      = 0
	ExitFailures    = 1
	ExitFatal       = 2
	ExitInterrupted = 130
)

// progressLogInterval is how often the session progress is logged and
// exported when no dashboard is shown.
const progressLogInterval = 2 * time.Second

// ErrPreflight is returned when a preflight check fails.
var ErrPreflight = errors.New("preflight checks failed (use --skip-preflight to override)")

// Options wires the collaborators that do not come from Config.
type Options struct {
	Catalog  *catalog.Catalog
	Launcher unit.Launcher

	// Out receives preflight results, the report and the exit summary.
	// Defaults to os.Stdout.
	Out io.Writer

	// Registry holds the session metrics. Defaults to a new registry.
	Registry *prometheus.Registry

	// Cores overrides CPU detection.
	Cores int

	// HandleSignals cancels the session on SIGINT or SIGTERM.
	HandleSignals bool
}

// Outcome is the result of a session.
type Outcome struct {
	SessionID   string
	StartedAt   time.Time
	Duration    time.Duration
	Concurrency int
	Progress    registry.Progress
	// Results are in dispatch order and include tests that never ran.
	Results     []status.Result
	Interrupted bool
}

// Passed reports whether every dispatched test passed.
func (o *Outcome) Passed() bool {
	return o.Progress.Total > 0 && o.Progress.Passed == o.Progress.Total
}

// ExitCode maps a session outcome and error to a process exit code.
func ExitCode(out *Outcome, err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	case out != nil && out.Interrupted:
		return ExitInterrupted
	case err != nil:
		return ExitFatal
	case out == nil || !out.Passed():
		return ExitFailures
	default:
		return ExitPassed
	}
}

// Orchestrator coordinates all components for a test session.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	opts   Options
	out    io.Writer

	catalog       *catalog.Catalog
	scheduler     *scheduler.Scheduler
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	aggregator    *stats.Aggregator

	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	orch := &Orchestrator{
		config:     cfg,
		logger:     logger,
		opts:       opts,
		out:        out,
		catalog:    opts.Catalog,
		metrics:    metrics.NewCollectorWithRegistry(reg),
		aggregator: stats.NewAggregator(),
	}
	if cfg.MetricsAddr != "" {
		orch.metricsServer = metrics.NewServer(cfg.MetricsAddr, reg, logger)
	}

	orch.scheduler = scheduler.New(opts.Catalog, scheduler.Options{
		Concurrency:    cfg.Concurrency,
		Cores:          opts.Cores,
		ProcessTimeout: cfg.ProcessTimeout.Duration(),
		MaxReruns:      cfg.MaxReruns,
		PollInterval:   cfg.PollInterval,
		LogDir:         cfg.LogDir,
		LogLevel:       cfg.LogLevel,
		Verbose:        cfg.Verbose,
		Launcher:       opts.Launcher,
		Logger:         logger,
		Hooks: scheduler.Hooks{
			OnDispatch: orch.onDispatch,
			OnStart:    orch.onStart,
			OnComplete: orch.onComplete,
			OnPause:    orch.onPause,
		},
	})

	return orch
}

// Run executes the session. It blocks until every test has completed, a
// session-fatal error occurs, or the session is interrupted.
//
// Per-test failures are reported in the Outcome, never as an error.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	o.startTime = time.Now()

	descs, err := o.selectTests()
	if err != nil {
		return nil, err
	}
	if err := o.scheduler.DispatchDescriptors(descs); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			Concurrency: o.scheduler.Concurrency(),
			Cores:       o.cores(),
			Worker:      o.opts.Launcher.Name(),
			LogDir:      o.config.LogDir,
		})
		if !o.config.TUI || !result.Passed {
			preflight.PrintResults(o.out, result)
		}
		if !result.Passed {
			return nil, ErrPreflight
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup signal handling
	if o.opts.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				o.logger.Info("received_signal", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	var program *tea.Program
	tuiDone := make(chan struct{})
	if o.config.TUI {
		program = tea.NewProgram(tui.New(tui.Config{
			SessionID:   o.scheduler.SessionID(),
			Concurrency: o.scheduler.Concurrency(),
			MetricsAddr: o.config.MetricsAddr,
			LogDir:      o.sessionDir(),
			Source:      o.scheduler,
			Controller:  o.scheduler,
			OnInterrupt: cancel,
		}), tea.WithAltScreen(), tea.WithOutput(o.out))
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Warn("tui_failed", "error", err)
			}
		}()
	} else {
		close(tuiDone)
	}

	monitorStop := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		o.monitor(monitorStop)
	}()

	runErr := o.scheduler.Run(ctx)

	close(monitorStop)
	<-monitorDone
	tui.SendDone(program, runErr)
	<-tuiDone

	outcome := o.outcome(ctx, runErr)
	o.metrics.RecordProgress(outcome.Progress, 0)

	if err := o.writeReport(outcome); err != nil {
		o.logger.Warn("report_failed", "error", err)
	}
	o.printExitSummary(outcome)

	if runErr != nil && !outcome.Interrupted {
		return outcome, fmt.Errorf("session %s: %w", outcome.SessionID, runErr)
	}
	return outcome, runErr
}

// selectTests resolves the selection list or tag filter against the catalog.
func (o *Orchestrator) selectTests() ([]catalog.Descriptor, error) {
	if o.config.ListFile != "" {
		l, err := catalog.LoadList(o.config.ListFile)
		if err != nil {
			return nil, err
		}
		descs, err := o.catalog.SelectList(l)
		if err != nil {
			return nil, err
		}
		o.logger.Info("tests_selected", "list", o.config.ListFile, "tests", len(descs))
		return descs, nil
	}

	tags := o.config.SelectedTags()
	descs := o.catalog.Select(tags...)
	o.logger.Info("tests_selected", "tags", tags, "tests", len(descs))
	return descs, nil
}

// monitor exports progress gauges and, without a dashboard, logs progress
// periodically until stop is closed.
func (o *Orchestrator) monitor(stop <-chan struct{}) {
	interval := 4 * o.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastLog := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p := o.scheduler.Progress()
			o.metrics.RecordProgress(p, o.scheduler.SlotsInUse())

			if o.config.TUI || time.Since(lastLog) < progressLogInterval {
				continue
			}
			lastLog = time.Now()
			o.logger.Info("session_progress",
				"finished", p.Finished(),
				"total", p.Total,
				"running", p.Running,
				"failures", p.Failures(),
				"paused", o.scheduler.Paused(),
			)
		}
	}
}

func (o *Orchestrator) outcome(ctx context.Context, runErr error) *Outcome {
	return &Outcome{
		SessionID:   o.scheduler.SessionID(),
		StartedAt:   o.scheduler.SessionStart(),
		Duration:    time.Since(o.startTime),
		Concurrency: o.scheduler.Concurrency(),
		Progress:    o.scheduler.Progress(),
		Results:     o.scheduler.Results(),
		Interrupted: runErr != nil && ctx.Err() != nil && errors.Is(runErr, ctx.Err()),
	}
}

// writeReport prints the report and, when configured, writes the report
// file.
func (o *Orchestrator) writeReport(out *Outcome) error {
	data := report.NewData(out.SessionID, out.StartedAt, out.Duration, out.Concurrency, out.Results)

	f, err := report.NewFormatter(o.config.ReportFormat, o.out == os.Stdout)
	if err != nil {
		return err
	}
	text, err := f.Format(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(o.out, text)

	if o.config.Report != "" {
		if err := report.WriteFile(o.config.Report, o.config.ReportFormat, data); err != nil {
			return err
		}
		o.logger.Info("report_written", "path", o.config.Report, "format", o.config.ReportFormat)
	}
	return nil
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary(out *Outcome) {
	var failures []status.Result
	for _, r := range out.Results {
		if r.Status.IsFailure() {
			failures = append(failures, r)
		}
	}

	fmt.Fprint(o.out, stats.FormatExitSummary(o.aggregator.Aggregate(), stats.SummaryConfig{
		SessionID:   out.SessionID,
		Duration:    out.Duration,
		Total:       out.Progress.Total,
		Concurrency: out.Concurrency,
		PeakSlots:   o.scheduler.PeakSlots(),
		LogDir:      o.sessionDir(),
		MetricsAddr: o.config.MetricsAddr,
		Failures:    failures,
	}))
}

func (o *Orchestrator) sessionDir() string {
	if o.config.LogDir == "" {
		return ""
	}
	return logging.SessionDir(o.config.LogDir, o.scheduler.SessionStart())
}

func (o *Orchestrator) cores() int {
	if o.opts.Cores > 0 {
		return o.opts.Cores
	}
	return admission.DetectCores()
}

// Callback handlers

func (o *Orchestrator) onDispatch(sessionID string, total, concurrency int) {
	o.metrics.SessionDispatched(sessionID, total, concurrency)
}

func (o *Orchestrator) onStart(testName string) {
	o.metrics.TestStarted()
	if o.config.Verbose {
		o.logger.Debug("test_started", "test", testName)
	}
}

func (o *Orchestrator) onComplete(r status.Result) {
	o.metrics.TestCompleted(r)
	o.aggregator.Add(r)
}

func (o *Orchestrator) onPause(paused bool) {
	o.metrics.SetPaused(paused)
}

// Scheduler returns the scheduler for external access.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.scheduler
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
