package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-test-swarm/internal/config"
	"github.com/randomizedcoder/go-test-swarm/internal/history"
	"github.com/randomizedcoder/go-test-swarm/internal/registry"
	"github.com/randomizedcoder/go-test-swarm/internal/report"
	"github.com/randomizedcoder/go-test-swarm/internal/scheduler"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/suites/selfcheck"
)

func testConfig(t *testing.T, ids ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ProcessTimeout = config.Seconds(5 * time.Second)
	cfg.LogDir = t.TempDir()
	cfg.SkipPreflight = true
	if len(ids) > 0 {
		cfg.ListFile = writeList(t, ids...)
	}
	return cfg
}

func writeList(t *testing.T, ids ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("tests:\n")
	for _, id := range ids {
		b.WriteString("  - " + id + "\n")
	}
	path := filepath.Join(t.TempDir(), "tests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func newOrchestrator(cfg *config.Config, out *bytes.Buffer) *Orchestrator {
	return New(cfg, nil, Options{
		Catalog:  testCatalog(),
		Launcher: testLauncher(),
		Out:      out,
		Registry: prometheus.NewRegistry(),
	})
}

func TestRun_AllPassed(t *testing.T) {
	cfg := testConfig(t, selfcheck.Pass, selfcheck.Slow, "test_strings.TestString.test_upper")
	var out bytes.Buffer

	o := newOrchestrator(cfg, &out)
	outcome, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Passed())
	assert.False(t, outcome.Interrupted)
	assert.Equal(t, 3, outcome.Progress.Passed)
	assert.Equal(t, 2, outcome.Concurrency)
	assert.NotEmpty(t, outcome.SessionID)
	assert.Equal(t, ExitPassed, ExitCode(outcome, err))

	// Results are in dispatch order.
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, selfcheck.Pass, outcome.Results[0].TestName)

	text := out.String()
	assert.Contains(t, text, selfcheck.Slow)
	assert.Contains(t, text, "Exit Summary")
	assert.Contains(t, text, outcome.SessionID)

	assert.EqualValues(t, 3, o.Metrics().TotalStarts())
	assert.LessOrEqual(t, o.Scheduler().PeakSlots(), 2)

	// The session left per-test logs behind.
	s, err := history.Find(cfg.LogDir, "latest")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Logs)
}

func TestRun_FailuresAndReport(t *testing.T) {
	cfg := testConfig(t, selfcheck.Pass, selfcheck.Fail, selfcheck.Error)
	cfg.MaxReruns = 2
	cfg.ReportFormat = "json"
	cfg.Report = filepath.Join(t.TempDir(), "report.json")
	var out bytes.Buffer

	outcome, err := newOrchestrator(cfg, &out).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Passed())
	assert.Equal(t, ExitFailures, ExitCode(outcome, err))
	assert.Equal(t, 1, outcome.Progress.Failed)
	assert.Equal(t, 1, outcome.Progress.Error)

	for _, r := range outcome.Results {
		if r.Status.IsFailure() {
			assert.Equal(t, 2, r.Retries, r.TestName)
		}
	}

	raw, err := os.ReadFile(cfg.Report)
	require.NoError(t, err)
	var data report.Data
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, outcome.SessionID, data.SessionID)
	assert.Equal(t, 3, data.Stats.Total)
	assert.Equal(t, 1, data.Stats.Passed)
	assert.Equal(t, 1, data.Stats.Failed)
	assert.Equal(t, 1, data.Stats.Errored)

	assert.Contains(t, out.String(), "Failures")
}

func TestRun_Timeout(t *testing.T) {
	cfg := testConfig(t, selfcheck.Hang)
	cfg.ProcessTimeout = config.Seconds(400 * time.Millisecond)
	var out bytes.Buffer

	outcome, err := newOrchestrator(cfg, &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Progress.Timeout)
	assert.Equal(t, status.Timeout, outcome.Results[0].Status)
	assert.Equal(t, ExitFailures, ExitCode(outcome, err))
}

func TestRun_Interrupted(t *testing.T) {
	cfg := testConfig(t, selfcheck.Hang)
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	outcome, err := newOrchestrator(cfg, &out).Run(ctx)
	require.Error(t, err)
	require.NotNil(t, outcome)

	assert.True(t, outcome.Interrupted)
	assert.Equal(t, ExitInterrupted, ExitCode(outcome, err))
	assert.Equal(t, status.Error, outcome.Results[0].Status)
	assert.Contains(t, outcome.Results[0].Message, "interrupted")
}

func TestRun_CrashIsFatal(t *testing.T) {
	cfg := testConfig(t, selfcheck.Crash)
	var out bytes.Buffer

	outcome, err := newOrchestrator(cfg, &out).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, outcome)

	assert.False(t, outcome.Interrupted)
	assert.Equal(t, ExitFatal, ExitCode(outcome, err))
	assert.Contains(t, err.Error(), outcome.SessionID)
}

func TestRun_SelectionErrors(t *testing.T) {
	t.Run("unknown test in list", func(t *testing.T) {
		cfg := testConfig(t, "nope.Nope.test_nope")
		_, err := newOrchestrator(cfg, &bytes.Buffer{}).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope.Nope.test_nope")
	})

	t.Run("missing list file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ListFile = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := newOrchestrator(cfg, &bytes.Buffer{}).Run(context.Background())
		require.Error(t, err)
	})

	t.Run("no tests for tag", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tags = []string{"smoke"}
		o := New(cfg, nil, Options{
			Catalog:  emptyCatalog(),
			Launcher: testLauncher(),
			Out:      &bytes.Buffer{},
		})
		_, err := o.Run(context.Background())
		require.ErrorIs(t, err, scheduler.ErrNoTests)
		assert.Equal(t, ExitFatal, ExitCode(nil, err))
	})
}

func TestRun_PreflightFailure(t *testing.T) {
	cfg := testConfig(t, selfcheck.Pass)
	cfg.SkipPreflight = false
	var out bytes.Buffer

	launcher := testLauncher()
	launcher.Path = filepath.Join(t.TempDir(), "missing-worker")

	o := New(cfg, nil, Options{
		Catalog:  testCatalog(),
		Launcher: launcher,
		Out:      &out,
	})
	_, err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrPreflight)
	assert.Contains(t, out.String(), "missing-worker")
}

func TestRun_MetricsServer(t *testing.T) {
	cfg := testConfig(t, selfcheck.Pass)
	cfg.MetricsAddr = "127.0.0.1:0"
	reg := prometheus.NewRegistry()

	o := New(cfg, nil, Options{
		Catalog:  testCatalog(),
		Launcher: testLauncher(),
		Out:      &bytes.Buffer{},
		Registry: reg,
	})
	outcome, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Passed())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_swarm_tests_completed_total"])
	assert.True(t, names["test_swarm_test_duration_seconds"])
}

func TestExitCode(t *testing.T) {
	passed := &Outcome{Progress: registryProgress(2, 2)}
	failed := &Outcome{Progress: registryProgress(1, 2)}

	tests := []struct {
		name string
		out  *Outcome
		err  error
		want int
	}{
		{"all passed", passed, nil, ExitPassed},
		{"failures", failed, nil, ExitFailures},
		{"nothing ran", &Outcome{}, nil, ExitFailures},
		{"fatal", failed, errors.New("protocol error"), ExitFatal},
		{"fatal without outcome", nil, errors.New("dispatch"), ExitFatal},
		{"cancelled", failed, context.Canceled, ExitInterrupted},
		{"interrupted flag", &Outcome{Interrupted: true}, nil, ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.out, tt.err))
		})
	}
}

func registryProgress(passed, total int) registry.Progress {
	return registry.Progress{Passed: passed, Failed: total - passed, Total: total}
}
