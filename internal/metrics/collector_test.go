package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-test-swarm/internal/registry"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with an isolated registry.
func newTestCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry(reg), reg
}

func histogramSampleCount(o prometheus.Observer) (uint64, error) {
	m, ok := o.(prometheus.Metric)
	if !ok {
		return 0, nil
	}
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return 0, err
	}
	return pb.GetHistogram().GetSampleCount(), nil
}

// =============================================================================
// Tests
// =============================================================================

func TestNewCollector_RegistersFamilies(t *testing.T) {
	_, reg := newTestCollector()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"test_swarm_tests",
		"test_swarm_concurrency",
		"test_swarm_tests_completed_total",
		"test_swarm_admission_slots_in_use",
	} {
		if !names[want] {
			t.Errorf("family %s not registered", want)
		}
	}
}

func TestNewCollector_IndependentRegistries(t *testing.T) {
	a, _ := newTestCollector()
	b, _ := newTestCollector()

	a.TestStarted()
	if got := testutil.ToFloat64(b.starts); got != 0 {
		t.Errorf("collectors share state: starts = %v", got)
	}
}

func TestCollector_SessionDispatched(t *testing.T) {
	c, _ := newTestCollector()
	c.SessionDispatched("abc", 6, 3)

	if got := testutil.ToFloat64(c.testsTotal); got != 6 {
		t.Errorf("tests = %v, want 6", got)
	}
	if got := testutil.ToFloat64(c.concurrency); got != 3 {
		t.Errorf("concurrency = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.info.WithLabelValues(Version, "abc")); got != 1 {
		t.Errorf("info = %v, want 1", got)
	}

	// A second session replaces the info series.
	c.SessionDispatched("def", 1, 1)
	if n := testutil.CollectAndCount(c.info); n != 1 {
		t.Errorf("info series = %d, want 1", n)
	}
}

func TestCollector_TestCompleted(t *testing.T) {
	c, _ := newTestCollector()

	c.TestCompleted(status.Result{TestName: "a", Status: status.Passed, Duration: time.Second, Retries: 1})
	c.TestCompleted(status.Result{TestName: "b", Status: status.Failed, Duration: 2 * time.Second, Retries: 3})
	c.TestCompleted(status.Result{TestName: "c", Status: status.Timeout, Duration: 10 * time.Second, Retries: 1})

	if got := testutil.ToFloat64(c.completed.WithLabelValues("PASSED")); got != 1 {
		t.Errorf("passed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.completed.WithLabelValues("ERROR")); got != 0 {
		t.Errorf("error = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.attempts); got != 5 {
		t.Errorf("attempts = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.retried); got != 1 {
		t.Errorf("retried = %v, want 1", got)
	}

	count, err := histogramSampleCount(c.duration.WithLabelValues("FAILED"))
	if err != nil {
		t.Fatalf("histogramSampleCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("FAILED duration samples = %d, want 1", count)
	}

	s := c.GenerateSummary()
	if s.ByStatus[status.Timeout] != 1 || s.Attempts != 5 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCollector_RecordProgress(t *testing.T) {
	c, _ := newTestCollector()
	c.SessionDispatched("s", 4, 2)

	c.RecordProgress(registry.Progress{Total: 4, Running: 2, NotRun: 4}, 2)
	c.RecordProgress(registry.Progress{Total: 4, Running: 1, NotRun: 1, Passed: 3}, 1)

	if got := testutil.ToFloat64(c.running); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.progress); got != 0.75 {
		t.Errorf("progress = %v, want 0.75", got)
	}
	if c.PeakRunning() != 2 {
		t.Errorf("PeakRunning() = %d, want 2", c.PeakRunning())
	}
	if s := c.GenerateSummary(); s.PeakSlots != 2 || s.Total != 4 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCollector_SetPaused(t *testing.T) {
	c, _ := newTestCollector()
	c.SetPaused(true)
	if got := testutil.ToFloat64(c.paused); got != 1 {
		t.Errorf("paused = %v, want 1", got)
	}
	c.SetPaused(false)
	if got := testutil.ToFloat64(c.paused); got != 0 {
		t.Errorf("paused = %v, want 0", got)
	}
}

func TestCollector_ThreadSafety(t *testing.T) {
	c, _ := newTestCollector()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.TestStarted()
				c.TestCompleted(status.Result{Status: status.Passed, Retries: 1})
			}
		}()
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordProgress(registry.Progress{Total: 100, Running: id}, id)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.PeakRunning()
				_ = c.GenerateSummary()
			}
		}()
	}
	wg.Wait()

	if c.TotalStarts() != 500 {
		t.Errorf("TotalStarts() = %d, want 500", c.TotalStarts())
	}
}
