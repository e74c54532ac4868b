// Package metrics provides Prometheus metrics for go-test-swarm.
//
// Every metric is created per Collector and registered on the registry the
// Collector is built with, so independent sessions (and tests) never share
// state. All names carry the test_swarm_ prefix.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-test-swarm/internal/registry"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// Version is reported on test_swarm_info.
var Version = "dev"

// durationBuckets spans quick unit tests up to the default process timeout
// and beyond.
var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 10, 15, 30, 60}

// Collector manages all Prometheus metrics for a swarm session.
type Collector struct {
	// --- Panel 1: Session overview ---
	info        *prometheus.GaugeVec
	testsTotal  prometheus.Gauge
	concurrency prometheus.Gauge
	elapsed     prometheus.Gauge
	paused      prometheus.Gauge

	// --- Panel 2: Progress ---
	running    prometheus.Gauge
	slotsInUse prometheus.Gauge
	progress   prometheus.Gauge
	completed  *prometheus.CounterVec
	starts     prometheus.Counter

	// --- Panel 3: Durations and retries ---
	duration *prometheus.HistogramVec
	attempts prometheus.Counter
	retried  prometheus.Counter

	mu          sync.Mutex
	startTime   time.Time
	sessionID   string
	total       int
	peakRunning int
	peakSlots   int
	totalStarts int64
	byStatus    map[status.Status]int
	attemptsSum int64
}

// NewCollector creates a collector registered on the default registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "test_swarm_info",
			Help: "Information about the session (value always 1)",
		}, []string{"version", "session_id"}),
		testsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_tests",
			Help: "Tests dispatched in the current session",
		}),
		concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_concurrency",
			Help: "Admission limit of the current session",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_session_elapsed_seconds",
			Help: "Seconds since the session was dispatched",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_paused",
			Help: "1 while the session is paused",
		}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_tests_running",
			Help: "Tests currently in RUNNING state",
		}),
		slotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_admission_slots_in_use",
			Help: "Admission slots currently held by units",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_swarm_progress_ratio",
			Help: "Completed tests over dispatched tests (0.0 to 1.0)",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_swarm_tests_completed_total",
			Help: "Tests completed, by final status",
		}, []string{"status"}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_swarm_unit_starts_total",
			Help: "Units that completed the readiness handshake",
		}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "test_swarm_test_duration_seconds",
			Help:    "Duration of the final attempt of each test",
			Buckets: durationBuckets,
		}, []string{"status"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_swarm_attempts_total",
			Help: "Attempts made across all completed tests",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_swarm_tests_retried_total",
			Help: "Tests that needed more than one attempt",
		}),

		startTime: time.Now(),
		byStatus:  make(map[status.Status]int),
	}

	reg.MustRegister(
		c.info, c.testsTotal, c.concurrency, c.elapsed, c.paused,
		c.running, c.slotsInUse, c.progress, c.completed, c.starts,
		c.duration, c.attempts, c.retried,
	)

	// Pre-create the status series so dashboards see zeros.
	for _, st := range []status.Status{status.Passed, status.Failed, status.Error, status.Timeout} {
		c.completed.WithLabelValues(st.String())
	}
	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// SessionDispatched resets the per-session gauges for a new session.
func (c *Collector) SessionDispatched(sessionID string, total, concurrency int) {
	c.info.Reset()
	c.info.WithLabelValues(Version, sessionID).Set(1)
	c.testsTotal.Set(float64(total))
	c.concurrency.Set(float64(concurrency))
	c.progress.Set(0)
	c.paused.Set(0)

	c.mu.Lock()
	c.startTime = time.Now()
	c.sessionID = sessionID
	c.total = total
	c.peakRunning = 0
	c.peakSlots = 0
	c.mu.Unlock()
}

// TestStarted records a unit passing the readiness handshake.
func (c *Collector) TestStarted() {
	c.starts.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// TestCompleted records a terminal result.
func (c *Collector) TestCompleted(r status.Result) {
	st := r.Status.String()
	c.completed.WithLabelValues(st).Inc()
	c.duration.WithLabelValues(st).Observe(r.Duration.Seconds())
	if r.Retries > 0 {
		c.attempts.Add(float64(r.Retries))
	}
	if r.Retries > 1 {
		c.retried.Inc()
	}

	c.mu.Lock()
	c.byStatus[r.Status]++
	c.attemptsSum += int64(r.Retries)
	c.mu.Unlock()
}

// SetPaused records the pause state.
func (c *Collector) SetPaused(paused bool) {
	if paused {
		c.paused.Set(1)
		return
	}
	c.paused.Set(0)
}

// RecordProgress updates the gauges derived from a progress snapshot.
func (c *Collector) RecordProgress(p registry.Progress, slotsInUse int) {
	c.running.Set(float64(p.Running))
	c.slotsInUse.Set(float64(slotsInUse))
	if p.Total > 0 {
		c.progress.Set(float64(p.Finished()) / float64(p.Total))
	}

	c.mu.Lock()
	if p.Running > c.peakRunning {
		c.peakRunning = p.Running
	}
	if slotsInUse > c.peakSlots {
		c.peakSlots = slotsInUse
	}
	elapsed := time.Since(c.startTime)
	c.mu.Unlock()

	c.elapsed.Set(elapsed.Seconds())
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	SessionID   string
	Duration    time.Duration
	Total       int
	Starts      int64
	Attempts    int64
	PeakRunning int
	PeakSlots   int
	ByStatus    map[status.Status]int
}

// GenerateSummary creates a summary of the session.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		SessionID:   c.sessionID,
		Duration:    time.Since(c.startTime),
		Total:       c.total,
		Starts:      c.totalStarts,
		Attempts:    c.attemptsSum,
		PeakRunning: c.peakRunning,
		PeakSlots:   c.peakSlots,
		ByStatus:    make(map[status.Status]int, len(c.byStatus)),
	}
	for st, n := range c.byStatus {
		s.ByStatus[st] = n
	}
	return s
}

// PeakRunning returns the highest RUNNING count observed.
func (c *Collector) PeakRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakRunning
}

// TotalStarts returns the number of units that started.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}
