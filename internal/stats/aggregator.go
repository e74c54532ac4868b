// Package stats aggregates completed test results for the exit summary.
//
// This file implements Aggregator, which accumulates results as they
// complete:
//   - Counts by final status
//   - Attempt totals and retried tests
//   - Duration percentiles (T-Digest)
//   - The slowest tests
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// DefaultSlowest is how many of the slowest tests a snapshot keeps.
const DefaultSlowest = 5

// AggregatedStats is a snapshot taken at the time of Aggregate().
type AggregatedStats struct {
	Timestamp time.Time

	// Counts
	Completed int
	Passed    int
	Failed    int
	Errors    int
	Timeouts  int

	// Attempts
	TotalAttempts int
	Retried       int // tests that needed more than one attempt

	// Durations of the final attempt
	DurationMean time.Duration
	DurationP50  time.Duration
	DurationP90  time.Duration
	DurationP99  time.Duration
	DurationMax  time.Duration
	TotalTime    time.Duration // sum of all durations

	// Slowest tests, longest first
	Slowest []status.Result
}

// PassRate returns passed over completed, or 0 when nothing completed.
func (s *AggregatedStats) PassRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Completed)
}

// Aggregator accumulates results. Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	digest  *tdigest.TDigest // TDigest is not thread-safe
	keep    int
	results []status.Result
	counts  map[status.Status]int
	total   time.Duration
	max     time.Duration
	retried int
	tries   int
}

// NewAggregator creates an Aggregator keeping the DefaultSlowest tests.
func NewAggregator() *Aggregator {
	return NewAggregatorWithSlowest(DefaultSlowest)
}

// NewAggregatorWithSlowest creates an Aggregator keeping the n slowest tests.
func NewAggregatorWithSlowest(n int) *Aggregator {
	return &Aggregator{
		digest: tdigest.NewWithCompression(100), // ~100 centroids
		keep:   n,
		counts: make(map[status.Status]int),
	}
}

// Add records a terminal result. Non-terminal results are ignored.
func (a *Aggregator) Add(r status.Result) {
	if !r.Status.IsTerminal() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.digest.Add(float64(r.Duration.Nanoseconds()), 1)
	a.counts[r.Status]++
	a.total += r.Duration
	if r.Duration > a.max {
		a.max = r.Duration
	}
	a.tries += r.Retries
	if r.Retries > 1 {
		a.retried++
	}
	a.results = append(a.results, r)
}

// Aggregate returns a snapshot of everything added so far.
func (a *Aggregator) Aggregate() *AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &AggregatedStats{
		Timestamp:     time.Now(),
		Completed:     len(a.results),
		Passed:        a.counts[status.Passed],
		Failed:        a.counts[status.Failed],
		Errors:        a.counts[status.Error],
		Timeouts:      a.counts[status.Timeout],
		TotalAttempts: a.tries,
		Retried:       a.retried,
		DurationMax:   a.max,
		TotalTime:     a.total,
	}
	if s.Completed == 0 {
		return s
	}

	s.DurationMean = a.total / time.Duration(s.Completed)
	s.DurationP50 = time.Duration(a.digest.Quantile(0.50))
	s.DurationP90 = time.Duration(a.digest.Quantile(0.90))
	s.DurationP99 = time.Duration(a.digest.Quantile(0.99))

	sorted := make([]status.Result, len(a.results))
	copy(sorted, a.results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})
	if len(sorted) > a.keep {
		sorted = sorted[:a.keep]
	}
	s.Slowest = sorted
	return s
}
