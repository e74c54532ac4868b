package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// =============================================================================
// Table-Driven Tests: Formatting Functions
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "00:00:00"},
		{"one second", time.Second, "00:00:01"},
		{"one minute", time.Minute, "00:01:00"},
		{"one hour", time.Hour, "01:00:00"},
		{"mixed", 2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
		{"24 hours", 24 * time.Hour, "24:00:00"},
		{"sub-second", 500 * time.Millisecond, "00:00:00"},
		{"59 seconds", 59 * time.Second, "00:00:59"},
		{"59 minutes", 59 * time.Minute, "00:59:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.duration); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0"},
		{"small", 123, "123"},
		{"999", 999, "999"},
		{"1K", 1000, "1.0K"},
		{"1.5K", 1500, "1.5K"},
		{"10K", 10000, "10.0K"},
		{"999K", 999000, "999.0K"},
		{"1M", 1000000, "1.0M"},
		{"1.5M", 1500000, "1.5M"},
		{"10M", 10000000, "10.0M"},
		{"negative", -100, "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatNumber(tt.n); got != tt.want {
				t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "0 ms"},
		{"1 ms", time.Millisecond, "1 ms"},
		{"100 ms", 100 * time.Millisecond, "100 ms"},
		{"1 second", time.Second, "1000 ms"},
		{"sub-ms", 500 * time.Microsecond, "500 µs"},
		{"1 us", time.Microsecond, "1 µs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMs(tt.duration); got != tt.want {
				t.Errorf("FormatMs(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := FormatSeconds(1234 * time.Millisecond); got != "1.23s" {
		t.Errorf("FormatSeconds() = %q, want 1.23s", got)
	}
}

// =============================================================================
// Tests: FormatExitSummary
// =============================================================================

func TestFormatExitSummary_NilStats(t *testing.T) {
	out := FormatExitSummary(nil, SummaryConfig{Total: 3, Duration: time.Minute})

	for _, want := range []string{"Exit Summary", "00:01:00", "Not run", "     3"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Duration Distribution") {
		t.Error("duration section should be omitted without results")
	}
}

func TestFormatExitSummary_WithResults(t *testing.T) {
	a := NewAggregator()
	a.Add(status.Result{TestName: "m.C.test_a", Status: status.Passed, Duration: time.Second, Retries: 1})
	a.Add(status.Result{TestName: "m.C.test_b", Status: status.Failed, Duration: 3 * time.Second, Retries: 3, Message: "boom\ntrace"})

	out := FormatExitSummary(a.Aggregate(), SummaryConfig{
		SessionID:   "sess-1",
		Duration:    2 * time.Second,
		Total:       2,
		Concurrency: 2,
		PeakSlots:   2,
		LogDir:      "logs/test_session_x",
		MetricsAddr: "127.0.0.1:17092",
		Failures: []status.Result{
			{TestName: "m.C.test_b", Status: status.Failed, Message: "boom\ntrace"},
		},
	})

	for _, want := range []string{
		"sess-1",
		"Pass Rate:            50.0%",
		"Attempts:             4 (1 tests retried)",
		"Max:                  3000 ms",
		"Speedup:              2.00x",
		"FAILED   m.C.test_b  boom",
		"Session logs: logs/test_session_x",
		"http://127.0.0.1:17092/metrics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "trace") {
		t.Error("only the first line of a failure message should be shown")
	}
}
