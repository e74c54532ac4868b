package stats

// This file implements the exit summary formatter which displays the
// session outcome at program exit.

import (
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════\n"
	subrule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// SessionID identifies the session
	SessionID string

	// Duration is the wall-clock session duration
	Duration time.Duration

	// Total is the number of dispatched tests
	Total int

	// Concurrency is the admission limit
	Concurrency int

	// PeakSlots is the highest number of admission slots held at once
	PeakSlots int

	// LogDir is the per-session log directory
	LogDir string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// Failures are the non-passing results to list by name
	Failures []status.Result
}

// FormatExitSummary formats aggregated stats for display at program exit.
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	if stats == nil {
		stats = &AggregatedStats{}
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                          go-test-swarm Exit Summary\n")
	b.WriteString(rule + "\n")

	// Session info
	if cfg.SessionID != "" {
		fmt.Fprintf(&b, "Session:                %s\n", cfg.SessionID)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Tests:                  %d\n", cfg.Total)
	fmt.Fprintf(&b, "Concurrency:            %d (peak %d)\n\n", cfg.Concurrency, cfg.PeakSlots)

	// Outcomes
	b.WriteString(subrule)
	b.WriteString("                                  Outcomes\n")
	b.WriteString(subrule + "\n")

	notRun := cfg.Total - stats.Completed
	if notRun < 0 {
		notRun = 0
	}
	fmt.Fprintf(&b, "  %-12s %6d\n", "Passed", stats.Passed)
	fmt.Fprintf(&b, "  %-12s %6d\n", "Failed", stats.Failed)
	fmt.Fprintf(&b, "  %-12s %6d\n", "Error", stats.Errors)
	fmt.Fprintf(&b, "  %-12s %6d\n", "Timeout", stats.Timeouts)
	fmt.Fprintf(&b, "  %-12s %6d\n", "Not run", notRun)
	fmt.Fprintf(&b, "\n  Pass Rate:            %.1f%%\n", stats.PassRate()*100)
	fmt.Fprintf(&b, "  Attempts:             %d (%d tests retried)\n\n", stats.TotalAttempts, stats.Retried)

	// Durations
	if stats.Completed > 0 {
		b.WriteString(subrule)
		b.WriteString("                             Duration Distribution\n")
		b.WriteString(subrule + "\n")

		fmt.Fprintf(&b, "  Mean:                 %s\n", FormatMs(stats.DurationMean))
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(stats.DurationP50))
		fmt.Fprintf(&b, "  P90:                  %s\n", FormatMs(stats.DurationP90))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(stats.DurationP99))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatMs(stats.DurationMax))
		if cfg.Duration > 0 {
			fmt.Fprintf(&b, "  Speedup:              %.2fx\n", float64(stats.TotalTime)/float64(cfg.Duration))
		}
		b.WriteString("\n")

		if len(stats.Slowest) > 0 {
			b.WriteString("  Slowest:\n")
			for _, r := range stats.Slowest {
				fmt.Fprintf(&b, "    %-56s %10s\n", r.TestName, FormatMs(r.Duration))
			}
			b.WriteString("\n")
		}
	}

	// Failures
	if len(cfg.Failures) > 0 {
		b.WriteString(subrule)
		b.WriteString("                                  Failures\n")
		b.WriteString(subrule + "\n")
		for _, r := range cfg.Failures {
			fmt.Fprintf(&b, "  %-8s %s", r.Status, r.TestName)
			if r.Message != "" {
				fmt.Fprintf(&b, "  %s", firstLine(r.Message))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if cfg.LogDir != "" {
		fmt.Fprintf(&b, "Session logs: %s\n", cfg.LogDir)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(rule)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatSeconds formats a duration as seconds with two decimals, the
// precision results are reported at.
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", status.RoundSeconds(d))
}
