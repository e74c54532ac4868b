// Package report renders session results as a table, JSON or YAML.
package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// Data is the serializable form of a finished session.
type Data struct {
	SessionID   string    `json:"session_id" yaml:"session_id"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	Duration    float64   `json:"duration" yaml:"duration"` // seconds
	Concurrency int       `json:"concurrency" yaml:"concurrency"`
	Stats       Stats     `json:"stats" yaml:"stats"`
	Tests       []Row     `json:"tests" yaml:"tests"`
}

// Stats are the per-status counts of a session.
type Stats struct {
	Total   int `json:"total" yaml:"total"`
	Passed  int `json:"passed" yaml:"passed"`
	Failed  int `json:"failed" yaml:"failed"`
	Errored int `json:"errored" yaml:"errored"`
	Timeout int `json:"timeout" yaml:"timeout"`
	NotRun  int `json:"not_run" yaml:"not_run"`
}

// Row is one test in the report.
type Row struct {
	Name     string        `json:"name" yaml:"name"`
	Status   status.Status `json:"status" yaml:"status"`
	Duration float64       `json:"duration" yaml:"duration"` // seconds, two decimals
	Retries  int           `json:"retries" yaml:"retries"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewData builds report data from results in dispatch order.
func NewData(sessionID string, startedAt time.Time, d time.Duration, concurrency int, results []status.Result) *Data {
	data := &Data{
		SessionID:   sessionID,
		StartedAt:   startedAt,
		Duration:    status.RoundSeconds(d),
		Concurrency: concurrency,
		Tests:       make([]Row, 0, len(results)),
	}
	for _, r := range results {
		data.Tests = append(data.Tests, Row{
			Name:     r.TestName,
			Status:   r.Status,
			Duration: r.Seconds(),
			Retries:  r.Retries,
			Message:  r.Message,
		})
		data.Stats.Total++
		switch r.Status {
		case status.Passed:
			data.Stats.Passed++
		case status.Failed:
			data.Stats.Failed++
		case status.Error:
			data.Stats.Errored++
		case status.Timeout:
			data.Stats.Timeout++
		default:
			data.Stats.NotRun++
		}
	}
	return data
}

// HasFailures reports whether any test did not pass.
func (d *Data) HasFailures() bool {
	return d.Stats.Failed+d.Stats.Errored+d.Stats.Timeout > 0
}

// ReportFormatter defines the interface for the report output formats.
type ReportFormatter interface {
	Format(data *Data) (string, error)
}

// NewFormatter returns the formatter named by format: "table", "json" or
// "yaml". color only affects tables.
func NewFormatter(format string, color bool) (ReportFormatter, error) {
	switch strings.ToLower(format) {
	case "", "table":
		return NewTableFormatter("Test Results", color), nil
	case "json":
		return JSONFormatter{}, nil
	case "yaml", "yml":
		return YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// WriteFile formats data and writes it to path.
func WriteFile(path, format string, data *Data) error {
	f, err := NewFormatter(format, false)
	if err != nil {
		return err
	}
	out, err := f.Format(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// CatalogRows converts descriptors into the rows listed by the list command.
func CatalogRows(descs []catalog.Descriptor) [][]string {
	rows := make([][]string, 0, len(descs))
	for _, d := range descs {
		tag := string(d.Tag)
		if tag == "" {
			tag = "-"
		}
		rows = append(rows, []string{d.ID(), d.Module, d.Class, tag})
	}
	return rows
}
