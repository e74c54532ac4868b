package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/history"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// TableFormatter formats reports as ASCII tables.
type TableFormatter struct {
	title string
	color bool
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(title string, color bool) *TableFormatter {
	return &TableFormatter{title: title, color: color}
}

// Format formats the report data as an ASCII table.
func (tf *TableFormatter) Format(data *Data) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(tf.title)

	t.AppendHeader(table.Row{"#", "Test", "Status", "Duration", "Retries", "Message"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Test", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Retries", Align: text.AlignRight},
		{Name: "Message", WidthMax: 60, WidthMaxEnforcer: text.Trim},
	})

	for i, r := range data.Tests {
		t.AppendRow(table.Row{
			i + 1,
			r.Name,
			tf.statusText(r.Status),
			fmt.Sprintf("%.2fs", r.Duration),
			r.Retries,
			firstLine(r.Message),
		})
	}

	// Style the table by overall outcome.
	switch {
	case !tf.color:
		t.SetStyle(table.StyleLight)
	case data.HasFailures():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case data.Stats.NotRun > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	overall := "PASS"
	if data.HasFailures() {
		overall = "FAIL"
	} else if data.Stats.NotRun > 0 {
		overall = "INCOMPLETE"
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d tests: %d passed, %d failed, %d errored, %d timeout, %d not run",
			data.Stats.Total, data.Stats.Passed, data.Stats.Failed,
			data.Stats.Errored, data.Stats.Timeout, data.Stats.NotRun),
		overall,
		fmt.Sprintf("%.2fs", data.Duration),
		"",
		"",
	})

	t.Render()
	return buf.String(), nil
}

func (tf *TableFormatter) statusText(s status.Status) string {
	if !tf.color {
		return s.String()
	}
	switch s {
	case status.Passed:
		return text.FgGreen.Sprint(s.String())
	case status.Failed, status.Error:
		return text.FgRed.Sprint(s.String())
	case status.Timeout:
		return text.FgMagenta.Sprint(s.String())
	default:
		return text.FgYellow.Sprint(s.String())
	}
}

// JSONFormatter formats reports as indented JSON.
type JSONFormatter struct{}

// Format formats the report data as JSON.
func (JSONFormatter) Format(data *Data) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(b) + "\n", nil
}

// YAMLFormatter formats reports as YAML.
type YAMLFormatter struct{}

// Format formats the report data as YAML.
func (YAMLFormatter) Format(data *Data) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CatalogTable renders the registered tests for the list command.
func CatalogTable(descs []catalog.Descriptor) string {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Module", "Class", "Tag"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Module", AutoMerge: true},
	})
	for _, r := range CatalogRows(descs) {
		t.AppendRow(table.Row{r[0], r[1], r[2], r[3]})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d tests", len(descs)), "", "", ""})
	t.Render()
	return buf.String()
}

// SessionsTable renders past sessions for the sessions command.
func SessionsTable(sessions []history.Session) string {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Session", "Started", "Logs"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Logs", Align: text.AlignRight},
	})
	for _, s := range sessions {
		t.AppendRow(table.Row{s.Name, s.Started.Format(time.DateTime), len(s.Logs)})
	}
	t.Render()
	return buf.String()
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
