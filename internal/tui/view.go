package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// maxFailureRows caps the failures panel on the summary view.
const maxFailureRows = 8

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main summary dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProgress())
	sections = append(sections, m.renderOutcomes())
	sections = append(sections, m.renderSlots())

	// Failures section (only if there are failures)
	if m.progress.Failures() > 0 {
		sections = append(sections, m.renderFailures())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders every completed result.
func (m Model) renderDetailedView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderResultTable())
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	state := statusOK.Render("● Running")
	switch {
	case m.done:
		state = statusInfo.Render("● Finished")
	case m.paused:
		state = statusWarning.Render("● Paused")
	}

	header := fmt.Sprintf(
		" go-test-swarm │ %s │ Tests: %d/%d │ Elapsed: %s ",
		state,
		m.progress.Finished(),
		m.progress.Total,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.CompletionRatio(), barWidth)

	var line string
	switch {
	case m.done && m.progress.Failures() == 0 && m.progress.NotRun == 0:
		line = statusOK.Render("✓ All tests passed")
	case m.done:
		line = statusError.Render(fmt.Sprintf("✗ %d of %d tests did not pass", m.progress.Total-m.progress.Passed, m.progress.Total))
	case m.paused:
		line = statusWarning.Render("Paused. Press p to resume")
	default:
		line = statusInfo.Render(fmt.Sprintf("Running... %d in flight, %d waiting", m.progress.Running, m.progress.NotRun-m.progress.Running))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Session Progress"),
		progressBar,
		line,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Outcomes
// =============================================================================

func (m Model) renderOutcomes() string {
	p := m.progress
	waiting := p.NotRun - p.Running

	left := lipgloss.JoinVertical(lipgloss.Left,
		renderCount("Passed", p.Passed, valueGoodStyle),
		renderCount("Failed", p.Failed, GetFailureStyle(p.Failed)),
		renderCount("Error", p.Error-p.Timeout, GetFailureStyle(p.Error-p.Timeout)),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		renderCount("Timeout", p.Timeout, GetFailureStyle(p.Timeout)),
		renderCount("Running", p.Running, statusInfo),
		renderCount("Waiting", waiting, mutedStyle),
	)

	passRate := "-"
	if p.Finished() > 0 {
		passRate = formatPercent(float64(p.Passed) / float64(p.Finished()))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Outcomes"),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "    ", right),
		RenderKeyValue("Pass rate", passRate),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderCount(label string, n int, style lipgloss.Style) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		style.Render(fmt.Sprintf("%6d", n)),
	)
}

// =============================================================================
// Admission Slots
// =============================================================================

func (m Model) renderSlots() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{
		sectionHeaderStyle.Render("Admission Slots"),
		RenderProgressBar(m.SlotRatio(), barWidth),
		RenderKeyValue("In use", fmt.Sprintf("%d / %d", m.slots, m.concurrency)),
	}
	if m.sessionID != "" {
		rows = append(rows, RenderKeyValue("Session", m.sessionID))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Failures
// =============================================================================

func (m Model) renderFailures() string {
	rows := []string{sectionHeaderStyle.Render("Failures")}

	shown := 0
	for _, r := range m.progress.Results {
		if !r.Status.IsFailure() {
			continue
		}
		if shown == maxFailureRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more (press d)", m.progress.Failures()-shown)))
			break
		}
		rows = append(rows, renderResultLine(r, m.width-6))
		shown++
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderResultLine(r status.Result, width int) string {
	line := fmt.Sprintf("%-9s %s", GetStatusLabel(r.Status), r.TestName)
	if r.Message != "" {
		msg := r.Message
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		line += dimStyle.Render("  " + msg)
	}
	if width > 0 && lipgloss.Width(line) > width {
		line = lipgloss.NewStyle().MaxWidth(width).Render(line)
	}
	return line
}

// =============================================================================
// Detailed View
// =============================================================================

func (m Model) renderResultTable() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("%-9s %-40s %9s %7s", "STATUS", "TEST", "DURATION", "RETRIES"))
	rows := []string{sectionHeaderStyle.Render("Completed Tests"), header}

	// Leave room for header, footer and borders.
	limit := m.height - 10
	if limit < 5 {
		limit = 5
	}
	results := m.progress.Results
	if len(results) > limit {
		results = results[len(results)-limit:]
	}

	for i, r := range results {
		style := tableRowEvenStyle
		if i%2 == 1 {
			style = tableRowOddStyle
		}
		name := r.TestName
		if len(name) > 40 {
			name = "…" + name[len(name)-39:]
		}
		rows = append(rows, GetStatusStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status))+" "+
			style.Render(fmt.Sprintf("%-40s %9s %7d", name, formatSeconds(r.Duration), r.Retries)))
	}
	if len(m.progress.Results) == 0 {
		rows = append(rows, dimStyle.Render("no tests completed yet"))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	var parts []string
	if m.lastErr != nil {
		parts = append(parts, statusError.Render("error: "+m.lastErr.Error()))
	}
	if m.metricsAddr != "" {
		parts = append(parts, dimStyle.Render("metrics: http://"+m.metricsAddr+"/metrics"))
	}
	if m.logDir != "" {
		parts = append(parts, dimStyle.Render("logs: "+m.logDir))
	}

	keys := "p pause/resume • d details • r refresh • q quit"
	if m.done {
		keys = "d details • q quit"
	}
	parts = append(parts, footerStyle.Render(keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
