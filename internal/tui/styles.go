// Package tui provides a live terminal dashboard for a test session.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays the session progress, outcome counts, admission slot usage
// and failures as they arrive, and lets the user pause or interrupt the
// session.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	// Status indicator styles
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	// Box/panel styles
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// Header style
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	// Section header style
	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	// Footer style
	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	// Numeric value styles
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	// Label styles
	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)
)

// =============================================================================
// Progress Bar Styles
// =============================================================================

var (
	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// =============================================================================
// Table Styles
// =============================================================================

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)

	tableRowEvenStyle = lipgloss.NewStyle().
				Foreground(colorText)

	tableRowOddStyle = lipgloss.NewStyle().
				Foreground(colorTextMuted)
)

// =============================================================================
// Test Status Indicator
// =============================================================================

// GetStatusStyle returns the style used for a test status.
func GetStatusStyle(st status.Status) lipgloss.Style {
	switch st {
	case status.Passed:
		return valueGoodStyle
	case status.Failed, status.Error:
		return valueBadStyle
	case status.Timeout:
		return valueWarnStyle
	case status.Running:
		return statusInfo
	default:
		return mutedStyle
	}
}

// GetStatusLabel returns a styled status name.
func GetStatusLabel(st status.Status) string {
	return GetStatusStyle(st).Render(st.String())
}

// GetFailureStyle returns a style based on how many tests failed.
func GetFailureStyle(failures int) lipgloss.Style {
	if failures == 0 {
		return valueGoodStyle
	}
	return valueBadStyle
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
