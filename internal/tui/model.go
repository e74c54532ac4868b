package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-test-swarm/internal/registry"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// PausedMsg reports the outcome of a pause toggle.
type PausedMsg struct {
	Paused bool
	Err    error
}

// DoneMsg signals the session finished; the dashboard renders the final
// state and exits.
type DoneMsg struct {
	Err error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Source provides the live session state.
type Source interface {
	Progress() registry.Progress
	Paused() bool
	SlotsInUse() int
}

// Controller lets the dashboard pause and resume the session.
type Controller interface {
	PauseResume() (bool, error)
}

// Config holds TUI configuration.
type Config struct {
	SessionID   string
	Concurrency int
	MetricsAddr string
	LogDir      string
	Source      Source
	Controller  Controller

	// OnInterrupt is called when the user quits before the session ends.
	OnInterrupt func()
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	sessionID   string
	concurrency int
	metricsAddr string
	logDir      string

	// Current state
	progress     registry.Progress
	paused       bool
	slots        int
	startTime    time.Time
	lastUpdate   time.Time
	lastErr      error
	detailedView bool
	done         bool

	// Display options
	width  int
	height int

	source      Source
	controller  Controller
	onInterrupt func()

	// Quit flag
	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		sessionID:   cfg.SessionID,
		concurrency: cfg.Concurrency,
		metricsAddr: cfg.MetricsAddr,
		logDir:      cfg.LogDir,
		source:      cfg.Source,
		controller:  cfg.Controller,
		onInterrupt: cfg.OnInterrupt,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done && m.onInterrupt != nil {
				m.onInterrupt()
			}
			m.quitting = true
			return m, tea.Quit
		case "p", " ":
			if m.done {
				return m, nil
			}
			return m, pauseCmd(m.controller)
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			// Force refresh
			return m.refresh(), nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m.refresh(), tickCmd()

	case PausedMsg:
		m.paused = msg.Paused
		m.lastErr = msg.Err
		return m, nil

	case DoneMsg:
		m = m.refresh()
		m.done = true
		m.paused = false
		m.lastErr = msg.Err
		return m, tea.Quit

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

func (m Model) refresh() Model {
	if m.source != nil {
		m.progress = m.source.Progress()
		m.paused = m.source.Paused()
		m.slots = m.source.SlotsInUse()
	}
	m.lastUpdate = time.Now()
	return m
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func pauseCmd(c Controller) tea.Cmd {
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		paused, err := c.PauseResume()
		return PausedMsg{Paused: paused, Err: err}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Progress returns the last progress snapshot.
func (m Model) Progress() registry.Progress {
	return m.progress
}

// CompletionRatio returns finished tests over total (0.0 to 1.0).
func (m Model) CompletionRatio() float64 {
	if m.progress.Total == 0 {
		return 0
	}
	return float64(m.progress.Finished()) / float64(m.progress.Total)
}

// SlotRatio returns admission slots in use over the limit (0.0 to 1.0).
func (m Model) SlotRatio() float64 {
	if m.concurrency == 0 {
		return 0
	}
	return float64(m.slots) / float64(m.concurrency)
}

// IsPaused reports the last known pause state.
func (m Model) IsPaused() bool {
	return m.paused
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendDone tells the dashboard the session finished.
func SendDone(p *tea.Program, err error) {
	if p != nil {
		p.Send(DoneMsg{Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatSeconds formats a result duration with two decimals.
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// formatPercent formats a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
