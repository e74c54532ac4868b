package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per unit.
	MaxBufferedLines = 100
)

// OutputHandler consumes the combined stdout/stderr of one execution unit.
// It re-logs each line tagged with the test name and keeps the most recent
// lines for error messages when the unit dies without reporting.
type OutputHandler struct {
	testName string
	logger   *slog.Logger
	verbose  bool

	// circular buffer of recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for the named test's output.
func NewOutputHandler(testName string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		testName: testName,
		logger:   logger,
		verbose:  verbose,
		buffer:   make([]string, MaxBufferedLines),
	}
}

// HandleReader reads r until EOF. Run it in a goroutine.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, MaxLineLength), 1024*1024)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleLine processes one line of unit output.
func (h *OutputHandler) HandleLine(line string) {
	if line == "" {
		return
	}
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

// unitRecord is the subset of a child's slog JSON record that gets relayed.
type unitRecord struct {
	Level   string `json:"level"`
	Msg     string `json:"msg"`
	Attempt int    `json:"attempt,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (h *OutputHandler) logLine(line string) {
	var rec unitRecord
	if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &rec) == nil && rec.Msg != "" {
		level := parseLevel(rec.Level)
		if !h.verbose && level < slog.LevelInfo {
			return
		}
		attrs := []any{"test", h.testName, "event", rec.Msg}
		if rec.Attempt > 0 {
			attrs = append(attrs, "attempt", rec.Attempt)
		}
		if rec.Status != "" {
			attrs = append(attrs, "status", rec.Status)
		}
		h.logger.Log(context.Background(), level, "unit_log", attrs...)
		return
	}

	level := classifyLine(line)
	if !h.verbose && level == slog.LevelDebug {
		return
	}
	h.logger.Log(context.Background(), level, "unit_output",
		"test", h.testName,
		"line", line,
	)
}

// classifyLine picks a log level for raw (non-JSON) output.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.HasPrefix(line, "panic:") ||
		strings.HasPrefix(line, "fatal error:") ||
		strings.Contains(lower, "segmentation violation") {
		return slog.LevelError
	}
	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "warning") {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}
