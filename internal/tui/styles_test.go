package tui

import (
	"strings"
	"testing"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// =============================================================================
// Tests: GetStatusStyle / GetStatusLabel
// =============================================================================

func TestGetStatusLabel(t *testing.T) {
	for _, st := range []status.Status{
		status.NotRun, status.Running, status.Passed,
		status.Failed, status.Error, status.Timeout,
	} {
		t.Run(st.String(), func(t *testing.T) {
			if got := GetStatusLabel(st); !strings.Contains(got, st.String()) {
				t.Errorf("GetStatusLabel(%v) = %q, should contain the status name", st, got)
			}
		})
	}
}

func TestGetStatusStyle(t *testing.T) {
	if GetStatusStyle(status.Failed).GetForeground() != colorError {
		t.Error("FAILED should use the error colour")
	}
	if GetStatusStyle(status.Error).GetForeground() != colorError {
		t.Error("ERROR should use the error colour")
	}
	if GetStatusStyle(status.Passed).GetForeground() != colorSuccess {
		t.Error("PASSED should use the success colour")
	}
	if GetStatusStyle(status.Timeout).GetForeground() != colorWarning {
		t.Error("TIMEOUT should use the warning colour")
	}
	if GetStatusStyle(status.NotRun).GetForeground() != colorTextMuted {
		t.Error("NOTRUN should be muted")
	}
}

func TestGetFailureStyle(t *testing.T) {
	if GetFailureStyle(0).GetForeground() != colorSuccess {
		t.Error("zero failures should use the success colour")
	}
	if GetFailureStyle(3).GetForeground() != colorError {
		t.Error("failures should use the error colour")
	}
}

// =============================================================================
// Tests: RenderKeyValue
// =============================================================================

func TestRenderKeyValue(t *testing.T) {
	result := RenderKeyValue("Label", "Value")

	if !strings.Contains(result, "Label") {
		t.Error("result should contain label")
	}
	if !strings.Contains(result, "Value") {
		t.Error("result should contain value")
	}
}

// =============================================================================
// Tests: RenderProgressBar
// =============================================================================

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		width    int
	}{
		{"0%", 0, 20},
		{"50%", 0.5, 20},
		{"100%", 1.0, 20},
		{"narrow", 0.5, 5},
		{"wide", 0.5, 50},
		{"over 100%", 1.5, 20},
		{"negative", -0.1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderProgressBar(tt.progress, tt.width)
			if result == "" {
				t.Error("RenderProgressBar returned empty string")
			}
			// Should contain percentage
			if !strings.Contains(result, "%") {
				t.Error("result should contain percentage")
			}
		})
	}
}

// =============================================================================
// Tests: repeatChar
// =============================================================================

func TestRepeatChar(t *testing.T) {
	tests := []struct {
		char  rune
		count int
		want  string
	}{
		{'x', 0, ""},
		{'x', 1, "x"},
		{'x', 5, "xxxxx"},
		{'█', 3, "███"},
		{'x', -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := repeatChar(tt.char, tt.count); got != tt.want {
				t.Errorf("repeatChar(%q, %d) = %q, want %q", tt.char, tt.count, got, tt.want)
			}
		})
	}
}
