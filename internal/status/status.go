// Package status defines the outcome vocabulary of a test unit and the
// result record that tracks it through a session.
package status

import (
	"fmt"
	"strings"
)

// Status is the state of a single test unit.
type Status int

const (
	// NotRun is the initial state: the unit has been dispatched but not started.
	NotRun Status = iota

	// Running indicates the unit has acquired an admission slot and
	// completed the readiness handshake.
	Running

	// Passed indicates the test body completed without any failure.
	Passed

	// Failed indicates an assertion-style failure on the last attempt.
	Failed

	// Error indicates any other fault on the last attempt (panic, returned
	// error, crashed child, interrupted session).
	Error

	// Timeout indicates the unit was forcibly killed after exceeding the
	// process timeout.
	Timeout
)

var names = [...]string{
	NotRun:  "NOTRUN",
	Running: "RUNNING",
	Passed:  "PASSED",
	Failed:  "FAILED",
	Error:   "ERROR",
	Timeout: "TIMEOUT",
}

// String returns the upper-case name used in logs, reports and on the wire.
func (s Status) String() string {
	if s < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}

// Parse converts a status name back to a Status. Matching is case-insensitive.
func Parse(name string) (Status, error) {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return NotRun, fmt.Errorf("unknown status %q", name)
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case Passed, Failed, Error, Timeout:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status counts against the session.
func (s Status) IsFailure() bool {
	return s == Failed || s == Error || s == Timeout
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(names) {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(names[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
