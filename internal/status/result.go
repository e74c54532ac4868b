package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTerminal is returned when a transition is attempted on a result
	// that has already reached a terminal status.
	ErrTerminal = errors.New("result already terminal")

	// ErrInvalidTransition is returned for any transition the state machine
	// does not allow (for example NOTRUN straight to PASSED).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Result is the per-unit outcome record.
//
// The state machine is NOTRUN -> RUNNING -> {PASSED|FAILED|ERROR|TIMEOUT}.
// A Result is owned by exactly one task and must only be mutated through
// Start and Finish.
type Result struct {
	TestName string        `json:"test_name" yaml:"test_name"`
	Status   Status        `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Retries  int           `json:"retries" yaml:"retries"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewResult returns a NOTRUN result for the named test.
func NewResult(testName string) Result {
	return Result{TestName: testName, Status: NotRun}
}

// Start moves the result from NOTRUN to RUNNING.
func (r *Result) Start(testName string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	if r.Status != NotRun {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, Running)
	}
	r.TestName = testName
	r.Status = Running
	return nil
}

// Finish moves a RUNNING result to a terminal status.
func (r *Result) Finish(s Status, duration time.Duration, retries int, message string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	if r.Status != Running || !s.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, s)
	}
	r.Status = s
	r.Duration = duration
	r.Retries = retries
	r.Message = message
	return nil
}

// Seconds returns the duration in seconds rounded to two decimals, the
// precision used on the wire and in reports.
func (r Result) Seconds() float64 {
	return RoundSeconds(r.Duration)
}

// RoundSeconds converts d to seconds rounded to two decimals.
func RoundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond)) / float64(time.Second)
}
