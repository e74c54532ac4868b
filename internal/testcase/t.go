package testcase

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

type failNow struct{}

// T is handed to every phase of a Case. It satisfies require.TestingT and
// assert.TestingT so testify assertions can be used in test bodies.
type T struct {
	name string
	log  io.Writer

	mu     sync.Mutex
	failed bool
	errs   []string
}

// NewT returns a T for the named test. Logf output goes to log, which may
// be nil.
func NewT(name string, log io.Writer) *T {
	return &T{name: name, log: log}
}

// Name returns the test id.
func (t *T) Name() string { return t.name }

// Helper is a no-op; it exists for testify compatibility.
func (t *T) Helper() {}

// Errorf records a failure and continues.
func (t *T) Errorf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
	t.errs = append(t.errs, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Fail marks the current phase failed.
func (t *T) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
}

// FailNow marks the phase failed and stops it.
func (t *T) FailNow() {
	t.Fail()
	panic(failNow{})
}

// Fatalf is Errorf followed by FailNow.
func (t *T) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	t.FailNow()
}

// Failed reports whether the current phase recorded a failure.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Logf writes a line to the test's log.
func (t *T) Logf(format string, args ...any) {
	if t.log == nil {
		return
	}
	fmt.Fprintf(t.log, format+"\n", args...)
}

func (t *T) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = false
	t.errs = nil
}

func (t *T) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) == 0 {
		return &AssertionError{Msg: "test marked as failed"}
	}
	return &AssertionError{Msg: strings.Join(t.errs, "\n")}
}
