// Package testcase defines what a test body looks like and how a single
// attempt of it is executed and classified.
package testcase

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// Case is one runnable test: optional setup, the body, optional teardown.
// A fresh Case is built for every attempt.
type Case interface {
	Before(t *T) error
	Run(t *T) error
	After(t *T) error
}

// Fixture is the setup/teardown half of a Case, shared by all methods of
// a suite.
type Fixture interface {
	Before(t *T) error
	After(t *T) error
}

// Base provides no-op Before and After. Embed it in fixtures that need
// neither.
type Base struct{}

func (Base) Before(*T) error { return nil }
func (Base) After(*T) error  { return nil }

type bound[F Fixture] struct {
	fixture F
	body    func(F, *T) error
}

func (b bound[F]) Before(t *T) error { return b.fixture.Before(t) }
func (b bound[F]) Run(t *T) error    { return b.body(b.fixture, t) }
func (b bound[F]) After(t *T) error  { return b.fixture.After(t) }

// Bind turns a fixture and a method body into a Case.
func Bind[F Fixture](fixture F, body func(F, *T) error) Case {
	return bound[F]{fixture: fixture, body: body}
}

// Func adapts a plain function into a Case with no fixture.
func Func(body func(*T) error) Case {
	return Bind(Base{}, func(_ Base, t *T) error { return body(t) })
}

// AssertionError marks an expectation failure. Bodies may return one
// directly; failures recorded through T are converted into one.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return e.Msg }

// Fail returns an AssertionError with a formatted message.
func Fail(format string, args ...any) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

// Outcome is the classified result of a single attempt.
type Outcome struct {
	Status  status.Status
	Message string
	Trace   string
}

// Execute runs one attempt: Before, then Run if Before succeeded, then
// After whenever Before succeeded. Panics in any phase are recovered. The
// first fault decides the outcome; assertion failures are FAILED,
// anything else is ERROR.
func Execute(c Case, t *T) Outcome {
	var out Outcome

	record := func(st status.Status, msg, trace string) {
		if out.Status == status.Failed || out.Status == status.Error {
			return
		}
		out = Outcome{Status: st, Message: msg, Trace: trace}
	}

	if trace, err := guard(t, c.Before); err != nil {
		st, msg := classify(err)
		record(st, "before: "+msg, trace)
		return out
	}

	if trace, err := guard(t, c.Run); err != nil {
		st, msg := classify(err)
		record(st, msg, trace)
	}

	if trace, err := guard(t, c.After); err != nil {
		st, msg := classify(err)
		record(st, "after: "+msg, trace)
	}

	if out.Status == status.NotRun {
		out.Status = status.Passed
	}
	return out
}

// guard calls phase and converts panics and T failures into an error.
func guard(t *T, phase func(*T) error) (trace string, err error) {
	t.reset()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(failNow); ok {
				err = t.failure()
				return
			}
			err = &panicError{value: r}
			trace = string(debug.Stack())
		}
	}()

	if err = phase(t); err != nil {
		var ae *AssertionError
		if !errors.As(err, &ae) {
			trace = fmt.Sprintf("%+v", err)
		}
		return trace, err
	}
	if t.Failed() {
		return "", t.failure()
	}
	return "", nil
}

func classify(err error) (status.Status, string) {
	var ae *AssertionError
	if errors.As(err, &ae) {
		return status.Failed, err.Error()
	}
	return status.Error, err.Error()
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
