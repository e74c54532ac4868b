// Package task pairs a test descriptor with its execution unit and owns
// the test's Result.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/protocol"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/unit"
)

var (
	// ErrAlreadyRunning is returned by Run when the task was started before.
	ErrAlreadyRunning = errors.New("task already running")

	// ErrStillRunning is returned by Join when the process did not exit in time.
	ErrStillRunning = errors.New("task still running")

	// ErrNotRunning is returned when an operation needs a RUNNING task.
	ErrNotRunning = errors.New("task not running")
)

// DefaultDrainTimeout bounds how long Join waits for the final message
// once the process has exited.
const DefaultDrainTimeout = 5 * time.Second

// recentOutputLines is how much unit output is attached to error results.
const recentOutputLines = 10

// Process is the execution unit behind a task. *unit.Unit implements it.
type Process interface {
	Start(ctx context.Context) error
	Alive() bool
	Done() <-chan struct{}
	Messages() <-chan protocol.Message
	Kill() error
	ReleaseSlot()
	Suspend() error
	Continue() error
	RecentOutput(n int) []string
}

var _ Process = (*unit.Unit)(nil)

// Task is one test scheduled in a session.
type Task struct {
	desc   catalog.Descriptor
	proc   Process
	logger *slog.Logger
	now    func() time.Time

	drainTimeout time.Duration

	mu          sync.Mutex
	result      status.Result
	launched    bool
	spawned     bool
	startedAt   time.Time
	suspended   bool
	suspendedAt time.Time
	pausedFor   time.Duration
}

// Option configures a Task.
type Option func(*Task)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Task) { t.now = now }
}

// WithDrainTimeout overrides DefaultDrainTimeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(t *Task) { t.drainTimeout = d }
}

// New creates a NOTRUN task.
func New(desc catalog.Descriptor, proc Process, logger *slog.Logger, opts ...Option) *Task {
	if logger == nil {
		logger = logging.Discard()
	}
	t := &Task{
		desc:         desc,
		proc:         proc,
		logger:       logger,
		now:          time.Now,
		drainTimeout: DefaultDrainTimeout,
		result:       status.NewResult(desc.ID()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the test id.
func (t *Task) Name() string { return t.desc.ID() }

// Descriptor returns the test descriptor.
func (t *Task) Descriptor() catalog.Descriptor { return t.desc }

// Result returns a copy of the current result.
func (t *Task) Result() status.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Status returns the current status.
func (t *Task) Status() status.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result.Status
}

// Alive reports whether the unit process is running.
func (t *Task) Alive() bool { return t.proc.Alive() }

// Exited reports whether a started unit process has exited.
func (t *Task) Exited() bool {
	select {
	case <-t.proc.Done():
		return true
	default:
		return false
	}
}

// WaitExit blocks until a launched unit process has exited or timeout
// elapses. A task that was never launched has nothing to wait for.
func (t *Task) WaitExit(timeout time.Duration) bool {
	t.mu.Lock()
	spawned := t.spawned
	t.mu.Unlock()
	if !spawned {
		return true
	}
	select {
	case <-t.proc.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Run starts the unit and blocks until it signals readiness, which it only
// does once it holds an admission slot. On success the task is RUNNING.
//
// If ctx ends first the unit is killed and ctx.Err() is returned; the task
// stays NOTRUN.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.launched || t.proc.Alive() {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.launched = true
	t.mu.Unlock()

	if err := t.proc.Start(ctx); err != nil {
		var startErr *unit.ProcessStartError
		if errors.As(err, &startErr) {
			return err
		}
		return &unit.ProcessStartError{TestName: t.Name(), Err: err}
	}
	t.mu.Lock()
	t.spawned = true
	t.mu.Unlock()

	select {
	case m, ok := <-t.proc.Messages():
		if !ok {
			t.abandon()
			return &unit.ProcessStartError{
				TestName: t.Name(),
				Err:      fmt.Errorf("exited before readiness%s", t.outputSuffix()),
			}
		}
		if m.Err != nil {
			t.abandon()
			return m.Err
		}
		if !m.Ready {
			t.abandon()
			return &protocol.ProtocolError{TestName: t.Name(), Reason: "result received before readiness"}
		}
	case <-ctx.Done():
		t.abandon()
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.result.Start(t.Name()); err != nil {
		return err
	}
	t.startedAt = t.now()
	t.logger.Debug("task_running", "test", t.Name())
	return nil
}

func (t *Task) abandon() {
	_ = t.proc.Kill()
	t.proc.ReleaseSlot()
}

// Join waits up to timeout for the unit to exit and then records its final
// message. A missing, mismatched or garbled final message is a
// ProtocolError and leaves the result untouched.
func (t *Task) Join(timeout time.Duration) error {
	if t.Status() != status.Running {
		return ErrNotRunning
	}

	select {
	case <-t.proc.Done():
	case <-time.After(timeout):
		return ErrStillRunning
	}

	final, err := t.collectFinal()
	if err != nil {
		return err
	}
	if final.TestName != t.Name() {
		return &protocol.ProtocolError{
			TestName: t.Name(),
			Reason:   fmt.Sprintf("final message names %q", final.TestName),
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.result.Finish(final.Status, final.DurationValue(), final.Retries, final.Message); err != nil {
		return err
	}
	t.logger.Info("task_completed",
		"test", t.Name(),
		"status", final.Status.String(),
		"duration_s", final.Duration,
		"retries", final.Retries,
	)
	return nil
}

func (t *Task) collectFinal() (*protocol.Final, error) {
	timer := time.NewTimer(t.drainTimeout)
	defer timer.Stop()

	msgs := t.proc.Messages()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return nil, &protocol.ProtocolError{
					TestName: t.Name(),
					Reason:   "process exited without reporting a result" + t.outputSuffix(),
					Err:      protocol.ErrNoFinal,
				}
			}
			if m.Err != nil {
				return nil, m.Err
			}
			if m.Final != nil {
				return m.Final, nil
			}
		case <-timer.C:
			t.logger.Warn("task_drain_timeout",
				"test", t.Name(),
				"timeout", t.drainTimeout.String(),
			)
			return nil, &protocol.ProtocolError{
				TestName: t.Name(),
				Reason:   "result channel not drained within " + t.drainTimeout.String(),
				Err:      protocol.ErrNoFinal,
			}
		}
	}
}

// Terminate kills a RUNNING unit that exceeded its time budget. The result
// becomes TIMEOUT with the budget as duration, and the slot is released.
func (t *Task) Terminate(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result.Status != status.Running {
		return ErrNotRunning
	}

	if err := t.proc.Kill(); err != nil {
		t.logger.Warn("task_kill_failed", "test", t.Name(), "error", err)
	}
	msg := fmt.Sprintf("exceeded process timeout of %s", timeout)
	if err := t.result.Finish(status.Timeout, timeout, 1, msg); err != nil {
		return err
	}
	t.proc.ReleaseSlot()

	t.logger.Warn("task_timeout", "test", t.Name(), "timeout", timeout.String())
	return nil
}

// Interrupt kills the unit because the session is ending. A RUNNING task
// becomes ERROR "interrupted"; a task still waiting for admission stays
// NOTRUN. It reports whether the result changed.
func (t *Task) Interrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.launched || t.result.Status.IsTerminal() {
		return false
	}
	_ = t.proc.Kill()
	t.proc.ReleaseSlot()

	if t.result.Status != status.Running {
		return false
	}
	_ = t.result.Finish(status.Error, t.elapsedLocked(), 1, "interrupted")
	t.logger.Info("task_interrupted", "test", t.Name())
	return true
}

// Fail records a session-level fault for a RUNNING task as ERROR.
func (t *Task) Fail(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result.Status != status.Running {
		return ErrNotRunning
	}
	_ = t.proc.Kill()
	t.proc.ReleaseSlot()
	return t.result.Finish(status.Error, t.elapsedLocked(), 1, cause.Error())
}

// Suspend pauses the unit's process group. Time spent suspended does not
// count towards Elapsed. Suspending twice is a no-op.
func (t *Task) Suspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suspended || !t.proc.Alive() {
		return nil
	}
	if err := t.proc.Suspend(); err != nil {
		return err
	}
	t.suspended = true
	t.suspendedAt = t.now()
	return nil
}

// Resume continues a suspended unit.
func (t *Task) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.suspended {
		return nil
	}
	t.suspended = false
	if !t.startedAt.IsZero() {
		from := t.suspendedAt
		if t.startedAt.After(from) {
			from = t.startedAt
		}
		t.pausedFor += t.now().Sub(from)
	}
	if !t.proc.Alive() {
		return nil
	}
	return t.proc.Continue()
}

// Suspended reports whether the unit is currently suspended.
func (t *Task) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended
}

// Elapsed returns the running time since readiness, excluding suspension.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

func (t *Task) elapsedLocked() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	end := t.now()
	if t.suspended && t.suspendedAt.After(t.startedAt) {
		end = t.suspendedAt
	} else if t.suspended {
		end = t.startedAt
	}
	return max(end.Sub(t.startedAt)-t.pausedFor, 0)
}

func (t *Task) outputSuffix() string {
	lines := t.proc.RecentOutput(recentOutputLines)
	if len(lines) == 0 {
		return ""
	}
	return ": " + strings.Join(lines, " | ")
}
