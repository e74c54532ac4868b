// Package unit runs a single test in its own OS process.
//
// The parent side (Unit) spawns the worker, acquires an admission slot on
// its behalf, grants it, and observes its exit. The child side (Serve)
// waits for the grant, announces readiness, runs the test with retries and
// reports the final result.
package unit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/admission"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/protocol"
)

// ErrNotStarted is returned by signalling methods before Start.
var ErrNotStarted = errors.New("unit not started")

// ProcessStartError reports a failure to spawn a unit process. It is fatal
// for the session.
type ProcessStartError struct {
	TestName string
	Err      error
}

func (e *ProcessStartError) Error() string {
	return fmt.Sprintf("start unit %s: %v", e.TestName, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// Config holds configuration for creating a new Unit.
type Config struct {
	Launcher  Launcher
	Admission *admission.Controller
	// Grant is sent to the child once a slot is held. Grant.TestName names
	// the unit.
	Grant   protocol.Grant
	Logger  *slog.Logger
	Verbose bool
}

// Unit is the parent-side handle of one execution unit process.
type Unit struct {
	cfg    Config
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  bool
	exited   bool
	killed   bool
	slot     *admission.Slot
	exitCode int

	cancelGrant context.CancelFunc
	reader      *protocol.Reader
	output      *logging.OutputHandler
	done        chan struct{}
}

// New creates a Unit. Nothing is started.
func New(cfg Config) *Unit {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Unit{
		cfg:         cfg,
		name:        cfg.Grant.TestName,
		logger:      logger,
		cancelGrant: func() {},
		done:        make(chan struct{}),
	}
}

// Name returns the test id.
func (u *Unit) Name() string { return u.name }

// Start spawns the worker process. Admission happens asynchronously: the
// worker blocks until the grant arrives, so readiness on Messages implies
// the unit holds a slot.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return &ProcessStartError{TestName: u.name, Err: errors.New("already started")}
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			files = append(files, r, w)
		}
		return r, w, err
	}

	toParentR, toParentW, err := pipe()
	if err != nil {
		return &ProcessStartError{TestName: u.name, Err: fmt.Errorf("result pipe: %w", err)}
	}
	toChildR, toChildW, err := pipe()
	if err != nil {
		closeAll()
		return &ProcessStartError{TestName: u.name, Err: fmt.Errorf("grant pipe: %w", err)}
	}
	outR, outW, err := pipe()
	if err != nil {
		closeAll()
		return &ProcessStartError{TestName: u.name, Err: fmt.Errorf("output pipe: %w", err)}
	}

	cmd, err := u.cfg.Launcher.Command(ctx, u.name)
	if err != nil {
		closeAll()
		return &ProcessStartError{TestName: u.name, Err: err}
	}

	// ExtraFiles[0] is fd 3 in the child, ExtraFiles[1] is fd 4.
	cmd.ExtraFiles = []*os.File{toParentW, toChildR}
	cmd.Stdout = outW
	cmd.Stderr = outW
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		closeAll()
		u.logger.Error("unit_start_failed", "test", u.name, "error", err)
		return &ProcessStartError{TestName: u.name, Err: err}
	}

	// The child holds its own copies; closing ours makes EOF track the child.
	toParentW.Close()
	toChildR.Close()
	outW.Close()

	u.cmd = cmd
	u.started = true
	u.reader = protocol.NewReader(u.name, toParentR)
	u.output = logging.NewOutputHandler(u.name, u.logger, u.cfg.Verbose)

	grantCtx, cancel := context.WithCancel(ctx)
	u.cancelGrant = cancel

	u.logger.Debug("unit_started", "test", u.name, "pid", cmd.Process.Pid)

	go func() {
		u.reader.Run()
		toParentR.Close()
	}()
	go func() {
		u.output.HandleReader(outR)
		outR.Close()
	}()
	go u.admit(grantCtx, toChildW)
	go u.wait()

	return nil
}

// admit acquires a slot for the child and sends the grant. If the child is
// gone by the time a slot frees up, the slot goes straight back.
func (u *Unit) admit(ctx context.Context, w *os.File) {
	defer w.Close()

	slot, err := u.cfg.Admission.Acquire(ctx)
	if err != nil {
		u.logger.Debug("unit_admission_aborted", "test", u.name, "error", err)
		return
	}

	u.mu.Lock()
	if u.exited || u.killed {
		u.mu.Unlock()
		slot.Release()
		return
	}
	u.slot = slot
	u.mu.Unlock()

	if err := protocol.NewWriter(w).Grant(u.cfg.Grant); err != nil {
		// The child died before reading; wait() releases the slot.
		u.logger.Warn("unit_grant_failed", "test", u.name, "error", err)
		return
	}
	u.logger.Debug("unit_admitted", "test", u.name, "slots_in_use", u.cfg.Admission.InUse())
}

func (u *Unit) wait() {
	err := u.cmd.Wait()
	u.cancelGrant()

	u.mu.Lock()
	u.exited = true
	u.exitCode = extractExitCode(err)
	slot := u.slot
	code := u.exitCode
	u.mu.Unlock()

	slot.Release()

	u.logger.Debug("unit_exited", "test", u.name, "pid", u.cmd.Process.Pid, "exit_code", code)
	close(u.done)
}

// Alive reports whether the process has been started and not yet reaped.
func (u *Unit) Alive() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started && !u.exited
}

// Done is closed once the process has exited and its slot was released.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Messages returns the decoded child -> parent messages. It is nil before
// Start.
func (u *Unit) Messages() <-chan protocol.Message {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.reader == nil {
		return nil
	}
	return u.reader.Messages()
}

// Kill sends SIGKILL to the unit's process group and aborts a pending
// admission. It does not wait for exit.
func (u *Unit) Kill() error {
	u.mu.Lock()
	u.killed = true
	cancel := u.cancelGrant
	cmd, started, exited := u.cmd, u.started, u.exited
	u.mu.Unlock()

	cancel()
	if !started {
		return ErrNotStarted
	}
	if exited {
		return nil
	}
	u.logger.Debug("unit_killed", "test", u.name, "pid", cmd.Process.Pid)
	return killGroup(cmd)
}

// ReleaseSlot returns the unit's admission slot early. Release is
// idempotent, so the waiter releasing it again on exit is harmless.
func (u *Unit) ReleaseSlot() {
	u.mu.Lock()
	slot := u.slot
	u.mu.Unlock()
	slot.Release()
}

// Suspend stops the whole process group.
func (u *Unit) Suspend() error {
	cmd, err := u.live()
	if err != nil || cmd == nil {
		return err
	}
	return stopGroup(cmd)
}

// Continue resumes a suspended process group.
func (u *Unit) Continue() error {
	cmd, err := u.live()
	if err != nil || cmd == nil {
		return err
	}
	return continueGroup(cmd)
}

func (u *Unit) live() (*exec.Cmd, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.started {
		return nil, ErrNotStarted
	}
	if u.exited {
		return nil, nil
	}
	return u.cmd, nil
}

// Pid returns the process id, or 0 before Start.
func (u *Unit) Pid() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cmd == nil || u.cmd.Process == nil {
		return 0
	}
	return u.cmd.Process.Pid
}

// ExitCode returns the exit code once the process has exited.
func (u *Unit) ExitCode() (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.exitCode, u.exited
}

// RecentOutput returns up to n recent lines of the unit's stdout/stderr.
func (u *Unit) RecentOutput(n int) []string {
	u.mu.Lock()
	out := u.output
	u.mu.Unlock()
	if out == nil {
		return nil
	}
	return out.RecentLines(n)
}

// WaitExit blocks until the process exits or timeout elapses.
func (u *Unit) WaitExit(timeout time.Duration) bool {
	select {
	case <-u.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
