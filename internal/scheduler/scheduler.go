// Package scheduler runs a session: it turns selected descriptors into
// tasks, starts them under the admission limit and supervises them until
// every task has completed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-test-swarm/internal/admission"
	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/protocol"
	"github.com/randomizedcoder/go-test-swarm/internal/registry"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/task"
	"github.com/randomizedcoder/go-test-swarm/internal/unit"
)

var (
	// ErrNoTests is returned by Dispatch when the selection is empty.
	ErrNoTests = errors.New("no tests selected")

	// ErrNotDispatched is returned by Run before a successful Dispatch.
	ErrNotDispatched = errors.New("session not dispatched")

	// ErrSessionRunning is returned when dispatching or running during a run.
	ErrSessionRunning = errors.New("session already running")

	// ErrSessionNotRunning is returned by PauseResume outside Run.
	ErrSessionNotRunning = errors.New("session not running")
)

// Defaults.
const (
	DefaultPollInterval   = 150 * time.Millisecond
	DefaultProcessTimeout = 10 * time.Second
	DefaultMaxReruns      = 3

	// shutdownTimeout bounds how long Run waits for killed units to exit.
	shutdownTimeout = 5 * time.Second
)

// Hooks are optional observers of session events. They are called from
// the scheduler's goroutines and must not block.
type Hooks struct {
	OnDispatch func(sessionID string, total, concurrency int)
	OnStart    func(testName string)
	OnComplete func(result status.Result)
	OnPause    func(paused bool)
}

// Options configures a Scheduler.
type Options struct {
	// Concurrency is the admission limit. Zero derives it from Cores.
	Concurrency int
	// Cores overrides CPU detection. Zero detects.
	Cores          int
	ProcessTimeout time.Duration
	MaxReruns      int
	PollInterval   time.Duration
	// LogDir is where units write per-test session logs. Empty disables them.
	LogDir   string
	LogLevel string
	Verbose  bool
	Launcher unit.Launcher
	Logger   *slog.Logger
	Hooks    Hooks
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = DefaultProcessTimeout
	}
	if o.MaxReruns <= 0 {
		o.MaxReruns = DefaultMaxReruns
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Scheduler coordinates one session at a time.
type Scheduler struct {
	cat      *catalog.Catalog
	opts     Options
	logger   *slog.Logger
	registry *registry.Registry[*task.Task]

	mu           sync.Mutex
	tasks        []*task.Task
	admission    *admission.Controller
	sessionID    string
	sessionStart time.Time
	concurrency  int
	dispatched   bool
	running      bool
	paused       bool
	resumed      chan struct{}
}

// New creates a Scheduler over cat.
func New(cat *catalog.Catalog, opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		cat:      cat,
		opts:     opts,
		logger:   opts.Logger,
		registry: registry.New[*task.Task](),
	}
}

// Dispatch selects tests by tag (all tests without tags) and prepares the
// session. Nothing is started.
func (s *Scheduler) Dispatch(tags ...catalog.Tag) error {
	return s.DispatchDescriptors(s.cat.Select(tags...))
}

// DispatchDescriptors prepares a session for an explicit selection.
func (s *Scheduler) DispatchDescriptors(descs []catalog.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSessionRunning
	}
	if len(descs) == 0 {
		return ErrNoTests
	}
	if s.opts.Launcher == nil {
		return errors.New("scheduler has no unit launcher")
	}

	cores := s.opts.Cores
	if cores <= 0 {
		cores = admission.DetectCores()
	}
	concurrency, err := admission.Resolve(s.opts.Concurrency, cores)
	if err != nil {
		return err
	}

	for _, d := range descs {
		if err := s.validate(d); err != nil {
			return err
		}
	}

	s.registry.Reset()
	s.tasks = s.tasks[:0]
	s.admission = admission.New(concurrency)
	s.concurrency = concurrency
	s.sessionID = uuid.NewString()
	s.sessionStart = time.Now()
	s.paused = false

	for _, d := range descs {
		u := unit.New(unit.Config{
			Launcher:  s.opts.Launcher,
			Admission: s.admission,
			Grant: protocol.Grant{
				TestName:     d.ID(),
				MaxReruns:    s.opts.MaxReruns,
				SessionID:    s.sessionID,
				SessionStart: s.sessionStart,
				LogDir:       s.opts.LogDir,
				LogLevel:     s.opts.LogLevel,
			},
			Logger:  s.logger,
			Verbose: s.opts.Verbose,
		})
		tk := task.New(d, u, s.logger)
		if err := s.registry.Add(tk); err != nil {
			return fmt.Errorf("dispatch %s: %w", d.ID(), err)
		}
		s.tasks = append(s.tasks, tk)
	}
	s.dispatched = true

	s.logger.Info("session_dispatched",
		"session_id", s.sessionID,
		"tests", len(descs),
		"concurrency", concurrency,
		"cores", cores,
		"launcher", s.opts.Launcher.Name(),
	)
	if s.opts.Hooks.OnDispatch != nil {
		s.opts.Hooks.OnDispatch(s.sessionID, len(descs), concurrency)
	}
	return nil
}

// validate checks that d can be instantiated.
func (s *Scheduler) validate(d catalog.Descriptor) (err error) {
	_, factory, ok := s.cat.Lookup(d.ID())
	if !ok {
		return fmt.Errorf("unknown test %s", d.ID())
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("instantiate %s: panic: %v", d.ID(), r)
		}
	}()
	if factory() == nil {
		return fmt.Errorf("instantiate %s: factory returned no test case", d.ID())
	}
	return nil
}

// Run executes the dispatched session and blocks until every task has
// completed, a session-fatal error occurs, or ctx is cancelled.
//
// On cancellation every running unit is killed and recorded as interrupted,
// and ctx.Err() is returned. Per-test failures are never returned as errors.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if !s.dispatched {
		s.mu.Unlock()
		return ErrNotDispatched
	}
	if s.running {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	s.running = true
	tasks := append([]*task.Task(nil), s.tasks...)
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info("session_started", "session_id", s.sessionID, "tests", len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.startAll(gctx, tasks) })
	g.Go(func() error { return s.supervise(gctx) })
	err := g.Wait()

	s.shutdown(tasks)

	s.mu.Lock()
	s.running = false
	s.dispatched = false
	s.paused = false
	s.mu.Unlock()

	p := s.Progress()
	s.logger.Info("session_finished",
		"session_id", s.sessionID,
		"duration", time.Since(start).String(),
		"passed", p.Passed,
		"failed", p.Failed,
		"error", p.Error,
		"timeout", p.Timeout,
		"not_run", p.NotRun,
	)

	if err != nil {
		return err
	}
	return ctx.Err()
}

// startAll launches tasks in dispatch order. Each Run returns once the unit
// holds an admission slot, so at most one unit waits for admission at a
// time.
func (s *Scheduler) startAll(ctx context.Context, tasks []*task.Task) error {
	for _, tk := range tasks {
		if err := s.waitWhilePaused(ctx); err != nil {
			return nil
		}
		if err := tk.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("task_start_failed", "test", tk.Name(), "error", err)
			return err
		}

		s.mu.Lock()
		if s.paused {
			if err := tk.Suspend(); err != nil {
				s.logger.Warn("task_suspend_failed", "test", tk.Name(), "error", err)
			}
		}
		s.mu.Unlock()

		s.logger.Debug("task_started", "test", tk.Name())
		if s.opts.Hooks.OnStart != nil {
			s.opts.Hooks.OnStart(tk.Name())
		}
	}
	return nil
}

func (s *Scheduler) waitWhilePaused(ctx context.Context) error {
	for {
		s.mu.Lock()
		paused, resumed := s.paused, s.resumed
		s.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-resumed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// supervise polls the outstanding tasks until none remain.
func (s *Scheduler) supervise(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.scan(); err != nil {
			return err
		}
		if s.registry.Done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// scan completes exited tasks and terminates overdue ones. A protocol
// violation completes the offending task as ERROR and ends the session.
func (s *Scheduler) scan() error {
	paused := s.Paused()

	for _, tk := range s.registry.Remaining() {
		if tk.Status() != status.Running {
			continue
		}

		if tk.Exited() {
			err := tk.Join(s.opts.PollInterval)
			if errors.Is(err, task.ErrStillRunning) {
				continue
			}
			if err != nil {
				var perr *protocol.ProtocolError
				if errors.As(err, &perr) {
					s.logger.Error("task_protocol_error", "test", tk.Name(), "error", err)
					if ferr := tk.Fail(err); ferr == nil {
						s.complete(tk)
					}
				}
				return err
			}
			s.complete(tk)
			continue
		}

		if !paused && tk.Elapsed() > s.opts.ProcessTimeout {
			if err := tk.Terminate(s.opts.ProcessTimeout); err != nil {
				s.logger.Warn("task_terminate_failed", "test", tk.Name(), "error", err)
				continue
			}
			s.complete(tk)
		}
	}
	return nil
}

func (s *Scheduler) complete(tk *task.Task) {
	if err := s.registry.Complete(tk.Name()); err != nil {
		s.logger.Warn("task_complete_failed", "test", tk.Name(), "error", err)
		return
	}
	if s.opts.Hooks.OnComplete != nil {
		s.opts.Hooks.OnComplete(tk.Result())
	}
}

// shutdown interrupts every unit still alive and waits for the processes
// to be reaped.
func (s *Scheduler) shutdown(tasks []*task.Task) {
	s.mu.Lock()
	for _, tk := range tasks {
		_ = tk.Resume()
	}
	if s.paused {
		s.paused = false
		close(s.resumed)
	}
	s.mu.Unlock()

	for _, tk := range s.registry.Remaining() {
		if tk.Interrupt() {
			s.complete(tk)
		}
	}

	deadline := time.Now().Add(shutdownTimeout)
	for _, tk := range tasks {
		if !tk.WaitExit(time.Until(deadline)) {
			s.logger.Warn("unit_exit_timeout", "test", tk.Name())
		}
	}
}

// PauseResume toggles the session between paused and running. Pausing
// stops every live unit's process group and holds back new starts; time
// spent paused does not count towards the process timeout. It returns the
// new paused state.
func (s *Scheduler) PauseResume() (bool, error) {
	s.mu.Lock()
	if !s.running {
		paused := s.paused
		s.mu.Unlock()
		return paused, ErrSessionNotRunning
	}

	s.paused = !s.paused
	paused := s.paused
	if paused {
		s.resumed = make(chan struct{})
	} else {
		close(s.resumed)
	}

	var errs []error
	for _, tk := range s.tasks {
		var err error
		if paused {
			err = tk.Suspend()
		} else {
			err = tk.Resume()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tk.Name(), err))
		}
	}
	s.mu.Unlock()

	s.logger.Info("session_paused", "paused", paused)
	if s.opts.Hooks.OnPause != nil {
		s.opts.Hooks.OnPause(paused)
	}
	return paused, errors.Join(errs...)
}

// Paused reports whether the session is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Progress returns a snapshot of the session.
func (s *Scheduler) Progress() registry.Progress {
	return s.registry.Progress()
}

// Results returns every dispatched test's result in dispatch order,
// including tests that never ran.
func (s *Scheduler) Results() []status.Result {
	s.mu.Lock()
	tasks := append([]*task.Task(nil), s.tasks...)
	s.mu.Unlock()

	out := make([]status.Result, 0, len(tasks))
	for _, tk := range tasks {
		out = append(out, tk.Result())
	}
	return out
}

// SessionID returns the id of the current session.
func (s *Scheduler) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SessionStart returns when the current session was dispatched.
func (s *Scheduler) SessionStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionStart
}

// Concurrency returns the resolved admission limit.
func (s *Scheduler) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.concurrency
}

// SlotsInUse returns the number of admission slots currently held.
func (s *Scheduler) SlotsInUse() int {
	s.mu.Lock()
	adm := s.admission
	s.mu.Unlock()
	if adm == nil {
		return 0
	}
	return adm.InUse()
}

// PeakSlots returns the highest number of slots held at once this session.
func (s *Scheduler) PeakSlots() int {
	s.mu.Lock()
	adm := s.admission
	s.mu.Unlock()
	if adm == nil {
		return 0
	}
	return adm.Peak()
}
