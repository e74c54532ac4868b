// Package registry tracks which tasks of a session are still outstanding
// and which have completed.
package registry

import (
	"errors"
	"slices"
	"sync"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

var (
	// ErrAlreadyCompleted is returned when a task is completed twice.
	ErrAlreadyCompleted = errors.New("task already completed")

	// ErrUnknownTask is returned when completing a task that was never added.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask is returned when adding a task name twice.
	ErrDuplicateTask = errors.New("duplicate task")
)

// Entry is what the registry needs from a task.
type Entry interface {
	Name() string
	Result() status.Result
}

// Registry holds two disjoint lists: remaining and completed. Every entry
// moves from remaining to completed exactly once. It is safe for
// concurrent use.
type Registry[T Entry] struct {
	mu        sync.Mutex
	remaining []T
	completed []T
	names     map[string]bool
}

// New returns an empty registry.
func New[T Entry]() *Registry[T] {
	return &Registry[T]{names: make(map[string]bool)}
}

// Add appends an entry to remaining.
func (r *Registry[T]) Add(e T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[e.Name()] {
		return ErrDuplicateTask
	}
	r.names[e.Name()] = true
	r.remaining = append(r.remaining, e)
	return nil
}

// Complete moves the named entry from remaining to completed.
func (r *Registry[T]) Complete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.remaining, func(e T) bool { return e.Name() == name })
	if i < 0 {
		if r.names[name] {
			return ErrAlreadyCompleted
		}
		return ErrUnknownTask
	}
	r.completed = append(r.completed, r.remaining[i])
	r.remaining = slices.Delete(r.remaining, i, i+1)
	return nil
}

// Remaining returns a copy of the outstanding entries in insertion order.
func (r *Registry[T]) Remaining() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.remaining)
}

// Completed returns a copy of the completed entries in completion order.
func (r *Registry[T]) Completed() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.completed)
}

// Len returns the total number of entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.remaining) + len(r.completed)
}

// Done reports whether nothing remains.
func (r *Registry[T]) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.remaining) == 0
}

// Reset empties both lists.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = nil
	r.completed = nil
	r.names = make(map[string]bool)
}

// Progress is a point-in-time summary of a session.
//
// Passed+Failed+Error+NotRun == Total. Error includes timeouts, which are
// also counted separately in Timeout. Running counts outstanding entries
// whose unit has signalled readiness; they are part of NotRun.
type Progress struct {
	Passed  int             `json:"passed"`
	Failed  int             `json:"failed"`
	Error   int             `json:"error"`
	Timeout int             `json:"timeout"`
	NotRun  int             `json:"not_run"`
	Running int             `json:"running"`
	Total   int             `json:"total"`
	Results []status.Result `json:"results"`
}

// Progress summarizes the registry. Results holds completed results in
// completion order.
func (r *Registry[T]) Progress() Progress {
	r.mu.Lock()
	completed := slices.Clone(r.completed)
	remaining := slices.Clone(r.remaining)
	r.mu.Unlock()

	p := Progress{
		NotRun:  len(remaining),
		Total:   len(completed) + len(remaining),
		Results: make([]status.Result, 0, len(completed)),
	}
	for _, e := range completed {
		res := e.Result()
		p.Results = append(p.Results, res)
		switch res.Status {
		case status.Passed:
			p.Passed++
		case status.Failed:
			p.Failed++
		case status.Timeout:
			p.Timeout++
			p.Error++
		default:
			p.Error++
		}
	}
	for _, e := range remaining {
		if e.Result().Status == status.Running {
			p.Running++
		}
	}
	return p
}

// Finished returns how many entries have completed.
func (p Progress) Finished() int { return p.Total - p.NotRun }

// Failures returns how many completed entries did not pass.
func (p Progress) Failures() int { return p.Failed + p.Error }
