// Package admission bounds how many test units may execute at once.
//
// A Controller hands out Slots. A unit process holds its slot from the
// moment the parent grants it until the process exits or is forcibly
// terminated; the slot is always released exactly once.
package admission

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConfigurationError is returned when the concurrency limit cannot be
// derived from the host.
type ConfigurationError struct {
	Cores  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (cores=%d): %s", e.Cores, e.Reason)
}

// DetectCores returns the number of logical CPUs usable by this process.
func DetectCores() int {
	return runtime.NumCPU()
}

// Resolve computes the admission limit.
//
// An explicit positive value always wins. Otherwise the limit is one less
// than the number of cores, which must leave at least two concurrent units;
// a host that would end up with a single slot is rejected.
func Resolve(explicit, cores int) (int, error) {
	if explicit < 0 {
		return 0, &ConfigurationError{Cores: cores, Reason: fmt.Sprintf("concurrency must be positive, got %d", explicit)}
	}
	if explicit > 0 {
		return explicit, nil
	}
	n := max(cores-1, 1)
	if n == 1 {
		return 0, &ConfigurationError{Cores: cores, Reason: "not enough cores to run tests concurrently, set an explicit concurrency"}
	}
	return n, nil
}

// Controller is a counting semaphore over execution slots.
type Controller struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
	peak     atomic.Int64
}

// New returns a Controller with n slots. n must be positive.
func New(n int) *Controller {
	if n < 1 {
		n = 1
	}
	return &Controller{
		sem:      semaphore.NewWeighted(int64(n)),
		capacity: n,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (c *Controller) Acquire(ctx context.Context) (*Slot, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return c.track(), nil
}

// TryAcquire takes a slot without blocking. It returns nil if none is free.
func (c *Controller) TryAcquire() *Slot {
	if !c.sem.TryAcquire(1) {
		return nil
	}
	return c.track()
}

func (c *Controller) track() *Slot {
	n := c.inUse.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Slot{c: c}
}

// Capacity returns the total number of slots.
func (c *Controller) Capacity() int { return c.capacity }

// InUse returns the number of slots currently held.
func (c *Controller) InUse() int { return int(c.inUse.Load()) }

// Peak returns the highest number of slots held at the same time.
func (c *Controller) Peak() int { return int(c.peak.Load()) }

// Slot is a held execution slot.
type Slot struct {
	c    *Controller
	once sync.Once
}

// Release returns the slot to its controller. Calling Release more than
// once, or on a nil Slot, is a no-op.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.c.inUse.Add(-1)
		s.c.sem.Release(1)
	})
}
