// Package catalog holds the test units compiled into the binary.
//
// Suites register themselves at init time; the scheduler selects from the
// catalog by tag or by an explicit list, and the unit worker looks tests up
// by id to instantiate them.
package catalog

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-test-swarm/internal/testcase"
)

// Tag groups tests for selection.
type Tag string

const (
	TagNone       Tag = ""
	TagSmoke      Tag = "SMOKE"
	TagRegression Tag = "REGRESSION"
)

// ParseTag normalizes a user-supplied tag name.
func ParseTag(s string) Tag {
	return Tag(strings.ToUpper(strings.TrimSpace(s)))
}

// Descriptor identifies one runnable test. It is immutable once registered.
type Descriptor struct {
	Module  string `json:"module" yaml:"module"`
	Class   string `json:"class" yaml:"class"`
	Method  string `json:"method" yaml:"method"`
	Ordinal int    `json:"ordinal" yaml:"ordinal"`
	Tag     Tag    `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// ID returns the dotted test name used on the wire, in logs and in results.
func (d Descriptor) ID() string {
	return d.Module + "." + d.Class + "." + d.Method
}

// Factory builds a fresh Case for one attempt.
type Factory func() testcase.Case

type entry struct {
	desc    Descriptor
	factory Factory
}

// Catalog is a registry of descriptors and their factories. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]entry)}
}

// Register adds a test. Duplicate ids are rejected. The ordinal is assigned
// in registration order.
func (c *Catalog) Register(d Descriptor, f Factory) error {
	if d.Module == "" || d.Class == "" || d.Method == "" {
		return fmt.Errorf("incomplete descriptor %q", d.ID())
	}
	if f == nil {
		return fmt.Errorf("nil factory for %s", d.ID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := d.ID()
	if _, ok := c.entries[id]; ok {
		return fmt.Errorf("duplicate test %s", id)
	}
	d.Ordinal = len(c.order)
	c.entries[id] = entry{desc: d, factory: f}
	c.order = append(c.order, id)
	return nil
}

// MustRegister is Register that panics on error, for use from init.
func (c *Catalog) MustRegister(d Descriptor, f Factory) {
	if err := c.Register(d, f); err != nil {
		panic(err)
	}
}

// Len returns the number of registered tests.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Descriptors returns all descriptors sorted by module, class and ordinal.
func (c *Catalog) Descriptors() []Descriptor {
	return c.Select()
}

// Select returns the descriptors matching any of tags. With no tags every
// test is selected.
func (c *Catalog) Select(tags ...Tag) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		d := c.entries[id].desc
		if len(tags) > 0 && !slices.Contains(tags, d.Tag) {
			continue
		}
		out = append(out, d)
	}
	sortDescriptors(out)
	return out
}

// Lookup returns the descriptor and factory for id.
func (c *Catalog) Lookup(id string) (Descriptor, Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e.desc, e.factory, ok
}

func sortDescriptors(ds []Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return a.Ordinal < b.Ordinal
	})
}

// Default is the process-wide catalog that built-in suites register into.
var Default = New()
