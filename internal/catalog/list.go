package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// List is an explicit selection loaded from YAML:
//
//	tests:
//	  - strings.TestStrings.test_upper
//	tags: [SMOKE]
//
// A test is selected if its id is listed or its tag matches.
type List struct {
	Tests []string `yaml:"tests"`
	Tags  []Tag    `yaml:"tags"`
}

// LoadList reads a selection list from path.
func LoadList(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test list: %w", err)
	}
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse test list %s: %w", path, err)
	}
	for i, t := range l.Tags {
		l.Tags[i] = ParseTag(string(t))
	}
	return &l, nil
}

// SelectList resolves a List against the catalog. Unknown ids are
// reported together.
func (c *Catalog) SelectList(l *List) ([]Descriptor, error) {
	seen := make(map[string]bool)
	var out []Descriptor
	var errs []error

	for _, id := range l.Tests {
		d, _, ok := c.Lookup(id)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown test %q", id))
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, d)
		}
	}
	if len(l.Tags) > 0 {
		for _, d := range c.Select(l.Tags...) {
			if !seen[d.ID()] {
				seen[d.ID()] = true
				out = append(out, d)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	sortDescriptors(out)
	return out, nil
}
