package catalog

import "github.com/randomizedcoder/go-test-swarm/internal/testcase"

// Method names one test method of a suite.
type Method[F testcase.Fixture] struct {
	Name string
	Body func(F, *testcase.T) error
}

// M is shorthand for building a Method.
func M[F testcase.Fixture](name string, body func(F, *testcase.T) error) Method[F] {
	return Method[F]{Name: name, Body: body}
}

// AddSuite registers every method of a suite. Each attempt gets a fresh
// fixture from newFixture.
func AddSuite[F testcase.Fixture](c *Catalog, module, class string, tag Tag, newFixture func() F, methods ...Method[F]) error {
	for _, m := range methods {
		body := m.Body
		d := Descriptor{Module: module, Class: class, Method: m.Name, Tag: tag}
		err := c.Register(d, func() testcase.Case {
			return testcase.Bind(newFixture(), body)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
