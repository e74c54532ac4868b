// Package stringsuite is the sample suite shipped with the binary. Two of
// its tests fail and one errors on purpose so a default run shows every
// outcome.
package stringsuite

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/testcase"
)

type fixture struct {
	text string
}

func (f *fixture) Before(*testcase.T) error {
	f.text = "text"
	return nil
}

func (f *fixture) After(*testcase.T) error {
	f.text = ""
	return nil
}

func center(s string, width int) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Register adds the string suite to c.
func Register(c *catalog.Catalog) error {
	return catalog.AddSuite(c, "test_strings", "TestString", catalog.TagSmoke, func() *fixture { return &fixture{} },
		catalog.M("test_upper", func(f *fixture, t *testcase.T) error {
			time.Sleep(4 * time.Second)
			require.Equal(t, "TEXT", strings.ToUpper(f.text))
			return nil
		}),
		catalog.M("test_center", func(f *fixture, t *testcase.T) error {
			assert.Equal(t, " text ", center(f.text, 6))
			return nil
		}),
		catalog.M("test_capitalize", func(f *fixture, t *testcase.T) error {
			time.Sleep(3 * time.Second)
			require.Equal(t, "Text", capitalize(f.text))
			return nil
		}),
		catalog.M("test_upper_failed", func(f *fixture, t *testcase.T) error {
			require.Equal(t, "xdd", strings.ToUpper(f.text))
			return nil
		}),
		catalog.M("test_center_errored", func(f *fixture, _ *testcase.T) error {
			return errors.New("division by zero")
		}),
		catalog.M("test_capitalize_failed", func(f *fixture, t *testcase.T) error {
			require.Equal(t, "xdd", capitalize(f.text))
			return nil
		}),
	)
}
