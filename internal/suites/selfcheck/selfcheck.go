// Package selfcheck registers tests that exercise every outcome the
// orchestrator can observe: pass, fail, error, panic, retry, hang and a
// crashing worker. They are used by the orchestrator's own tests and by
// `go-test-swarm run --selfcheck`.
package selfcheck

import (
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/testcase"
)

const (
	Module = "selfcheck"
	Class  = "Checks"
)

// Test ids.
const (
	Pass  = Module + "." + Class + ".test_pass"
	Fail  = Module + "." + Class + ".test_fail"
	Error = Module + "." + Class + ".test_error"
	Panic = Module + "." + Class + ".test_panic"
	Flaky = Module + "." + Class + ".test_flaky"
	Slow  = Module + "." + Class + ".test_slow"
	Hang  = Module + "." + Class + ".test_hang"
	Crash = Module + "." + Class + ".test_crash"
)

// FlakyFailures is how many attempts of test_flaky fail before it passes.
const FlakyFailures = 2

// SlowDuration is how long test_slow runs.
const SlowDuration = 300 * time.Millisecond

// flakyAttempts counts attempts within one worker process.
var flakyAttempts atomic.Int32

type fixture struct {
	started time.Time
}

func (f *fixture) Before(*testcase.T) error {
	f.started = time.Now()
	return nil
}

func (f *fixture) After(*testcase.T) error { return nil }

// Register adds the self-check suite to c.
func Register(c *catalog.Catalog) error {
	return catalog.AddSuite(c, Module, Class, catalog.TagRegression, func() *fixture { return &fixture{} },
		catalog.M("test_pass", func(_ *fixture, t *testcase.T) error {
			require.Equal(t, 4, 2+2)
			return nil
		}),
		catalog.M("test_fail", func(_ *fixture, t *testcase.T) error {
			require.Equal(t, "expected", "actual")
			return nil
		}),
		catalog.M("test_error", func(*fixture, *testcase.T) error {
			return errors.New("fixture resource unavailable")
		}),
		catalog.M("test_panic", func(*fixture, *testcase.T) error {
			var values []int
			_ = values[3]
			return nil
		}),
		catalog.M("test_flaky", func(_ *fixture, t *testcase.T) error {
			n := flakyAttempts.Add(1)
			t.Logf("flaky attempt %d", n)
			if n <= FlakyFailures {
				return testcase.Fail("attempt %d failed", n)
			}
			return nil
		}),
		catalog.M("test_slow", func(f *fixture, t *testcase.T) error {
			time.Sleep(SlowDuration)
			require.GreaterOrEqual(t, time.Since(f.started), SlowDuration)
			return nil
		}),
		catalog.M("test_hang", func(*fixture, *testcase.T) error {
			time.Sleep(10 * time.Minute)
			return nil
		}),
		catalog.M("test_crash", func(*fixture, *testcase.T) error {
			os.Exit(3)
			return nil
		}),
	)
}
