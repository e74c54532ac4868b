package scheduler

import (
	"context"
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/suites/selfcheck"
	"github.com/randomizedcoder/go-test-swarm/internal/unit"
)

const workerEnv = "GO_TEST_SWARM_SCHEDULER_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		if err := unit.ServeFDs(context.Background(), testCatalog()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	}
	goleak.VerifyTestMain(m)
}

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	if err := selfcheck.Register(c); err != nil {
		panic(err)
	}
	return c
}

func testLauncher() unit.Launcher {
	return &unit.ExecLauncher{
		Path: os.Args[0],
		Args: []string{"-test.run=^$"},
		Env:  []string{workerEnv + "=1"},
	}
}
