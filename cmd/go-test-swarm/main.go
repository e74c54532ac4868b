// Package main provides the go-test-swarm CLI entry point.
//
// go-test-swarm runs the test suites compiled into the binary, one
// process per test, under a bounded concurrency budget with retries,
// timeouts and live progress reporting.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/config"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/metrics"
	"github.com/randomizedcoder/go-test-swarm/internal/orchestrator"
	"github.com/randomizedcoder/go-test-swarm/internal/suites/selfcheck"
	"github.com/randomizedcoder/go-test-swarm/internal/suites/stringsuite"
	"github.com/randomizedcoder/go-test-swarm/internal/unit"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-test-swarm
var version = "dev"

// selfcheckEnv enables the self-check suite. It is an environment variable
// so that unit workers register the same catalog as their parent.
const selfcheckEnv = "SWARM_SELFCHECK"

var (
	flagSelfcheck bool

	// exitCode is set by the run command.
	exitCode int
)

func main() {
	os.Exit(run())
}

func run() int {
	metrics.Version = version

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == orchestrator.ExitPassed {
			return orchestrator.ExitFatal
		}
	}
	return exitCode
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "go-test-swarm",
		Short:             "Run test suites in isolated processes with bounded concurrency",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: registerSuites,
	}
	rootCmd.PersistentFlags().BoolVar(&flagSelfcheck, "selfcheck", false, "Include the self-check suite (also $"+selfcheckEnv+"=1)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(unitCmd)
	return rootCmd
}

// registerSuites fills the default catalog. Workers and the parent must
// agree on its contents, so the self-check switch is exported to the
// environment the workers inherit.
func registerSuites(_ *cobra.Command, _ []string) error {
	if flagSelfcheck {
		if err := os.Setenv(selfcheckEnv, "1"); err != nil {
			return err
		}
	}
	if catalog.Default.Len() > 0 {
		return nil
	}
	if err := stringsuite.Register(catalog.Default); err != nil {
		return err
	}
	if os.Getenv(selfcheckEnv) == "1" {
		if err := selfcheck.Register(catalog.Default); err != nil {
			return err
		}
	}
	return nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected tests",
		Args:  cobra.NoArgs,
		RunE:  doRun,
	}
	config.AddFlags(cmd.Flags())
	return cmd
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromFlags(ctx, cmd.Flags())
	if err != nil {
		exitCode = orchestrator.ExitFatal
		return fmt.Errorf("configuration: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		exitCode = orchestrator.ExitFatal
		return fmt.Errorf("configuration: %w", err)
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUI {
		logger = logging.NewLoggerWithWriter(io.Discard, cfg.LogFormat, cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}

	launcher, err := unit.SelfLauncher()
	if err != nil {
		exitCode = orchestrator.ExitFatal
		return err
	}

	logger.Info("starting",
		"version", version,
		"tests", catalog.Default.Len(),
		"concurrency", cfg.Concurrency,
		"process_timeout", cfg.ProcessTimeout.Duration().String(),
		"max_reruns", cfg.MaxReruns,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, logger, orchestrator.Options{
		Catalog:       catalog.Default,
		Launcher:      launcher,
		Out:           cmd.OutOrStdout(),
		HandleSignals: true,
	})
	outcome, err := orch.Run(ctx)
	exitCode = orchestrator.ExitCode(outcome, err)

	switch {
	case exitCode == orchestrator.ExitInterrupted:
		logger.Warn("session_interrupted")
		return nil
	case err != nil:
		logger.Error("orchestrator_failed", "error", err)
		return err
	}
	return nil
}

var unitCmd = &cobra.Command{
	Use:    unit.WorkerCommand + " TEST",
	Short:  "internal command",
	Hidden: true,
	Args:   cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := unit.ServeFDs(cmd.Context(), catalog.Default)
		if err != nil {
			exitCode = orchestrator.ExitFatal
		}
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "go-test-swarm: %s\n", version)

		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fmt.Fprintf(out, "go:            %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit:        %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:          %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(out, "dirty:         %s\n", s.Value)
			}
		}
	},
}
