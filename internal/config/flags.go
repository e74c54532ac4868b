package config

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"
)

// Flag names shared between AddFlags and ApplyFlags.
const (
	FlagConcurrency    = "concurrency"
	FlagProcessTimeout = "process-timeout"
	FlagMaxReruns      = "max-reruns"
	FlagPollInterval   = "poll-interval"
	FlagTag            = "tag"
	FlagList           = "list"
	FlagLogDir         = "log-dir"
	FlagLogFormat      = "log-format"
	FlagLogLevel       = "log-level"
	FlagMetricsAddr    = "metrics-addr"
	FlagVerbose        = "verbose"
	FlagTUI            = "tui"
	FlagReport         = "report"
	FlagReportFormat   = "report-format"
	FlagSkipPreflight  = "skip-preflight"
	FlagEnvFile        = "env-file"
)

// AddFlags registers the session flags on fs. Defaults shown in help are
// the built-in defaults; the environment is applied separately.
func AddFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()

	// Scheduling
	fs.Int(FlagConcurrency, d.Concurrency, "Maximum concurrently admitted tests (0 = cores - 1)")
	timeout := d.ProcessTimeout
	fs.Var(&timeout, FlagProcessTimeout, "Per-test process timeout in seconds")
	fs.Int(FlagMaxReruns, d.MaxReruns, "Attempts per test before reporting failure")
	fs.Duration(FlagPollInterval, d.PollInterval, "Scheduler poll interval")

	// Selection
	fs.StringSlice(FlagTag, nil, `Run only tests with these tags ("smoke", "regression")`)
	fs.String(FlagList, "", "YAML file listing test ids to run")

	// Observability
	fs.String(FlagLogDir, d.LogDir, "Directory for per-test session logs")
	fs.String(FlagLogFormat, d.LogFormat, `Log format: "json" or "text"`)
	fs.String(FlagLogLevel, d.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	fs.String(FlagMetricsAddr, d.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolP(FlagVerbose, "v", false, "Verbose logging")

	// Output
	fs.Bool(FlagTUI, false, "Show the live terminal dashboard")
	fs.String(FlagReport, "", "Write the session report to this file")
	fs.String(FlagReportFormat, d.ReportFormat, `Report format: "table", "json" or "yaml"`)

	fs.Bool(FlagSkipPreflight, false, "Skip preflight checks")
	fs.String(FlagEnvFile, "", "Env file to load (default $"+EnvFileVar+" or "+DefaultEnvFile+")")
}

// ApplyFlags copies every flag the user set explicitly onto cfg.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = applyFlag(fs, f, cfg)
	})
	return err
}

func applyFlag(fs *pflag.FlagSet, f *pflag.Flag, cfg *Config) error {
	var err error
	switch f.Name {
	case FlagConcurrency:
		cfg.Concurrency, err = fs.GetInt(f.Name)
	case FlagProcessTimeout:
		s, ok := f.Value.(*Seconds)
		if !ok {
			return fmt.Errorf("flag %s: unexpected type %s", f.Name, f.Value.Type())
		}
		cfg.ProcessTimeout = *s
	case FlagMaxReruns:
		cfg.MaxReruns, err = fs.GetInt(f.Name)
	case FlagPollInterval:
		cfg.PollInterval, err = fs.GetDuration(f.Name)
	case FlagTag:
		cfg.Tags, err = fs.GetStringSlice(f.Name)
	case FlagList:
		cfg.ListFile, err = fs.GetString(f.Name)
	case FlagLogDir:
		cfg.LogDir, err = fs.GetString(f.Name)
	case FlagLogFormat:
		cfg.LogFormat, err = fs.GetString(f.Name)
	case FlagLogLevel:
		cfg.LogLevel, err = fs.GetString(f.Name)
	case FlagMetricsAddr:
		cfg.MetricsAddr, err = fs.GetString(f.Name)
	case FlagVerbose:
		cfg.Verbose, err = fs.GetBool(f.Name)
	case FlagTUI:
		cfg.TUI, err = fs.GetBool(f.Name)
	case FlagReport:
		cfg.Report, err = fs.GetString(f.Name)
	case FlagReportFormat:
		cfg.ReportFormat, err = fs.GetString(f.Name)
	case FlagSkipPreflight:
		cfg.SkipPreflight, err = fs.GetBool(f.Name)
	}
	if err != nil {
		return fmt.Errorf("flag %s: %w", f.Name, err)
	}
	return nil
}

// FromFlags loads the env file named by --env-file (or its fallbacks),
// the environment, and then the explicitly set flags.
func FromFlags(ctx context.Context, fs *pflag.FlagSet) (*Config, error) {
	path, err := fs.GetString(FlagEnvFile)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(ctx, ResolveEnvFile(path))
	if err != nil {
		return nil, err
	}
	if err := ApplyFlags(fs, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
