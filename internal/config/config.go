// Package config provides configuration management for go-test-swarm.
//
// Settings come from, in increasing precedence: built-in defaults, an
// optional env file, the process environment, and command-line flags.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	// DefaultEnvFile is read when neither --env-file nor SWARM_ENV_FILE is set.
	DefaultEnvFile = "config.env"

	// EnvFileVar names the environment variable that points at the env file.
	EnvFileVar = "SWARM_ENV_FILE"
)

// Config holds all configuration options for a session.
type Config struct {
	// Scheduling
	Concurrency    int           `env:"CONCURRENCY, default=0"` // 0 = cores - 1
	ProcessTimeout Seconds       `env:"PROCESS_TIMEOUT, default=10"`
	MaxReruns      int           `env:"MAX_RERUNS, default=3"`
	PollInterval   time.Duration `env:"POLL_INTERVAL, default=150ms"`

	// Selection
	Tags     []string `env:"TAGS"`
	ListFile string   `env:"TEST_LIST"`

	// Observability
	LogDir       string `env:"LOG_DIR, default=logs"`
	LogFormat    string `env:"LOG_FORMAT, default=json"` // json, text
	LogLevel     string `env:"LOG_LEVEL, default=info"`
	MetricsAddr  string `env:"METRICS_ADDR"`                 // empty = disabled
	ReportFormat string `env:"REPORT_FORMAT, default=table"` // table, json, yaml

	// Flag-only options
	Verbose       bool
	TUI           bool
	Report        string
	SkipPreflight bool
}

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:    0,
		ProcessTimeout: Seconds(10 * time.Second),
		MaxReruns:      3,
		PollInterval:   150 * time.Millisecond,
		LogDir:         "logs",
		LogFormat:      "json",
		LogLevel:       "info",
		ReportFormat:   "table",
	}
}

// Load builds a Config from the process environment layered over the
// env file at path. A missing env file is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	file, err := ReadEnvFile(path)
	if err != nil {
		return nil, err
	}
	return LoadWith(ctx, envconfig.MultiLookuper(
		envconfig.OsLookuper(),
		envconfig.MapLookuper(file),
	))
}

// LoadWith builds a Config from an arbitrary lookuper.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	return &cfg, nil
}

// ResolveEnvFile picks the env file path: the flag value, then
// SWARM_ENV_FILE, then config.env.
func ResolveEnvFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvFileVar); v != "" {
		return v
	}
	return DefaultEnvFile
}

// Seconds is a duration configured as a whole number of seconds. Go
// duration strings ("1m30s") are accepted too.
type Seconds time.Duration

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// EnvDecode implements envconfig.Decoder.
func (s *Seconds) EnvDecode(val string) error {
	return s.Set(val)
}

// Set implements pflag.Value.
func (s *Seconds) Set(val string) error {
	val = strings.TrimSpace(val)
	if n, err := strconv.ParseFloat(val, 64); err == nil {
		*s = Seconds(time.Duration(n * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid seconds value %q", val)
	}
	*s = Seconds(d)
	return nil
}

// String implements pflag.Value.
func (s *Seconds) String() string {
	d := time.Duration(*s)
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return d.String()
}

// Type implements pflag.Value.
func (s *Seconds) Type() string { return "seconds" }
