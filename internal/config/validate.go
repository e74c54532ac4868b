package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem found joined together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Concurrency < 0 {
		errs = append(errs, ValidationError{
			Field:   "concurrency",
			Message: "must not be negative",
		})
	}

	if cfg.ProcessTimeout.Duration() <= 0 {
		errs = append(errs, ValidationError{
			Field:   "process_timeout",
			Message: "must be positive",
		})
	}

	if cfg.MaxReruns < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_reruns",
			Message: "must be at least 1",
		})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	} else if cfg.PollInterval >= cfg.ProcessTimeout.Duration() && cfg.ProcessTimeout.Duration() > 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: fmt.Sprintf("must be shorter than process_timeout (%v)", cfg.ProcessTimeout.Duration()),
		})
	}

	for _, tag := range cfg.Tags {
		switch catalog.ParseTag(tag) {
		case catalog.TagSmoke, catalog.TagRegression:
		default:
			errs = append(errs, ValidationError{
				Field:   "tags",
				Message: fmt.Sprintf("unknown tag %q (want smoke or regression)", tag),
			})
		}
	}

	if cfg.LogDir == "" {
		errs = append(errs, ValidationError{
			Field:   "log_dir",
			Message: "must not be empty",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	validReports := map[string]bool{"table": true, "json": true, "yaml": true}
	if !validReports[cfg.ReportFormat] {
		errs = append(errs, ValidationError{
			Field:   "report_format",
			Message: fmt.Sprintf("must be table, json or yaml (got %q)", cfg.ReportFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SelectedTags returns the configured tags in catalog form.
func (c *Config) SelectedTags() []catalog.Tag {
	tags := make([]catalog.Tag, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = append(tags, catalog.ParseTag(t))
	}
	return tags
}
