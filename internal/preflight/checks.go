// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes the session being checked.
type Options struct {
	// Concurrency is the resolved admission limit.
	Concurrency int
	// Cores is the detected CPU count.
	Cores int
	// Worker is the executable re-run for each unit.
	Worker string
	// LogDir is where session logs go. Empty skips the check.
	LogDir string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	// At most one unit beyond the admission limit exists at a time.
	units := opts.Concurrency + 1

	add(checkFileDescriptors(units))
	add(checkProcessLimit(units))
	add(checkWorker(opts.Worker))
	if opts.LogDir != "" {
		add(checkLogDir(opts.LogDir))
	}
	// Oversubscription is only a warning.
	add(checkCores(opts.Concurrency, opts.Cores))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(units int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// The parent holds three pipe ends per unit, plus six while a unit
	// is being spawned. Plus overhead (metrics server, logging, etc.)
	required := units*3 + 6 + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d units)", actual, required, units),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(units int) Check {
	required := units + 50

	// Read soft limit from /proc/self/limits
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses extracts the soft "Max processes" limit from the
// contents of /proc/self/limits. Zero means not found.
func parseMaxProcesses(limits string) int {
	actual := 0
	for _, line := range strings.Split(limits, "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}
	return actual
}

// checkWorker verifies the unit executable exists and is executable.
func checkWorker(path string) Check {
	if path == "" {
		return Check{
			Name:    "worker",
			Passed:  false,
			Message: "no worker executable configured",
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "worker",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "worker",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable", path),
		}
	}
	return Check{
		Name:    "worker",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkLogDir verifies the session log directory can be written.
func checkLogDir(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{
			Name:    "log_dir",
			Passed:  false,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{
			Name:    "log_dir",
			Passed:  false,
			Message: fmt.Sprintf("cannot write to %s: %v", dir, err),
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return Check{
		Name:    "log_dir",
		Passed:  true,
		Message: fmt.Sprintf("writable (%s)", abs),
	}
}

// checkCores warns when more units are admitted than there are CPUs.
func checkCores(concurrency, cores int) Check {
	if cores <= 0 {
		return Check{
			Name:    "cpu_cores",
			Passed:  true,
			Warning: true,
			Message: "unable to determine CPU count",
		}
	}
	return Check{
		Name:    "cpu_cores",
		Passed:  true,
		Warning: concurrency > cores,
		Message: fmt.Sprintf("%d cores for concurrency %d", cores, concurrency),
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "worker":
		return "run go-test-swarm from a readable, executable path"
	case "log_dir":
		return "choose a writable --log-dir"
	default:
		return "see documentation"
	}
}
