package unit

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// WorkerCommand is the hidden subcommand that turns the binary into an
// execution unit.
const WorkerCommand = "_unit"

// Launcher builds the command for one execution unit. The command must not
// be started yet; Unit wires its pipes and process group before starting.
type Launcher interface {
	Command(ctx context.Context, testName string) (*exec.Cmd, error)

	// Name returns a human-readable name for logs.
	Name() string
}

// ExecLauncher runs Path with Args followed by the test name.
type ExecLauncher struct {
	Path string
	Args []string
	// Env is appended to the parent's environment.
	Env []string
}

// SelfLauncher re-executes the running binary as a unit worker.
func SelfLauncher() (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ExecLauncher{Path: exe, Args: []string{WorkerCommand}}, nil
}

// Command implements Launcher. The context is not bound to the command:
// units are killed through their process group, never by context.
func (l *ExecLauncher) Command(_ context.Context, testName string) (*exec.Cmd, error) {
	if l.Path == "" {
		return nil, fmt.Errorf("launcher has no executable path")
	}
	args := append(append([]string{}, l.Args...), testName)
	cmd := exec.Command(l.Path, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	return cmd, nil
}

// Name implements Launcher.
func (l *ExecLauncher) Name() string { return l.Path }
