//go:build unix

package unit

import (
	"errors"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		pid = -pgid
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func killGroup(cmd *exec.Cmd) error     { return signalGroup(cmd, syscall.SIGKILL) }
func stopGroup(cmd *exec.Cmd) error     { return signalGroup(cmd, syscall.SIGSTOP) }
func continueGroup(cmd *exec.Cmd) error { return signalGroup(cmd, syscall.SIGCONT) }

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return 1
}
