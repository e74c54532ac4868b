//go:build !unix

package unit

import (
	"errors"
	"os/exec"
)

var errUnsupported = errors.New("process suspension is not supported on this platform")

func setProcessGroup(*exec.Cmd) {}

func killGroup(cmd *exec.Cmd) error { return cmd.Process.Kill() }
func stopGroup(*exec.Cmd) error     { return errUnsupported }
func continueGroup(*exec.Cmd) error { return errUnsupported }

func extractExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
