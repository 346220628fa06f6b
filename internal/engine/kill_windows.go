//go:build windows

package engine

import (
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {}

// signalTerm has no SIGTERM equivalent on Windows; rely on the grace-period
// kill path.
func signalTerm(pid int) {}

// killProcessGroup kills the engine and all its children using taskkill.
// /F = force kill, /T = terminate child processes (tree kill).
func killProcessGroup(pid int) {
	_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
