//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the engine in its own process group so termination
// reaches the helper processes LibreOffice forks (soffice.bin and friends).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTerm asks the engine's process group to shut down.
func signalTerm(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup kills the engine and all its children by sending SIGKILL
// to the process group (negative PID).
func killProcessGroup(pid int) {
	// Best-effort; cmd.Process.Kill() is the fallback.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
