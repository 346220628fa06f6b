package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"time"

	"convertd/internal/log"
	"convertd/internal/workspace"
)

const (
	// maxStderrBytes caps the amount of stderr captured from the engine.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before killing
	// the engine's process group.
	terminationGracePeriod = 5 * time.Second
)

// ErrUnavailable indicates the engine binary is missing or not executable.
// This is a deployment defect, not a per-document failure.
var ErrUnavailable = errors.New("conversion engine unavailable")

// ExitError reports an engine run that started but exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("engine exited with status %d", e.Code)
}

// LibreOffice invokes the LibreOffice headless CLI to convert one staged
// document to PDF inside its workspace. It is a pure process-boundary
// adapter: it never inspects document content.
type LibreOffice struct {
	binary string
	logger *slog.Logger
}

// NewLibreOffice creates an invoker for the given binary name or path.
func NewLibreOffice(binary string) *LibreOffice {
	return &LibreOffice{
		binary: binary,
		logger: log.WithComponent("engine"),
	}
}

// Convert runs the engine against ws, converting inputPath into a PDF in the
// workspace's staging directory. Execution is bounded by timeout; on expiry
// or ctx cancellation the engine's process group is terminated (SIGTERM, then
// SIGKILL after a grace period) and always reaped. Returns captured stderr
// alongside any error: context.DeadlineExceeded for timeout, ErrUnavailable
// for spawn failure, *ExitError for a non-zero exit.
func (l *LibreOffice) Convert(ctx context.Context, ws workspace.Workspace, inputPath string, timeout time.Duration) (string, error) {
	logger := l.logger.With("conversion_id", ws.ID)

	// The private UserInstallation is the isolation primitive: the engine
	// treats its profile as exclusive single-writer state, so every
	// conversion gets its own.
	args := []string{
		"--headless",
		"--nodefault",
		"--nofirststartwizard",
		"--nolockcheck",
		"--nologo",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", ws.StagingDir,
		fmt.Sprintf("-env:UserInstallation=file://%s", ws.ProfileDir),
		inputPath,
	}

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext - we manage termination ourselves so the
	// grace period and group kill apply on every exit path.
	cmd := exec.Command(l.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	logger.Debug("spawning engine", "binary", l.binary, "input", inputPath, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		if spawnFailure(err) {
			return "", fmt.Errorf("%w: start %s: %v", ErrUnavailable, l.binary, err)
		}
		return "", fmt.Errorf("start engine: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("engine execution timed out, terminating", "timeout", timeout)
		l.terminate(cmd, waitErr, logger)
		return truncateStderr(stderr.String()), context.DeadlineExceeded

	case <-ctx.Done():
		logger.Info("conversion cancelled, terminating engine")
		l.terminate(cmd, waitErr, logger)
		return truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("engine exited with non-zero status", "exit_code", exitErr.ExitCode())
				return stderrStr, &ExitError{Code: exitErr.ExitCode(), Stderr: stderrStr}
			}
			return stderrStr, fmt.Errorf("wait for engine: %w", err)
		}
		return stderrStr, nil
	}
}

// terminate stops the running engine: SIGTERM to the process group, then
// SIGKILL if the grace period expires, and always reaps via waitErr so no
// zombie survives the call.
func (l *LibreOffice) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}

	signalTerm(cmd.Process.Pid)

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("engine exited after SIGTERM")
	case <-grace.C:
		logger.Warn("engine did not exit after SIGTERM, killing process group")
		killProcessGroup(cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			logger.Debug("kill fallback", "error", err)
		}
		<-waitErr
	}
}

// spawnFailure reports whether a Start error means the binary is missing or
// not executable.
func spawnFailure(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
