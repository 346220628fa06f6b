package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Workspace is the isolated filesystem scope for exactly one conversion
// attempt. StagingDir holds the input document and receives the engine's
// output; ProfileDir is handed to the engine as its private profile so its
// lock files never collide with a sibling conversion.
type Workspace struct {
	ID         string
	Dir        string
	StagingDir string
	ProfileDir string
	CreatedAt  time.Time
}

// InputPath returns the staging path for an input file name.
func (w Workspace) InputPath(name string) string {
	return filepath.Join(w.StagingDir, name)
}

// SweepReport summarizes a sweep run.
type SweepReport struct {
	DeletedDirs int
}

// Manager allocates and reclaims per-conversion workspaces under a shared root.
type Manager struct {
	root string
	now  func() time.Time
}

// NewManager creates a workspace manager rooted at root.
func NewManager(root string) (*Manager, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace root directory is empty")
	}

	return &Manager{
		root: filepath.Clean(trimmed),
		now:  time.Now,
	}, nil
}

// Root returns the directory under which workspaces are created.
func (m *Manager) Root() string {
	return m.root
}

// Allocate creates a fresh workspace with a unique identifier. The identifier
// seeds both the working directory and the engine profile directory, so two
// concurrent conversions can never share either.
func (m *Manager) Allocate(ctx context.Context) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	id := uuid.NewString()
	dir := filepath.Join(m.root, id)

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace root: %w", err)
	}

	// Mkdir (not MkdirAll) so a UUID collision surfaces as an error instead
	// of two conversions silently sharing a scope.
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace %q: %w", id, err)
	}

	ws := Workspace{
		ID:         id,
		Dir:        dir,
		StagingDir: filepath.Join(dir, "staging"),
		ProfileDir: filepath.Join(dir, "profile"),
		CreatedAt:  m.now(),
	}

	for _, sub := range []string{ws.StagingDir, ws.ProfileDir} {
		if err := os.Mkdir(sub, 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return Workspace{}, fmt.Errorf("create workspace subdirectory %q: %w", sub, err)
		}
	}

	return ws, nil
}

// Reclaim removes the workspace's entire directory tree, including any state
// the engine left in the profile directory.
func (m *Manager) Reclaim(ws Workspace) error {
	if ws.Dir == "" {
		return fmt.Errorf("workspace directory is empty")
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("remove workspace %q: %w", ws.ID, err)
	}
	return nil
}

// Sweep removes leftover workspace directories older than olderThan, based
// on directory modification time. Normal operation reclaims every workspace
// inline; the sweep only catches debris from crashes or kill -9.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error) {
	if err := ctx.Err(); err != nil {
		return SweepReport{}, err
	}
	if olderThan <= 0 {
		return SweepReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := SweepReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}
