package convert

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"convertd/internal/engine"
	"convertd/internal/log"
	"convertd/internal/workspace"
)

// Request is one document to convert. Data is owned by the orchestrator for
// the duration of the call; Filename supplies the extension hint the engine
// uses to pick an import filter.
type Request struct {
	Data     []byte
	Filename string
}

// Result is the produced PDF. The orchestrator retains no reference after
// returning.
type Result struct {
	PDF      []byte
	Filename string
}

// Attempt is the history record for one conversion attempt.
type Attempt struct {
	ID          string
	Filename    string
	InputDigest string
	InputBytes  int64
	OutputBytes int64
	Status      string
	ErrorKind   Kind
	StartedAt   time.Time
	CompletedAt time.Time
}

// Attempt statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Invoker runs the external engine against a workspace. Implemented by
// engine.LibreOffice; tests substitute fakes.
type Invoker interface {
	Convert(ctx context.Context, ws workspace.Workspace, inputPath string, timeout time.Duration) (stderr string, err error)
}

// Recorder persists conversion attempts. A nil Recorder disables history.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// DigestFunc fingerprints an input document for the history record.
type DigestFunc func(data []byte) string

// Orchestrator turns document bytes into PDF bytes by staging them in an
// isolated workspace, invoking the engine, and extracting the artifact.
// Isolation between concurrent conversions is structural (distinct
// workspaces); the orchestrator holds no shared mutable state beyond the
// admission gate.
type Orchestrator struct {
	workspaces *workspace.Manager
	invoker    Invoker
	recorder   Recorder
	digest     DigestFunc
	timeout    time.Duration
	gate       chan struct{}
	logger     *slog.Logger
	completed  atomic.Int64
}

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds a single engine invocation.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous engine invocations. Zero or negative
	// disables the gate.
	MaxConcurrent int
	// Recorder receives one Attempt per conversion; nil disables history.
	Recorder Recorder
	// Digest fingerprints input bytes for the history record; nil disables.
	Digest DigestFunc
}

// New creates an Orchestrator.
func New(workspaces *workspace.Manager, invoker Invoker, opts Options) *Orchestrator {
	o := &Orchestrator{
		workspaces: workspaces,
		invoker:    invoker,
		recorder:   opts.Recorder,
		digest:     opts.Digest,
		timeout:    opts.Timeout,
		logger:     log.WithComponent("convert"),
	}
	if o.timeout <= 0 {
		o.timeout = 120 * time.Second
	}
	if opts.MaxConcurrent > 0 {
		o.gate = make(chan struct{}, opts.MaxConcurrent)
	}
	return o
}

// Completed returns the number of finished conversion attempts.
func (o *Orchestrator) Completed() int64 {
	return o.completed.Load()
}

// Convert runs the full pipeline: allocate workspace, stage input, invoke
// engine, extract PDF, reclaim workspace. Reclamation runs on every exit
// path and never masks the conversion outcome.
func (o *Orchestrator) Convert(ctx context.Context, req Request) (Result, error) {
	if o.gate != nil {
		select {
		case o.gate <- struct{}{}:
			defer func() { <-o.gate }()
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	started := time.Now()

	ws, err := o.workspaces.Allocate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		err = newError(KindAllocation, "allocate workspace: %w", err)
		o.record(ctx, req, "", started, 0, err)
		o.completed.Add(1)
		return Result{}, err
	}

	logger := log.WithConversion(ws.ID)

	// Reclaim is registered before anything else touches the workspace so it
	// runs even when a later step fails before obtaining a handle.
	defer func() {
		if rerr := o.workspaces.Reclaim(ws); rerr != nil {
			logger.Error("workspace reclaim failed", "error", newError(KindReclaim, "%v", rerr))
		}
	}()

	result, err := o.convertIn(ctx, ws, req, logger)
	o.record(ctx, req, ws.ID, started, int64(len(result.PDF)), err)
	o.completed.Add(1)

	if err != nil {
		return Result{}, err
	}

	logger.Info("conversion succeeded",
		"filename", req.Filename,
		"input_bytes", len(req.Data),
		"output_bytes", len(result.PDF),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}

// convertIn runs the stage/invoke/extract steps inside an allocated workspace.
func (o *Orchestrator) convertIn(ctx context.Context, ws workspace.Workspace, req Request, logger *slog.Logger) (Result, error) {
	inputPath := ws.InputPath(sanitizeFilename(req.Filename))
	if err := os.WriteFile(inputPath, req.Data, 0o644); err != nil {
		return Result{}, newError(KindAllocation, "stage input: %w", err)
	}

	stderr, err := o.invoker.Convert(ctx, ws, inputPath, o.timeout)
	if err != nil {
		return Result{}, o.classifyEngineErr(ctx, err, stderr, logger)
	}

	return o.extract(ws, inputPath)
}

// classifyEngineErr maps invoker errors onto the conversion taxonomy. Caller
// cancellation is passed through untouched.
func (o *Orchestrator) classifyEngineErr(ctx context.Context, err error, stderr string, logger *slog.Logger) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, "engine exceeded %v budget", o.timeout)
	case errors.Is(err, engine.ErrUnavailable):
		return newError(KindEngineUnavailable, "%w", err)
	default:
		if stderr != "" {
			logger.Warn("engine failed", "stderr", stderr)
		}
		return newError(KindEngineFailure, "engine failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
}

// extract locates the engine's output PDF in the staging directory and reads
// it fully before the workspace is reclaimed. The engine writes the input's
// base name with a .pdf extension; scan for it rather than predicting the
// exact mangling, skipping the staged input itself.
func (o *Orchestrator) extract(ws workspace.Workspace, inputPath string) (Result, error) {
	entries, err := os.ReadDir(ws.StagingDir)
	if err != nil {
		return Result{}, newError(KindOutputMissing, "scan staging directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(ws.StagingDir, entry.Name())
		if path == inputPath || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return Result{}, newError(KindOutputMissing, "read output %q: %w", entry.Name(), err)
		}
		if len(data) == 0 {
			return Result{}, newError(KindOutputMissing, "engine produced empty output %q", entry.Name())
		}
		return Result{PDF: data, Filename: entry.Name()}, nil
	}

	return Result{}, newError(KindOutputMissing, "engine reported success but produced no PDF")
}

// record persists the attempt outcome. Recording failures are logged, never
// surfaced; history is an observer, not a participant.
func (o *Orchestrator) record(ctx context.Context, req Request, id string, started time.Time, outputBytes int64, convErr error) {
	if o.recorder == nil {
		return
	}

	a := Attempt{
		ID:          id,
		Filename:    sanitizeFilename(req.Filename),
		InputBytes:  int64(len(req.Data)),
		OutputBytes: outputBytes,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if o.digest != nil {
		a.InputDigest = o.digest(req.Data)
	}

	switch {
	case convErr == nil:
		a.Status = StatusSucceeded
	case errors.Is(convErr, context.Canceled):
		a.Status = StatusCancelled
	default:
		a.Status = StatusFailed
		a.ErrorKind = KindOf(convErr)
	}

	// The request context may already be cancelled; record anyway.
	if err := o.recorder.Record(context.WithoutCancel(ctx), a); err != nil {
		o.logger.Error("failed to record conversion attempt", "conversion_id", id, "error", err)
	}
}

// sanitizeFilename reduces a client-supplied name to its base name so it can
// never escape the staging directory. Both separator styles are stripped
// regardless of host OS.
func sanitizeFilename(raw string) string {
	name := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "document"
	}
	return name
}
