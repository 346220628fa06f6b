package convert

import (
	"errors"
	"fmt"
)

// Kind classifies a conversion failure at the orchestrator boundary. Nothing
// crosses that boundary unclassified except the caller's own cancellation.
type Kind string

const (
	// KindAllocation: the workspace could not be materialized (disk full,
	// permission denied). Retryable by the caller after backoff.
	KindAllocation Kind = "allocation_error"

	// KindEngineUnavailable: the engine binary is missing or not executable.
	// Fatal deployment defect, not retryable.
	KindEngineUnavailable Kind = "engine_unavailable"

	// KindTimeout: the engine exceeded its time budget and was terminated.
	KindTimeout Kind = "conversion_timeout"

	// KindEngineFailure: the engine ran and reported an error; the input is
	// at fault. Not retryable.
	KindEngineFailure Kind = "engine_failure"

	// KindOutputMissing: the engine exited cleanly but produced no usable
	// output. Treated as an engine-side failure.
	KindOutputMissing Kind = "output_missing"

	// KindReclaim: workspace cleanup failed. Logged and non-fatal to the
	// response already prepared.
	KindReclaim Kind = "reclaim_error"
)

// Error is a classified conversion failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err with a classification kind.
func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of err, or "" if err carries none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
