// Package convert orchestrates one document→PDF conversion per call.
//
// Each conversion runs as a strict pipeline inside a disposable workspace:
//
//  1. Allocate an isolated workspace (unique ID, staging + profile subdirs)
//  2. Stage the input bytes into the workspace
//  3. Invoke the external engine bound to the workspace's private profile
//  4. Extract the produced PDF from the staging directory
//  5. Reclaim the entire workspace, on every exit path
//
// Isolation between concurrent conversions is structural: no two in-flight
// conversions ever share a directory or an engine profile, so the engine's
// internal lock files cannot serialize or corrupt unrelated requests. The
// only shared state is a counting admission gate bounding simultaneous
// engine invocations.
//
// Failure taxonomy (see errors.go):
//   - allocation_error: workspace could not be created
//   - engine_unavailable: engine binary missing/unexecutable (deployment defect)
//   - conversion_timeout: engine exceeded its budget and was terminated
//   - engine_failure: engine rejected the input (non-zero exit)
//   - output_missing: clean exit but no usable PDF
//   - reclaim_error: cleanup failed (logged, never masks the outcome)
//
// Caller cancellation terminates the engine and reclaims the workspace like
// a timeout, but propagates the context error unclassified.
package convert
