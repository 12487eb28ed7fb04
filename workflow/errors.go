package workflow

import (
	"errors"
	"fmt"
)

// ErrGraphValidation indicates the builder rejected the graph: missing start
// executor, unknown executor id, duplicate id, or an edge whose message types
// no target handler accepts. Raised from Build; non-recoverable.
var ErrGraphValidation = errors.New("graph validation failed")

// ErrMaxIterations indicates the superstep count exceeded the configured cap
// before the workflow quiesced. Loops are legal by design; the cap is the
// termination guarantee.
var ErrMaxIterations = errors.New("maximum iterations exceeded")

// ErrNoMatchingHandler indicates a message was delivered to an executor with
// no handler accepting its type. Treated as a handler failure on the target.
var ErrNoMatchingHandler = errors.New("no handler matches message type")

// ErrCheckpointDecode indicates a checkpoint could not be rehydrated, most
// commonly because a pending request's declared type cannot be resolved in
// this process. The run cannot resume from such a checkpoint.
var ErrCheckpointDecode = errors.New("checkpoint decode failed")

// ErrResponseTypeMismatch indicates a supplied response does not satisfy the
// response type recorded for its pending request. State is unchanged.
var ErrResponseTypeMismatch = errors.New("response type mismatch")

// ErrUnknownRequestID indicates a response was supplied for a request id that
// is not pending. State is unchanged.
var ErrUnknownRequestID = errors.New("unknown request id")

// ErrCancelled indicates the run was stopped by external cancellation.
var ErrCancelled = errors.New("workflow cancelled")

// ErrNestedHold indicates a handler attempted to acquire the shared-state
// hold while already holding it. Holds do not nest.
var ErrNestedHold = errors.New("shared state hold already held by caller")

// ErrWorkflowNotStarted indicates responses were sent to a workflow that has
// no run to resume.
var ErrWorkflowNotStarted = errors.New("workflow has not been started")

// ExecutorError wraps an error raised inside a handler with the executor that
// produced it.
type ExecutorError struct {
	// ExecutorID identifies the executor whose handler failed.
	ExecutorID string

	// Cause is the underlying handler error.
	Cause error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s: %v", e.ExecutorID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// ValidationError carries the specific build-time violation.
type ValidationError struct {
	// Reason describes the violation.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "graph validation failed: " + e.Reason
}

// Is reports ErrGraphValidation so callers can match the kind without the
// concrete type.
func (e *ValidationError) Is(target error) bool {
	return target == ErrGraphValidation
}
