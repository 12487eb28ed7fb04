// Package checkpoint provides persistence backends for workflow checkpoints.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested checkpoint id does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a versioned snapshot of a run, sufficient to resume in a
// compatible process. All payload fields hold marker-encoded values (see the
// workflow package's checkpoint encoding); the storage layer treats them as
// opaque JSON.
type Checkpoint struct {
	// CheckpointID uniquely identifies this snapshot.
	CheckpointID string `json:"checkpoint_id"`

	// WorkflowID identifies the workflow the snapshot belongs to.
	WorkflowID string `json:"workflow_id"`

	// Timestamp records when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// Messages is the pending message queue, keyed by source executor id.
	Messages map[string][]MessageRecord `json:"messages"`

	// SharedState is the encoded shared-state mapping.
	SharedState map[string]any `json:"shared_state"`

	// ExecutorStates holds each executor's encoded private state.
	ExecutorStates map[string]map[string]any `json:"executor_states"`

	// PendingRequests are the outstanding external-input requests, keyed by
	// request id.
	PendingRequests map[string]PendingRequest `json:"pending_requests"`

	// IterationCount is the superstep count at snapshot time.
	IterationCount int `json:"iteration_count"`

	// MaxIterations is the cap the run was configured with.
	MaxIterations int `json:"max_iterations"`

	// Metadata carries arbitrary application annotations.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Version is the snapshot format version.
	Version string `json:"version"`
}

// Version written by this package.
const FormatVersion = "1.0"

// New creates an empty checkpoint for workflowID with a fresh id and
// timestamp.
func New(workflowID string) *Checkpoint {
	return &Checkpoint{
		CheckpointID:    uuid.NewString(),
		WorkflowID:      workflowID,
		Timestamp:       time.Now().UTC(),
		Messages:        make(map[string][]MessageRecord),
		SharedState:     make(map[string]any),
		ExecutorStates:  make(map[string]map[string]any),
		PendingRequests: make(map[string]PendingRequest),
		Version:         FormatVersion,
	}
}

// MessageRecord is one queued message awaiting delivery.
type MessageRecord struct {
	// SourceID is the executor that sent the message.
	SourceID string `json:"source_id"`

	// TargetID is the explicit delivery target, empty when the message
	// follows all outgoing edges of the source.
	TargetID string `json:"target_id,omitempty"`

	// Data is the marker-encoded payload.
	Data any `json:"data"`

	// DataType is the qualified name of the payload's type.
	DataType string `json:"data_type,omitempty"`
}

// PendingRequest records an outstanding request for external input. The type
// names let a resuming process validate responses before delivery.
type PendingRequest struct {
	// RequestID correlates the eventual response.
	RequestID string `json:"request_id"`

	// SourceExecutorID is the executor awaiting the response.
	SourceExecutorID string `json:"source_executor_id"`

	// RequestType is the qualified name of the payload's type.
	RequestType string `json:"request_type"`

	// ResponseType is the qualified name of the type a response must satisfy.
	ResponseType string `json:"response_type"`

	// Payload is the marker-encoded request payload.
	Payload any `json:"payload"`

	// CreatedAt is when the request was issued.
	CreatedAt time.Time `json:"created_at"`
}

// Storage persists checkpoints. Implementations must be safe for concurrent
// use; writers must not publish partially written snapshots.
type Storage interface {
	// Save persists the checkpoint and returns its id.
	Save(ctx context.Context, cp *Checkpoint) (string, error)

	// Load retrieves a checkpoint by id. Returns ErrNotFound when absent.
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// ListIDs returns checkpoint ids, filtered to workflowID when non-empty.
	ListIDs(ctx context.Context, workflowID string) ([]string, error)

	// List returns checkpoints, filtered to workflowID when non-empty.
	List(ctx context.Context, workflowID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint. Reports whether it existed.
	Delete(ctx context.Context, checkpointID string) (bool, error)
}
