package checkpoint

import (
	"sort"
	"time"
)

// Summary is the listing form of a checkpoint: enough to render a picker or
// audit trail without decoding payloads.
type Summary struct {
	// CheckpointID identifies the snapshot.
	CheckpointID string `json:"checkpoint_id"`

	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// IterationCount is the superstep count at snapshot time.
	IterationCount int `json:"iteration_count"`

	// QueuedMessages is the number of undelivered messages.
	QueuedMessages int `json:"queued_messages"`

	// PendingRequestIDs are the outstanding request ids, sorted.
	PendingRequestIDs []string `json:"pending_request_ids,omitempty"`

	// Status summarizes resumability: "awaiting_responses" when requests
	// are pending, "runnable" when messages are queued, "idle" otherwise.
	Status string `json:"status"`
}

// Summarize derives a Summary from a checkpoint.
func Summarize(cp *Checkpoint) Summary {
	queued := 0
	for _, records := range cp.Messages {
		queued += len(records)
	}
	var pending []string
	for id := range cp.PendingRequests {
		pending = append(pending, id)
	}
	sort.Strings(pending)

	status := "idle"
	switch {
	case len(pending) > 0:
		status = "awaiting_responses"
	case queued > 0:
		status = "runnable"
	}

	return Summary{
		CheckpointID:      cp.CheckpointID,
		WorkflowID:        cp.WorkflowID,
		Timestamp:         cp.Timestamp,
		IterationCount:    cp.IterationCount,
		QueuedMessages:    queued,
		PendingRequestIDs: pending,
		Status:            status,
	}
}
