package workflow

import (
	"context"
	"reflect"

	"github.com/google/uuid"
)

// WorkflowContext is the per-invocation handle a handler uses to interact
// with the run: send messages, emit events, yield outputs, request external
// input, and touch shared or private state. A fresh context is created for
// every dispatch.
type WorkflowContext struct {
	executorID string
	workflowID string
	sourceIDs  []string
	runner     RunnerContext
	shared     *SharedState
}

// newWorkflowContext builds the context handed to one handler invocation.
func newWorkflowContext(executorID, workflowID string, sourceIDs []string, runner RunnerContext, shared *SharedState) *WorkflowContext {
	return &WorkflowContext{
		executorID: executorID,
		workflowID: workflowID,
		sourceIDs:  sourceIDs,
		runner:     runner,
		shared:     shared,
	}
}

// ExecutorID returns the id of the executor this context belongs to.
func (wc *WorkflowContext) ExecutorID() string { return wc.executorID }

// WorkflowID returns the id of the running workflow.
func (wc *WorkflowContext) WorkflowID() string { return wc.workflowID }

// SourceExecutorIDs returns the ids of the executors whose messages produced
// this invocation. Empty for the start executor's initial input.
func (wc *WorkflowContext) SourceExecutorIDs() []string { return wc.sourceIDs }

// SendOption configures SendMessage.
type SendOption func(*QueuedMessage)

// WithTarget restricts delivery to the edge reaching the given executor
// instead of all outgoing edges.
func WithTarget(executorID string) SendOption {
	return func(m *QueuedMessage) { m.TargetID = executorID }
}

// SendMessage enqueues a message for delivery in the next superstep along
// the executor's outgoing edges.
func (wc *WorkflowContext) SendMessage(data any, opts ...SendOption) error {
	msg := QueuedMessage{SourceID: wc.executorID, Data: data}
	for _, opt := range opts {
		opt(&msg)
	}
	wc.runner.SendMessage(msg)
	return nil
}

// AddEvent injects a user-defined event into the run's stream.
func (wc *WorkflowContext) AddEvent(event Event) {
	wc.runner.AddEvent(event)
}

// AddExecutorEvent injects an ExecutorEvent carrying data, attributed to this
// executor.
func (wc *WorkflowContext) AddExecutorEvent(data any) {
	wc.runner.AddEvent(ExecutorEvent{ExecutorID: wc.executorID, Data: data})
}

// YieldOutput records a workflow-level output. Outputs are collected into the
// run result; yielding does not terminate the run.
func (wc *WorkflowContext) YieldOutput(data any) {
	wc.runner.AddEvent(WorkflowOutputEvent{SourceExecutorID: wc.executorID, Data: data})
}

// RequestInfo registers a pending request for external input and emits a
// RequestInfoEvent. The handler continues; once the workflow quiesces it
// reports RunStateIdleWithPendingRequests and the caller resumes by
// supplying a response of responseType for the returned request id.
func (wc *WorkflowContext) RequestInfo(payload any, responseType reflect.Type) (string, error) {
	requestID := uuid.NewString()
	wc.runner.AddRequestInfoEvent(RequestInfoEvent{
		RequestID:        requestID,
		SourceExecutorID: wc.executorID,
		RequestType:      reflect.TypeOf(payload),
		ResponseType:     responseType,
		Data:             payload,
	})
	return requestID, nil
}

// GetSharedState returns the shared-state value for key.
func (wc *WorkflowContext) GetSharedState(key string) (any, bool) {
	return wc.shared.Get(key)
}

// SetSharedState writes a shared-state key as a single atomic update.
func (wc *WorkflowContext) SetSharedState(key string, value any) {
	wc.shared.Set(key, value)
}

// HoldSharedState grants fn exclusive shared-state access for composed
// read-modify-write sequences. Release the hold before returning from the
// handler; the callback form does this automatically.
func (wc *WorkflowContext) HoldSharedState(ctx context.Context, fn func(ctx context.Context, h *StateHold) error) error {
	return wc.shared.Hold(ctx, fn)
}

// GetState returns this executor's persistent state, or nil if none was set.
// The state survives checkpoints.
func (wc *WorkflowContext) GetState() map[string]any {
	return wc.runner.ExecutorState(wc.executorID)
}

// SetState replaces this executor's persistent state.
func (wc *WorkflowContext) SetState(state map[string]any) {
	wc.runner.SetExecutorState(wc.executorID, state)
}
