package workflow

import (
	"context"
	"fmt"
)

// SubWorkflowEvent wraps an event forwarded from a child workflow into the
// parent's stream, annotated with the sub-workflow executor's id.
type SubWorkflowEvent struct {
	// ExecutorID is the sub-workflow executor hosting the child.
	ExecutorID string

	// Event is the child's event.
	Event Event
}

// Source implements Event.
func (SubWorkflowEvent) Source() EventSource { return SourceExecutor }

// WorkflowExecutor embeds a child workflow as an executor. Inbound messages
// start a nested run; the child's events are forwarded (wrapped in
// SubWorkflowEvent), its outputs are re-sent as this executor's outbound
// messages, and its pending requests propagate up to the parent. Responses
// addressed to this executor are forwarded back down. The child's shared
// state is isolated from the parent's.
type WorkflowExecutor struct {
	*BaseExecutor
	child *Workflow
}

// NewWorkflowExecutor wraps child as an executor with the given id.
func NewWorkflowExecutor(id string, child *Workflow) *WorkflowExecutor {
	e := &WorkflowExecutor{
		BaseExecutor: NewBaseExecutor(id),
		child:        child,
	}
	RegisterHandler(e.BaseExecutor, e.handleResponse)
	RegisterHandler(e.BaseExecutor, e.handleInput)
	return e
}

// Child returns the embedded workflow.
func (e *WorkflowExecutor) Child() *Workflow { return e.child }

func (e *WorkflowExecutor) handleInput(ctx context.Context, message any, wc *WorkflowContext) error {
	return e.pump(e.child.RunStream(ctx, message), wc)
}

func (e *WorkflowExecutor) handleResponse(ctx context.Context, resp *RequestResponse, wc *WorkflowContext) error {
	return e.pump(e.child.SendResponsesStream(ctx, map[string]any{resp.RequestID: resp.Data}), wc)
}

// pump drains a child run, forwarding events into the parent until the
// child quiesces. A child failure fails this executor's invocation.
func (e *WorkflowExecutor) pump(events <-chan Event, wc *WorkflowContext) error {
	var failure error
	for ev := range events {
		switch child := ev.(type) {
		case WorkflowOutputEvent:
			if err := wc.SendMessage(child.Data); err != nil {
				return err
			}
		case RequestInfoEvent:
			// Re-register upward under the same request id so the caller's
			// response finds its way back through this executor.
			wc.runner.AddRequestInfoEvent(RequestInfoEvent{
				RequestID:        child.RequestID,
				SourceExecutorID: e.ID(),
				RequestType:      child.RequestType,
				ResponseType:     child.ResponseType,
				Data:             child.Data,
			})
		case WorkflowFailedEvent:
			failure = child.Err
		default:
			wc.AddEvent(SubWorkflowEvent{ExecutorID: e.ID(), Event: ev})
		}
	}
	if failure != nil {
		return fmt.Errorf("sub-workflow %s: %w", e.child.ID(), failure)
	}
	return nil
}
