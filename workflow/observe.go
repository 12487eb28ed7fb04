package workflow

import (
	"fmt"
	"time"

	"github.com/agentflow/agentflow-go/workflow/emit"
)

// observe forwards a workflow event to the configured emitter and metrics.
// Observability failures never affect the run.
func (w *Workflow) observe(ev Event) {
	if w.metrics != nil {
		w.metrics.recordEvent(w.id, ev)
	}
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(w.toEmitEvent(ev))
}

// toEmitEvent flattens a workflow event into the emit package's record form.
func (w *Workflow) toEmitEvent(ev Event) emit.Event {
	out := emit.Event{
		WorkflowID: w.id,
		Origin:     string(ev.Source()),
	}
	if w.run != nil {
		out.Superstep = w.run.iteration
	}

	switch e := ev.(type) {
	case WorkflowStartedEvent:
		out.Type = "workflow_started"
	case WorkflowStatusEvent:
		out.Type = "status"
		out.Meta = map[string]any{"state": string(e.State)}
	case ExecutorInvokedEvent:
		out.Type = "executor_invoked"
		out.ExecutorID = e.ExecutorID
	case ExecutorCompletedEvent:
		out.Type = "executor_completed"
		out.ExecutorID = e.ExecutorID
	case ExecutorFailedEvent:
		out.Type = "executor_failed"
		out.ExecutorID = e.ExecutorID
		out.Meta = map[string]any{"error": e.Err.Error()}
	case WorkflowFailedEvent:
		out.Type = "workflow_failed"
		out.Meta = map[string]any{"error": e.Err.Error()}
	case WorkflowOutputEvent:
		out.Type = "workflow_output"
		out.ExecutorID = e.SourceExecutorID
	case AgentRunUpdateEvent:
		out.Type = "agent_run_update"
		out.ExecutorID = e.ExecutorID
		out.Meta = map[string]any{"response_id": e.ResponseID}
	case RequestInfoEvent:
		out.Type = "request_info"
		out.ExecutorID = e.SourceExecutorID
		out.Meta = map[string]any{
			"request_id":    e.RequestID,
			"request_type":  fmt.Sprintf("%v", e.RequestType),
			"response_type": fmt.Sprintf("%v", e.ResponseType),
		}
	case ExecutorEvent:
		out.Type = "executor_event"
		out.ExecutorID = e.ExecutorID
	default:
		out.Type = fmt.Sprintf("%T", ev)
	}
	return out
}

// recordSuperstep feeds scheduler-level metrics after each superstep.
func (w *Workflow) recordSuperstep(elapsed time.Duration, deliveries int) {
	if w.metrics == nil {
		return
	}
	w.metrics.recordSuperstep(w.id, elapsed, deliveries)
}
