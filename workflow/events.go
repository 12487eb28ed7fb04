package workflow

import "reflect"

// EventSource tags who emitted an event: the runner itself or code inside a
// handler. Consumers use it to separate lifecycle events from data-plane
// events without inspecting concrete types.
type EventSource string

// Event origins.
const (
	// SourceFramework marks events emitted by the runner: lifecycle, status
	// transitions, executor invocation bookkeeping.
	SourceFramework EventSource = "FRAMEWORK"

	// SourceExecutor marks events emitted from inside a handler: outputs,
	// streaming updates, requests for external input, user-defined events.
	SourceExecutor EventSource = "EXECUTOR"
)

// RunState enumerates the run-status values a workflow reports. Within a
// single Run or RunStream invocation, transitions are strictly one-way:
// in-progress states precede terminal states, and a terminal state ends the
// invocation. Resumption is a fresh invocation.
type RunState string

// Run states.
const (
	// RunStateInProgress: supersteps are executing and messages are pending.
	RunStateInProgress RunState = "IN_PROGRESS"

	// RunStateInProgressPendingRequests: supersteps continue while at least
	// one request for external input is outstanding.
	RunStateInProgressPendingRequests RunState = "IN_PROGRESS_PENDING_REQUESTS"

	// RunStateIdle: the workflow quiesced with nothing pending. Terminal.
	RunStateIdle RunState = "IDLE"

	// RunStateIdleWithPendingRequests: the workflow quiesced but external
	// responses are awaited. Terminal for this invocation; the caller
	// resumes by supplying responses.
	RunStateIdleWithPendingRequests RunState = "IDLE_WITH_PENDING_REQUESTS"

	// RunStateFailed: a handler or the runner failed. Terminal.
	RunStateFailed RunState = "FAILED"
)

// Event is the sum type streamed from a running workflow. Consumers switch on
// the concrete type; Source distinguishes runner lifecycle events from
// handler-emitted data.
type Event interface {
	// Source reports who emitted the event.
	Source() EventSource
}

// WorkflowStartedEvent is emitted once when a run begins.
type WorkflowStartedEvent struct{}

// Source implements Event.
func (WorkflowStartedEvent) Source() EventSource { return SourceFramework }

// WorkflowStatusEvent reports a run-state transition.
type WorkflowStatusEvent struct {
	// State is the new run state.
	State RunState
}

// Source implements Event.
func (WorkflowStatusEvent) Source() EventSource { return SourceFramework }

// ExecutorInvokedEvent is emitted just before a handler runs.
type ExecutorInvokedEvent struct {
	// ExecutorID is the executor being dispatched to.
	ExecutorID string
}

// Source implements Event.
func (ExecutorInvokedEvent) Source() EventSource { return SourceFramework }

// ExecutorCompletedEvent is emitted after a handler returns without error.
type ExecutorCompletedEvent struct {
	// ExecutorID is the executor that completed.
	ExecutorID string
}

// Source implements Event.
func (ExecutorCompletedEvent) Source() EventSource { return SourceFramework }

// ExecutorFailedEvent is emitted when a handler returns an error or no
// handler matches the delivered message.
type ExecutorFailedEvent struct {
	// ExecutorID is the executor that failed.
	ExecutorID string

	// Err is the failure.
	Err error
}

// Source implements Event.
func (ExecutorFailedEvent) Source() EventSource { return SourceFramework }

// WorkflowFailedEvent is the terminal event of a failed run.
type WorkflowFailedEvent struct {
	// Err is the failure that ended the run.
	Err error
}

// Source implements Event.
func (WorkflowFailedEvent) Source() EventSource { return SourceFramework }

// WorkflowOutputEvent carries a value a handler yielded as workflow-level
// output. Outputs are collected; they do not terminate the run.
type WorkflowOutputEvent struct {
	// SourceExecutorID is the executor that yielded the output.
	SourceExecutorID string

	// Data is the yielded value.
	Data any
}

// Source implements Event.
func (WorkflowOutputEvent) Source() EventSource { return SourceExecutor }

// AgentRunUpdateEvent is a streaming chunk of assistant output from an
// agent-backed executor. Updates sharing a ResponseID belong to the same
// agent invocation.
type AgentRunUpdateEvent struct {
	// ExecutorID is the agent executor producing the stream.
	ExecutorID string

	// ResponseID groups updates of one agent invocation.
	ResponseID string

	// Update is the incremental content.
	Update *AgentRunUpdate
}

// Source implements Event.
func (AgentRunUpdateEvent) Source() EventSource { return SourceExecutor }

// RequestInfoEvent announces that an executor needs external input. The
// workflow quiesces into RunStateIdleWithPendingRequests until the caller
// supplies a response for RequestID.
type RequestInfoEvent struct {
	// RequestID correlates the eventual response.
	RequestID string

	// SourceExecutorID is the executor that issued the request. The response
	// is delivered to this executor's response handler.
	SourceExecutorID string

	// RequestType is the type of Data.
	RequestType reflect.Type

	// ResponseType is the type a response must satisfy.
	ResponseType reflect.Type

	// Data is the request payload.
	Data any
}

// Source implements Event.
func (RequestInfoEvent) Source() EventSource { return SourceExecutor }

// ExecutorEvent is a user-defined event injected by a handler via
// WorkflowContext.AddEvent.
type ExecutorEvent struct {
	// ExecutorID is the emitting executor.
	ExecutorID string

	// Data is the application payload.
	Data any
}

// Source implements Event.
func (ExecutorEvent) Source() EventSource { return SourceExecutor }
