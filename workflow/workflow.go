package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentflow/agentflow-go/workflow/checkpoint"
	"github.com/agentflow/agentflow-go/workflow/emit"
)

// DefaultMaxIterations caps supersteps when no explicit cap is configured.
// Cyclic graphs are legal; the cap is the termination guarantee.
const DefaultMaxIterations = 100

// Workflow is an immutable graph of executors connected by edges, built by a
// WorkflowBuilder. Run-scoped state lives in the run ledger, never on the
// graph itself; the same Workflow value can be run repeatedly, one run at a
// time.
type Workflow struct {
	id      string
	name    string
	startID string

	executors map[string]Executor
	groups    []*EdgeGroup

	maxIterations  int
	handlerTimeout time.Duration
	autoCheckpoint bool

	storage  checkpoint.Storage
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	registry *TypeRegistry

	mu  sync.Mutex
	run *runState
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Name returns the human-readable workflow name.
func (w *Workflow) Name() string { return w.name }

// StartExecutorID returns the entry-point executor id.
func (w *Workflow) StartExecutorID() string { return w.startID }

// runState is the mutable ledger of one run, kept between invocations so
// SendResponses and Resume can continue where the previous invocation
// quiesced.
type runState struct {
	rc        *InProcRunnerContext
	shared    *SharedState
	fanIn     map[int]*fanInState
	iteration int
	started   bool

	timeline []RunState
	final    RunState
}

func (w *Workflow) newRunState() *runState {
	return &runState{
		rc:     NewInProcRunnerContext(w.storage),
		shared: NewSharedState(),
		fanIn:  make(map[int]*fanInState),
	}
}

// RunResult is the outcome of a blocking run: every event observed, the
// status timeline, and the terminal state. Outputs yielded before a failure
// are preserved.
type RunResult struct {
	// WorkflowID identifies the workflow that ran.
	WorkflowID string

	// Events are all events in stream order.
	Events []Event

	// StatusTimeline is the sequence of run states reported.
	StatusTimeline []RunState

	// FinalState is the terminal state of this invocation.
	FinalState RunState

	// PendingRequests are the requests outstanding at quiescence.
	PendingRequests []RequestInfoEvent
}

// Outputs returns the values yielded via WorkflowContext.YieldOutput, in
// emission order.
func (r *RunResult) Outputs() []any {
	var out []any
	for _, ev := range r.Events {
		if oe, ok := ev.(WorkflowOutputEvent); ok {
			out = append(out, oe.Data)
		}
	}
	return out
}

// Run executes the workflow to quiescence with the given input delivered to
// the start executor. It blocks until the run is idle, idle with pending
// requests, or failed. On failure the error is returned alongside the
// partial result.
func (w *Workflow) Run(ctx context.Context, input any) (*RunResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.newRunState()
	w.run = st
	st.rc.SendMessage(QueuedMessage{TargetID: w.startID, Direct: true, Data: input})
	return w.collect(ctx, st)
}

// RunStream executes the workflow like Run but delivers events as they are
// emitted. The returned channel closes when the run reaches a terminal
// state; a failure surfaces as a WorkflowFailedEvent followed by a FAILED
// status before the close.
func (w *Workflow) RunStream(ctx context.Context, input any) <-chan Event {
	w.mu.Lock()
	st := w.newRunState()
	w.run = st
	st.rc.SendMessage(QueuedMessage{TargetID: w.startID, Direct: true, Data: input})
	return w.stream(ctx, st)
}

// SendResponses resumes a run that quiesced with pending requests by
// supplying responses keyed by request id, then continues to the next
// quiescence. Every response is validated against its request's declared
// response type before any state changes; unknown ids and type mismatches
// reject the whole call.
func (w *Workflow) SendResponses(ctx context.Context, responses map[string]any) (*RunResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, err := w.injectResponses(responses)
	if err != nil {
		return nil, err
	}
	return w.collect(ctx, st)
}

// SendResponsesStream is SendResponses with streaming delivery of events.
// Validation errors are reported through the stream as a failure.
func (w *Workflow) SendResponsesStream(ctx context.Context, responses map[string]any) <-chan Event {
	w.mu.Lock()
	st, err := w.injectResponses(responses)
	if err != nil {
		w.mu.Unlock()
		out := make(chan Event, 1)
		out <- WorkflowFailedEvent{Err: err}
		close(out)
		return out
	}
	return w.stream(ctx, st)
}

// injectResponses validates and enqueues responses. Caller holds w.mu.
func (w *Workflow) injectResponses(responses map[string]any) (*runState, error) {
	st := w.run
	if st == nil {
		return nil, ErrWorkflowNotStarted
	}

	pending := st.rc.PendingRequests()
	for id, value := range responses {
		ev, ok := pending[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRequestID, id)
		}
		if !IsInstanceOf(value, ev.ResponseType) {
			return nil, fmt.Errorf("%w: request %s expects %v, got %T",
				ErrResponseTypeMismatch, id, ev.ResponseType, value)
		}
	}

	for _, id := range sortedKeys(responses) {
		ev, _ := st.rc.ResolveRequest(id)
		st.rc.SendMessage(QueuedMessage{
			TargetID: ev.SourceExecutorID,
			Direct:   true,
			Data: &RequestResponse{
				RequestID:       id,
				Data:            responses[id],
				OriginalRequest: ev.Data,
			},
		})
	}
	return st, nil
}

// Resume continues a run rehydrated by ApplyCheckpoint (or one that quiesced
// earlier) until the next quiescence.
func (w *Workflow) Resume(ctx context.Context) (*RunResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run == nil {
		return nil, ErrWorkflowNotStarted
	}
	return w.collect(ctx, w.run)
}

// CreateCheckpoint snapshots the current run into the configured storage and
// returns the checkpoint id. Buffered fan-in contributions are persisted as
// undelivered messages so a resuming process re-accumulates them.
func (w *Workflow) CreateCheckpoint(ctx context.Context, metadata map[string]any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run == nil {
		return "", ErrWorkflowNotStarted
	}
	return w.checkpointLocked(ctx, metadata)
}

func (w *Workflow) checkpointLocked(ctx context.Context, metadata map[string]any) (string, error) {
	st := w.run
	var extra []QueuedMessage
	for idx, fs := range st.fanIn {
		target := w.groups[idx].edges[0].TargetID
		for src, data := range fs.buffered {
			extra = append(extra, QueuedMessage{SourceID: src, TargetID: target, Data: data})
		}
	}
	return st.rc.CreateCheckpoint(ctx, w.id, st.shared, st.iteration, w.maxIterations, metadata, extra...)
}

// ApplyCheckpoint rehydrates the workflow from a stored checkpoint: message
// queue, shared state, executor states, pending requests, and iteration
// count. Pending-request types that cannot be resolved in this process make
// the checkpoint unusable and fail the call.
func (w *Workflow) ApplyCheckpoint(ctx context.Context, checkpointID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.newRunState()
	cp, err := st.rc.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	if err := st.rc.ApplyCheckpoint(cp, st.shared); err != nil {
		return err
	}
	st.iteration = cp.IterationCount
	st.started = true

	for id, exec := range w.executors {
		if snap, ok := exec.(StateSnapshotter); ok {
			if state := st.rc.ExecutorState(id); state != nil {
				if err := snap.RestoreState(state); err != nil {
					return fmt.Errorf("restore executor %s: %w", id, err)
				}
			}
		}
	}

	w.run = st
	return nil
}

// collect drives the run loop to a terminal state, buffering events into a
// RunResult. Caller holds w.mu.
func (w *Workflow) collect(ctx context.Context, st *runState) (*RunResult, error) {
	var events []Event
	err := w.runLoop(ctx, st, func(ev Event) {
		events = append(events, ev)
	})
	result := w.buildResult(st, events)
	if err != nil {
		return result, err
	}
	return result, nil
}

// stream drives the run loop in a goroutine, forwarding events to the
// returned channel. Caller holds w.mu; it is released when the run ends.
func (w *Workflow) stream(ctx context.Context, st *runState) <-chan Event {
	out := make(chan Event)
	go func() {
		defer w.mu.Unlock()
		defer close(out)
		_ = w.runLoop(ctx, st, func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return out
}

func (w *Workflow) buildResult(st *runState, events []Event) *RunResult {
	var pending []RequestInfoEvent
	for _, ev := range st.rc.PendingRequests() {
		pending = append(pending, ev)
	}
	return &RunResult{
		WorkflowID:      w.id,
		Events:          events,
		StatusTimeline:  append([]RunState(nil), st.timeline...),
		FinalState:      st.final,
		PendingRequests: pending,
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
