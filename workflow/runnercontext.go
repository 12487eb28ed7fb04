package workflow

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentflow/agentflow-go/workflow/checkpoint"
)

// QueuedMessage is one entry in the per-run outbound queue, awaiting delivery
// in the next superstep.
type QueuedMessage struct {
	// SourceID is the executor that sent the message. The runner routes the
	// message along this executor's outgoing edges.
	SourceID string

	// TargetID restricts delivery to the edge reaching this executor. Empty
	// means all outgoing edges.
	TargetID string

	// Direct bypasses edge routing entirely and delivers straight to
	// TargetID. Used for request/response correlation.
	Direct bool

	// Data is the message payload.
	Data any

	// EnqueueIndex orders messages from the same source deterministically.
	EnqueueIndex int
}

// RunnerContext is the per-run ledger: the queue of messages to deliver next
// superstep, the events emitted so far, the pending external requests, and
// the per-executor state store. InProcRunnerContext is the process-local
// implementation.
type RunnerContext interface {
	// SendMessage enqueues a message for the next superstep.
	SendMessage(msg QueuedMessage)

	// AddEvent appends an event to the run's event queue.
	AddEvent(event Event)

	// DrainEvents returns and clears the queued events.
	DrainEvents() []Event

	// DrainMessages returns and clears the queued messages, in deterministic
	// (source id, enqueue index) order.
	DrainMessages() []QueuedMessage

	// HasMessages reports whether messages are queued.
	HasMessages() bool

	// AddRequestInfoEvent records a pending external request and queues its
	// announcement event.
	AddRequestInfoEvent(event RequestInfoEvent)

	// PendingRequests returns an immutable snapshot of outstanding requests
	// keyed by request id.
	PendingRequests() map[string]RequestInfoEvent

	// ResolveRequest removes and returns a pending request.
	ResolveRequest(requestID string) (RequestInfoEvent, bool)

	// ExecutorState returns the stored state for an executor, or nil.
	ExecutorState(executorID string) map[string]any

	// SetExecutorState replaces the stored state for an executor.
	SetExecutorState(executorID string, state map[string]any)
}

// InProcRunnerContext is the in-process RunnerContext. It additionally
// orchestrates checkpoint creation and rehydration against a
// checkpoint.Storage.
type InProcRunnerContext struct {
	mu             sync.Mutex
	messages       []QueuedMessage
	events         []Event
	pending        map[string]RequestInfoEvent
	pendingCreated map[string]time.Time
	executorStates map[string]map[string]any
	nextIndex      int

	storage  checkpoint.Storage
	registry *TypeRegistry
}

// NewInProcRunnerContext creates a runner context. Storage may be nil when
// checkpointing is not used.
func NewInProcRunnerContext(storage checkpoint.Storage) *InProcRunnerContext {
	return &InProcRunnerContext{
		pending:        make(map[string]RequestInfoEvent),
		pendingCreated: make(map[string]time.Time),
		executorStates: make(map[string]map[string]any),
		storage:        storage,
		registry:       defaultRegistry,
	}
}

// SendMessage enqueues a message for the next superstep.
func (rc *InProcRunnerContext) SendMessage(msg QueuedMessage) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	msg.EnqueueIndex = rc.nextIndex
	rc.nextIndex++
	rc.messages = append(rc.messages, msg)
}

// AddEvent appends an event to the run's event queue.
func (rc *InProcRunnerContext) AddEvent(event Event) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.events = append(rc.events, event)
}

// DrainEvents returns and clears the queued events.
func (rc *InProcRunnerContext) DrainEvents() []Event {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := rc.events
	rc.events = nil
	return out
}

// DrainMessages returns and clears the queued messages, sorted by source id
// and then by the global EnqueueIndex.
func (rc *InProcRunnerContext) DrainMessages() []QueuedMessage {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := rc.messages
	rc.messages = nil
	sortQueuedMessages(out)
	return out
}

// HasMessages reports whether messages are queued.
func (rc *InProcRunnerContext) HasMessages() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.messages) > 0
}

// AddRequestInfoEvent records a pending request and queues its event. The
// request and response types are registered so a later process hosting the
// same code can rehydrate them from a checkpoint.
func (rc *InProcRunnerContext) AddRequestInfoEvent(event RequestInfoEvent) {
	rc.registry.Add(event.RequestType)
	rc.registry.Add(event.ResponseType)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pending[event.RequestID] = event
	rc.pendingCreated[event.RequestID] = time.Now().UTC()
	rc.events = append(rc.events, event)
}

// PendingRequests returns a snapshot of outstanding requests.
func (rc *InProcRunnerContext) PendingRequests() map[string]RequestInfoEvent {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]RequestInfoEvent, len(rc.pending))
	for id, ev := range rc.pending {
		out[id] = ev
	}
	return out
}

// ResolveRequest removes and returns a pending request.
func (rc *InProcRunnerContext) ResolveRequest(requestID string) (RequestInfoEvent, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	ev, ok := rc.pending[requestID]
	if ok {
		delete(rc.pending, requestID)
		delete(rc.pendingCreated, requestID)
	}
	return ev, ok
}

// ExecutorState returns the stored state for an executor, or nil.
func (rc *InProcRunnerContext) ExecutorState(executorID string) map[string]any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	state, ok := rc.executorStates[executorID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// SetExecutorState replaces the stored state for an executor.
func (rc *InProcRunnerContext) SetExecutorState(executorID string, state map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	copied := make(map[string]any, len(state))
	for k, v := range state {
		copied[k] = v
	}
	rc.executorStates[executorID] = copied
}

// Reset clears all run state for a fresh run.
func (rc *InProcRunnerContext) Reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.messages = nil
	rc.events = nil
	rc.pending = make(map[string]RequestInfoEvent)
	rc.pendingCreated = make(map[string]time.Time)
	rc.executorStates = make(map[string]map[string]any)
	rc.nextIndex = 0
}

// CreateCheckpoint snapshots the queue, shared state, executor states, and
// pending requests into the configured storage and returns the checkpoint id.
func (rc *InProcRunnerContext) CreateCheckpoint(ctx context.Context, workflowID string, shared *SharedState, iterationCount, maxIterations int, metadata map[string]any, extra ...QueuedMessage) (string, error) {
	if rc.storage == nil {
		return "", fmt.Errorf("no checkpoint storage configured")
	}

	cp := checkpoint.New(workflowID)
	cp.IterationCount = iterationCount
	cp.MaxIterations = maxIterations
	cp.Metadata = metadata

	rc.mu.Lock()
	for _, msg := range append(append([]QueuedMessage(nil), rc.messages...), extra...) {
		cp.Messages[msg.SourceID] = append(cp.Messages[msg.SourceID], checkpoint.MessageRecord{
			SourceID: msg.SourceID,
			TargetID: msg.TargetID,
			Data:     EncodeCheckpointValue(msg.Data),
			DataType: typeNameOfValue(msg.Data),
		})
	}
	for id, state := range rc.executorStates {
		encoded := make(map[string]any, len(state))
		for k, v := range state {
			encoded[k] = EncodeCheckpointValue(v)
		}
		cp.ExecutorStates[id] = encoded
	}
	for id, ev := range rc.pending {
		cp.PendingRequests[id] = checkpoint.PendingRequest{
			RequestID:        id,
			SourceExecutorID: ev.SourceExecutorID,
			RequestType:      qualifiedTypeName(ev.RequestType),
			ResponseType:     typeNameForResolution(ev.ResponseType),
			Payload:          EncodeCheckpointValue(ev.Data),
			CreatedAt:        rc.pendingCreated[id],
		}
	}
	rc.mu.Unlock()

	if shared != nil {
		for k, v := range shared.Snapshot() {
			cp.SharedState[k] = EncodeCheckpointValue(v)
		}
	}

	return rc.storage.Save(ctx, cp)
}

// LoadCheckpoint retrieves a checkpoint from the configured storage.
func (rc *InProcRunnerContext) LoadCheckpoint(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	if rc.storage == nil {
		return nil, fmt.Errorf("no checkpoint storage configured")
	}
	return rc.storage.Load(ctx, checkpointID)
}

// ApplyCheckpoint rehydrates the runner from a checkpoint: message queue,
// executor states, pending requests, and (when shared is non-nil) the shared
// state. Every pending request's declared types must resolve in this process;
// a caller cannot meaningfully respond to a request whose type is unknown, so
// failure to resolve is fatal.
func (rc *InProcRunnerContext) ApplyCheckpoint(cp *checkpoint.Checkpoint, shared *SharedState) error {
	// Validate before mutating anything.
	type restoredRequest struct {
		event   RequestInfoEvent
		created time.Time
	}
	restored := make(map[string]restoredRequest, len(cp.PendingRequests))
	for id, pr := range cp.PendingRequests {
		payload, err := decodeTypedPayload(pr.Payload, pr.RequestType, rc.registry)
		if err != nil {
			return fmt.Errorf("pending request %s: %w", id, err)
		}
		respType := resolveTypeName(pr.ResponseType, rc.registry)
		if respType == nil {
			return fmt.Errorf("%w: response type %q for request %s is not resolvable", ErrCheckpointDecode, pr.ResponseType, id)
		}
		restored[id] = restoredRequest{
			event: RequestInfoEvent{
				RequestID:        id,
				SourceExecutorID: pr.SourceExecutorID,
				RequestType:      reflect.TypeOf(payload),
				ResponseType:     respType,
				Data:             payload,
			},
			created: pr.CreatedAt,
		}
	}

	rc.mu.Lock()
	rc.messages = nil
	rc.nextIndex = 0
	for _, records := range cp.Messages {
		for _, record := range records {
			rc.messages = append(rc.messages, QueuedMessage{
				SourceID:     record.SourceID,
				TargetID:     record.TargetID,
				Data:         decodeValue(record.Data, rc.registry),
				EnqueueIndex: rc.nextIndex,
			})
			rc.nextIndex++
		}
	}
	sortQueuedMessages(rc.messages)

	rc.executorStates = make(map[string]map[string]any, len(cp.ExecutorStates))
	for id, state := range cp.ExecutorStates {
		decoded := make(map[string]any, len(state))
		for k, v := range state {
			decoded[k] = decodeValue(v, rc.registry)
		}
		rc.executorStates[id] = decoded
	}

	rc.pending = make(map[string]RequestInfoEvent, len(restored))
	rc.pendingCreated = make(map[string]time.Time, len(restored))
	for id, r := range restored {
		rc.pending[id] = r.event
		rc.pendingCreated[id] = r.created
	}
	rc.events = nil
	rc.mu.Unlock()

	if shared != nil {
		decoded := make(map[string]any, len(cp.SharedState))
		for k, v := range cp.SharedState {
			decoded[k] = decodeValue(v, rc.registry)
		}
		shared.Restore(decoded)
	}
	return nil
}

func typeNameOfValue(v any) string {
	if v == nil {
		return ""
	}
	return typeNameForResolution(reflect.TypeOf(v))
}

// typeNameForResolution names a type so resolveTypeName can map it back.
// Registered structs use their qualified name; everything else uses the
// reflect string form, which covers primitives and their slices.
func typeNameForResolution(t reflect.Type) string {
	if t == nil {
		return ""
	}
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() == reflect.Struct && base.Name() != "" {
		return qualifiedTypeName(base)
	}
	return t.String()
}

// resolveTypeName maps a stored type name back to a reflect.Type: primitives
// and their composites natively, struct names through the registry.
func resolveTypeName(name string, reg *TypeRegistry) reflect.Type {
	switch name {
	case "string":
		return TypeOf[string]()
	case "bool":
		return TypeOf[bool]()
	case "int":
		return TypeOf[int]()
	case "int64":
		return TypeOf[int64]()
	case "float64":
		return TypeOf[float64]()
	case "interface {}":
		return AnyType
	case "map[string]interface {}":
		return TypeOf[map[string]any]()
	}
	if elem, ok := strings.CutPrefix(name, "[]"); ok {
		if et := resolveTypeName(elem, reg); et != nil {
			return reflect.SliceOf(et)
		}
		return nil
	}
	return reg.Resolve(name)
}

func sortQueuedMessages(msgs []QueuedMessage) {
	// Deterministic delivery order: source id first, then enqueue index.
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SourceID != msgs[j].SourceID {
			return msgs[i].SourceID < msgs[j].SourceID
		}
		return msgs[i].EnqueueIndex < msgs[j].EnqueueIndex
	})
}
