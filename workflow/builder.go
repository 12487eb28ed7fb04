package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow-go/workflow/checkpoint"
	"github.com/agentflow/agentflow-go/workflow/emit"
)

// WorkflowBuilder assembles a Workflow: executors, edges, the start
// executor, and run configuration. Build validates the graph and returns the
// immutable Workflow.
//
//	wf, err := workflow.NewBuilder().
//	    WithName("review-pipeline").
//	    SetStartExecutor(writer).
//	    AddEdge(writer, reviewer).
//	    Build()
type WorkflowBuilder struct {
	id      string
	name    string
	startID string

	executors map[string]Executor
	order     []string
	groups    []*EdgeGroup

	maxIterations  int
	handlerTimeout time.Duration
	autoCheckpoint bool

	storage checkpoint.Storage
	emitter emit.Emitter
	metrics *PrometheusMetrics

	errs []error
}

// NewBuilder creates an empty builder with a fresh workflow id.
func NewBuilder() *WorkflowBuilder {
	return &WorkflowBuilder{
		id:            uuid.NewString(),
		executors:     make(map[string]Executor),
		maxIterations: DefaultMaxIterations,
	}
}

// WithID overrides the generated workflow id.
func (b *WorkflowBuilder) WithID(id string) *WorkflowBuilder {
	b.id = id
	return b
}

// WithName sets the human-readable workflow name.
func (b *WorkflowBuilder) WithName(name string) *WorkflowBuilder {
	b.name = name
	return b
}

// WithMaxIterations caps the superstep count. The default is
// DefaultMaxIterations.
func (b *WorkflowBuilder) WithMaxIterations(n int) *WorkflowBuilder {
	b.maxIterations = n
	return b
}

// WithHandlerTimeout sets a soft per-handler timeout. Zero disables it.
func (b *WorkflowBuilder) WithHandlerTimeout(d time.Duration) *WorkflowBuilder {
	b.handlerTimeout = d
	return b
}

// WithCheckpointStorage configures where checkpoints are persisted.
func (b *WorkflowBuilder) WithCheckpointStorage(storage checkpoint.Storage) *WorkflowBuilder {
	b.storage = storage
	return b
}

// WithAutoCheckpoint checkpoints at every superstep boundary. Requires
// checkpoint storage.
func (b *WorkflowBuilder) WithAutoCheckpoint(enabled bool) *WorkflowBuilder {
	b.autoCheckpoint = enabled
	return b
}

// WithEmitter forwards run events to an observability emitter.
func (b *WorkflowBuilder) WithEmitter(emitter emit.Emitter) *WorkflowBuilder {
	b.emitter = emitter
	return b
}

// WithMetrics records run metrics to Prometheus.
func (b *WorkflowBuilder) WithMetrics(metrics *PrometheusMetrics) *WorkflowBuilder {
	b.metrics = metrics
	return b
}

// RegisterExecutor adds an executor to the graph. Registration is idempotent
// by id: registering the same id twice with a different instance is a build
// error. Accepts an Executor or an ExecutorFactory.
func (b *WorkflowBuilder) RegisterExecutor(e any) *WorkflowBuilder {
	var exec Executor
	switch v := e.(type) {
	case Executor:
		exec = v
	case ExecutorFactory:
		exec = v()
	case func() Executor:
		exec = v()
	default:
		b.errs = append(b.errs, &ValidationError{Reason: fmt.Sprintf("cannot register %T as an executor", e)})
		return b
	}

	if existing, ok := b.executors[exec.ID()]; ok {
		if existing != exec {
			b.errs = append(b.errs, &ValidationError{Reason: fmt.Sprintf("duplicate executor id %q", exec.ID())})
		}
		return b
	}
	b.executors[exec.ID()] = exec
	b.order = append(b.order, exec.ID())
	for _, t := range exec.InputTypes() {
		defaultRegistry.Add(t)
	}
	for _, t := range exec.OutputTypes() {
		defaultRegistry.Add(t)
	}
	return b
}

// SetStartExecutor marks the entry point, registering it if needed. Accepts
// an Executor or an executor id.
func (b *WorkflowBuilder) SetStartExecutor(e any) *WorkflowBuilder {
	switch v := e.(type) {
	case Executor:
		b.RegisterExecutor(v)
		b.startID = v.ID()
	case string:
		b.startID = v
	default:
		b.errs = append(b.errs, &ValidationError{Reason: fmt.Sprintf("cannot use %T as start executor", e)})
	}
	return b
}

// AddEdge connects source to target, optionally gated by a condition.
// Unregistered executors are registered on the way through.
func (b *WorkflowBuilder) AddEdge(source, target Executor, condition ...EdgeCondition) *WorkflowBuilder {
	b.RegisterExecutor(source)
	b.RegisterExecutor(target)
	var cond EdgeCondition
	if len(condition) > 0 {
		cond = condition[0]
	}
	b.groups = append(b.groups, newSingleEdgeGroup(source.ID(), target.ID(), cond))
	return b
}

// AddFanOutEdges connects source to every target; each message is delivered
// to all of them, or to the subset a selector picks.
func (b *WorkflowBuilder) AddFanOutEdges(source Executor, targets []Executor, selector ...FanOutSelector) *WorkflowBuilder {
	b.RegisterExecutor(source)
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		b.RegisterExecutor(t)
		ids = append(ids, t.ID())
	}
	var sel FanOutSelector
	if len(selector) > 0 {
		sel = selector[0]
	}
	b.groups = append(b.groups, newFanOutEdgeGroup(source.ID(), ids, sel))
	return b
}

// AddFanInEdges connects every source to target. The target receives one
// list-typed message collecting each source's contribution once all sources
// have contributed.
func (b *WorkflowBuilder) AddFanInEdges(sources []Executor, target Executor) *WorkflowBuilder {
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		b.RegisterExecutor(s)
		ids = append(ids, s.ID())
	}
	b.RegisterExecutor(target)
	b.groups = append(b.groups, newFanInEdgeGroup(ids, target.ID()))
	return b
}

// Build validates the graph and returns the immutable Workflow. Validation
// failures: no start executor, unknown ids, duplicate registrations, and
// edges whose message types no target handler accepts.
func (b *WorkflowBuilder) Build() (*Workflow, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if b.startID == "" {
		return nil, &ValidationError{Reason: "no start executor set"}
	}
	if _, ok := b.executors[b.startID]; !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("start executor %q is not registered", b.startID)}
	}
	for _, g := range b.groups {
		if err := validateEdgeGroup(g, b.executors); err != nil {
			return nil, err
		}
	}
	if b.maxIterations <= 0 {
		b.maxIterations = DefaultMaxIterations
	}

	executors := make(map[string]Executor, len(b.executors))
	for id, e := range b.executors {
		executors[id] = e
	}
	name := b.name
	if name == "" {
		name = "workflow-" + b.id
	}

	return &Workflow{
		id:             b.id,
		name:           name,
		startID:        b.startID,
		executors:      executors,
		groups:         append([]*EdgeGroup(nil), b.groups...),
		maxIterations:  b.maxIterations,
		handlerTimeout: b.handlerTimeout,
		autoCheckpoint: b.autoCheckpoint,
		storage:        b.storage,
		emitter:        b.emitter,
		metrics:        b.metrics,
		registry:       defaultRegistry,
	}, nil
}
