package workflow

import (
	"context"
	"fmt"
	"reflect"
)

// Executor is a named node in the workflow graph: the unit of dispatch. Each
// executor advertises the message types its handlers accept; edges into it
// are validated against those types at build time and messages are gated at
// delivery time.
type Executor interface {
	// ID returns the executor's id, unique within a workflow.
	ID() string

	// InputTypes returns the union of the handlers' declared input types.
	InputTypes() []reflect.Type

	// OutputTypes returns the message types this executor may send. Used for
	// build-time edge validation; AnyType means dynamically determined.
	OutputTypes() []reflect.Type

	// Execute dispatches message to the most specific matching handler.
	Execute(ctx context.Context, message any, wc *WorkflowContext) error
}

// ExecutorFactory produces a fresh executor instance. Builders use factories
// to give every built workflow an isolated instance.
type ExecutorFactory func() Executor

// StateSnapshotter is implemented by executors that carry private state the
// runtime should persist in checkpoints, beyond what they store through
// WorkflowContext state APIs.
type StateSnapshotter interface {
	// SnapshotState returns the executor's serializable state.
	SnapshotState() (map[string]any, error)

	// RestoreState rehydrates the executor from a snapshot.
	RestoreState(state map[string]any) error
}

// HandlerFunc is the untyped handler form: it receives the delivered message
// and the per-invocation WorkflowContext.
type HandlerFunc func(ctx context.Context, message any, wc *WorkflowContext) error

type handlerEntry struct {
	inputType reflect.Type
	fn        HandlerFunc
}

// BaseExecutor provides the handler registry shared by all executor
// implementations. Embed it and register handlers in the constructor:
//
//	type Judge struct {
//	    *workflow.BaseExecutor
//	    target int
//	}
//
//	func NewJudge(id string, target int) *Judge {
//	    j := &Judge{BaseExecutor: workflow.NewBaseExecutor(id), target: target}
//	    workflow.RegisterHandler(j.BaseExecutor, j.judge)
//	    return j
//	}
type BaseExecutor struct {
	id          string
	handlers    []handlerEntry
	outputTypes []reflect.Type
}

// ExecutorOption configures a BaseExecutor.
type ExecutorOption func(*BaseExecutor)

// WithOutputTypes declares the message types the executor sends, enabling
// strict edge validation at build time.
func WithOutputTypes(types ...reflect.Type) ExecutorOption {
	return func(e *BaseExecutor) { e.outputTypes = types }
}

// NewBaseExecutor creates an executor shell with the given id and no
// handlers.
func NewBaseExecutor(id string, opts ...ExecutorOption) *BaseExecutor {
	e := &BaseExecutor{id: id}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID implements Executor.
func (e *BaseExecutor) ID() string { return e.id }

// InputTypes implements Executor.
func (e *BaseExecutor) InputTypes() []reflect.Type {
	types := make([]reflect.Type, 0, len(e.handlers))
	for _, h := range e.handlers {
		types = append(types, h.inputType)
	}
	return types
}

// OutputTypes implements Executor. Defaults to AnyType when not declared;
// delivery-time gating still applies.
func (e *BaseExecutor) OutputTypes() []reflect.Type {
	if len(e.outputTypes) == 0 {
		return []reflect.Type{AnyType}
	}
	return e.outputTypes
}

// RegisterHandler adds a typed handler to the executor. The input type is
// captured from the function signature; dispatch selects the most specific
// matching handler, with registration order breaking ties.
func RegisterHandler[T any](e *BaseExecutor, fn func(ctx context.Context, message T, wc *WorkflowContext) error) {
	inputType := TypeOf[T]()
	defaultRegistry.Add(inputType)
	e.handlers = append(e.handlers, handlerEntry{
		inputType: inputType,
		fn: func(ctx context.Context, message any, wc *WorkflowContext) error {
			typed, err := coerceMessage[T](message)
			if err != nil {
				return err
			}
			return fn(ctx, typed, wc)
		},
	})
}

// RegisterUntypedHandler adds a handler with an explicit input type, for
// callers that build handlers dynamically.
func (e *BaseExecutor) RegisterUntypedHandler(inputType reflect.Type, fn HandlerFunc) {
	defaultRegistry.Add(inputType)
	e.handlers = append(e.handlers, handlerEntry{inputType: inputType, fn: fn})
}

// coerceMessage converts the delivered message to the handler's parameter
// type. Direct assertion covers the common case; slice parameters are
// reconstructed element-wise because fan-in groups deliver []any.
func coerceMessage[T any](message any) (T, error) {
	if typed, ok := message.(T); ok {
		return typed, nil
	}
	var zero T
	if message == nil {
		return zero, nil
	}

	target := TypeOf[T]()
	mv := reflect.ValueOf(message)

	// Pointer-ness is erased across checkpoints; box or unbox to match the
	// handler's declaration.
	if target.Kind() == reflect.Pointer && mv.Type() == target.Elem() {
		boxed := reflect.New(target.Elem())
		boxed.Elem().Set(mv)
		return boxed.Interface().(T), nil
	}
	if mv.Kind() == reflect.Pointer && !mv.IsNil() && mv.Type().Elem() == target {
		return mv.Elem().Interface().(T), nil
	}

	if target.Kind() == reflect.Slice {
		if mv.Kind() == reflect.Slice || mv.Kind() == reflect.Array {
			out := reflect.MakeSlice(target, mv.Len(), mv.Len())
			for i := 0; i < mv.Len(); i++ {
				ev := mv.Index(i)
				if ev.Kind() == reflect.Interface {
					ev = ev.Elem()
				}
				if !ev.IsValid() || !ev.Type().AssignableTo(target.Elem()) {
					return zero, fmt.Errorf("%w: element %d is %v, want %v",
						ErrNoMatchingHandler, i, ev.Type(), target.Elem())
				}
				out.Index(i).Set(ev)
			}
			return out.Interface().(T), nil
		}
	}
	return zero, fmt.Errorf("%w: cannot deliver %T as %v", ErrNoMatchingHandler, message, target)
}

// Execute implements Executor: it selects the most specific handler matching
// the message, emits the invoked/completed/failed lifecycle events, and runs
// the handler.
func (e *BaseExecutor) Execute(ctx context.Context, message any, wc *WorkflowContext) error {
	h := e.selectHandler(message)
	if h == nil {
		err := fmt.Errorf("%w: executor %s has no handler for %T", ErrNoMatchingHandler, e.id, message)
		wc.runner.AddEvent(ExecutorFailedEvent{ExecutorID: e.id, Err: err})
		return err
	}

	wc.runner.AddEvent(ExecutorInvokedEvent{ExecutorID: e.id})
	if err := h.fn(ctx, message, wc); err != nil {
		wc.runner.AddEvent(ExecutorFailedEvent{ExecutorID: e.id, Err: err})
		return &ExecutorError{ExecutorID: e.id, Cause: err}
	}
	wc.runner.AddEvent(ExecutorCompletedEvent{ExecutorID: e.id})
	return nil
}

// CanHandle reports whether any handler accepts the message.
func (e *BaseExecutor) CanHandle(message any) bool {
	return e.selectHandler(message) != nil
}

func (e *BaseExecutor) selectHandler(message any) *handlerEntry {
	messageType := reflect.TypeOf(message)
	best := -1
	bestScore := -1
	for i, h := range e.handlers {
		if !IsInstanceOf(message, h.inputType) {
			continue
		}
		score := 0
		if messageType != nil {
			score = typeSpecificity(messageType, h.inputType)
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	return &e.handlers[best]
}

// NewFuncExecutor wraps a free function as a single-handler executor, the
// function form of registration.
func NewFuncExecutor[T any](id string, fn func(ctx context.Context, message T, wc *WorkflowContext) error, opts ...ExecutorOption) *BaseExecutor {
	e := NewBaseExecutor(id, opts...)
	RegisterHandler(e, fn)
	return e
}
