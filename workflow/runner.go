package workflow

import (
	"context"
	"fmt"
	"time"
)

// runLoop is the superstep scheduler. Each iteration drains the queued
// message snapshot, routes it through the edge groups, dispatches the ready
// deliveries sequentially in deterministic (source id, enqueue index) order,
// forwards emitted events, and decides the next run state. Messages enqueued
// during a superstep are deferred to the next one.
//
// The caller owns w.mu for the duration.
func (w *Workflow) runLoop(ctx context.Context, st *runState, forward func(Event)) error {
	emitEvent := func(ev Event) {
		w.observe(ev)
		forward(ev)
	}
	emitStatus := func(state RunState) {
		if n := len(st.timeline); n > 0 && st.timeline[n-1] == state {
			return
		}
		st.timeline = append(st.timeline, state)
		emitEvent(WorkflowStatusEvent{State: state})
	}
	fail := func(err error) error {
		emitEvent(WorkflowFailedEvent{Err: err})
		emitStatus(RunStateFailed)
		st.final = RunStateFailed
		return err
	}

	if !st.started {
		st.started = true
		emitEvent(WorkflowStartedEvent{})
	}
	if len(st.rc.PendingRequests()) > 0 {
		emitStatus(RunStateInProgressPendingRequests)
	} else {
		emitStatus(RunStateInProgress)
	}

	for {
		msgs := st.rc.DrainMessages()
		if len(msgs) == 0 {
			break
		}
		if st.iteration >= w.maxIterations {
			return fail(fmt.Errorf("%w: %d supersteps (cap %d)", ErrMaxIterations, st.iteration, w.maxIterations))
		}

		started := time.Now()
		deliveries := w.route(st, msgs)
		for _, d := range deliveries {
			if err := ctx.Err(); err != nil {
				w.drainInto(st, emitEvent)
				return fail(fmt.Errorf("%w: %v", ErrCancelled, err))
			}
			if err := w.dispatch(ctx, st, d); err != nil {
				w.drainInto(st, emitEvent)
				return fail(err)
			}
			w.drainInto(st, emitEvent)
		}
		st.iteration++
		w.recordSuperstep(time.Since(started), len(deliveries))

		if w.autoCheckpoint && w.storage != nil {
			if _, err := w.checkpointLocked(ctx, nil); err != nil {
				return fail(fmt.Errorf("superstep checkpoint: %w", err))
			}
		}

		pending := len(st.rc.PendingRequests()) > 0
		if st.rc.HasMessages() {
			if pending {
				emitStatus(RunStateInProgressPendingRequests)
			} else {
				emitStatus(RunStateInProgress)
			}
			continue
		}
		if pending {
			emitStatus(RunStateInProgressPendingRequests)
		}
		break
	}

	if len(st.rc.PendingRequests()) > 0 {
		emitStatus(RunStateIdleWithPendingRequests)
		st.final = RunStateIdleWithPendingRequests
	} else {
		emitStatus(RunStateIdle)
		st.final = RunStateIdle
	}
	return nil
}

// route turns the drained snapshot into ready deliveries. Direct messages
// bypass edges; everything else flows through the edge groups in
// registration order, with fan-in groups buffering until complete.
func (w *Workflow) route(st *runState, msgs []QueuedMessage) []delivery {
	sortQueuedMessages(msgs)

	var out []delivery
	for _, msg := range msgs {
		if msg.Direct {
			out = append(out, delivery{
				targetID:  msg.TargetID,
				data:      msg.Data,
				sourceIDs: []string{msg.SourceID},
			})
			continue
		}
		for idx, g := range w.groups {
			if !g.hasSource(msg.SourceID) {
				continue
			}
			if g.kind == groupFanIn {
				fs, ok := st.fanIn[idx]
				if !ok {
					fs = newFanInState()
					st.fanIn[idx] = fs
				}
				out = append(out, g.route(msg, fs)...)
				continue
			}
			out = append(out, g.route(msg, nil)...)
		}
	}
	return out
}

// dispatch runs one delivery: type-gates the message against the target,
// builds a fresh WorkflowContext, and executes the selected handler with the
// configured soft timeout.
func (w *Workflow) dispatch(ctx context.Context, st *runState, d delivery) error {
	exec, ok := w.executors[d.targetID]
	if !ok {
		return fmt.Errorf("%w: unknown executor %q", ErrGraphValidation, d.targetID)
	}

	wc := newWorkflowContext(d.targetID, w.id, d.sourceIDs, st.rc, st.shared)

	hctx := ctx
	if w.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.handlerTimeout)
		defer cancel()
	}
	return exec.Execute(hctx, d.data, wc)
}

// drainInto forwards events queued in the runner context. Events from a
// single handler stay in emission order.
func (w *Workflow) drainInto(st *runState, emitEvent func(Event)) {
	for _, ev := range st.rc.DrainEvents() {
		emitEvent(ev)
	}
}
