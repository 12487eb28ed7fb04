package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// failingExecutor raises at runtime to test failure signaling.
func newFailingExecutor(id string) *BaseExecutor {
	return NewFuncExecutor(id, func(context.Context, int, *WorkflowContext) error {
		return errors.New("boom")
	})
}

func collectEvents(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func statusStates(events []Event) []RunState {
	var states []RunState
	for _, ev := range events {
		if se, ok := ev.(WorkflowStatusEvent); ok {
			states = append(states, se.State)
		}
	}
	return states
}

func TestRunStream_ExecutorAndWorkflowFailedEvents(t *testing.T) {
	wf, err := NewBuilder().SetStartExecutor(newFailingExecutor("f")).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	events := collectEvents(wf.RunStream(context.Background(), 0))

	var failed []ExecutorFailedEvent
	var wfFailed []WorkflowFailedEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case ExecutorFailedEvent:
			failed = append(failed, e)
		case WorkflowFailedEvent:
			wfFailed = append(wfFailed, e)
		}
	}
	if len(failed) == 0 {
		t.Error("expected an ExecutorFailedEvent")
	}
	if len(wfFailed) == 0 {
		t.Error("expected a WorkflowFailedEvent")
	}
	for _, e := range failed {
		if e.Source() != SourceFramework {
			t.Errorf("ExecutorFailedEvent origin = %v, want FRAMEWORK", e.Source())
		}
	}

	states := statusStates(events)
	if len(states) == 0 || states[len(states)-1] != RunStateFailed {
		t.Errorf("status timeline = %v, want FAILED last", states)
	}
}

func TestRun_FailureReturnsErrorWithPartialResult(t *testing.T) {
	wf, err := NewBuilder().SetStartExecutor(newFailingExecutor("f")).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), 7)
	if err == nil {
		t.Fatal("expected run error")
	}
	var execErr *ExecutorError
	if !errors.As(err, &execErr) || execErr.ExecutorID != "f" {
		t.Errorf("error = %v, want ExecutorError from f", err)
	}
	if result == nil || result.FinalState != RunStateFailed {
		t.Errorf("result = %+v, want FAILED final state", result)
	}
}

func TestExecute_DirectEmitsExecutorFailedEvent(t *testing.T) {
	failing := newFailingExecutor("f")
	rc := NewInProcRunnerContext(nil)
	wc := newWorkflowContext("f", "wf", []string{"START"}, rc, NewSharedState())

	if err := failing.Execute(context.Background(), 0, wc); err == nil {
		t.Fatal("expected execution error")
	}

	var sawFailed bool
	for _, ev := range rc.DrainEvents() {
		if fe, ok := ev.(ExecutorFailedEvent); ok {
			sawFailed = true
			if fe.Source() != SourceFramework {
				t.Errorf("origin = %v, want FRAMEWORK", fe.Source())
			}
		}
	}
	if !sawFailed {
		t.Error("expected ExecutorFailedEvent on direct execute")
	}
}

func TestRunStream_IdleWithPendingRequestsStatusOrder(t *testing.T) {
	simple := NewFuncExecutor("simple", func(_ context.Context, msg string, wc *WorkflowContext) error {
		return wc.SendMessage(msg)
	})
	requester := NewFuncExecutor("req", func(_ context.Context, _ string, wc *WorkflowContext) error {
		_, err := wc.RequestInfo("mock request data", TypeOf[string]())
		return err
	})

	wf, err := NewBuilder().SetStartExecutor(simple).AddEdge(simple, requester).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	events := collectEvents(wf.RunStream(context.Background(), "start"))

	var sawRequest bool
	for _, ev := range events {
		if _, ok := ev.(RequestInfoEvent); ok {
			sawRequest = true
		}
	}
	if !sawRequest {
		t.Fatal("expected a RequestInfoEvent")
	}

	states := statusStates(events)
	if len(states) < 3 {
		t.Fatalf("expected at least 3 status events, got %v", states)
	}
	if states[len(states)-2] != RunStateInProgressPendingRequests {
		t.Errorf("second-to-last status = %v, want IN_PROGRESS_PENDING_REQUESTS", states[len(states)-2])
	}
	if states[len(states)-1] != RunStateIdleWithPendingRequests {
		t.Errorf("last status = %v, want IDLE_WITH_PENDING_REQUESTS", states[len(states)-1])
	}
}

func TestRunStream_CompletedStatus(t *testing.T) {
	completer := NewFuncExecutor("c", func(_ context.Context, msg string, wc *WorkflowContext) error {
		wc.YieldOutput(msg)
		return nil
	})
	wf, err := NewBuilder().SetStartExecutor(completer).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	events := collectEvents(wf.RunStream(context.Background(), "ok"))
	states := statusStates(events)
	if len(states) == 0 || states[len(states)-1] != RunStateIdle {
		t.Errorf("status timeline = %v, want IDLE last", states)
	}
	for _, ev := range events {
		if se, ok := ev.(WorkflowStatusEvent); ok && se.Source() != SourceFramework {
			t.Errorf("status origin = %v, want FRAMEWORK", se.Source())
		}
	}
}

func TestRunStream_StartedAndOutputOrigins(t *testing.T) {
	completer := NewFuncExecutor("c", func(_ context.Context, msg string, wc *WorkflowContext) error {
		wc.YieldOutput(msg)
		return nil
	})
	wf, err := NewBuilder().SetStartExecutor(completer).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	events := collectEvents(wf.RunStream(context.Background(), "payload"))

	var sawStarted, sawOutput bool
	for _, ev := range events {
		switch e := ev.(type) {
		case WorkflowStartedEvent:
			sawStarted = true
			if e.Source() != SourceFramework {
				t.Errorf("started origin = %v, want FRAMEWORK", e.Source())
			}
		case WorkflowOutputEvent:
			sawOutput = true
			if e.Source() != SourceExecutor {
				t.Errorf("output origin = %v, want EXECUTOR", e.Source())
			}
			if e.Data.(string) != "payload" {
				t.Errorf("output = %v, want payload", e.Data)
			}
		}
	}
	if !sawStarted || !sawOutput {
		t.Errorf("sawStarted=%v sawOutput=%v, want both", sawStarted, sawOutput)
	}
}

func TestRun_OutputsCollectedWithoutTerminating(t *testing.T) {
	multi := NewFuncExecutor("m", func(_ context.Context, msg string, wc *WorkflowContext) error {
		wc.YieldOutput(msg + "-1")
		wc.YieldOutput(msg + "-2")
		return nil
	})
	wf, err := NewBuilder().SetStartExecutor(multi).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outputs := result.Outputs()
	if len(outputs) != 2 || outputs[0] != "x-1" || outputs[1] != "x-2" {
		t.Errorf("outputs = %v, want [x-1 x-2]", outputs)
	}
	if result.FinalState != RunStateIdle {
		t.Errorf("final state = %v, want IDLE", result.FinalState)
	}
}

func TestRun_MaxIterationsFailsWithQuotaKind(t *testing.T) {
	// Two executors bounce a message forever; the cap must stop the run.
	ping := NewFuncExecutor("ping", func(_ context.Context, n int, wc *WorkflowContext) error {
		return wc.SendMessage(n + 1)
	})
	pong := NewFuncExecutor("pong", func(_ context.Context, n int, wc *WorkflowContext) error {
		return wc.SendMessage(n + 1)
	})

	wf, err := NewBuilder().
		SetStartExecutor(ping).
		AddEdge(ping, pong).
		AddEdge(pong, ping).
		WithMaxIterations(5).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = wf.Run(context.Background(), 0)
	if !errors.Is(err, ErrMaxIterations) {
		t.Errorf("expected ErrMaxIterations, got %v", err)
	}
}

func TestRun_CyclicLoopTerminatesOnCondition(t *testing.T) {
	// Binary-search loop: guesser emits guesses, judge answers ABOVE or
	// BELOW until MATCHED, guesser yields the final answer.
	const target = 30
	low, high := 1, 100

	guesser := NewFuncExecutor("guesser", func(_ context.Context, verdict string, wc *WorkflowContext) error {
		switch {
		case strings.HasPrefix(verdict, "MATCHED"):
			wc.YieldOutput(fmt.Sprintf("Guessed the number: %s", strings.TrimPrefix(verdict, "MATCHED:")))
			return nil
		case strings.HasPrefix(verdict, "ABOVE:"):
			high = mustAtoi(strings.TrimPrefix(verdict, "ABOVE:")) - 1
		case strings.HasPrefix(verdict, "BELOW:"):
			low = mustAtoi(strings.TrimPrefix(verdict, "BELOW:")) + 1
		}
		guess := (low + high) / 2
		return wc.SendMessage(guess)
	})
	judge := NewFuncExecutor("judge", func(_ context.Context, guess int, wc *WorkflowContext) error {
		switch {
		case guess > target:
			return wc.SendMessage(fmt.Sprintf("ABOVE:%d", guess))
		case guess < target:
			return wc.SendMessage(fmt.Sprintf("BELOW:%d", guess))
		default:
			return wc.SendMessage(fmt.Sprintf("MATCHED:%d", guess))
		}
	})

	wf, err := NewBuilder().
		SetStartExecutor(guesser).
		AddEdge(guesser, judge).
		AddEdge(judge, guesser).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "START")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outputs := result.Outputs()
	if len(outputs) != 1 || outputs[0] != "Guessed the number: 30" {
		t.Errorf("outputs = %v, want [Guessed the number: 30]", outputs)
	}

	// Binary search over [1,100] needs at most 7 probes; each probe is two
	// supersteps (guess, verdict).
	var judgeInvocations int
	for _, ev := range result.Events {
		if ie, ok := ev.(ExecutorInvokedEvent); ok && ie.ExecutorID == "judge" {
			judgeInvocations++
		}
	}
	if judgeInvocations > 7 {
		t.Errorf("judge invoked %d times, want <= 7", judgeInvocations)
	}
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	spinner := NewFuncExecutor("spin", func(_ context.Context, n int, wc *WorkflowContext) error {
		if n == 2 {
			cancel()
		}
		return wc.SendMessage(n + 1)
	})
	loop := NewFuncExecutor("loop", func(_ context.Context, n int, wc *WorkflowContext) error {
		return wc.SendMessage(n + 1)
	})

	wf, err := NewBuilder().
		SetStartExecutor(spinner).
		AddEdge(spinner, loop).
		AddEdge(loop, spinner).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(ctx, 0)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if result.FinalState != RunStateFailed {
		t.Errorf("final state = %v, want FAILED", result.FinalState)
	}
}

func TestRun_NoMatchingHandlerFailsTarget(t *testing.T) {
	src := NewFuncExecutor("src", func(_ context.Context, msg string, wc *WorkflowContext) error {
		return wc.SendMessage(42)
	})
	stringsOnly := NewFuncExecutor("tgt", func(_ context.Context, _ string, _ *WorkflowContext) error {
		return nil
	})

	wf, err := NewBuilder().SetStartExecutor(src).AddEdge(src, stringsOnly).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = wf.Run(context.Background(), "go")
	if !errors.Is(err, ErrNoMatchingHandler) {
		t.Errorf("expected ErrNoMatchingHandler, got %v", err)
	}
}

func TestRun_HandlerSoftTimeout(t *testing.T) {
	blocker := NewFuncExecutor("blocker", func(ctx context.Context, _ string, _ *WorkflowContext) error {
		<-ctx.Done()
		return ctx.Err()
	})
	wf, err := NewBuilder().
		SetStartExecutor(blocker).
		WithHandlerTimeout(10 * time.Millisecond).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "go")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if result.FinalState != RunStateFailed {
		t.Errorf("final state = %v, want FAILED", result.FinalState)
	}
}

func TestRun_EventOrderWithinHandler(t *testing.T) {
	emitter := NewFuncExecutor("e", func(_ context.Context, _ string, wc *WorkflowContext) error {
		wc.AddExecutorEvent("first")
		wc.AddExecutorEvent("second")
		wc.AddExecutorEvent("third")
		return nil
	})
	wf, err := NewBuilder().SetStartExecutor(emitter).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := wf.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var payloads []string
	for _, ev := range result.Events {
		if ee, ok := ev.(ExecutorEvent); ok {
			payloads = append(payloads, ee.Data.(string))
		}
	}
	want := []string{"first", "second", "third"}
	if len(payloads) != len(want) {
		t.Fatalf("executor events = %v, want %v", payloads, want)
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, payloads[i], want[i])
		}
	}
}
