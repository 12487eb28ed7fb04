package emit

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingEmitter(t *testing.T) (*OTelEmitter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewOTelEmitter(provider.Tracer("agentflow-test")), recorder
}

func TestOTelEmitter_CreatesSpanPerEvent(t *testing.T) {
	emitter, recorder := newRecordingEmitter(t)

	emitter.Emit(sampleEvent("executor_invoked"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "executor_invoked" {
		t.Errorf("span name = %q, want executor_invoked", span.Name())
	}

	attrs := make(map[string]any)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["workflow.id"] != "wf-01" {
		t.Errorf("workflow.id = %v", attrs["workflow.id"])
	}
	if attrs["workflow.executor_id"] != "writer" {
		t.Errorf("workflow.executor_id = %v", attrs["workflow.executor_id"])
	}
	if attrs["workflow.meta.state"] != "IN_PROGRESS" {
		t.Errorf("workflow.meta.state = %v", attrs["workflow.meta.state"])
	}
}

func TestOTelEmitter_ErrorEventsSetErrorStatus(t *testing.T) {
	emitter, recorder := newRecordingEmitter(t)

	event := sampleEvent("executor_failed")
	event.Meta = map[string]any{"error": "boom"}
	emitter.Emit(event)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Description != "boom" {
		t.Errorf("status description = %q, want boom", spans[0].Status().Description)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	emitter, recorder := newRecordingEmitter(t)

	events := []Event{sampleEvent("workflow_started"), sampleEvent("status"), sampleEvent("executor_invoked")}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if got := len(recorder.Ended()); got != 3 {
		t.Errorf("spans = %d, want 3", got)
	}
}
