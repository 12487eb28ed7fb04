package emit

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter maps workflow events to OpenTelemetry spans.
//
// Each event becomes an immediately-ended span named after the event type,
// carrying the workflow id, superstep, executor id, and Meta fields as
// attributes. Failure events set the span status to error.
//
// Usage:
//
//	tracer := otel.Tracer("agentflow")
//	emitter := emit.NewOTelEmitter(tracer)
//	wf, _ := workflow.NewBuilder().WithEmitter(emitter). ... .Build()
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	o.span(context.Background(), event)
}

// EmitBatch creates spans for all events in order, sharing ctx for trace
// propagation.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		o.span(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) span(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Type)
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow.id", event.WorkflowID),
		attribute.Int("workflow.superstep", event.Superstep),
		attribute.String("workflow.origin", event.Origin),
	)
	if event.ExecutorID != "" {
		span.SetAttributes(attribute.String("workflow.executor_id", event.ExecutorID))
	}
	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute(key, value))
	}
	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

func metaAttribute(key string, value any) attribute.KeyValue {
	k := "workflow.meta." + key
	switch v := value.(type) {
	case string:
		return attribute.String(k, v)
	case bool:
		return attribute.Bool(k, v)
	case int:
		return attribute.Int(k, v)
	case int64:
		return attribute.Int64(k, v)
	case float64:
		return attribute.Float64(k, v)
	default:
		return attribute.String(k, fmt.Sprintf("%v", v))
	}
}

// Flush is a no-op: spans are ended eagerly and exported by the configured
// span processor. Call ForceFlush on the tracer provider at shutdown.
func (o *OTelEmitter) Flush(context.Context) error {
	return nil
}
