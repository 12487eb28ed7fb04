package emit

import "context"

// NullEmitter discards all events. Use it to disable observability without
// changing wiring.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (NullEmitter) Emit(Event) {}

// EmitBatch discards the events.
func (NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush is a no-op.
func (NullEmitter) Flush(context.Context) error { return nil }
