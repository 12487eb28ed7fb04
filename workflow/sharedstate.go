package workflow

import (
	"context"
	"sync"
)

// SharedState is the workflow-scoped key/value store. Individual Get and Set
// calls are atomic per key; read-modify-write sequences compose through Hold,
// which grants the caller exclusive access for the duration of a callback.
//
// Lifecycle: a fresh instance is created for each run and encoded into
// checkpoints. Values must be serializable for checkpointing to
// round-trip them.
type SharedState struct {
	mu   sync.Mutex
	data map[string]any

	holdMu sync.Mutex
}

// NewSharedState creates an empty shared state.
func NewSharedState() *SharedState {
	return &SharedState{data: make(map[string]any)}
}

// Get returns the value for key and whether it is present.
func (s *SharedState) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key as a single atomic write.
func (s *SharedState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *SharedState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Keys returns a snapshot of the present keys.
func (s *SharedState) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Clear removes all entries.
func (s *SharedState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any)
}

// Snapshot returns a shallow copy of the current contents.
func (s *SharedState) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Restore replaces the contents with data. Used when applying a checkpoint.
func (s *SharedState) Restore(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any, len(data))
	for k, v := range data {
		s.data[k] = v
	}
}

// holdKey marks contexts that are inside a Hold on a specific SharedState,
// so re-acquisition fails fast instead of deadlocking.
type holdKey struct{ s *SharedState }

// Hold grants fn exclusive access to the state. No other holder runs until fn
// returns; the hold is released on every exit path, normal or error. The
// context passed to fn carries a hold marker: calling Hold again with it (or
// any context derived from it) returns ErrNestedHold immediately.
//
// Holds are meant to stay inside a single handler invocation; release before
// returning is automatic with the callback form.
func (s *SharedState) Hold(ctx context.Context, fn func(ctx context.Context, h *StateHold) error) error {
	if ctx.Value(holdKey{s}) != nil {
		return ErrNestedHold
	}

	acquired := make(chan struct{})
	go func() {
		s.holdMu.Lock()
		close(acquired)
	}()

	select {
	case <-ctx.Done():
		// The lock goroutine may still win the race; release it when it does.
		go func() {
			<-acquired
			s.holdMu.Unlock()
		}()
		return ctx.Err()
	case <-acquired:
	}
	defer s.holdMu.Unlock()

	held := context.WithValue(ctx, holdKey{s}, struct{}{})
	return fn(held, &StateHold{state: s})
}

// StateHold is the handle passed to a Hold callback. Its accessors compose a
// read-modify-write sequence without interleaving from other handlers.
type StateHold struct {
	state *SharedState
}

// Get returns the value for key and whether it is present.
func (h *StateHold) Get(key string) (any, bool) {
	return h.state.Get(key)
}

// Set stores value under key.
func (h *StateHold) Set(key string, value any) {
	h.state.Set(key, value)
}

// Delete removes key.
func (h *StateHold) Delete(key string) {
	h.state.Delete(key)
}
