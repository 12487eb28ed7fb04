package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSharedState_GetSet(t *testing.T) {
	s := NewSharedState()

	if _, ok := s.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}

	s.Set("count", 5)
	v, ok := s.Get("count")
	if !ok || v.(int) != 5 {
		t.Errorf("Get(count) = %v, %v; want 5, true", v, ok)
	}

	s.Delete("count")
	if _, ok := s.Get("count"); ok {
		t.Error("expected deleted key to be absent")
	}
}

func TestSharedState_Clear(t *testing.T) {
	s := NewSharedState()
	s.Set("a", 1)
	s.Set("b", 2)
	s.Clear()
	if len(s.Keys()) != 0 {
		t.Errorf("expected no keys after Clear, got %v", s.Keys())
	}
}

func TestSharedState_HoldComposesReadModifyWrite(t *testing.T) {
	s := NewSharedState()
	s.Set("counter", 0)

	// Many goroutines increment under hold; no update may be lost.
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Hold(context.Background(), func(_ context.Context, h *StateHold) error {
				v, _ := h.Get("counter")
				h.Set("counter", v.(int)+1)
				return nil
			})
			if err != nil {
				t.Errorf("Hold: %v", err)
			}
		}()
	}
	wg.Wait()

	v, _ := s.Get("counter")
	if v.(int) != workers {
		t.Errorf("counter = %d, want %d", v.(int), workers)
	}
}

func TestSharedState_NestedHoldFailsFast(t *testing.T) {
	s := NewSharedState()
	err := s.Hold(context.Background(), func(ctx context.Context, _ *StateHold) error {
		return s.Hold(ctx, func(context.Context, *StateHold) error {
			t.Error("nested hold body must not run")
			return nil
		})
	})
	if !errors.Is(err, ErrNestedHold) {
		t.Errorf("expected ErrNestedHold, got %v", err)
	}
}

func TestSharedState_HoldReleasedOnError(t *testing.T) {
	s := NewSharedState()
	boom := errors.New("boom")

	if err := s.Hold(context.Background(), func(context.Context, *StateHold) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// The lock must be free again.
	if err := s.Hold(context.Background(), func(context.Context, *StateHold) error {
		return nil
	}); err != nil {
		t.Errorf("expected hold to be acquirable after error, got %v", err)
	}
}

func TestSharedState_SnapshotRestore(t *testing.T) {
	s := NewSharedState()
	s.Set("a", 1)
	s.Set("b", "two")

	snapshot := s.Snapshot()

	restored := NewSharedState()
	restored.Restore(snapshot)
	if v, _ := restored.Get("a"); v.(int) != 1 {
		t.Errorf("restored a = %v, want 1", v)
	}
	if v, _ := restored.Get("b"); v.(string) != "two" {
		t.Errorf("restored b = %v, want \"two\"", v)
	}
}
