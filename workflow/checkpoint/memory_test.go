package checkpoint

import (
	"context"
	"testing"
)

func TestMemoryStorage_Conformance(t *testing.T) {
	runStorageConformance(t, NewMemoryStorage())
}

func TestMemoryStorage_IsolatesStoredCheckpoints(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	cp := testCheckpoint("wf-isolation")
	if _, err := storage.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the caller's value after save must not affect the store.
	cp.IterationCount = 99
	loaded, err := storage.Load(ctx, cp.CheckpointID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.IterationCount != 4 {
		t.Errorf("iteration count = %d, want 4 (store must deep copy)", loaded.IterationCount)
	}

	// Mutating a loaded value must not affect subsequent loads.
	loaded.SharedState["round"] = float64(42)
	reloaded, err := storage.Load(ctx, cp.CheckpointID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.SharedState["round"] != float64(3) {
		t.Errorf("shared state round = %v, want 3", reloaded.SharedState["round"])
	}
}
