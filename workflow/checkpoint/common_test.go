package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testCheckpoint builds a populated checkpoint for conformance tests.
func testCheckpoint(workflowID string) *Checkpoint {
	cp := New(workflowID)
	cp.Messages["writer"] = []MessageRecord{
		{SourceID: "writer", TargetID: "reviewer", Data: map[string]any{"text": "draft"}, DataType: "string"},
	}
	cp.SharedState["round"] = float64(3)
	cp.ExecutorStates["writer"] = map[string]any{"drafts": float64(2)}
	cp.PendingRequests["req-1"] = PendingRequest{
		RequestID:        "req-1",
		SourceExecutorID: "gateway",
		RequestType:      "example.Approval",
		ResponseType:     "string",
		Payload:          map[string]any{"prompt": "ok?"},
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
	cp.IterationCount = 4
	cp.MaxIterations = 100
	cp.Metadata = map[string]any{"phase": "paused"}
	return cp
}

// runStorageConformance exercises the Storage contract against any
// implementation.
func runStorageConformance(t *testing.T, storage Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		cp := testCheckpoint("wf-conformance")
		id, err := storage.Save(ctx, cp)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if id != cp.CheckpointID {
			t.Errorf("Save returned %q, want %q", id, cp.CheckpointID)
		}

		loaded, err := storage.Load(ctx, id)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if loaded.WorkflowID != "wf-conformance" {
			t.Errorf("workflow id = %q", loaded.WorkflowID)
		}
		if loaded.IterationCount != 4 {
			t.Errorf("iteration count = %d, want 4", loaded.IterationCount)
		}
		if len(loaded.Messages["writer"]) != 1 {
			t.Errorf("messages = %v", loaded.Messages)
		}
		pr, ok := loaded.PendingRequests["req-1"]
		if !ok || pr.ResponseType != "string" {
			t.Errorf("pending request = %+v", pr)
		}
	})

	t.Run("load missing returns ErrNotFound", func(t *testing.T) {
		_, err := storage.Load(ctx, "missing-checkpoint")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list filters by workflow", func(t *testing.T) {
		a := testCheckpoint("wf-list-a")
		b := testCheckpoint("wf-list-b")
		if _, err := storage.Save(ctx, a); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := storage.Save(ctx, b); err != nil {
			t.Fatalf("Save: %v", err)
		}

		ids, err := storage.ListIDs(ctx, "wf-list-a")
		if err != nil {
			t.Fatalf("ListIDs: %v", err)
		}
		if len(ids) != 1 || ids[0] != a.CheckpointID {
			t.Errorf("ids = %v, want [%s]", ids, a.CheckpointID)
		}

		all, err := storage.List(ctx, "")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) < 2 {
			t.Errorf("unfiltered list = %d entries, want >= 2", len(all))
		}
	})

	t.Run("delete", func(t *testing.T) {
		cp := testCheckpoint("wf-delete")
		if _, err := storage.Save(ctx, cp); err != nil {
			t.Fatalf("Save: %v", err)
		}

		deleted, err := storage.Delete(ctx, cp.CheckpointID)
		if err != nil || !deleted {
			t.Fatalf("Delete = %v, %v; want true, nil", deleted, err)
		}
		if _, err := storage.Load(ctx, cp.CheckpointID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		again, err := storage.Delete(ctx, cp.CheckpointID)
		if err != nil || again {
			t.Errorf("second Delete = %v, %v; want false, nil", again, err)
		}
	})

	t.Run("save is an upsert", func(t *testing.T) {
		cp := testCheckpoint("wf-upsert")
		if _, err := storage.Save(ctx, cp); err != nil {
			t.Fatalf("Save: %v", err)
		}
		cp.IterationCount = 9
		if _, err := storage.Save(ctx, cp); err != nil {
			t.Fatalf("re-Save: %v", err)
		}
		loaded, err := storage.Load(ctx, cp.CheckpointID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if loaded.IterationCount != 9 {
			t.Errorf("iteration count = %d, want 9", loaded.IterationCount)
		}
	})
}
