package checkpoint

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStorage_Conformance(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	defer func() { _ = storage.Close() }()

	runStorageConformance(t, storage)
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	first, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	cp := testCheckpoint("wf-durable")
	if _, err := first.Save(t.Context(), cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = second.Close() }()

	loaded, err := second.Load(t.Context(), cp.CheckpointID)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if loaded.WorkflowID != "wf-durable" {
		t.Errorf("workflow id = %q, want wf-durable", loaded.WorkflowID)
	}
}
