package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStorage(t *testing.T, opts ...RedisOption) *RedisStorage {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client, opts...)
}

func TestRedisStorage_Conformance(t *testing.T) {
	runStorageConformance(t, newTestRedisStorage(t))
}

func TestRedisStorage_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	storage := NewRedisStorage(client, WithKeyPrefix("custom"))
	cp := testCheckpoint("wf-prefix")
	if _, err := storage.Save(context.Background(), cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !mr.Exists("custom:checkpoint:" + cp.CheckpointID) {
		t.Error("expected payload under the custom prefix")
	}
	if !mr.Exists("custom:ids") {
		t.Error("expected global id set under the custom prefix")
	}
	if !mr.Exists("custom:workflow:wf-prefix:ids") {
		t.Error("expected per-workflow id set under the custom prefix")
	}
}

func TestRedisStorage_DeleteCleansIndexes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	storage := NewRedisStorage(client)

	cp := testCheckpoint("wf-clean")
	ctx := context.Background()
	if _, err := storage.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := storage.Delete(ctx, cp.CheckpointID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ids, err := storage.ListIDs(ctx, "wf-clean")
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty after delete", ids)
	}
}
