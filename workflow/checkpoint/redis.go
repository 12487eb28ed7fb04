package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStorage persists checkpoints in Redis. Each checkpoint is one string
// key holding the JSON payload; a per-workflow set and a global set index the
// ids so listing does not require SCAN.
//
// Key layout under the configured prefix (default "agentflow"):
//
//	{prefix}:checkpoint:{id}       JSON payload
//	{prefix}:workflow:{wid}:ids    set of checkpoint ids for the workflow
//	{prefix}:ids                   set of all checkpoint ids
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStorage.
type RedisOption func(*RedisStorage)

// WithKeyPrefix overrides the default "agentflow" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) { s.prefix = prefix }
}

// NewRedisStorage wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{client: client, prefix: "agentflow"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStorage) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, id)
}

func (s *RedisStorage) workflowKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:ids", s.prefix, workflowID)
}

func (s *RedisStorage) allKey() string {
	return s.prefix + ":ids"
}

// Save writes the payload and index entries in one pipeline.
func (s *RedisStorage) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint %s: %w", cp.CheckpointID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.CheckpointID), payload, 0)
	pipe.SAdd(ctx, s.allKey(), cp.CheckpointID)
	if cp.WorkflowID != "" {
		pipe.SAdd(ctx, s.workflowKey(cp.WorkflowID), cp.CheckpointID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", cp.CheckpointID, err)
	}
	return cp.CheckpointID, nil
}

// Load retrieves a checkpoint by id.
func (s *RedisStorage) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", checkpointID, err)
	}
	return &cp, nil
}

// ListIDs returns checkpoint ids, filtered by workflow. Order follows the
// checkpoints' timestamps.
func (s *RedisStorage) ListIDs(ctx context.Context, workflowID string) ([]string, error) {
	cps, err := s.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cps))
	for _, cp := range cps {
		ids = append(ids, cp.CheckpointID)
	}
	return ids, nil
}

// List returns checkpoints sorted by timestamp, filtered by workflow.
func (s *RedisStorage) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	key := s.allKey()
	if workflowID != "" {
		key = s.workflowKey(workflowID)
	}
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived its payload; ignore.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortByTimestamp(out)
	return out, nil
}

// Delete removes the payload and index entries, reporting whether the
// checkpoint existed.
func (s *RedisStorage) Delete(ctx context.Context, checkpointID string) (bool, error) {
	cp, err := s.Load(ctx, checkpointID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.SRem(ctx, s.allKey(), checkpointID)
	if cp.WorkflowID != "" {
		pipe.SRem(ctx, s.workflowKey(cp.WorkflowID), checkpointID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete checkpoint %s: %w", checkpointID, err)
	}
	return true, nil
}

func sortByTimestamp(cps []*Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].Timestamp.Equal(cps[j].Timestamp) {
			return cps[i].CheckpointID < cps[j].CheckpointID
		}
		return cps[i].Timestamp.Before(cps[j].Timestamp)
	})
}
