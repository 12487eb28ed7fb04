package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStorage persists checkpoints in a single-file SQLite database.
//
// Designed for local workflows that need durability without a server: zero
// setup, one file, WAL mode for concurrent reads. Use ":memory:" for an
// ephemeral database in tests.
//
// Schema (auto-migrated on open):
//
//	workflow_checkpoints(checkpoint_id TEXT PRIMARY KEY,
//	                     workflow_id   TEXT NOT NULL,
//	                     created_at    TEXT NOT NULL,
//	                     payload       TEXT NOT NULL)
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// migrates the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			workflow_id   TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			payload       TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow ON workflow_checkpoints(workflow_id)`)
	if err != nil {
		return fmt.Errorf("migrate checkpoint index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Save upserts the checkpoint and returns its id.
func (s *SQLiteStorage) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint %s: %w", cp.CheckpointID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (checkpoint_id, workflow_id, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			created_at  = excluded.created_at,
			payload     = excluded.payload`,
		cp.CheckpointID, cp.WorkflowID, cp.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"), string(payload))
	if err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", cp.CheckpointID, err)
	}
	return cp.CheckpointID, nil
}

// Load retrieves a checkpoint by id.
func (s *SQLiteStorage) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM workflow_checkpoints WHERE checkpoint_id = ?`, checkpointID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", checkpointID, err)
	}
	return &cp, nil
}

// ListIDs returns checkpoint ids ordered by the stored timestamp text, then
// by id, filtered by workflow.
func (s *SQLiteStorage) ListIDs(ctx context.Context, workflowID string) ([]string, error) {
	rows, err := s.queryRows(ctx, `SELECT checkpoint_id FROM workflow_checkpoints`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns checkpoints ordered by the stored timestamp text, then by id,
// filtered by workflow.
func (s *SQLiteStorage) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	rows, err := s.queryRows(ctx, `SELECT payload FROM workflow_checkpoints`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(payload), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint row: %w", err)
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) queryRows(ctx context.Context, base, workflowID string) (*sql.Rows, error) {
	if workflowID == "" {
		return s.db.QueryContext(ctx, base+` ORDER BY created_at, checkpoint_id`)
	}
	return s.db.QueryContext(ctx, base+` WHERE workflow_id = ? ORDER BY created_at, checkpoint_id`, workflowID)
}

// Delete removes a checkpoint, reporting whether it existed.
func (s *SQLiteStorage) Delete(ctx context.Context, checkpointID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_checkpoints WHERE checkpoint_id = ?`, checkpointID)
	if err != nil {
		return false, fmt.Errorf("delete checkpoint %s: %w", checkpointID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
