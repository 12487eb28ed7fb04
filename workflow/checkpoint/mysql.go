package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStorage persists checkpoints in MySQL for workflows that outlive a
// single host. Payloads live in a JSON column; the workflow id is indexed
// for listing.
//
// Schema (auto-migrated on open):
//
//	workflow_checkpoints(checkpoint_id VARCHAR(64) PRIMARY KEY,
//	                     workflow_id   VARCHAR(255) NOT NULL,
//	                     created_at    TIMESTAMP(6) NOT NULL,
//	                     payload       JSON NOT NULL)
type MySQLStorage struct {
	db *sql.DB
}

// NewMySQLStorage connects with the given DSN (e.g.
// "user:pass@tcp(localhost:3306)/agentflow?parseTime=true") and migrates the
// schema.
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLStorageFromDB wraps an existing connection pool and migrates the
// schema. Close closes the wrapped pool.
func NewMySQLStorageFromDB(db *sql.DB) (*MySQLStorage, error) {
	s := &MySQLStorage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			checkpoint_id VARCHAR(64) PRIMARY KEY,
			workflow_id   VARCHAR(255) NOT NULL,
			created_at    TIMESTAMP(6) NOT NULL,
			payload       JSON NOT NULL,
			INDEX idx_checkpoints_workflow (workflow_id)
		)`)
	if err != nil {
		return fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *MySQLStorage) Close() error {
	return s.db.Close()
}

// Save upserts the checkpoint and returns its id.
func (s *MySQLStorage) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint %s: %w", cp.CheckpointID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (checkpoint_id, workflow_id, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			created_at  = VALUES(created_at),
			payload     = VALUES(payload)`,
		cp.CheckpointID, cp.WorkflowID, cp.Timestamp, string(payload))
	if err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", cp.CheckpointID, err)
	}
	return cp.CheckpointID, nil
}

// Load retrieves a checkpoint by id.
func (s *MySQLStorage) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
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

// ListIDs returns checkpoint ids in creation order, filtered by workflow.
func (s *MySQLStorage) ListIDs(ctx context.Context, workflowID string) ([]string, error) {
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

// List returns checkpoints in creation order, filtered by workflow.
func (s *MySQLStorage) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
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

func (s *MySQLStorage) queryRows(ctx context.Context, base, workflowID string) (*sql.Rows, error) {
	if workflowID == "" {
		return s.db.QueryContext(ctx, base+` ORDER BY created_at, checkpoint_id`)
	}
	return s.db.QueryContext(ctx, base+` WHERE workflow_id = ? ORDER BY created_at, checkpoint_id`, workflowID)
}

// Delete removes a checkpoint, reporting whether it existed.
func (s *MySQLStorage) Delete(ctx context.Context, checkpointID string) (bool, error) {
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
