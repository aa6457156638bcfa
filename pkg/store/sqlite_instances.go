package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cobalt-hq/saturn/pkg/workflow"
)

const instanceSchema = `
CREATE TABLE IF NOT EXISTS instances (
	id               TEXT    PRIMARY KEY,
	institution_id   TEXT    NOT NULL,
	workflow_name    TEXT    NOT NULL,
	workflow_version INTEGER NOT NULL,
	entity_type      TEXT    NOT NULL,
	entity_id        TEXT    NOT NULL,
	current_state    TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	version          INTEGER NOT NULL,
	snapshot         TEXT    NOT NULL,
	created_at       TEXT    NOT NULL,
	updated_at       TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_instances_entity
	ON instances (institution_id, workflow_name, entity_type, entity_id, status);

CREATE INDEX IF NOT EXISTS idx_instances_status
	ON instances (institution_id, status);
`

// openStatuses is the SQL fragment matching non-terminal instances.
const openStatuses = `status NOT IN ('completed', 'cancelled')`

// SQLiteInstances persists workflow instances in SQLite. The full instance
// (context, history) is stored as a JSON snapshot; hot columns are
// denormalized for indexed lookups. Updates are compare-and-swap on the
// version column, which is the optimistic concurrency control the instance
// manager builds on.
type SQLiteInstances struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteInstances opens (and if needed creates) the instance database at
// path.
func NewSQLiteInstances(path string, logger *slog.Logger) (*SQLiteInstances, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open instance db: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(instanceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize instance schema: %w", err)
	}

	s := &SQLiteInstances{
		db:     db,
		logger: logger.With("component", "store.instances", "path", path),
	}
	s.logger.Info("instance store opened")
	return s, nil
}

// CreateInstance persists a new instance at version 1.
func (s *SQLiteInstances) CreateInstance(ctx context.Context, in *workflow.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	var open int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instances
		 WHERE institution_id = ? AND workflow_name = ? AND entity_type = ? AND entity_id = ? AND `+openStatuses,
		in.Definition.Institution, in.Definition.Name, in.EntityType, in.EntityID,
	).Scan(&open)
	if err != nil {
		return fmt.Errorf("check open instance: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%s/%s %s/%s: %w",
			in.Definition.Institution, in.Definition.Name, in.EntityType, in.EntityID, ErrInstanceExists)
	}

	in.Version = 1
	snapshot, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", in.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instances
		 (id, institution_id, workflow_name, workflow_version, entity_type, entity_id,
		  current_state, status, version, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Definition.Institution, in.Definition.Name, in.Definition.Version,
		in.EntityType, in.EntityID, in.CurrentState, string(in.Status), in.Version,
		string(snapshot), timestamp(in.CreatedAt), timestamp(in.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert instance %s: %w", in.ID, err)
	}

	return tx.Commit()
}

// GetInstance fetches an instance snapshot by id.
func (s *SQLiteInstances) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM instances WHERE id = ?`, id).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return decodeInstance(snapshot)
}

// OpenInstance fetches the open instance bound to the entity.
func (s *SQLiteInstances) OpenInstance(ctx context.Context, institution, name, entityType, entityID string) (*workflow.Instance, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM instances
		 WHERE institution_id = ? AND workflow_name = ? AND entity_type = ? AND entity_id = ? AND `+openStatuses,
		institution, name, entityType, entityID,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open instance for %s/%s %s/%s: %w", institution, name, entityType, entityID, ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find open instance: %w", err)
	}
	return decodeInstance(snapshot)
}

// UpdateInstance writes the instance if the version check passes.
func (s *SQLiteInstances) UpdateInstance(ctx context.Context, in *workflow.Instance, expectedVersion int64) error {
	in.UpdatedAt = time.Now().UTC()
	next := expectedVersion + 1

	prior := in.Version
	in.Version = next
	snapshot, err := json.Marshal(in)
	if err != nil {
		in.Version = prior
		return fmt.Errorf("encode instance %s: %w", in.ID, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE instances
		 SET current_state = ?, status = ?, version = ?, snapshot = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		in.CurrentState, string(in.Status), next, string(snapshot),
		timestamp(in.UpdatedAt), in.ID, expectedVersion,
	)
	if err != nil {
		in.Version = prior
		return fmt.Errorf("update instance %s: %w", in.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		in.Version = prior
		return fmt.Errorf("update instance %s: %w", in.ID, err)
	}
	if affected == 0 {
		in.Version = prior
		var stored int64
		err := s.db.QueryRowContext(ctx, `SELECT version FROM instances WHERE id = ?`, in.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("instance %s: %w", in.ID, ErrInstanceNotFound)
		}
		if err != nil {
			return fmt.Errorf("update instance %s: %w", in.ID, err)
		}
		return fmt.Errorf("instance %s: stored v%d, expected v%d: %w", in.ID, stored, expectedVersion, ErrConcurrencyConflict)
	}

	return nil
}

// ListInstances returns instance snapshots for an institution by status.
func (s *SQLiteInstances) ListInstances(ctx context.Context, institution string, status workflow.Status) ([]*workflow.Instance, error) {
	query := `SELECT snapshot FROM instances WHERE institution_id = ?`
	args := []any{institution}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances for %s: %w", institution, err)
	}
	defer rows.Close()

	var out []*workflow.Instance
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		in, err := decodeInstance(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// DeleteInstancesBefore removes terminal instances older than the cutoff.
func (s *SQLiteInstances) DeleteInstancesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM instances WHERE updated_at < ? AND NOT (`+openStatuses+`)`,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete instances before %s: %w", cutoff, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete instances: %w", err)
	}
	return int(affected), nil
}

// Ping verifies the database file is still reachable.
func (s *SQLiteInstances) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteInstances) Close() error {
	return s.db.Close()
}

func decodeInstance(snapshot string) (*workflow.Instance, error) {
	var in workflow.Instance
	if err := json.Unmarshal([]byte(snapshot), &in); err != nil {
		return nil, fmt.Errorf("decode instance snapshot: %w", err)
	}
	return &in, nil
}

// timestampLayout is RFC 3339 with fixed-width fractional seconds, so the
// stored strings have uniform length and lexicographic comparison in SQL
// (retention cutoff, created_at ordering) matches chronological order.
// RFC3339Nano trims trailing zeros and breaks that.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
