package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/dsl/codec"
)

const definitionSchema = `
CREATE TABLE IF NOT EXISTS definitions (
	kind           TEXT    NOT NULL,
	institution_id TEXT    NOT NULL,
	name           TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	is_active      INTEGER NOT NULL DEFAULT 0,
	payload        TEXT    NOT NULL,
	created_at     TEXT    NOT NULL,
	PRIMARY KEY (kind, institution_id, name, version)
);

CREATE INDEX IF NOT EXISTS idx_definitions_active
	ON definitions (kind, institution_id, name, is_active);
`

const (
	kindRuleSet  = "ruleset"
	kindWorkflow = "workflow"
)

// SQLiteDefinitions persists versioned definitions in SQLite with their
// canonical JSON payloads. Versions are immutable rows; activation flips
// the is_active flag inside a transaction so exactly one version per
// (kind, institution, name) is ever active.
type SQLiteDefinitions struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteDefinitions opens (and if needed creates) the definition
// database at path.
func NewSQLiteDefinitions(path string, logger *slog.Logger) (*SQLiteDefinitions, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open definition db: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(definitionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize definition schema: %w", err)
	}

	s := &SQLiteDefinitions{
		db:     db,
		logger: logger.With("component", "store.definitions", "path", path),
	}
	s.logger.Info("definition store opened")
	return s, nil
}

// PutRuleSet publishes a new rule set version.
func (s *SQLiteDefinitions) PutRuleSet(ctx context.Context, rs *ast.RuleSet) error {
	payload, err := codec.EncodeRuleSet(rs)
	if err != nil {
		return fmt.Errorf("encode rule set: %w", err)
	}
	return s.put(ctx, kindRuleSet, rs.Institution, rs.Name, rs.Version, rs.Active, payload)
}

// GetRuleSet fetches a specific published version.
func (s *SQLiteDefinitions) GetRuleSet(ctx context.Context, institution, name string, version int) (*ast.RuleSet, error) {
	payload, err := s.get(ctx, kindRuleSet, institution, name, version)
	if err != nil {
		return nil, err
	}
	return codec.DecodeRuleSet(payload, codec.FormatJSON)
}

// ActiveRuleSet fetches the currently active version.
func (s *SQLiteDefinitions) ActiveRuleSet(ctx context.Context, institution, name string) (*ast.RuleSet, error) {
	payload, err := s.active(ctx, kindRuleSet, institution, name)
	if err != nil {
		return nil, err
	}
	return codec.DecodeRuleSet(payload, codec.FormatJSON)
}

// ActivateRuleSet marks the given version active.
func (s *SQLiteDefinitions) ActivateRuleSet(ctx context.Context, institution, name string, version int) error {
	return s.activate(ctx, kindRuleSet, institution, name, version)
}

// PutWorkflowDefinition publishes a new workflow definition version.
func (s *SQLiteDefinitions) PutWorkflowDefinition(ctx context.Context, wd *ast.WorkflowDefinition) error {
	payload, err := codec.EncodeWorkflowDefinition(wd)
	if err != nil {
		return fmt.Errorf("encode workflow definition: %w", err)
	}
	return s.put(ctx, kindWorkflow, wd.Institution, wd.Name, wd.Version, wd.Active, payload)
}

// GetWorkflowDefinition fetches a specific published version.
func (s *SQLiteDefinitions) GetWorkflowDefinition(ctx context.Context, institution, name string, version int) (*ast.WorkflowDefinition, error) {
	payload, err := s.get(ctx, kindWorkflow, institution, name, version)
	if err != nil {
		return nil, err
	}
	return codec.DecodeWorkflowDefinition(payload, codec.FormatJSON)
}

// ActiveWorkflowDefinition fetches the currently active version.
func (s *SQLiteDefinitions) ActiveWorkflowDefinition(ctx context.Context, institution, name string) (*ast.WorkflowDefinition, error) {
	payload, err := s.active(ctx, kindWorkflow, institution, name)
	if err != nil {
		return nil, err
	}
	return codec.DecodeWorkflowDefinition(payload, codec.FormatJSON)
}

// ActivateWorkflowDefinition marks the given version active.
func (s *SQLiteDefinitions) ActivateWorkflowDefinition(ctx context.Context, institution, name string, version int) error {
	return s.activate(ctx, kindWorkflow, institution, name, version)
}

// Ping verifies the database file is still reachable.
func (s *SQLiteDefinitions) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteDefinitions) Close() error {
	return s.db.Close()
}

func (s *SQLiteDefinitions) put(ctx context.Context, kind, institution, name string, version int, active bool, payload []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM definitions WHERE kind = ? AND institution_id = ? AND name = ? AND version = ?`,
		kind, institution, name, version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s %s/%s v%d: %w", kind, institution, name, version, err)
	}
	if exists > 0 {
		return fmt.Errorf("%s %s/%s v%d: %w", kind, institution, name, version, ErrVersionExists)
	}

	if active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE definitions SET is_active = 0 WHERE kind = ? AND institution_id = ? AND name = ?`,
			kind, institution, name,
		); err != nil {
			return fmt.Errorf("deactivate prior %s %s/%s: %w", kind, institution, name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO definitions (kind, institution_id, name, version, is_active, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kind, institution, name, version, boolInt(active), string(payload),
		time.Now().UTC().Format(timestampLayout),
	); err != nil {
		return fmt.Errorf("insert %s %s/%s v%d: %w", kind, institution, name, version, err)
	}

	return tx.Commit()
}

func (s *SQLiteDefinitions) get(ctx context.Context, kind, institution, name string, version int) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM definitions WHERE kind = ? AND institution_id = ? AND name = ? AND version = ?`,
		kind, institution, name, version,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s/%s v%d: %w", kind, institution, name, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s/%s v%d: %w", kind, institution, name, version, err)
	}
	return []byte(payload), nil
}

func (s *SQLiteDefinitions) active(ctx context.Context, kind, institution, name string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM definitions WHERE kind = ? AND institution_id = ? AND name = ? AND is_active = 1`,
		kind, institution, name,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s/%s: no active version: %w", kind, institution, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active %s %s/%s: %w", kind, institution, name, err)
	}
	return []byte(payload), nil
}

func (s *SQLiteDefinitions) activate(ctx context.Context, kind, institution, name string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE definitions SET is_active = (version = ?) WHERE kind = ? AND institution_id = ? AND name = ? AND version = ?`,
		version, kind, institution, name, version,
	)
	if err != nil {
		return fmt.Errorf("activate %s %s/%s v%d: %w", kind, institution, name, version, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate %s %s/%s v%d: %w", kind, institution, name, version, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s/%s v%d: %w", kind, institution, name, version, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE definitions SET is_active = 0 WHERE kind = ? AND institution_id = ? AND name = ? AND version != ?`,
		kind, institution, name, version,
	); err != nil {
		return fmt.Errorf("deactivate prior %s %s/%s: %w", kind, institution, name, err)
	}

	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
