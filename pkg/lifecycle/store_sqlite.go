package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/citygrid-labs/aegis/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists actions as JSON documents with a status column for
// the pending queue query. Rows are only ever inserted or updated in
// place; actions are never deleted.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS actions (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		document   JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_status ON actions (status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.Action, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM actions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var a contracts.Action
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("failed to decode stored action %s: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteStore) Put(ctx context.Context, a *contracts.Action) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode action %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, status, created_at, document) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, document = excluded.document`,
		a.ID, string(a.Status), a.CreatedAt, string(doc))
	if err != nil {
		return fmt.Errorf("failed to upsert action %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]contracts.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM actions WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(contracts.StatusPending))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Action
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a contracts.Action
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, fmt.Errorf("failed to decode stored action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
