package override

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/citygrid-labs/aegis/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists overrides as JSON documents with an is_active
// column for querying.
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
	CREATE TABLE IF NOT EXISTS overrides (
		id        TEXT PRIMARY KEY,
		is_active INTEGER NOT NULL DEFAULT 0,
		document  JSON NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.EmergencyOverride, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM overrides WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var o contracts.EmergencyOverride
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return nil, fmt.Errorf("failed to decode stored override %s: %w", id, err)
	}
	return &o, nil
}

func (s *SQLiteStore) Put(ctx context.Context, o *contracts.EmergencyOverride) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode override %s: %w", o.ID, err)
	}
	active := 0
	if o.IsActive {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO overrides (id, is_active, document) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_active = excluded.is_active, document = excluded.document`,
		o.ID, active, string(doc))
	if err != nil {
		return fmt.Errorf("failed to upsert override %s: %w", o.ID, err)
	}
	return nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]contracts.EmergencyOverride, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM overrides ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.EmergencyOverride
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var o contracts.EmergencyOverride
		if err := json.Unmarshal([]byte(doc), &o); err != nil {
			return nil, fmt.Errorf("failed to decode stored override: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
