package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/citygrid-labs/aegis/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteRepository persists policy heads and their immutable version
// history. Whole documents are stored as JSON; head columns exist for
// querying by scope and status.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates the repository and runs its migration.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS policies (
		id       TEXT PRIMARY KEY,
		scope    TEXT NOT NULL,
		scope_id TEXT,
		status   TEXT NOT NULL,
		version  INTEGER NOT NULL,
		document JSON NOT NULL
	);
	CREATE TABLE IF NOT EXISTS policy_versions (
		id       TEXT NOT NULL,
		version  INTEGER NOT NULL,
		document JSON NOT NULL,
		PRIMARY KEY (id, version)
	);`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*contracts.Policy, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM policies WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodePolicy(doc)
}

func (r *SQLiteRepository) Put(ctx context.Context, p *contracts.Policy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy %s: %w", p.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO policies (id, scope, scope_id, status, version, document)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope, scope_id = excluded.scope_id,
			status = excluded.status, version = excluded.version,
			document = excluded.document`,
		p.ID, string(p.Scope), p.ScopeID, string(p.Status), p.Version, string(doc))
	if err != nil {
		return fmt.Errorf("failed to upsert policy %s: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) SaveVersion(ctx context.Context, p *contracts.Policy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy %s: %w", p.ID, err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO policy_versions (id, version, document) VALUES (?, ?, ?)`,
		p.ID, p.Version, string(doc))
	if err != nil {
		return fmt.Errorf("failed to snapshot policy %s version %d: %w", p.ID, p.Version, err)
	}
	return nil
}

func (r *SQLiteRepository) GetVersion(ctx context.Context, id string, version int) (*contracts.Policy, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM policies WHERE id = ? AND version = ?`, id, version).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.QueryRowContext(ctx,
			`SELECT document FROM policy_versions WHERE id = ? AND version = ?`, id, version).Scan(&doc)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s version %d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodePolicy(doc)
}

func (r *SQLiteRepository) History(ctx context.Context, id string) ([]contracts.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document FROM policy_versions WHERE id = ? ORDER BY version ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPolicies(rows)
}

func (r *SQLiteRepository) All(ctx context.Context) ([]contracts.Policy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT document FROM policies ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPolicies(rows)
}

func scanPolicies(rows *sql.Rows) ([]contracts.Policy, error) {
	var out []contracts.Policy
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		p, err := decodePolicy(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePolicy(doc string) (*contracts.Policy, error) {
	var p contracts.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("failed to decode stored policy: %w", err)
	}
	return &p, nil
}
