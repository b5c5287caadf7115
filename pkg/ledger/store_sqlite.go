package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/citygrid-labs/aegis/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit entries keyed by
// (resource_type, resource_id, sequence) with a hash column.
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
	CREATE TABLE IF NOT EXISTS audit_entries (
		resource_type   TEXT NOT NULL,
		resource_id     TEXT NOT NULL,
		sequence        INTEGER NOT NULL,
		entry_id        TEXT NOT NULL UNIQUE,
		event_type      TEXT NOT NULL,
		severity        TEXT NOT NULL,
		timestamp       DATETIME NOT NULL,
		actor_id        TEXT NOT NULL,
		actor_type      TEXT NOT NULL,
		actor_name      TEXT,
		description     TEXT,
		compliance_tags TEXT,
		prev_hash       TEXT NOT NULL,
		hash            TEXT NOT NULL,
		PRIMARY KEY (resource_type, resource_id, sequence)
	);
	CREATE TABLE IF NOT EXISTS sealed_chains (
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		sealed_at     DATETIME NOT NULL,
		PRIMARY KEY (resource_type, resource_id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const entryColumns = `resource_type, resource_id, sequence, entry_id, event_type, severity, timestamp, actor_id, actor_type, actor_name, description, compliance_tags, prev_hash, hash`

// timestampLayout pads nanoseconds to a fixed width so that the TEXT
// column compares and sorts in chronological order. RFC3339Nano trims
// trailing zeros, which breaks string comparison at sub-second
// boundaries.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *SQLiteStore) AppendEntry(ctx context.Context, e contracts.AuditEntry) error {
	query := `INSERT INTO audit_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ResourceType, e.ResourceID, e.Sequence, e.EntryID, string(e.EventType), string(e.Severity),
		e.Timestamp.UTC().Format(timestampLayout),
		e.Actor.ID, string(e.Actor.Type), e.Actor.Name,
		e.Description, strings.Join(e.ComplianceTags, ","), e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Entries(ctx context.Context, resourceType, resourceID string) ([]contracts.AuditEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE resource_type = ? AND resource_id = ? ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *SQLiteStore) LastEntry(ctx context.Context, resourceType, resourceID string) (*contracts.AuditEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE resource_type = ? AND resource_id = ? ORDER BY sequence DESC LIMIT 1`
	rows, err := s.db.QueryContext(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *SQLiteStore) IsSealed(ctx context.Context, resourceType, resourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sealed_chains WHERE resource_type = ? AND resource_id = ?`,
		resourceType, resourceID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkSealed(ctx context.Context, resourceType, resourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sealed_chains (resource_type, resource_id, sealed_at) VALUES (?, ?, ?)`,
		resourceType, resourceID, time.Now().UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to mark chain sealed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]contracts.AuditEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE 1=1`
	var args []any
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(f.EventType))
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	if f.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, f.ResourceType)
	}
	if !f.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.From.UTC().Format(timestampLayout))
	}
	if !f.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.To.UTC().Format(timestampLayout))
	}
	query += ` ORDER BY timestamp ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]contracts.AuditEntry, error) {
	var out []contracts.AuditEntry
	for rows.Next() {
		var (
			e         contracts.AuditEntry
			eventType string
			severity  string
			actorType string
			actorName sql.NullString
			desc      sql.NullString
			tags      sql.NullString
			ts        string
		)
		if err := rows.Scan(
			&e.ResourceType, &e.ResourceID, &e.Sequence, &e.EntryID, &eventType, &severity,
			&ts, &e.Actor.ID, &actorType, &actorName, &desc, &tags, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		e.EventType = contracts.EventType(eventType)
		e.Severity = contracts.Severity(severity)
		e.Actor.Type = contracts.ActorType(actorType)
		e.Actor.Name = actorName.String
		e.Description = desc.String
		if tags.String != "" {
			e.ComplianceTags = strings.Split(tags.String, ",")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
