package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"tradecore/pkg/proto"
)

// metadataTable is the SQLite half of the store: everything about a record
// except its vector.
type metadataTable struct {
	db *sql.DB
}

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	summary TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL,
	outcome TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
CREATE INDEX IF NOT EXISTS idx_records_agent ON records(agent_id);
`

// openMetadataTable opens the SQLite database with WAL mode and initializes
// the schema. Safe to call on an existing database.
func openMetadataTable(ctx context.Context, path string) (*metadataTable, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open metadata table: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping metadata table: %w", err)
	}
	if _, err := db.ExecContext(ctx, recordsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize metadata schema: %w", err)
	}

	// WAL readers proceed concurrently; the store's write mutex is the single
	// serialization point for mutations.
	db.SetMaxOpenConns(4)
	return &metadataTable{db: db}, nil
}

func (m *metadataTable) insert(ctx context.Context, rec *Record) error {
	outcome := rec.Outcome
	if outcome == "" {
		outcome = proto.OutcomePending
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO records (id, summary, agent_id, kind, symbol, importance, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Summary, rec.AgentID, string(rec.Kind), rec.Symbol,
		rec.Importance, string(outcome), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert record metadata: %w", err)
	}
	return nil
}

func (m *metadataTable) delete(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record metadata: %w", err)
	}
	return nil
}

func (m *metadataTable) get(ctx context.Context, id string) (*Record, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, summary, agent_id, kind, symbol, importance, outcome, created_at
		FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", proto.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record metadata: %w", err)
	}
	return rec, nil
}

// getMany returns the subset of the requested ids that have metadata rows,
// preserving no particular order.
func (m *metadataTable) getMany(ctx context.Context, ids []string) (map[string]*Record, error) {
	if len(ids) == 0 {
		return map[string]*Record{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, summary, agent_id, kind, symbol, importance, outcome, created_at
		FROM records WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get record metadata batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record metadata: %w", err)
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record metadata: %w", err)
	}
	return out, nil
}

// updateOutcome sets the outcome label. Idempotent: setting the same label
// again reports zero affected rows and no change.
func (m *metadataTable) updateOutcome(ctx context.Context, id string, label proto.OutcomeLabel) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE records SET outcome = ? WHERE id = ? AND outcome != ?`,
		string(label), id, string(label))
	if err != nil {
		return false, fmt.Errorf("update record outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update record outcome: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Distinguish "already at that label" from "no such record".
	var exists int
	row := m.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, id)
	if err := row.Scan(&exists); errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: record %s", proto.ErrNotFound, id)
	} else if err != nil {
		return false, fmt.Errorf("update record outcome: %w", err)
	}
	return false, nil
}

// expiredBefore returns ids of records created before the cutoff.
func (m *metadataTable) expiredBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id FROM records WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query expired records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired records: %w", err)
	}
	return ids, nil
}

func (m *metadataTable) count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (m *metadataTable) close() error {
	return m.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var kind, outcome, createdAt string
	if err := row.Scan(&rec.ID, &rec.Summary, &rec.AgentID, &kind, &rec.Symbol,
		&rec.Importance, &outcome, &createdAt); err != nil {
		return nil, err
	}

	rec.Kind = proto.EventKind(kind)
	rec.Outcome = proto.OutcomeLabel(outcome)
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = ts
	return &rec, nil
}
