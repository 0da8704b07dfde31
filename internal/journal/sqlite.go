package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema is the local journal layout.
const Schema = `
CREATE TABLE IF NOT EXISTS journal (
	id      TEXT PRIMARY KEY,
	kind    TEXT NOT NULL,
	symbol  TEXT NOT NULL,
	ref_id  TEXT NOT NULL,
	at      TIMESTAMP NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal (kind, id);
CREATE INDEX IF NOT EXISTS idx_journal_symbol ON journal (symbol, id);
`

// SQLite is a file-backed journal. It is both a Sink and the reader behind
// `setupctl journal`.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite %s: %w", path, err)
	}
	// A single connection serialises writers; sqlite locks the file anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Name() string { return "sqlite" }

// Write inserts rec; a duplicate ID is ignored.
func (j *SQLite) Write(ctx context.Context, rec Record) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO journal (id, kind, symbol, ref_id, at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Symbol, rec.RefID, rec.At.UTC(), string(rec.Payload),
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", rec.ID, err)
	}
	return nil
}

// Query filters List.
type Query struct {
	Kind   Kind
	Symbol string
	Limit  int
}

// List returns the newest records first.
func (j *SQLite) List(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, q.Symbol)
	}
	query := "SELECT id, kind, symbol, ref_id, at, payload FROM journal"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			kind    string
			at      time.Time
			payload string
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Symbol, &rec.RefID, &at, &payload); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		rec.Kind = Kind(kind)
		rec.At = at.UTC()
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *SQLite) Close() error {
	return j.db.Close()
}
