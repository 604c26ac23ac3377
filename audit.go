package guardfile

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// auditSchema is applied on open. The decisions table is append-only.
const auditSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	digest     TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL,
	rule_id    TEXT NOT NULL DEFAULT '',
	severity   TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_run_id ON decisions(run_id);
CREATE INDEX IF NOT EXISTS idx_decisions_digest ON decisions(digest);
`

// AuditStore journals decisions to a SQLite database so runs leave a
// queryable trail. A nil store accepts and discards records.
type AuditStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenAuditStore opens or creates the audit database at path.
func OpenAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Record journals one decided file. Reports without a decision (unreadable
// inputs) are skipped.
func (s *AuditStore) Record(ctx context.Context, runID string, r *FileReport) error {
	if s == nil || r == nil || r.Decision == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (run_id, name, digest, media_type, outcome, rule_id, severity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Name, r.Digest, r.MediaType,
		r.Decision.Outcome.String(), r.Decision.RuleID, r.Severity,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record decision for %s: %w", r.Name, err)
	}
	return nil
}

// AuditEntry is one journaled decision.
type AuditEntry struct {
	ID        int64
	RunID     string
	Name      string
	Digest    string
	MediaType string
	Outcome   string
	RuleID    string
	Severity  string
	CreatedAt time.Time
}

// Recent returns the latest journaled decisions, newest first. A limit of 0
// or less falls back to 50.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, digest, media_type, outcome, rule_id, severity, created_at
		 FROM decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit store: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Name, &e.Digest, &e.MediaType,
			&e.Outcome, &e.RuleID, &e.Severity, &created); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *AuditStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
