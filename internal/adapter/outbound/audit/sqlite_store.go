package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

// schema creates the audit table on first open.
const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TEXT NOT NULL,
	request_id  TEXT NOT NULL,
	subject_key TEXT NOT NULL,
	rule_id     TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	amount      REAL NOT NULL DEFAULT 0,
	currency    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_records_subject ON audit_records(subject_key);
`

// SQLiteStore implements audit.Store on an embedded SQLite database, for
// deployments that want queryable history across restarts.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	logger.Info("sqlite audit store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Append inserts records in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, records []audit.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_records (timestamp, request_id, subject_key, rule_id, decision, reason, amount, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.RequestID,
			rec.SubjectKey,
			rec.RuleID,
			rec.Decision,
			rec.Reason,
			rec.Amount,
			rec.Currency,
		)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, request_id, subject_key, rule_id, decision, reason, amount, currency
		FROM audit_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var rec audit.Record
		var ts string
		if err := rows.Scan(&ts, &rec.RequestID, &rec.SubjectKey, &rec.RuleID,
			&rec.Decision, &rec.Reason, &rec.Amount, &rec.Currency); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface verification.
var _ audit.Store = (*SQLiteStore)(nil)
