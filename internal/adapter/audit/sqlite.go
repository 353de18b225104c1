// Package audit persists envelopes that reached a terminal state.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shopassist/internal/domain"
)

// tsLayout is fixed width so that stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one audited envelope.
type Entry struct {
	MessageID   string               `json:"message_id"`
	Sender      string               `json:"sender"`
	Recipient   string               `json:"recipient"`
	MessageType string               `json:"message_type"`
	Status      domain.MessageStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// SQLiteRecorder implements domain.EnvelopeRecorder using SQLite.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens (or creates) a SQLite database at dbPath and runs
// the schema migration. ":memory:" is accepted for tests.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS envelopes (
			message_id   TEXT PRIMARY KEY,
			sender       TEXT NOT NULL,
			recipient    TEXT NOT NULL,
			message_type TEXT NOT NULL,
			status       TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			payload      TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_envelopes_finished ON envelopes(finished_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}

// Record implements domain.EnvelopeRecorder. Re-recording a message id
// replaces the earlier row.
func (s *SQLiteRecorder) Record(env domain.Envelope, finishedAt time.Time) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO envelopes
			(message_id, sender, recipient, message_type, status, error, payload, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.MessageID, env.Sender, env.Recipient, env.MessageType, string(env.Status),
		env.Response.ErrorText(), string(payload),
		env.Timestamp.UTC().Format(tsLayout), finishedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("insert envelope %s: %w", env.MessageID, err)
	}
	return nil
}

// Recent returns up to limit entries, most recently finished first.
func (s *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, sender, recipient, message_type, status, error, payload, created_at, finished_at
		 FROM envelopes ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			status, payload   string
			created, finished string
		)
		if err := rows.Scan(&e.MessageID, &e.Sender, &e.Recipient, &e.MessageType,
			&status, &e.Error, &payload, &created, &finished); err != nil {
			return nil, err
		}
		e.Status = domain.MessageStatus(status)
		e.Payload = json.RawMessage(payload)
		e.CreatedAt, _ = time.Parse(tsLayout, created)
		e.FinishedAt, _ = time.Parse(tsLayout, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByStatus returns the number of audited envelopes per terminal status.
func (s *SQLiteRecorder) CountByStatus(ctx context.Context) (map[domain.MessageStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM envelopes GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.MessageStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.MessageStatus(status)] = n
	}
	return counts, rows.Err()
}

// Prune deletes entries that finished before cutoff and returns how many
// were removed.
func (s *SQLiteRecorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM envelopes WHERE finished_at < ?", cutoff.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("prune envelopes: %w", err)
	}
	return res.RowsAffected()
}

var _ domain.EnvelopeRecorder = (*SQLiteRecorder)(nil)
