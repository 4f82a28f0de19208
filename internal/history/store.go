// Package history persists a journal of processing attempts for operational
// introspection (the `history` command). Dedup stays in the dispatcher's
// in-memory set; this store is never consulted for eligibility.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one processing attempt, success or failure.
type Entry struct {
	ID         int64
	Channel    string
	ChatID     string
	MessageID  string
	URL        string
	Outcome    string // "success", "timeout", "navigation", "private", "empty", "unknown"
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// Store implements the journal using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processing_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		channel      TEXT NOT NULL,
		chat_id      TEXT NOT NULL,
		message_id   TEXT NOT NULL,
		url          TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		error        TEXT,
		duration_ms  INTEGER DEFAULT 0,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_processing_time ON processing_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends one attempt to the journal.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_log (channel, chat_id, message_id, url, outcome, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Channel, e.ChatID, e.MessageID, e.URL, e.Outcome, e.Error, e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record processing attempt: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, chat_id, message_id, url, outcome, COALESCE(error, ''), duration_ms, created_at
		 FROM processing_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query processing log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Channel, &e.ChatID, &e.MessageID, &e.URL, &e.Outcome, &e.Error, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processing log row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_log WHERE created_at < ?`,
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("prune processing log: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
