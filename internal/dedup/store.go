// Package dedup implements the Dedup Store: the durable record of which
// fingerprints have already been delivered to which chats, and the
// subscriber roster driving the Scheduler. Backed by SQLite through
// modernc.org/sqlite's pure-Go driver, so the binary stays cgo-free.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maine/newsdigestbot/internal/news"
)

// schemaTimeout bounds schema setup the same way cartographus bounds its own
// startup DDL: a generous ceiling, not a tuning knob.
const schemaTimeout = 60 * time.Second

// Store is the Dedup Store and subscriber roster of spec.md §4.2/§6.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists. The parent directory (DATA_DIR) is created if missing;
// a directory that can't be created is the Fatal "data directory unwritable"
// condition of spec.md §7.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS subscribers (
		chat_id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		last_slot_sent_morning DATE,
		last_slot_sent_noon DATE,
		last_slot_sent_evening DATE,
		last_slot_sent_night DATE
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_log (
		chat_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		category TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL,
		PRIMARY KEY (chat_id, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_log_sent_at ON delivery_log (sent_at)`,
	`CREATE TABLE IF NOT EXISTS user_logs (
		user_id TEXT NOT NULL,
		username TEXT,
		first_name TEXT,
		interaction_time TIMESTAMP NOT NULL,
		message_type TEXT NOT NULL,
		location TEXT
	)`,
}

// HasSeen reports whether fingerprint has already been delivered to chatID.
func (s *Store) HasSeen(ctx context.Context, chatID, fingerprint string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivery_log WHERE chat_id = ? AND fingerprint = ?`,
		chatID, fingerprint,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has_seen: %w", err)
	}
	return true, nil
}

// MarkSent records a delivery. Idempotent on (chat_id, fingerprint), per
// spec.md §4.2.
func (s *Store) MarkSent(ctx context.Context, chatID, fingerprint string, category news.Category, when time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (chat_id, fingerprint, category, sent_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id, fingerprint) DO NOTHING`,
		chatID, fingerprint, string(category), when.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark_sent: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes delivery_log rows older than the retention window,
// run daily per spec.md §3.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_log WHERE sent_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge delivery_log: %w", err)
	}
	return res.RowsAffected()
}

// LogInteraction appends one row to the user_logs audit trail.
func (s *Store) LogInteraction(ctx context.Context, userID, username, firstName, messageType, location string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_logs (user_id, username, first_name, interaction_time, message_type, location) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, username, firstName, at.UTC(), messageType, location,
	)
	if err != nil {
		return fmt.Errorf("log_interaction: %w", err)
	}
	return nil
}
