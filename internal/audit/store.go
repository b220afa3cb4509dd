// Package audit provides SQLite-backed archival of moderation actions.
// The realtime server publishes entries on the mod.audit stream; the auditor
// binary consumes them and writes them here for operator review. The archive
// is write-mostly and independent of the in-memory moderation sets.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Actions recorded in the archive, matching the CHECK constraint on the
// mod_audit table.
const (
	ActionMute   = "mute"
	ActionUnmute = "unmute"
	ActionBan    = "ban"
	ActionUnban  = "unban"
)

var validActions = map[string]bool{
	ActionMute:   true,
	ActionUnmute: true,
	ActionBan:    true,
	ActionUnban:  true,
}

// Entry is a single moderation action.
type Entry struct {
	Action   string    `json:"action"`
	ActorID  int64     `json:"actor_id"`
	TargetID int64     `json:"target_id"`
	At       time.Time `json:"at"`
}

// Store manages the moderation archive in SQLite.
type Store struct {
	db *sql.DB
}

// Open prepares the archive database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("audit: database path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS mod_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL CHECK (action IN ('mute','unmute','ban','unban')),
		actor_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mod_audit_action_at ON mod_audit(action, at DESC);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert archives one moderation action. The action is validated against the
// allowed set before insertion.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if !validActions[e.Action] {
		return fmt.Errorf("audit: invalid action %q", e.Action)
	}

	const query = `INSERT INTO mod_audit (action, actor_id, target_id, at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, e.Action, e.ActorID, e.TargetID, e.At.UTC()); err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns how many actions of the given kind were archived
// within the window. Useful for operator dashboards (e.g. ban spikes).
func (s *Store) CountRecent(ctx context.Context, action string, window time.Duration) (int, error) {
	const query = `SELECT COUNT(*) FROM mod_audit WHERE action = ? AND at >= ?`

	var count int
	cutoff := time.Now().Add(-window).UTC()
	if err := s.db.QueryRowContext(ctx, query, action, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}
