// Package directory is the user-lookup collaborator consumed by the realtime
// core: it resolves a user id to the live role, ban flag, and display fields
// from the platform's SQLite store. Moderation actions consult it instead of
// trusting the handshake snapshot, which can go stale.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"os"

	_ "modernc.org/sqlite"

	"github.com/tavern/community-app/internal/identity"
)

// User is the live directory record for a platform user.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	Role        identity.Role
	Avatar      string
	Banned      bool
}

// Store reads and updates user records in SQLite.
type Store struct {
	db *sql.DB
}

// Open prepares the SQLite database at path and ensures the users schema
// exists. The connection pool is pinned to a single connection, which is how
// SQLite behaves best under concurrent access.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("directory: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("directory: ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("directory: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory: configure sqlite: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		avatar TEXT NOT NULL DEFAULT '',
		banned INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetUserByID returns the live record for a user, or (nil, nil) when the id
// is unknown. Guest sentinel ids are never present in the directory.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	const query = `SELECT id, username, display_name, role, avatar, banned FROM users WHERE id = ?`

	var (
		u      User
		role   string
		banned int
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.DisplayName, &role, &u.Avatar, &banned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get user %d: %w", id, err)
	}

	u.Role = identity.ParseRole(role)
	u.Banned = banned != 0
	return &u, nil
}

// UpsertUser inserts or replaces a user record. The admin panel owns user
// management; the realtime core uses this for seeding and tests.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	const query = `INSERT INTO users (id, username, display_name, role, avatar, banned)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			role = excluded.role,
			avatar = excluded.avatar,
			banned = excluded.banned`

	banned := 0
	if u.Banned {
		banned = 1
	}
	if _, err := s.db.ExecContext(ctx, query,
		u.ID, u.Username, u.DisplayName, string(u.Role), u.Avatar, banned); err != nil {
		return fmt.Errorf("directory: upsert user %d: %w", u.ID, err)
	}
	return nil
}

// SetBanned flips the persistent ban flag so a ban survives in the user
// record even though the realtime moderation sets are process-scoped.
func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) error {
	v := 0
	if banned {
		v = 1
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET banned = ? WHERE id = ?`, v, id); err != nil {
		return fmt.Errorf("directory: set banned %d: %w", id, err)
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}
