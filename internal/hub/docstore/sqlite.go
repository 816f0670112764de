package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/threadmark/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS hub_threads (
    id         TEXT PRIMARY KEY,
    doc        TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hub_threads_updated ON hub_threads(updated_at DESC);

CREATE TABLE IF NOT EXISTS hub_users (
    uid           TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    disabled      INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
`

// SQLite is a single-node hub store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the hub database at path, or in memory for ":memory:".
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing database: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putThread(ctx context.Context, ex execer, t domain.Thread) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thread: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO hub_threads (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		t.ID, string(doc), t.UpdatedAt.UnixNano())
	return err
}

func decodeThread(doc string) (domain.Thread, error) {
	var t domain.Thread
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return domain.Thread{}, fmt.Errorf("decoding thread: %w", err)
	}
	t.Normalize()
	return t, nil
}

func (s *SQLite) Put(ctx context.Context, t domain.Thread) error {
	return putThread(ctx, s.db, t)
}

func (s *SQLite) Get(ctx context.Context, id string) (domain.Thread, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM hub_threads WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Thread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	return decodeThread(doc)
}

func (s *SQLite) List(ctx context.Context) ([]domain.Thread, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM hub_threads ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []domain.Thread{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		t, err := decodeThread(doc)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *SQLite) Update(ctx context.Context, id string, fn func(*domain.Thread) error) (domain.Thread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Thread{}, err
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx, "SELECT doc FROM hub_threads WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Thread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	t, err := decodeThread(doc)
	if err != nil {
		return domain.Thread{}, err
	}
	if err := fn(&t); err != nil {
		return domain.Thread{}, err
	}
	t.ID = id
	if err := putThread(ctx, tx, t); err != nil {
		return domain.Thread{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Thread{}, err
	}
	return t, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM hub_threads WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLite) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO hub_users (uid, email, display_name, password_hash, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.UID, strings.ToLower(u.Email), u.DisplayName, u.PasswordHash, u.Disabled, u.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrUserExists
	}
	return err
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT uid, email, display_name, password_hash, disabled, created_at
		FROM hub_users WHERE email = ?`, strings.ToLower(email)))
}

func (s *SQLite) UserByID(ctx context.Context, uid string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT uid, email, display_name, password_hash, disabled, created_at
		FROM hub_users WHERE uid = ?`, uid))
}

func (s *SQLite) scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.UID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Disabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, domain.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return u, nil
}
