package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/threadmark/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS threads (
    id         TEXT PRIMARY KEY,
    doc        JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads (updated_at DESC);

CREATE TABLE IF NOT EXISTS users (
    uid           TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    disabled      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres is a hub store for multi-node deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Put(ctx context.Context, t domain.Thread) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thread: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO threads (id, doc, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		t.ID, doc, t.UpdatedAt.Time)
	return err
}

func (s *Postgres) Get(ctx context.Context, id string) (domain.Thread, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, "SELECT doc FROM threads WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Thread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	return decodeThread(string(doc))
}

func (s *Postgres) List(ctx context.Context) ([]domain.Thread, error) {
	rows, err := s.pool.Query(ctx, "SELECT doc FROM threads ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []domain.Thread{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		t, err := decodeThread(string(doc))
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *Postgres) Update(ctx context.Context, id string, fn func(*domain.Thread) error) (domain.Thread, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, "SELECT doc FROM threads WHERE id = $1 FOR UPDATE", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Thread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	t, err := decodeThread(string(doc))
	if err != nil {
		return domain.Thread{}, err
	}
	if err := fn(&t); err != nil {
		return domain.Thread{}, err
	}
	t.ID = id

	out, err := json.Marshal(t)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("encoding thread: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE threads SET doc = $2, updated_at = $3 WHERE id = $1", id, out, t.UpdatedAt.Time); err != nil {
		return domain.Thread{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Thread{}, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM threads WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (uid, email, display_name, password_hash, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.UID, strings.ToLower(u.Email), u.DisplayName, u.PasswordHash, u.Disabled, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanPgUser(s.pool.QueryRow(ctx, `
		SELECT uid, email, display_name, password_hash, disabled, created_at
		FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (s *Postgres) UserByID(ctx context.Context, uid string) (User, error) {
	return scanPgUser(s.pool.QueryRow(ctx, `
		SELECT uid, email, display_name, password_hash, disabled, created_at
		FROM users WHERE uid = $1`, uid))
}

func scanPgUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.UID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Disabled, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, domain.ErrNotFound
	}
	return u, err
}
