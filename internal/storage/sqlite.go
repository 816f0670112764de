package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the primary Local Engine: an embedded database holding the
// threads and settings collections.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "threadmark.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLite) Kind() Kind { return KindSQLite }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLite) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// table maps a collection to its table name. Only fixed names ever reach SQL.
func table(c Collection) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	return string(c), nil
}

func (s *SQLite) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	tbl, err := table(c)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, doc FROM "+tbl+" ORDER BY position ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", c, err)
		}
		records = append(records, Record{ID: id, Data: []byte(doc)})
	}
	return records, rows.Err()
}

func (s *SQLite) GetByID(ctx context.Context, c Collection, id string) (Record, bool, error) {
	tbl, err := table(c)
	if err != nil {
		return Record{}, false, err
	}
	var doc string
	err = s.db.QueryRowContext(ctx, "SELECT doc FROM "+tbl+" WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading %s/%s: %w", c, id, err)
	}
	return Record{ID: id, Data: []byte(doc)}, true, nil
}

func (s *SQLite) PutAll(ctx context.Context, c Collection, records []Record) error {
	tbl, err := table(c)
	if err != nil {
		return err
	}
	kept, dropped := withPrimaryKey(records)
	if dropped > 0 {
		slog.Warn("dropping records without primary key", "collection", c, "dropped", dropped)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace of %s: %w", c, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+tbl); err != nil {
		return fmt.Errorf("clearing %s: %w", c, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+tbl+` (id, position, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing insert into %s: %w", c, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, r := range kept {
		if _, err := stmt.ExecContext(ctx, r.ID, i, string(r.Data), now); err != nil {
			return fmt.Errorf("writing %s/%s: %w", c, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace of %s: %w", c, err)
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, c Collection, r Record) (bool, error) {
	tbl, err := table(c)
	if err != nil {
		return false, err
	}
	if r.ID == "" {
		return false, fmt.Errorf("put into %s: record has no primary key", c)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning put into %s: %w", c, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, "UPDATE "+tbl+" SET doc = ?, updated_at = ? WHERE id = ?", string(r.Data), now, r.ID)
	if err != nil {
		return false, fmt.Errorf("updating %s/%s: %w", c, r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	inserted := n == 0
	if inserted {
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+tbl+` (id, position, doc, updated_at)
			VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM `+tbl+`), ?, ?)`,
			r.ID, string(r.Data), now,
		); err != nil {
			return false, fmt.Errorf("inserting %s/%s: %w", c, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing put into %s: %w", c, err)
	}
	return inserted, nil
}

func (s *SQLite) Delete(ctx context.Context, c Collection, id string) (bool, error) {
	tbl, err := table(c)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+tbl+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning clear: %w", err)
	}
	defer tx.Rollback()

	for _, c := range Collections() {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+string(c)); err != nil {
			return fmt.Errorf("clearing %s: %w", c, err)
		}
	}
	return tx.Commit()
}

// Reset drops both collection tables and re-runs every migration.
func (s *SQLite) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reset: %w", err)
	}
	defer tx.Rollback()

	for _, c := range Collections() {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+string(c)); err != nil {
			return fmt.Errorf("dropping %s: %w", c, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("clearing schema_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}

	return s.migrate()
}

func (s *SQLite) SelfTest(ctx context.Context) SelfTestResult {
	return runSelfTest(ctx, s)
}
