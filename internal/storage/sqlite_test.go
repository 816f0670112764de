package storage

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs OpenSQLite twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("first OpenSQLite failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("second OpenSQLite failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations out of order: %v", versions)
		}
	}
}

func TestCollectionTablesExist(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"threads", "settings"} {
		var n int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
		if err != nil {
			t.Fatalf("querying sqlite_master: %v", err)
		}
		if n != 1 {
			t.Errorf("table %s missing", name)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	r, _ := NewRecord(map[string]any{"id": "t1", "title": "kept"})
	if _, err := s1.Put(ctx, Threads, r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.GetByID(ctx, Threads, "t1")
	if err != nil || !ok {
		t.Fatalf("GetByID after reopen: ok=%v err=%v", ok, err)
	}
	if got.ID != "t1" {
		t.Errorf("ID = %q, want t1", got.ID)
	}
}

func TestPutAll_DuplicateIDsKeepLastDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := NewRecord(map[string]any{"id": "t1", "title": "first"})
	b, _ := NewRecord(map[string]any{"id": "t2", "title": "other"})
	c, _ := NewRecord(map[string]any{"id": "t1", "title": "last"})
	if err := s.PutAll(ctx, Threads, []Record{a, b, c}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	all, err := s.GetAll(ctx, Threads)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].ID != "t1" {
		t.Errorf("all[0].ID = %q, want t1", all[0].ID)
	}
	var doc struct{ Title string }
	all[0].Decode(&doc)
	if doc.Title != "last" {
		t.Errorf("title = %q, want last", doc.Title)
	}
}

func TestPutAll_FailedTransactionKeepsPreviousState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, _ := NewRecord(map[string]any{"id": "t1"})
	if err := s.PutAll(ctx, Threads, []Record{r}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	n, _ := NewRecord(map[string]any{"id": "t2"})
	if err := s.PutAll(cctx, Threads, []Record{n}); err == nil {
		t.Fatal("PutAll with cancelled context: expected error")
	}

	all, err := s.GetAll(ctx, Threads)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != "t1" {
		t.Errorf("collection = %v, want [t1]", all)
	}
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, _ := NewRecord(map[string]any{"id": "t1"})
	s.Put(ctx, Threads, r)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	all, err := s.GetAll(ctx, Threads)
	if err != nil {
		t.Fatalf("GetAll after Reset: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("len = %d, want 0", len(all))
	}
	versions, _ := s.AppliedMigrations()
	if len(versions) == 0 {
		t.Error("migrations not re-applied after Reset")
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("0002_position_indexes.sql")
	if err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v; want 2, nil", v, err)
	}
	if _, err := parseMigrationVersion("notes.sql"); err == nil {
		t.Error("expected error for unnumbered file")
	}
}
