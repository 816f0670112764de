package storagetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kalambet/threadmark/internal/storage"
)

// Run exercises the Local Engine contract against an engine.
// makeEngine must return a clean, isolated engine.
func Run(t *testing.T, makeEngine func(t *testing.T) storage.Engine) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty collections", func(t *testing.T) {
		e := makeEngine(t)
		for _, c := range storage.Collections() {
			got, err := e.GetAll(ctx, c)
			if err != nil {
				t.Fatalf("GetAll(%s): %v", c, err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("GetAll(%s) = %v, want empty non-nil", c, got)
			}
		}
		if _, ok, err := e.GetByID(ctx, storage.Threads, "missing"); err != nil || ok {
			t.Fatalf("GetByID(missing): ok=%v err=%v", ok, err)
		}
	})

	t.Run("put reports insert then update", func(t *testing.T) {
		e := makeEngine(t)
		r := record(t, "t1", "first")

		inserted, err := e.Put(ctx, storage.Threads, r)
		if err != nil || !inserted {
			t.Fatalf("first Put: inserted=%v err=%v", inserted, err)
		}
		inserted, err = e.Put(ctx, storage.Threads, record(t, "t1", "second"))
		if err != nil || inserted {
			t.Fatalf("second Put: inserted=%v err=%v", inserted, err)
		}

		got, ok, err := e.GetByID(ctx, storage.Threads, "t1")
		if err != nil || !ok {
			t.Fatalf("GetByID: ok=%v err=%v", ok, err)
		}
		if title(t, got) != "second" {
			t.Fatalf("title = %q, want second", title(t, got))
		}
	})

	t.Run("put appends in insertion order", func(t *testing.T) {
		e := makeEngine(t)
		for _, id := range []string{"c", "a", "b"} {
			if _, err := e.Put(ctx, storage.Threads, record(t, id, id)); err != nil {
				t.Fatalf("Put(%s): %v", id, err)
			}
		}
		assertIDs(t, e, storage.Threads, "c", "a", "b")
	})

	t.Run("put all replaces collection", func(t *testing.T) {
		e := makeEngine(t)
		if _, err := e.Put(ctx, storage.Threads, record(t, "old", "old")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := e.PutAll(ctx, storage.Threads, []storage.Record{
			record(t, "t2", "two"),
			record(t, "t1", "one"),
		}); err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		assertIDs(t, e, storage.Threads, "t2", "t1")
	})

	t.Run("put all drops records without primary key", func(t *testing.T) {
		e := makeEngine(t)
		bad := storage.RecordFromJSON(json.RawMessage(`{"title":"no id"}`))
		if err := e.PutAll(ctx, storage.Threads, []storage.Record{
			record(t, "t1", "one"),
			bad,
			record(t, "t2", "two"),
		}); err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		assertIDs(t, e, storage.Threads, "t1", "t2")
	})

	t.Run("delete reports existence", func(t *testing.T) {
		e := makeEngine(t)
		if _, err := e.Put(ctx, storage.Threads, record(t, "t1", "one")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		deleted, err := e.Delete(ctx, storage.Threads, "t1")
		if err != nil || !deleted {
			t.Fatalf("Delete(t1): deleted=%v err=%v", deleted, err)
		}
		deleted, err = e.Delete(ctx, storage.Threads, "t1")
		if err != nil || deleted {
			t.Fatalf("second Delete(t1): deleted=%v err=%v", deleted, err)
		}
	})

	t.Run("collections are independent", func(t *testing.T) {
		e := makeEngine(t)
		if _, err := e.Put(ctx, storage.Threads, record(t, "same", "thread")); err != nil {
			t.Fatalf("Put thread: %v", err)
		}
		if _, err := e.Put(ctx, storage.Settings, record(t, "same", "settings")); err != nil {
			t.Fatalf("Put settings: %v", err)
		}
		if err := e.PutAll(ctx, storage.Threads, nil); err != nil {
			t.Fatalf("PutAll(nil): %v", err)
		}
		assertIDs(t, e, storage.Threads)
		assertIDs(t, e, storage.Settings, "same")
	})

	t.Run("clear empties both collections", func(t *testing.T) {
		e := makeEngine(t)
		e.Put(ctx, storage.Threads, record(t, "t1", "one"))
		e.Put(ctx, storage.Settings, record(t, "s1", "one"))
		if err := e.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		assertIDs(t, e, storage.Threads)
		assertIDs(t, e, storage.Settings)
	})

	t.Run("self test leaves no probe behind", func(t *testing.T) {
		e := makeEngine(t)
		res := e.SelfTest(ctx)
		if !res.Available || !res.Working {
			t.Fatalf("SelfTest = %+v, want available and working", res)
		}
		assertIDs(t, e, storage.Settings)
	})

	t.Run("unknown collection", func(t *testing.T) {
		e := makeEngine(t)
		if _, err := e.GetAll(ctx, storage.Collection("users")); err == nil {
			t.Fatal("GetAll(users): expected error")
		}
	})
}

func record(t *testing.T, id, title string) storage.Record {
	t.Helper()
	r, err := storage.NewRecord(map[string]any{"id": id, "title": title, "messages": []any{}})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return r
}

func title(t *testing.T, r storage.Record) string {
	t.Helper()
	var doc struct {
		Title string `json:"title"`
	}
	if err := r.Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return doc.Title
}

func assertIDs(t *testing.T, e storage.Engine, c storage.Collection, want ...string) {
	t.Helper()
	got, err := e.GetAll(context.Background(), c)
	if err != nil {
		t.Fatalf("GetAll(%s): %v", c, err)
	}
	if len(got) != len(want) {
		t.Fatalf("GetAll(%s) returned %d records, want %d", c, len(got), len(want))
	}
	for i, r := range got {
		if r.ID != want[i] {
			t.Errorf("GetAll(%s)[%d].ID = %q, want %q", c, i, r.ID, want[i])
		}
	}
}
