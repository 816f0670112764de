package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFlatFile_QuotaExceeded(t *testing.T) {
	f, err := OpenFlatFile(t.TempDir(), 256)
	if err != nil {
		t.Fatalf("OpenFlatFile: %v", err)
	}
	ctx := context.Background()

	small, _ := NewRecord(map[string]any{"id": "t1"})
	if err := f.PutAll(ctx, Threads, []Record{small}); err != nil {
		t.Fatalf("PutAll(small): %v", err)
	}

	big, _ := NewRecord(map[string]any{"id": "t2", "content": strings.Repeat("x", 512)})
	_, err = f.Put(ctx, Threads, big)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Put(big) err = %v, want ErrQuotaExceeded", err)
	}

	all, _ := f.GetAll(ctx, Threads)
	if len(all) != 1 {
		t.Errorf("len = %d after rejected write, want 1", len(all))
	}
}

func TestFlatFile_Usage(t *testing.T) {
	f, err := OpenFlatFile(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("OpenFlatFile: %v", err)
	}
	r, _ := NewRecord(map[string]any{"id": "t1"})
	f.Put(context.Background(), Threads, r)

	u, err := f.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.Limit != DefaultFlatFileLimit {
		t.Errorf("Limit = %d, want %d", u.Limit, DefaultFlatFileLimit)
	}
	if u.Used == 0 || u.Ratio() <= 0 {
		t.Errorf("Used = %d, Ratio = %f, want > 0", u.Used, u.Ratio())
	}
}

func TestFlatFile_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFlatFile(dir, 0)
	if err != nil {
		t.Fatalf("OpenFlatFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "threads.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = f.GetAll(context.Background(), Threads)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("GetAll err = %v, want ErrCorrupt", err)
	}

	if err := f.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	all, err := f.GetAll(context.Background(), Threads)
	if err != nil || len(all) != 0 {
		t.Errorf("after Reset: len=%d err=%v", len(all), err)
	}
}

func TestFlatFile_KeepsMalformedEntriesForRepair(t *testing.T) {
	dir := t.TempDir()
	f, _ := OpenFlatFile(dir, 0)
	content := `[{"id":"t1"},42,{"title":"orphan"},{"id":"t2"}]`
	os.WriteFile(filepath.Join(dir, "threads.json"), []byte(content), 0o644)

	all, err := f.GetAll(context.Background(), Threads)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	valid, removed := FilterValid(all)
	if len(valid) != 2 || removed != 2 {
		t.Errorf("FilterValid = %d valid, %d removed; want 2, 2", len(valid), removed)
	}
}
