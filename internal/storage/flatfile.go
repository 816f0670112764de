package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultFlatFileLimit is the practical ceiling of the flat-file store.
const DefaultFlatFileLimit int64 = 5 << 20 // 5MB

// ErrQuotaExceeded is returned when a write would grow the flat-file store
// past its size limit.
var ErrQuotaExceeded = errors.New("flat-file store size limit exceeded")

// ErrCorrupt is returned when a collection file is not a JSON array.
var ErrCorrupt = errors.New("collection file is corrupt")

// FlatFile is the synchronous fallback engine: one JSON array file per
// collection, rewritten in full on every mutation.
type FlatFile struct {
	dir   string
	limit int64

	mu sync.Mutex
}

// OpenFlatFile prepares dir for flat-file storage. A limit <= 0 selects
// DefaultFlatFileLimit.
func OpenFlatFile(dir string, limit int64) (*FlatFile, error) {
	if limit <= 0 {
		limit = DefaultFlatFileLimit
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating flat-file directory: %w", err)
	}
	return &FlatFile{dir: dir, limit: limit}, nil
}

func (f *FlatFile) Kind() Kind { return KindFlatFile }

// Dir returns the directory holding the collection files.
func (f *FlatFile) Dir() string { return f.dir }

func (f *FlatFile) path(c Collection) string {
	return filepath.Join(f.dir, string(c)+".json")
}

func (f *FlatFile) read(c Collection) ([]Record, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c, err)
	}
	if len(b) == 0 {
		return []Record{}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, c, err)
	}
	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		records = append(records, RecordFromJSON(raw))
	}
	return records, nil
}

func (f *FlatFile) write(c Collection, records []Record) error {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = r.Data
	}
	b, err := json.Marshal(raws)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", c, err)
	}

	var others int64
	for _, other := range Collections() {
		if other == c {
			continue
		}
		if fi, err := os.Stat(f.path(other)); err == nil {
			others += fi.Size()
		}
	}
	if total := others + int64(len(b)); total > f.limit {
		return fmt.Errorf("%w: writing %s needs %d bytes, limit is %d", ErrQuotaExceeded, c, total, f.limit)
	}

	tmp, err := os.CreateTemp(f.dir, string(c)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", c, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", c, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", c, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", c, err)
	}
	if err := os.Rename(tmp.Name(), f.path(c)); err != nil {
		return fmt.Errorf("replacing %s: %w", c, err)
	}
	return nil
}

func (f *FlatFile) GetAll(_ context.Context, c Collection) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(c)
}

func (f *FlatFile) GetByID(_ context.Context, c Collection, id string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read(c)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

func (f *FlatFile) PutAll(_ context.Context, c Collection, records []Record) error {
	if err := c.validate(); err != nil {
		return err
	}
	kept, dropped := withPrimaryKey(records)
	if dropped > 0 {
		slog.Warn("dropping records without primary key", "collection", c, "dropped", dropped)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(c, dedupe(kept))
}

func (f *FlatFile) Put(_ context.Context, c Collection, r Record) (bool, error) {
	if r.ID == "" {
		return false, fmt.Errorf("put into %s: record has no primary key", c)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read(c)
	if err != nil {
		return false, err
	}
	inserted := true
	for i := range records {
		if records[i].ID == r.ID {
			records[i] = r
			inserted = false
			break
		}
	}
	if inserted {
		records = append(records, r)
	}
	return inserted, f.write(c, records)
}

func (f *FlatFile) Delete(_ context.Context, c Collection, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read(c)
	if err != nil {
		return false, err
	}
	kept := records[:0]
	found := false
	for _, r := range records {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return false, nil
	}
	return true, f.write(c, kept)
}

func (f *FlatFile) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range Collections() {
		if err := f.write(c, nil); err != nil {
			return err
		}
	}
	return nil
}

// Reset removes the collection files entirely.
func (f *FlatFile) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range Collections() {
		if err := os.Remove(f.path(c)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", c, err)
		}
	}
	return os.MkdirAll(f.dir, 0o755)
}

// Usage reports the bytes used by all collection files against the limit.
func (f *FlatFile) Usage() (Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := Usage{Limit: f.limit}
	for _, c := range Collections() {
		fi, err := os.Stat(f.path(c))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Usage{}, err
		}
		u.Used += fi.Size()
	}
	return u, nil
}

func (f *FlatFile) SelfTest(ctx context.Context) SelfTestResult {
	return runSelfTest(ctx, f)
}

// dedupe keeps the first position of each id and the last document written for it.
func dedupe(records []Record) []Record {
	index := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
