package facade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/storage"
)

// LocalEngine adapts a storage.Engine to the thread contract. The local
// primitives only replace whole collections or single records, so every
// composite write loads the full collection, edits it and writes it back
// with PutAll. Two unserialized writers race and the later PutAll wins.
type LocalEngine struct {
	store  storage.Engine
	now    func() time.Time
	logger *slog.Logger
}

func NewLocalEngine(store storage.Engine, logger *slog.Logger) *LocalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngine{store: store, now: time.Now, logger: logger}
}

func (e *LocalEngine) Kind() string { return string(e.store.Kind()) }

func (e *LocalEngine) load(ctx context.Context) ([]domain.Thread, error) {
	records, err := e.store.GetAll(ctx, storage.Threads)
	if err != nil {
		return nil, err
	}
	threads := make([]domain.Thread, 0, len(records))
	for _, r := range records {
		t, err := decodeThread(r)
		if err != nil {
			e.logger.Warn("skipping unreadable thread record", "id", r.ID, "error", err)
			continue
		}
		threads = append(threads, t)
	}
	return threads, nil
}

func decodeThread(r storage.Record) (domain.Thread, error) {
	var t domain.Thread
	if err := r.Decode(&t); err != nil {
		return domain.Thread{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}
	if t.ID == "" {
		t.ID = r.ID
	}
	t.Normalize()
	return t, nil
}

func (e *LocalEngine) write(ctx context.Context, threads []domain.Thread) error {
	records := make([]storage.Record, 0, len(threads))
	for _, t := range threads {
		r, err := storage.NewRecord(t)
		if err != nil {
			return fmt.Errorf("%w: encoding thread %s: %v", domain.ErrInvalidRecord, t.ID, err)
		}
		records = append(records, r)
	}
	return e.store.PutAll(ctx, storage.Threads, records)
}

func (e *LocalEngine) stamp(t *domain.Thread) {
	now := domain.At(e.now())
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Normalize()
}

// splice replaces the thread with t's id or appends t.
func splice(threads []domain.Thread, t domain.Thread) []domain.Thread {
	for i := range threads {
		if threads[i].ID == t.ID {
			threads[i] = t
			return threads
		}
	}
	return append(threads, t)
}

func (e *LocalEngine) List(ctx context.Context) ([]domain.Thread, error) {
	return e.load(ctx)
}

func (e *LocalEngine) Get(ctx context.Context, id string) (domain.Thread, error) {
	r, ok, err := e.store.GetByID(ctx, storage.Threads, id)
	if err != nil {
		return domain.Thread{}, err
	}
	if !ok {
		return domain.Thread{}, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	return decodeThread(r)
}

func (e *LocalEngine) Save(ctx context.Context, t domain.Thread) (domain.Thread, error) {
	if err := t.Validate(); err != nil {
		return domain.Thread{}, err
	}
	threads, err := e.load(ctx)
	if err != nil {
		return domain.Thread{}, err
	}
	t = t.Clone()
	e.stamp(&t)
	if err := e.write(ctx, splice(threads, t)); err != nil {
		return domain.Thread{}, fmt.Errorf("saving thread %s: %w", t.ID, err)
	}
	return t, nil
}

// SaveAll upserts every thread that has an id. Threads without one are
// dropped with a warning rather than failing the batch.
func (e *LocalEngine) SaveAll(ctx context.Context, batch []domain.Thread) error {
	threads, err := e.load(ctx)
	if err != nil {
		return err
	}
	dropped := 0
	for _, t := range batch {
		if t.Validate() != nil {
			dropped++
			continue
		}
		t = t.Clone()
		e.stamp(&t)
		threads = splice(threads, t)
	}
	if dropped > 0 {
		e.logger.Warn("dropping threads without id", "dropped", dropped, "kept", len(batch)-dropped)
	}
	if err := e.write(ctx, threads); err != nil {
		return fmt.Errorf("saving %d threads: %w", len(batch)-dropped, err)
	}
	return nil
}

func (e *LocalEngine) Update(ctx context.Context, id string, fields domain.Fields) (domain.Thread, error) {
	threads, err := e.load(ctx)
	if err != nil {
		return domain.Thread{}, err
	}
	for i := range threads {
		if threads[i].ID != id {
			continue
		}
		merged, err := threads[i].Merge(fields)
		if err != nil {
			return domain.Thread{}, err
		}
		e.stamp(&merged)
		threads[i] = merged
		if err := e.write(ctx, threads); err != nil {
			return domain.Thread{}, fmt.Errorf("updating thread %s: %w", id, err)
		}
		return merged, nil
	}
	return domain.Thread{}, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
}

func (e *LocalEngine) Delete(ctx context.Context, id string) (bool, error) {
	threads, err := e.load(ctx)
	if err != nil {
		return false, err
	}
	kept := make([]domain.Thread, 0, len(threads))
	for _, t := range threads {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(threads) {
		return false, nil
	}
	if err := e.write(ctx, kept); err != nil {
		return false, fmt.Errorf("deleting thread %s: %w", id, err)
	}
	return true, nil
}

// Import appends threads to the collection. Ids are the caller's
// responsibility; a duplicate id replaces the stored thread.
func (e *LocalEngine) Import(ctx context.Context, batch []domain.Thread) (int, error) {
	threads, err := e.load(ctx)
	if err != nil {
		return 0, err
	}
	now := domain.At(e.now())
	n := 0
	for _, t := range batch {
		if t.Validate() != nil {
			e.logger.Warn("skipping imported thread without id")
			continue
		}
		t = t.Clone()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		t.Normalize()
		threads = splice(threads, t)
		n++
	}
	if err := e.write(ctx, threads); err != nil {
		return 0, fmt.Errorf("importing %d threads: %w", n, err)
	}
	return n, nil
}

func (e *LocalEngine) Replace(ctx context.Context, threads []domain.Thread) error {
	normalized := make([]domain.Thread, 0, len(threads))
	for _, t := range threads {
		t = t.Clone()
		t.Normalize()
		normalized = append(normalized, t)
	}
	return e.write(ctx, normalized)
}
