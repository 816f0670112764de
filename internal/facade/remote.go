package facade

import (
	"context"
	"errors"

	"github.com/kalambet/threadmark/internal/domain"
)

// RemoteClient is the subset of remote.Client the engine uses.
type RemoteClient interface {
	Create(ctx context.Context, t domain.Thread) (domain.Thread, error)
	ReadAll(ctx context.Context) ([]domain.Thread, error)
	ReadByID(ctx context.Context, id string) (domain.Thread, error)
	Update(ctx context.Context, id string, fields domain.Fields) (domain.Thread, error)
	Delete(ctx context.Context, id string) error
	BulkImport(ctx context.Context, threads []domain.Thread) (int, error)
}

// KindRemote is the storage type reported for the hub.
const KindRemote = "remote"

// RemoteEngine adapts the hub client to the thread contract. The hub has
// native per-document writes, so saves are partial updates.
type RemoteEngine struct {
	client RemoteClient
}

func NewRemoteEngine(client RemoteClient) *RemoteEngine {
	return &RemoteEngine{client: client}
}

func (e *RemoteEngine) Kind() string { return KindRemote }

func (e *RemoteEngine) List(ctx context.Context) ([]domain.Thread, error) {
	return e.client.ReadAll(ctx)
}

func (e *RemoteEngine) Get(ctx context.Context, id string) (domain.Thread, error) {
	return e.client.ReadByID(ctx, id)
}

// Save updates the thread in place when it exists and creates it otherwise.
func (e *RemoteEngine) Save(ctx context.Context, t domain.Thread) (domain.Thread, error) {
	if err := t.Validate(); err != nil {
		return domain.Thread{}, err
	}
	fields, err := domain.FieldsOf(t)
	if err != nil {
		return domain.Thread{}, err
	}
	delete(fields, "lastModifiedBy")
	delete(fields, "lastModifiedByUid")

	out, err := e.client.Update(ctx, t.ID, fields)
	if errors.Is(err, domain.ErrNotFound) {
		return e.client.Create(ctx, t)
	}
	return out, err
}

// SaveAll saves threads in order and stops at the first failure. Threads
// without an id are skipped.
func (e *RemoteEngine) SaveAll(ctx context.Context, threads []domain.Thread) error {
	for _, t := range threads {
		if t.Validate() != nil {
			continue
		}
		if _, err := e.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *RemoteEngine) Update(ctx context.Context, id string, fields domain.Fields) (domain.Thread, error) {
	return e.client.Update(ctx, id, fields)
}

func (e *RemoteEngine) Delete(ctx context.Context, id string) (bool, error) {
	err := e.client.Delete(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *RemoteEngine) Import(ctx context.Context, threads []domain.Thread) (int, error) {
	return e.client.BulkImport(ctx, threads)
}

// Replace deletes every hub thread not in threads, then writes threads.
// Like BulkImport it is not transactional.
func (e *RemoteEngine) Replace(ctx context.Context, threads []domain.Thread) error {
	existing, err := e.client.ReadAll(ctx)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(threads))
	for _, t := range threads {
		keep[t.ID] = struct{}{}
	}
	for _, t := range existing {
		if _, ok := keep[t.ID]; ok {
			continue
		}
		if err := e.client.Delete(ctx, t.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	_, err = e.client.BulkImport(ctx, threads)
	return err
}
