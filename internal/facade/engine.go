package facade

import (
	"context"
	"sync/atomic"

	"github.com/kalambet/threadmark/internal/domain"
)

// Backend names the engine family the facade routes to.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// Engine is the thread contract both storage back-ends satisfy.
type Engine interface {
	// Kind is the storage type reported to diagnostics, e.g. "sqlite" or "remote".
	Kind() string
	List(ctx context.Context) ([]domain.Thread, error)
	// Get returns domain.ErrNotFound when the id is absent.
	Get(ctx context.Context, id string) (domain.Thread, error)
	Save(ctx context.Context, t domain.Thread) (domain.Thread, error)
	SaveAll(ctx context.Context, threads []domain.Thread) error
	// Update returns domain.ErrNotFound when the id is absent.
	Update(ctx context.Context, id string, fields domain.Fields) (domain.Thread, error)
	Delete(ctx context.Context, id string) (bool, error)
	Import(ctx context.Context, threads []domain.Thread) (int, error)
	// Replace makes threads the entire collection.
	Replace(ctx context.Context, threads []domain.Thread) error
}

// Selector holds the active backend. The facade reads it once per
// operation, so a switch only affects calls that start after it.
type Selector struct {
	active atomic.Value
}

func NewSelector(initial Backend) *Selector {
	s := &Selector{}
	s.active.Store(initial)
	return s
}

func (s *Selector) SetActiveBackend(b Backend) {
	s.active.Store(b)
}

func (s *Selector) Active() Backend {
	return s.active.Load().(Backend)
}
