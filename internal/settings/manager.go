package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/storage"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Local.
type Store interface {
	GetByID(ctx context.Context, c storage.Collection, id string) (storage.Record, bool, error)
	Put(ctx context.Context, c storage.Collection, r storage.Record) (bool, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached access to the settings document. Settings are
// local to the installation and never mirrored to the hub.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   domain.Settings
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithTTL(store, 60*time.Second)
}

// NewManagerWithTTL creates a Manager that caches reads for ttl.
func NewManagerWithTTL(store Store, ttl time.Duration) *Manager {
	return NewManagerWithClock(store, realClock{}, ttl)
}

// NewManagerWithClock creates a Manager with a custom clock and TTL.
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Get returns the settings document, or an empty one when none is stored.
func (m *Manager) Get(ctx context.Context) (domain.Settings, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		s := m.cached.Clone()
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return m.cached.Clone(), nil
	}

	rec, ok, err := m.store.GetByID(ctx, storage.Settings, domain.SettingsID)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	s := domain.Settings{}
	if ok {
		if err := rec.Decode(&s); err != nil {
			return nil, fmt.Errorf("%w: decoding settings: %v", domain.ErrInvalidRecord, err)
		}
		delete(s, "id")
	}

	m.cached = s
	m.cachedAt = m.clock.Now()
	return s.Clone(), nil
}

// Invalidate drops the cached document so the next Get reads the store.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Save overwrites the settings document wholesale and invalidates the cache.
func (m *Manager) Save(ctx context.Context, s domain.Settings) error {
	doc := s.Clone()
	doc["id"] = domain.SettingsID
	rec, err := storage.NewRecord(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Put(ctx, storage.Settings, rec); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	m.cached = nil
	return nil
}

// SetField updates a single key. String values that parse as JSON are
// stored decoded, so "true" and "3" become a bool and a number.
func (m *Manager) SetField(ctx context.Context, key string, value string) error {
	if key == "" || key == "id" {
		return fmt.Errorf("%w: invalid settings key %q", domain.ErrInvalidRecord, key)
	}
	s, err := m.Get(ctx)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		s[key] = decoded
	} else {
		s[key] = value
	}
	return m.Save(ctx, s)
}

// Merge overlays keys from s onto the stored document.
func (m *Manager) Merge(ctx context.Context, s domain.Settings) error {
	cur, err := m.Get(ctx)
	if err != nil {
		return err
	}
	for k, v := range s {
		if k == "id" {
			continue
		}
		cur[k] = v
	}
	return m.Save(ctx, cur)
}
