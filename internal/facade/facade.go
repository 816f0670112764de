package facade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/domain"
)

// SettingsStore is the settings document store. Implemented by settings.Manager.
type SettingsStore interface {
	Get(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
	Merge(ctx context.Context, s domain.Settings) error
}

// Syncer copies local threads to the hub. Implemented by cloudsync.Syncer.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// Options configures a Facade. Local and Selector are required.
type Options struct {
	Local    Engine
	Remote   Engine
	Selector *Selector
	Sessions auth.Provider
	Settings SettingsStore
	Syncer   Syncer
	Now      func() time.Time
	Logger   *slog.Logger
}

// Facade is the single entry point for thread and settings storage. It
// routes each call to the Remote Engine while a session is active and to
// the Local Engine otherwise.
//
// Reads never fail: errors are logged and an empty result is returned.
// Writes return their errors. The facade does not serialize writes;
// callers must not issue a second local write before the first returns.
type Facade struct {
	local    Engine
	remote   Engine
	selector *Selector
	sessions auth.Provider
	settings SettingsStore
	syncer   Syncer
	now      func() time.Time
	logger   *slog.Logger
}

func New(opts Options) *Facade {
	if opts.Selector == nil {
		opts.Selector = NewSelector(BackendLocal)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Facade{
		local:    opts.Local,
		remote:   opts.Remote,
		selector: opts.Selector,
		sessions: opts.Sessions,
		settings: opts.Settings,
		syncer:   opts.Syncer,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "facade"),
	}
}

// Bind selects the backend for the provider's current session and follows
// later session changes. The returned function stops following them.
func (f *Facade) Bind(p auth.Provider) (unsubscribe func()) {
	f.sessions = p
	_, ok := p.CurrentSession()
	f.switchBackend(ok)
	return p.Subscribe(func(_ auth.Session, ok bool) {
		f.switchBackend(ok)
	})
}

func (f *Facade) switchBackend(signedIn bool) {
	next := BackendLocal
	if signedIn && f.remote != nil {
		next = BackendRemote
	}
	if prev := f.selector.Active(); prev != next {
		f.logger.Info("switching storage backend", "from", prev, "to", next)
	}
	f.selector.SetActiveBackend(next)
}

// activeBackend reads the selector and drops back to local once the
// session has expired, since expiry fires no change notification.
func (f *Facade) activeBackend() Backend {
	if f.remote == nil || f.selector.Active() != BackendRemote {
		return BackendLocal
	}
	if f.sessions != nil {
		if _, ok := f.sessions.CurrentSession(); !ok {
			f.switchBackend(false)
			return BackendLocal
		}
	}
	return BackendRemote
}

// engine resolves the active engine. Callers hold on to the result for the
// whole operation.
func (f *Facade) engine() Engine {
	if f.activeBackend() == BackendRemote {
		return f.remote
	}
	return f.local
}

func (f *Facade) identity() domain.Identity {
	return auth.Identity(f.sessions)
}

// ActiveBackend reports which engine family new calls are routed to.
func (f *Facade) ActiveBackend() Backend {
	return f.activeBackend()
}

// StorageType reports the concrete engine behind the active backend.
func (f *Facade) StorageType() string {
	return f.engine().Kind()
}

// Local returns the Local Engine regardless of the active backend.
func (f *Facade) Local() Engine { return f.local }

func (f *Facade) GetThreads(ctx context.Context) []domain.Thread {
	e := f.engine()
	threads, err := e.List(ctx)
	if err != nil {
		f.logger.Warn("listing threads failed", "storage", e.Kind(), "error", err)
		return []domain.Thread{}
	}
	return threads
}

// GetThread reports false when the thread is absent or cannot be read.
func (f *Facade) GetThread(ctx context.Context, id string) (domain.Thread, bool) {
	e := f.engine()
	t, err := e.Get(ctx, id)
	if err != nil {
		f.logger.Debug("reading thread failed", "storage", e.Kind(), "id", id, "error", err)
		return domain.Thread{}, false
	}
	return t, true
}

func (f *Facade) SaveThread(ctx context.Context, t domain.Thread) (domain.Thread, error) {
	return f.engine().Save(ctx, t)
}

func (f *Facade) SaveThreads(ctx context.Context, threads []domain.Thread) error {
	return f.engine().SaveAll(ctx, threads)
}

// UpdateThread returns domain.ErrNotFound when the thread is absent.
func (f *Facade) UpdateThread(ctx context.Context, id string, fields domain.Fields) (domain.Thread, error) {
	return f.engine().Update(ctx, id, fields)
}

// DeleteThread reports false, without error, when the thread was absent.
func (f *Facade) DeleteThread(ctx context.Context, id string) (bool, error) {
	return f.engine().Delete(ctx, id)
}

// WithThread loads a thread, applies mutate and stores the result. It
// carries the same race as every other local write.
func (f *Facade) WithThread(ctx context.Context, id string, mutate func(*domain.Thread) error) (domain.Thread, error) {
	e := f.engine()
	t, err := e.Get(ctx, id)
	if err != nil {
		return domain.Thread{}, err
	}
	t.Normalize()
	if err := mutate(&t); err != nil {
		return domain.Thread{}, err
	}
	t.RecomputeAnnotated()

	fields, err := domain.FieldsOf(t)
	if err != nil {
		return domain.Thread{}, err
	}
	delete(fields, "createdAt")
	delete(fields, "updatedAt")
	delete(fields, "lastModifiedBy")
	delete(fields, "lastModifiedByUid")
	return e.Update(ctx, id, fields)
}

// AppendAnnotation adds an annotation stamped with the current time and
// the caller's identity.
func (f *Facade) AppendAnnotation(ctx context.Context, threadID string, in domain.AnnotationInput) (domain.Thread, error) {
	if err := in.Validate(); err != nil {
		return domain.Thread{}, err
	}
	who := f.identity()
	return f.WithThread(ctx, threadID, func(t *domain.Thread) error {
		tags := in.Tags
		if tags == nil {
			tags = []string{}
		}
		t.Annotations = append(t.Annotations, domain.Annotation{
			Rating:       in.Rating,
			Notes:        in.Notes,
			Tags:         tags,
			Timestamp:    domain.At(f.now()),
			CreatedBy:    who.Label(),
			CreatedByUID: who.UID,
		})
		return nil
	})
}

// DeleteAnnotation removes the annotation at index. An index outside the
// list leaves the thread unchanged and is not an error.
func (f *Facade) DeleteAnnotation(ctx context.Context, threadID string, index int) (domain.Thread, error) {
	return f.WithThread(ctx, threadID, func(t *domain.Thread) error {
		if index >= 0 && index < len(t.Annotations) {
			t.Annotations = append(t.Annotations[:index], t.Annotations[index+1:]...)
		}
		return nil
	})
}

// ImportThreads adds threads to the active engine. Callers assign fresh
// ids first (domain.AssignFreshIDs).
func (f *Facade) ImportThreads(ctx context.Context, threads []domain.Thread) (int, error) {
	e := f.engine()
	n, err := e.Import(ctx, threads)
	if err != nil {
		return n, fmt.Errorf("importing into %s: %w", e.Kind(), err)
	}
	f.logger.Info("threads imported", "storage", e.Kind(), "count", n)
	return n, nil
}

// ReplaceThreads overwrites the active engine's thread collection.
func (f *Facade) ReplaceThreads(ctx context.Context, threads []domain.Thread) error {
	return f.engine().Replace(ctx, threads)
}

// SyncToRemote copies every local thread to the hub.
func (f *Facade) SyncToRemote(ctx context.Context) (int, error) {
	if f.syncer == nil {
		return 0, fmt.Errorf("%w: no hub configured", domain.ErrUnavailable)
	}
	return f.syncer.Sync(ctx)
}

// GetSettings returns the settings document, empty when it cannot be read.
func (f *Facade) GetSettings(ctx context.Context) domain.Settings {
	if f.settings == nil {
		return domain.Settings{}
	}
	s, err := f.settings.Get(ctx)
	if err != nil {
		f.logger.Warn("reading settings failed", "error", err)
		return domain.Settings{}
	}
	return s
}

func (f *Facade) SaveSettings(ctx context.Context, s domain.Settings) error {
	if f.settings == nil {
		return fmt.Errorf("%w: no settings store", domain.ErrUnavailable)
	}
	return f.settings.Save(ctx, s)
}

// MergeSettings overlays s onto the stored settings document.
func (f *Facade) MergeSettings(ctx context.Context, s domain.Settings) error {
	if f.settings == nil {
		return fmt.Errorf("%w: no settings store", domain.ErrUnavailable)
	}
	return f.settings.Merge(ctx, s)
}

// InvalidateSettings drops a cached settings document, when the settings
// store keeps one.
func (f *Facade) InvalidateSettings() {
	if c, ok := f.settings.(interface{ Invalidate() }); ok {
		c.Invalidate()
	}
}
