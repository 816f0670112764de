package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/kalambet/threadmark/internal/domain"
)

// Backend preferences accepted by LocalOptions.Backend.
const (
	BackendAuto     = "auto"
	BackendSQLite   = "sqlite"
	BackendFlatFile = "flatfile"
)

// FlatStoreDir is the subdirectory of the data dir used by the flat-file engine.
const FlatStoreDir = "flatstore"

// LocalOptions configures engine selection.
type LocalOptions struct {
	// Backend is BackendAuto, BackendSQLite or BackendFlatFile.
	Backend       string
	FlatFileLimit int64
	Logger        *slog.Logger

	// OpenPrimary opens the embedded database. Defaults to OpenSQLite.
	OpenPrimary func(dataDir string) (Engine, error)
}

// Local selects the Local Engine back-end once per process and delegates
// to it. A failed embedded-database open downgrades to the flat-file
// store for the rest of the process lifetime; it is never retried.
type Local struct {
	dataDir string
	opts    LocalOptions
	logger  *slog.Logger

	once       sync.Once
	engine     Engine
	primaryErr error

	fallbackMu sync.Mutex
	fallback   *FlatFile
}

// NewLocal returns a selector rooted at dataDir. Nothing is opened until
// the first call.
func NewLocal(dataDir string, opts LocalOptions) *Local {
	if opts.Backend == "" {
		opts.Backend = BackendAuto
	}
	if opts.OpenPrimary == nil {
		opts.OpenPrimary = func(dir string) (Engine, error) { return OpenSQLite(dir) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{dataDir: dataDir, opts: opts, logger: logger.With("component", "local-engine")}
}

func (l *Local) init() {
	l.once.Do(func() {
		if l.opts.Backend != BackendFlatFile {
			e, err := l.opts.OpenPrimary(l.dataDir)
			if err == nil {
				l.engine = e
				l.logger.Debug("local engine selected", "kind", e.Kind(), "data_dir", l.dataDir)
				return
			}
			l.primaryErr = err
			if l.opts.Backend == BackendSQLite {
				l.logger.Error("embedded database unavailable", "error", err)
				return
			}
			l.logger.Warn("embedded database unavailable, falling back to flat-file store", "error", err)
		}

		ff, err := l.FlatFile()
		if err != nil {
			l.logger.Error("flat-file store unavailable", "error", err)
			return
		}
		l.engine = ff
		l.logger.Debug("local engine selected", "kind", KindFlatFile, "dir", ff.Dir())
	})
}

func (l *Local) active() (Engine, error) {
	l.init()
	if l.engine == nil {
		return nil, fmt.Errorf("%w: no local engine could be opened in %s", domain.ErrUnavailable, l.dataDir)
	}
	return l.engine, nil
}

// Kind reports the selected back-end, or KindUnavailable.
func (l *Local) Kind() Kind {
	l.init()
	if l.engine == nil {
		return KindUnavailable
	}
	return l.engine.Kind()
}

// PrimaryError is the reason the embedded database could not be opened,
// or nil when it was opened or never attempted.
func (l *Local) PrimaryError() error {
	l.init()
	return l.primaryErr
}

// DataDir returns the directory the engines live in.
func (l *Local) DataDir() string { return l.dataDir }

// FlatFile returns the flat-file store, opening it on first use. It is the
// active engine after a downgrade and the repair fallback otherwise.
func (l *Local) FlatFile() (*FlatFile, error) {
	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()
	if l.fallback != nil {
		return l.fallback, nil
	}
	ff, err := OpenFlatFile(filepath.Join(l.dataDir, FlatStoreDir), l.opts.FlatFileLimit)
	if err != nil {
		return nil, err
	}
	l.fallback = ff
	return ff, nil
}

// GetAll returns an empty slice rather than an error when no engine is available.
func (l *Local) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	e, err := l.active()
	if err != nil {
		l.logger.Debug("get all on unavailable engine", "collection", c)
		return []Record{}, nil
	}
	return e.GetAll(ctx, c)
}

func (l *Local) GetByID(ctx context.Context, c Collection, id string) (Record, bool, error) {
	e, err := l.active()
	if err != nil {
		return Record{}, false, err
	}
	return e.GetByID(ctx, c, id)
}

func (l *Local) PutAll(ctx context.Context, c Collection, records []Record) error {
	e, err := l.active()
	if err != nil {
		return err
	}
	return e.PutAll(ctx, c, records)
}

func (l *Local) Put(ctx context.Context, c Collection, r Record) (bool, error) {
	e, err := l.active()
	if err != nil {
		return false, err
	}
	inserted, err := e.Put(ctx, c, r)
	if err == nil {
		l.logger.Debug("record stored", "collection", c, "id", r.ID, "inserted", inserted)
	}
	return inserted, err
}

func (l *Local) Delete(ctx context.Context, c Collection, id string) (bool, error) {
	e, err := l.active()
	if err != nil {
		return false, err
	}
	return e.Delete(ctx, c, id)
}

func (l *Local) Clear(ctx context.Context) error {
	e, err := l.active()
	if err != nil {
		return err
	}
	return e.Clear(ctx)
}

// Reset drops and re-creates the active engine's storage. Engines without
// a reset primitive are cleared instead.
func (l *Local) Reset(ctx context.Context) error {
	e, err := l.active()
	if err != nil {
		return err
	}
	if r, ok := e.(Resetter); ok {
		return r.Reset(ctx)
	}
	return e.Clear(ctx)
}

// Usage reports space used when the active engine has a size ceiling.
// ok is false for engines without one.
func (l *Local) Usage() (u Usage, ok bool, err error) {
	e, err := l.active()
	if err != nil {
		return Usage{}, false, err
	}
	r, ok := e.(UsageReporter)
	if !ok {
		return Usage{}, false, nil
	}
	u, err = r.Usage()
	return u, true, err
}

func (l *Local) SelfTest(ctx context.Context) SelfTestResult {
	e, err := l.active()
	if err != nil {
		return SelfTestResult{Available: false, Detail: err.Error()}
	}
	return e.SelfTest(ctx)
}

// Close releases the embedded database handle if one was opened.
func (l *Local) Close() error {
	if l.engine == nil {
		return nil
	}
	if c, ok := l.engine.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
