package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// SessionFile is the name of the persisted session inside the data dir.
const SessionFile = "session.json"

// FileProvider persists the session to disk so every threadmark process
// on the machine shares one sign-in.
type FileProvider struct {
	*Memory
	path   string
	logger *slog.Logger
}

// OpenFile loads the session stored at path, if any.
func OpenFile(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &FileProvider{Memory: NewMemory(), path: path, logger: logger.With("component", "auth")}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the session file location.
func (p *FileProvider) Path() string { return p.path }

// SignIn writes the session file and notifies subscribers.
func (p *FileProvider) SignIn(s Session) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(p.path, b, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	p.Memory.SignIn(s)
	return nil
}

// SignOut removes the session file and notifies subscribers.
func (p *FileProvider) SignOut() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	p.Memory.SignOut()
	return nil
}

func (p *FileProvider) reload() error {
	b, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		p.Memory.SignOut()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding session %s: %w", p.path, err)
	}
	p.Memory.SignIn(s)
	return nil
}

// Watch reloads the session whenever the file changes, until ctx is done.
func (p *FileProvider) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	name := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.Warn("session reload failed", "error", err)
				continue
			}
			_, signedIn := p.CurrentSession()
			p.logger.Info("session changed", "signed_in", signedIn)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("session watcher error", "error", err)
		}
	}
}
