package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/cloudsync"
	"github.com/kalambet/threadmark/internal/config"
	"github.com/kalambet/threadmark/internal/diagnostics"
	"github.com/kalambet/threadmark/internal/facade"
	"github.com/kalambet/threadmark/internal/remote"
	"github.com/kalambet/threadmark/internal/settings"
	"github.com/kalambet/threadmark/internal/storage"
)

// app is the wired storage layer of one threadmark process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	local    *storage.Local
	sessions *auth.FileProvider
	hub      *remote.Client
	facade   *facade.Facade
	diag     *diagnostics.Diagnostics
	writes   *sync.Mutex
	unbind   func()
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func sessionPath(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, auth.SessionFile)
}

// hubURL prefers the configured hub and falls back to the one the
// current session was issued by.
func hubURL(cfg config.Config, sessions auth.Provider) string {
	if cfg.Remote.URL != "" {
		return cfg.Remote.URL
	}
	if s, ok := sessions.CurrentSession(); ok {
		return s.HubURL
	}
	return ""
}

func newHubClient(cfg config.Config, url string, sessions auth.Provider, logger *slog.Logger) *remote.Client {
	opts := []remote.Option{
		remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
		remote.WithBulkRate(cfg.Remote.RateLimit, 1),
	}
	if logger != nil {
		opts = append(opts, remote.WithLogger(logger))
	}
	return remote.New(url, sessions, opts...)
}

func openApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	local := storage.NewLocal(cfg.Storage.DataDir, storage.LocalOptions{
		Backend:       strings.ToLower(cfg.Storage.Backend),
		FlatFileLimit: int64(cfg.Storage.FlatFileLimit),
		Logger:        logger,
	})

	sessions, err := auth.OpenFile(sessionPath(cfg), logger)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("loading session: %w", err)
	}

	localEngine := facade.NewLocalEngine(local, logger)
	opts := facade.Options{
		Local:    localEngine,
		Sessions: sessions,
		Settings: settings.NewManagerWithTTL(local, cfg.Settings.CacheTTL),
		Logger:   logger,
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		local:    local,
		sessions: sessions,
		writes:   &sync.Mutex{},
	}

	var pinger diagnostics.Pinger
	if url := hubURL(cfg, sessions); url != "" {
		a.hub = newHubClient(cfg, url, sessions, logger)
		opts.Remote = facade.NewRemoteEngine(a.hub)
		opts.Syncer = cloudsync.New(localEngine, a.hub, sessions, logger)
		pinger = a.hub
	}

	a.facade = facade.New(opts)
	a.unbind = a.facade.Bind(sessions)
	a.diag = diagnostics.New(local, a.facade, pinger, logger)
	return a, nil
}

func (a *app) Close() error {
	if a.unbind != nil {
		a.unbind()
	}
	return a.local.Close()
}
