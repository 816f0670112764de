// Package cloudsync copies the Local Engine's threads to the hub.
package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/domain"
)

// Source lists the threads to copy. Implemented by facade.LocalEngine.
type Source interface {
	List(ctx context.Context) ([]domain.Thread, error)
}

// Sink receives the threads. Implemented by remote.Client.
type Sink interface {
	BulkImport(ctx context.Context, threads []domain.Thread) (int, error)
}

// Syncer performs a one-way bulk copy from local storage to the hub.
type Syncer struct {
	source   Source
	sink     Sink
	sessions auth.Provider
	logger   *slog.Logger
}

func New(source Source, sink Sink, sessions auth.Provider, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{source: source, sink: sink, sessions: sessions, logger: logger.With("component", "sync")}
}

// Sync writes every local thread to the hub and returns how many were
// written. Without a session nothing is read or sent. A failure partway
// returns the committed count with the error; the committed threads stay
// on the hub.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	if s.sessions == nil {
		return 0, domain.ErrAuthRequired
	}
	if _, ok := s.sessions.CurrentSession(); !ok {
		return 0, domain.ErrAuthRequired
	}

	start := time.Now()
	threads, err := s.source.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading local threads: %w", err)
	}
	if len(threads) == 0 {
		s.logger.Info("nothing to sync")
		return 0, nil
	}

	n, err := s.sink.BulkImport(ctx, threads)
	if err != nil {
		s.logger.Error("sync failed", "synced", n, "total", len(threads), "error", err)
		return n, fmt.Errorf("syncing to hub: %w", err)
	}
	s.logger.Info("sync complete", "synced", n, "duration", time.Since(start))
	return n, nil
}
