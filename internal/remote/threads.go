package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
)

type threadList struct {
	Threads []domain.Thread `json:"threads"`
}

// Create writes t as a full replace. The hub stamps updatedAt and the
// modifier identity, and keeps a caller-supplied createdAt.
func (c *Client) Create(ctx context.Context, t domain.Thread) (domain.Thread, error) {
	if err := t.Validate(); err != nil {
		return domain.Thread{}, err
	}
	t.Normalize()
	var out domain.Thread
	if err := c.authed(ctx, http.MethodPut, threadPath(t.ID), t, &out); err != nil {
		return domain.Thread{}, fmt.Errorf("creating thread %s: %w", t.ID, err)
	}
	out.Normalize()
	return out, nil
}

// ReadAll returns every thread, most recently updated first.
func (c *Client) ReadAll(ctx context.Context) ([]domain.Thread, error) {
	var out threadList
	if err := c.authed(ctx, http.MethodGet, "/v1/threads", nil, &out); err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	if out.Threads == nil {
		out.Threads = []domain.Thread{}
	}
	for i := range out.Threads {
		out.Threads[i].Normalize()
	}
	return out.Threads, nil
}

// ReadByID returns domain.ErrNotFound when the thread does not exist.
func (c *Client) ReadByID(ctx context.Context, id string) (domain.Thread, error) {
	var out domain.Thread
	if err := c.authed(ctx, http.MethodGet, threadPath(id), nil, &out); err != nil {
		return domain.Thread{}, fmt.Errorf("reading thread %s: %w", id, err)
	}
	out.Normalize()
	return out, nil
}

// Update merges fields onto an existing thread; domain.ErrNotFound if absent.
func (c *Client) Update(ctx context.Context, id string, fields domain.Fields) (domain.Thread, error) {
	var out domain.Thread
	if err := c.authed(ctx, http.MethodPatch, threadPath(id), fields, &out); err != nil {
		return domain.Thread{}, fmt.Errorf("updating thread %s: %w", id, err)
	}
	out.Normalize()
	return out, nil
}

// Delete removes a thread; domain.ErrNotFound if absent.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.authed(ctx, http.MethodDelete, threadPath(id), nil, nil); err != nil {
		return fmt.Errorf("deleting thread %s: %w", id, err)
	}
	return nil
}

// BulkImport writes each thread with create semantics, in order. It is not
// transactional: on failure the threads before the failing one stay
// committed and their count is returned with the error.
func (c *Client) BulkImport(ctx context.Context, threads []domain.Thread) (int, error) {
	if _, err := c.session(); err != nil {
		return 0, err
	}

	start := time.Now()
	for i, t := range threads {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return i, fmt.Errorf("bulk import paused at %d/%d: %w", i, len(threads), err)
			}
		}
		if _, err := c.Create(ctx, t); err != nil {
			c.logger.Warn("bulk import stopped", "committed", i, "total", len(threads), "error", err)
			return i, fmt.Errorf("bulk import failed at %d/%d: %w", i, len(threads), err)
		}
	}
	c.logger.Info("bulk import complete", "count", len(threads), "duration", time.Since(start))
	return len(threads), nil
}
