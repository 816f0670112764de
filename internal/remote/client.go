// Package remote is the Remote Engine: an authenticated client for the
// shared threadmark hub. Threads live in one shared workspace; every
// authenticated user reads and writes all of them.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/domain"
)

// Client talks to the hub. It holds no connection state; every call makes
// its own request. There is no default timeout: a hub that never answers
// blocks the caller until ctx is done.
type Client struct {
	baseURL    string
	sessions   auth.Provider
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBulkRate paces BulkImport writes. r <= 0 disables pacing.
func WithBulkRate(r float64, burst int) Option {
	return func(c *Client) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the hub at baseURL.
func New(baseURL string, sessions auth.Provider, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessions:   sessions,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "remote")
	return c
}

// BaseURL returns the hub address.
func (c *Client) BaseURL() string { return c.baseURL }

// session fails fast with ErrAuthRequired before any network call.
func (c *Client) session() (auth.Session, error) {
	if c.sessions == nil {
		return auth.Session{}, fmt.Errorf("%w: no session provider", domain.ErrAuthRequired)
	}
	s, ok := c.sessions.CurrentSession()
	if !ok || s.Token == "" {
		return auth.Session{}, domain.ErrAuthRequired
	}
	return s, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: hub url is not configured (set remote.url)", domain.ErrUnavailable)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshalling request: %v", domain.ErrInvalidRecord, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: hub not reachable at %s (%v)", domain.ErrUnavailable, c.baseURL, err)
	}
	return resp, nil
}

// authed performs a request that requires a session.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, s.Token, method, path, body)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// decodeJSON maps hub status codes onto the storage error taxonomy and
// decodes a successful body into v (which may be nil).
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("%w: hub returned %d (failed to read body: %v)", domain.ErrTransientIO, resp.StatusCode, err)
		}
		msg := strings.TrimSpace(string(body))
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return fmt.Errorf("%w: hub returned %d: %s", statusError(resp.StatusCode), resp.StatusCode, msg)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding hub response: %v", domain.ErrTransientIO, err)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrAuthRequired
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusRequestEntityTooLarge:
		return domain.ErrInvalidRecord
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return domain.ErrUnavailable
	default:
		return domain.ErrTransientIO
	}
}

func threadPath(id string) string {
	return "/v1/threads/" + url.PathEscape(id)
}

// Ping checks that the hub answers its health endpoint. It needs no session.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "", http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}
