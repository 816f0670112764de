// Package hub is the shared document store behind the Remote Engine.
// Every authenticated user reads and writes every thread; concurrent
// writes are last-write-wins by server time.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/hub/docstore"
)

const maxThreadBodySize = 16 << 20 // 16MB

// Deps holds the hub handler dependencies.
type Deps struct {
	Store     docstore.Store
	Sessions  *Sessions
	Publisher Publisher // optional
	Metrics   *Metrics  // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewHandler builds the hub HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/healthz", handleHealth(deps))
	r.Post("/v1/sessions", handleLogin(deps))

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(deps.Sessions))
		r.Get("/v1/threads", handleListThreads(deps))
		r.Get("/v1/threads/{id}", handleGetThread(deps))
		r.Put("/v1/threads/{id}", handlePutThread(deps))
		r.Patch("/v1/threads/{id}", handlePatchThread(deps))
		r.Delete("/v1/threads/{id}", handleDeleteThread(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable_error", "store unreachable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	User      domain.Identity `json:"user"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		token, user, expires, err := deps.Sessions.Login(r.Context(), req.Email, req.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			deps.countLogin("rejected")
			httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
			return
		}
		if err != nil {
			deps.countLogin("error")
			deps.Logger.Error("login failed", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "login failed")
			return
		}
		deps.countLogin("ok")
		deps.Logger.Info("session issued", "uid", user.UID)
		writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user.Identity(), ExpiresAt: expires.UTC()})
	}
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := deps.Store.List(r.Context())
		if err != nil {
			storeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
	}
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// handlePutThread writes a thread as a full replace. The server stamps
// updatedAt and the modifier, and keeps a caller-supplied createdAt.
func handlePutThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		who, _ := IdentityFrom(r.Context())

		var t domain.Thread
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxThreadBodySize)).Decode(&t); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid thread: %v", err)
			return
		}
		if t.ID != "" && t.ID != id {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "thread id %q does not match path %q", t.ID, id)
			return
		}
		t.ID = id
		t.Normalize()

		now := domain.At(deps.Now())
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		t.Stamp(who)

		if err := deps.Store.Put(r.Context(), t); err != nil {
			storeError(w, deps.Logger, err)
			return
		}
		deps.committed(SubjectThreadCreated, "create", t.ID, who)
		writeJSON(w, http.StatusOK, t)
	}
}

func handlePatchThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		who, _ := IdentityFrom(r.Context())

		var fields domain.Fields
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxThreadBodySize)).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid update: %v", err)
			return
		}
		delete(fields, "createdAt")
		delete(fields, "lastModifiedBy")
		delete(fields, "lastModifiedByUid")

		t, err := deps.Store.Update(r.Context(), id, func(t *domain.Thread) error {
			merged, err := t.Merge(fields)
			if err != nil {
				return err
			}
			merged.UpdatedAt = domain.At(deps.Now())
			merged.Stamp(who)
			*t = merged
			return nil
		})
		if err != nil {
			storeError(w, deps.Logger, err)
			return
		}
		deps.committed(SubjectThreadUpdated, "update", t.ID, who)
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		who, _ := IdentityFrom(r.Context())

		if err := deps.Store.Delete(r.Context(), id); err != nil {
			storeError(w, deps.Logger, err)
			return
		}
		deps.committed(SubjectThreadDeleted, "delete", id, who)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (deps Deps) committed(subject, op, id string, who domain.Identity) {
	if deps.Metrics != nil {
		deps.Metrics.ThreadWrites.WithLabelValues(op).Inc()
	}
	ev := ThreadEvent{ThreadID: id, ModifiedBy: who.UID, At: deps.Now().UTC()}
	if err := deps.Publisher.Publish(subject, ev); err != nil {
		deps.Logger.Warn("publishing change event failed", "subject", subject, "thread_id", id, "error", err)
	}
}

func (deps Deps) countLogin(outcome string) {
	if deps.Metrics != nil {
		deps.Metrics.Logins.WithLabelValues(outcome).Inc()
	}
}

func storeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, domain.ErrInvalidRecord):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		logger.Error("store operation failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "store operation failed")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
