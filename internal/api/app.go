package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/diagnostics"
	"github.com/kalambet/threadmark/internal/facade"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxImportBodySize = 32 << 20 // 32MB

type AppDeps struct {
	Facade      *facade.Facade
	Diagnostics *diagnostics.Diagnostics
	Sessions    auth.Provider
	Token       string

	// Writes serializes every mutating request. Share it with anything
	// else that writes local storage, such as scheduled maintenance.
	Writes sync.Locker
	Logger *slog.Logger
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Writes == nil {
		deps.Writes = &sync.Mutex{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/threads", handleListThreads(deps))
		r.Get("/threads/{id}", handleGetThread(deps))
		r.Get("/export/annotations.csv", handleExportCSV(deps))
		r.Get("/export/annotations.xlsx", handleExportXLSX(deps))
		r.Get("/backup", handleBackupExport(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Get("/diagnostics", handleDiagnostics(deps))
		r.Get("/diagnostics/dump", handleDump(deps))
		r.Get("/session", handleSession(deps))

		r.Group(func(r chi.Router) {
			r.Use(serialize(deps.Writes))

			r.Post("/threads", handleCreateThread(deps))
			r.Put("/threads/{id}", handlePutThread(deps))
			r.Patch("/threads/{id}", handlePatchThread(deps))
			r.Delete("/threads/{id}", handleDeleteThread(deps))
			r.Post("/threads/{id}/annotations", handleAppendAnnotation(deps))
			r.Delete("/threads/{id}/annotations/{index}", handleDeleteAnnotation(deps))
			r.Post("/import", handleImport(deps))
			r.Post("/backup", handleBackupRestore(deps))
			r.Put("/settings", handlePutSettings(deps))
			r.Patch("/settings", handlePatchSettings(deps))
			r.Post("/maintenance/repair", handleRepair(deps))
			r.Post("/maintenance/run", handleMaintenance(deps))
			r.Post("/sync", handleSync(deps))
		})
	})

	return r
}

// serialize holds mu for the duration of each request.
func serialize(mu sync.Locker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": string(deps.Facade.ActiveBackend()),
			"storage": deps.Facade.StorageType(),
		})
	}
}

func handleSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"signedIn": false,
			"user":     auth.Identity(deps.Sessions),
			"backend":  deps.Facade.ActiveBackend(),
			"storage":  deps.Facade.StorageType(),
		}
		if deps.Sessions != nil {
			if s, ok := deps.Sessions.CurrentSession(); ok {
				resp["signedIn"] = true
				resp["hubUrl"] = s.HubURL
				if !s.ExpiresAt.IsZero() {
					resp["expiresAt"] = s.ExpiresAt
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
