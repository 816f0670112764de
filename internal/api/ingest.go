package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kalambet/threadmark/internal/backup"
	"github.com/kalambet/threadmark/internal/domain"
)

// ImportRequest is the object form of an import body. A bare JSON array
// of threads is accepted as well.
type ImportRequest struct {
	Threads []domain.Thread `json:"threads"`
}

func decodeImport(body []byte) ([]domain.Thread, error) {
	body = bytes.TrimSpace(body)
	var threads []domain.Thread
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &threads); err != nil {
			return nil, err
		}
		return threads, nil
	}
	var req ImportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return req.Threads, nil
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}
		threads, err := decodeImport(body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(threads) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no threads to import")
			return
		}

		n, err := deps.Facade.ImportThreads(r.Context(), domain.AssignFreshIDs(threads))
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"imported": n})
	}
}

func handleBackupRestore(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, err := backup.ParseMode(r.URL.Query().Get("mode"))
		if err != nil {
			storageError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		f, err := backup.Decode(r.Body)
		if err != nil {
			storageError(w, err)
			return
		}

		res, err := backup.Import(r.Context(), deps.Facade, f, mode)
		if err != nil {
			storageError(w, err)
			return
		}
		deps.Logger.Info("backup restored", "mode", res.Mode, "threads", res.Threads, "settings", res.Settings)
		writeJSON(w, http.StatusOK, res)
	}
}
