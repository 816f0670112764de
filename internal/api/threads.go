package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/threadmark/internal/domain"
)

func handleListThreads(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads := deps.Facade.GetThreads(r.Context())

		if v := r.URL.Query().Get("annotated"); v != "" {
			want, err := strconv.ParseBool(v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "annotated must be true or false")
				return
			}
			kept := threads[:0]
			for _, t := range threads {
				if t.IsAnnotated == want {
					kept = append(kept, t)
				}
			}
			threads = kept
		}

		offset := parseIntParam(r, "offset", 0, 0)
		limit := parseIntParam(r, "limit", 0, 0)
		if offset > len(threads) {
			offset = len(threads)
		}
		threads = threads[offset:]
		if limit > 0 && limit < len(threads) {
			threads = threads[:limit]
		}

		writeJSON(w, http.StatusOK, threads)
	}
}

func handleGetThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		t, ok := deps.Facade.GetThread(r.Context(), id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func decodeThread(w http.ResponseWriter, r *http.Request) (domain.Thread, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var t domain.Thread
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return domain.Thread{}, false
	}
	return t, true
}

func handleCreateThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := decodeThread(w, r)
		if !ok {
			return
		}
		if t.ID == "" {
			t.ID = domain.NewID()
		}

		saved, err := deps.Facade.SaveThread(r.Context(), t)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handlePutThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := decodeThread(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if t.ID != "" && t.ID != id {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "body id %q does not match path id %q", t.ID, id)
			return
		}
		t.ID = id

		saved, err := deps.Facade.SaveThread(r.Context(), t)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handlePatchThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields domain.Fields
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		t, err := deps.Facade.UpdateThread(r.Context(), chi.URLParam(r, "id"), fields)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Facade.DeleteThread(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storageError(w, err)
			return
		}
		if !deleted {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleAppendAnnotation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var in domain.AnnotationInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		t, err := deps.Facade.AppendAnnotation(r.Context(), chi.URLParam(r, "id"), in)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleDeleteAnnotation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "annotation index must be an integer")
			return
		}

		t, err := deps.Facade.DeleteAnnotation(r.Context(), chi.URLParam(r, "id"), index)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}
