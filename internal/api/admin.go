package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/threadmark/internal/backup"
	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/export"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

func handleExportCSV(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csv := export.ConvertAnnotationsToCSV(deps.Facade.GetThreads(r.Context()))
		attachment(w, "text/csv; charset=utf-8", "annotations-"+time.Now().Format("2006-01-02")+".csv")
		w.Write([]byte(csv))
	}
}

func handleExportXLSX(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, deps.Facade.GetThreads(r.Context())); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build workbook: %v", err)
			return
		}
		attachment(w, xlsxContentType, "annotations-"+time.Now().Format("2006-01-02")+".xlsx")
		w.Write(buf.Bytes())
	}
}

func handleBackupExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		f := backup.Export(r.Context(), deps.Facade, now)
		attachment(w, "application/json", "threadmark-backup-"+now.Format("2006-01-02")+".json")
		if err := backup.Write(w, f); err != nil {
			deps.Logger.Warn("writing backup response failed", "error", err)
		}
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Facade.GetSettings(r.Context()))
	}
}

func decodeSettings(w http.ResponseWriter, r *http.Request) (domain.Settings, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var s domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return nil, false
	}
	if s == nil {
		s = domain.Settings{}
	}
	return s, true
}

func handlePutSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := decodeSettings(w, r)
		if !ok {
			return
		}
		if err := deps.Facade.SaveSettings(r.Context(), s); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Facade.GetSettings(r.Context()))
	}
}

func handlePatchSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := decodeSettings(w, r)
		if !ok {
			return
		}
		if err := deps.Facade.MergeSettings(r.Context(), s); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Facade.GetSettings(r.Context()))
	}
}

func requireDiagnostics(w http.ResponseWriter, deps AppDeps) bool {
	if deps.Diagnostics == nil {
		httpError(w, http.StatusServiceUnavailable, "unavailable", "diagnostics are not configured")
		return false
	}
	return true
}

func handleDiagnostics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDiagnostics(w, deps) {
			return
		}
		writeJSON(w, http.StatusOK, deps.Diagnostics.RunDiagnostics(r.Context()))
	}
}

func handleDump(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDiagnostics(w, deps) {
			return
		}
		writeJSON(w, http.StatusOK, deps.Diagnostics.Dump(r.Context()))
	}
}

func handleRepair(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDiagnostics(w, deps) {
			return
		}
		rep, err := deps.Diagnostics.RepairStorage(r.Context())
		if err != nil {
			deps.Logger.Error("storage repair failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "repair failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleMaintenance(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDiagnostics(w, deps) {
			return
		}
		rep, err := deps.Diagnostics.PerformMaintenance(r.Context())
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Facade.SyncToRemote(r.Context())
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"synced": n})
	}
}
