package api

import (
	"net/http"

	"stayops/internal/export"
	"stayops/internal/metrics"
	"stayops/internal/models"
)

const exportPageSize = models.DefaultSyncLogPageSize * 20

func (s *HTTPServer) handleSyncLogExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_log_export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := parseSyncLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = exportPageSize
	filter.Offset = 0

	store, err := s.store(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable, retry later")
		return
	}

	entries, err := store.ListSyncLog(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query sync log")
		return
	}

	path, err := export.SyncLogReport(entries, s.cfg.Exports.Path)
	if err != nil {
		s.logger.Error().Err(err).Msg("sync log export failed")
		writeError(w, http.StatusInternalServerError, "failed to write report")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, path)
}
