package web

import (
	"net/http"
	"strconv"
)

// fifoBackfill handles POST /api/admin/fifo-backfill. The optional ?batch=N
// query parameter caps how many orders one call processes.
func (h *Handler) fifoBackfill(w http.ResponseWriter, r *http.Request) {
	batch := 0
	if raw := r.URL.Query().Get("batch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, "batch must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		batch = n
	}

	migrated, skipped, err := h.migration.MigrateLegacyOrders(r.Context(), batch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type response struct {
		Migrated int `json:"migrated"`
		Skipped  int `json:"skipped"`
	}
	writeJSON(w, response{Migrated: migrated, Skipped: skipped})
}
