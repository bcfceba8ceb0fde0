package server

import (
	"net/http"

	"github.com/onnwee/stream-pulse/backend/db"
)

type scopedStats struct {
	TotalEvents    int `json:"total_events"`
	TotalDonations int `json:"total_donations"`
	TotalFollows   int `json:"total_follows"`
	TotalUsers     int `json:"total_users"`
}

type globalStats struct {
	scopedStats
	TotalStreams  int `json:"total_streams"`
	ActiveStreams int `json:"active_streams"`
}

// HandleStats serves aggregate counts: global when unfiltered, or scoped by
// stream_id (principal plus parts) or streamer_id.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scopeIDs, scoped, err := h.scopeStreamIDs(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve stream filter", err.Error())
		return
	}

	if scoped {
		if len(scopeIDs) == 0 {
			writeJSON(w, http.StatusOK, scopedStats{})
			return
		}
		clause, args := db.InArgs(scopeIDs, 1)
		var stats scopedStats
		err := h.db.QueryRowContext(r.Context(), `
			SELECT
				(SELECT COUNT(*) FROM events WHERE stream_id IN `+clause+`),
				(SELECT COUNT(*) FROM donations WHERE stream_id IN `+clause+`),
				(SELECT COUNT(*) FROM events WHERE event_type='follow' AND stream_id IN `+clause+`),
				(SELECT COUNT(DISTINCT user_id) FROM events WHERE user_id IS NOT NULL AND stream_id IN `+clause+`)
		`, args...).Scan(&stats.TotalEvents, &stats.TotalDonations, &stats.TotalFollows, &stats.TotalUsers)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch stats", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	var stats globalStats
	err = h.db.QueryRowContext(r.Context(), `
		SELECT
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM donations),
			(SELECT COUNT(*) FROM events WHERE event_type='follow'),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM streams),
			(SELECT COUNT(*) FROM streams WHERE ended_at IS NULL)
	`).Scan(&stats.TotalEvents, &stats.TotalDonations, &stats.TotalFollows,
		&stats.TotalUsers, &stats.TotalStreams, &stats.ActiveStreams)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch stats", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
