package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/onnwee/stream-pulse/backend/db"
	"github.com/onnwee/stream-pulse/backend/stream"
)

type viewerSample struct {
	Time        time.Time `json:"time"`
	ViewerCount int       `json:"viewer_count"`
	MaxViewers  int       `json:"max_viewers"`
	MinViewers  int       `json:"min_viewers"`
}

// HandleViewerHistory serves the viewer-count time series. GET requires
// stream_id (expanded to the principal and all parts) and supports
// group_by=minute|hour for averaged buckets; POST records one sample.
func (h *Handlers) HandleViewerHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleViewerHistoryList(w, r)
	case http.MethodPost:
		h.handleViewerHistoryInsert(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleViewerHistoryList(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("stream_id")
	if streamID == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: stream_id", "")
		return
	}
	hours := parseIntQuery(r, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	_, ids, err := stream.Scope(r.Context(), h.db, streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve stream filter", err.Error())
		return
	}
	clause, args := db.InArgs(ids, 1)
	args = append(args, since)
	sinceArg := fmt.Sprintf("$%d", len(args))

	var query string
	switch r.URL.Query().Get("group_by") {
	case "minute":
		query = `
			SELECT DATE_TRUNC('minute', created_at) AS time,
			       AVG(viewer_count)::INTEGER,
			       MAX(viewer_count),
			       MIN(viewer_count)
			FROM viewer_history
			WHERE stream_id IN ` + clause + ` AND created_at >= ` + sinceArg + `
			GROUP BY DATE_TRUNC('minute', created_at)
			ORDER BY time ASC`
	case "hour":
		query = `
			SELECT DATE_TRUNC('hour', created_at) AS time,
			       AVG(viewer_count)::INTEGER,
			       MAX(viewer_count),
			       MIN(viewer_count)
			FROM viewer_history
			WHERE stream_id IN ` + clause + ` AND created_at >= ` + sinceArg + `
			GROUP BY DATE_TRUNC('hour', created_at)
			ORDER BY time ASC`
	default:
		query = `
			SELECT created_at AS time, viewer_count, viewer_count, viewer_count
			FROM viewer_history
			WHERE stream_id IN ` + clause + ` AND created_at >= ` + sinceArg + `
			ORDER BY created_at ASC`
	}

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch viewer history", err.Error())
		return
	}
	defer rows.Close()

	list := make([]viewerSample, 0)
	for rows.Next() {
		var s viewerSample
		if err := rows.Scan(&s.Time, &s.ViewerCount, &s.MaxViewers, &s.MinViewers); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch viewer history", err.Error())
			return
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch viewer history", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) handleViewerHistoryInsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StreamID    string `json:"stream_id"`
		ViewerCount *int   `json:"viewer_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if body.StreamID == "" || body.ViewerCount == nil {
		writeError(w, http.StatusBadRequest, "missing required fields: stream_id, viewer_count", "")
		return
	}

	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO viewer_history (stream_id, viewer_count) VALUES ($1, $2)
	`, body.StreamID, *body.ViewerCount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save viewer history", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
