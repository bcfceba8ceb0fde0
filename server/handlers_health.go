package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var one int
			err := h.db.QueryRowContext(r.Context(),
				"SELECT 1 FROM streams LIMIT 1").Scan(&one)
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports a coarse operational summary for the dashboard header.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := map[string]any{"database": "ok"}
	if err := h.db.PingContext(r.Context()); err != nil {
		status["database"] = err.Error()
	}
	var totalStreams, activeStreams int
	if err := h.db.QueryRowContext(r.Context(), `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE ended_at IS NULL) FROM streams
	`).Scan(&totalStreams, &activeStreams); err == nil {
		status["total_streams"] = totalStreams
		status["active_streams"] = activeStreams
	}
	writeJSON(w, http.StatusOK, status)
}
