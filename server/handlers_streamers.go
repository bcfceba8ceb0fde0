package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/stream-pulse/backend/stream"
)

// HandleStreamers serves GET (list, newest first) and POST (upsert keyed on
// username) on /streamers.
func (h *Handlers) HandleStreamers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleStreamersList(w, r)
	case http.MethodPost:
		h.handleStreamerUpsert(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleStreamersList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, username, display_name, profile_image_url, follower_count, following_count, created_at, updated_at
		FROM streamers
		ORDER BY created_at DESC
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch streamers", err.Error())
		return
	}
	defer rows.Close()

	list := make([]stream.Streamer, 0)
	for rows.Next() {
		var st stream.Streamer
		if err := rows.Scan(&st.ID, &st.Username, &st.DisplayName, &st.ProfileImageURL,
			&st.FollowerCount, &st.FollowingCount, &st.CreatedAt, &st.UpdatedAt); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch streamers", err.Error())
			return
		}
		list = append(list, st)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch streamers", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) handleStreamerUpsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username        string  `json:"username"`
		DisplayName     *string `json:"display_name"`
		ProfileImageURL *string `json:"profile_image_url"`
		FollowerCount   *int    `json:"follower_count"`
		FollowingCount  *int    `json:"following_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if body.Username == "" {
		writeError(w, http.StatusBadRequest, "missing required field: username", "")
		return
	}

	row := h.db.QueryRowContext(r.Context(), `
		INSERT INTO streamers (username, display_name, profile_image_url, follower_count, following_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			profile_image_url = EXCLUDED.profile_image_url,
			follower_count = EXCLUDED.follower_count,
			following_count = EXCLUDED.following_count,
			updated_at = NOW()
		RETURNING id, username, display_name, profile_image_url, follower_count, following_count, created_at, updated_at
	`, body.Username, body.DisplayName, body.ProfileImageURL, body.FollowerCount, body.FollowingCount)

	var st stream.Streamer
	if err := row.Scan(&st.ID, &st.Username, &st.DisplayName, &st.ProfileImageURL,
		&st.FollowerCount, &st.FollowingCount, &st.CreatedAt, &st.UpdatedAt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upsert streamer", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}
