package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/onnwee/stream-pulse/backend/db"
	"github.com/onnwee/stream-pulse/backend/stream"
)

// HandleStreams serves the /streams collection: list, create, and the
// body-addressed partial update the dashboard admin page uses.
func (h *Handlers) HandleStreams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleStreamsList(w, r)
	case http.MethodPost:
		h.handleStreamCreate(w, r)
	case http.MethodPatch:
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
			return
		}
		rawID, ok := body["id"]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing required field: id", "")
			return
		}
		var id string
		if err := json.Unmarshal(rawID, &id); err != nil || id == "" {
			writeError(w, http.StatusBadRequest, "missing required field: id", "")
			return
		}
		delete(body, "id")
		h.applyStreamPatch(w, r, id, body)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStreamsList returns principals annotated with their ordered parts,
// part_count and is_active, newest first. Optional filters: streamer_id,
// active=true.
func (h *Handlers) handleStreamsList(w http.ResponseWriter, r *http.Request) {
	query := `SELECT id, streamer_id, title, started_at, ended_at, viewer_count,
		COALESCE(total_events, 0), COALESCE(total_donations, 0), COALESCE(total_follows, 0),
		parent_stream_id, COALESCE(part_number, 1), created_at, updated_at
		FROM streams`
	conds := []string{}
	args := []any{}
	if streamerID := r.URL.Query().Get("streamer_id"); streamerID != "" {
		args = append(args, streamerID)
		conds = append(conds, fmt.Sprintf("streamer_id=$%d", len(args)))
	}
	if r.URL.Query().Get("active") == "true" {
		conds = append(conds, "ended_at IS NULL")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch streams", err.Error())
		return
	}
	defer rows.Close()

	streams := make([]stream.Stream, 0)
	for rows.Next() {
		var s stream.Stream
		if err := rows.Scan(&s.ID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
			&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
			&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch streams", err.Error())
			return
		}
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch streams", err.Error())
		return
	}
	if len(streams) == 0 {
		writeJSON(w, http.StatusOK, []stream.Expanded{})
		return
	}

	// Partition the fetched rows into principals and parts, then assemble
	// the hierarchy in memory rather than issuing a query per principal.
	partsMap := make(map[string][]stream.Stream)
	principals := make([]stream.Stream, 0, len(streams))
	streamerIDs := make([]string, 0)
	seenStreamer := make(map[string]struct{})
	for _, s := range streams {
		if s.ParentStreamID != nil {
			partsMap[*s.ParentStreamID] = append(partsMap[*s.ParentStreamID], s)
		} else {
			principals = append(principals, s)
		}
		if s.StreamerID != nil {
			if _, ok := seenStreamer[*s.StreamerID]; !ok {
				seenStreamer[*s.StreamerID] = struct{}{}
				streamerIDs = append(streamerIDs, *s.StreamerID)
			}
		}
	}

	streamersMap, err := h.streamersByIDs(r, streamerIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch streamers", err.Error())
		return
	}

	out := make([]stream.Expanded, 0, len(principals))
	for _, p := range principals {
		ex := stream.Expanded{Stream: p, IsActive: p.EndedAt == nil, Parts: []stream.Part{}}
		if p.StreamerID != nil {
			ex.Streamer = streamersMap[*p.StreamerID]
		}
		parts := partsMap[p.ID]
		sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
		for _, part := range parts {
			pp := stream.Part{Stream: part, IsActive: part.EndedAt == nil}
			if part.StreamerID != nil {
				pp.Streamer = streamersMap[*part.StreamerID]
			}
			ex.Parts = append(ex.Parts, pp)
		}
		ex.PartCount = len(parts) + 1
		out = append(out, ex)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) streamersByIDs(r *http.Request, ids []string) (map[string]*stream.Streamer, error) {
	out := make(map[string]*stream.Streamer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	clause, args := db.InArgs(ids, 1)
	rows, err := h.db.QueryContext(r.Context(),
		`SELECT id, username, display_name, profile_image_url, follower_count, following_count, created_at, updated_at
		 FROM streamers WHERE id IN `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st stream.Streamer
		if err := rows.Scan(&st.ID, &st.Username, &st.DisplayName, &st.ProfileImageURL, &st.FollowerCount, &st.FollowingCount, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out[st.ID] = &st
	}
	return out, rows.Err()
}

func (h *Handlers) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StreamerID  string  `json:"streamer_id"`
		Title       *string `json:"title"`
		ViewerCount *int    `json:"viewer_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if body.StreamerID == "" {
		writeError(w, http.StatusBadRequest, "missing required field: streamer_id", "")
		return
	}
	row := h.db.QueryRowContext(r.Context(), `
		INSERT INTO streams (streamer_id, title, viewer_count, started_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, streamer_id, title, started_at, ended_at, viewer_count,
			COALESCE(total_events, 0), COALESCE(total_donations, 0), COALESCE(total_follows, 0),
			parent_stream_id, COALESCE(part_number, 1), created_at, updated_at
	`, body.StreamerID, body.Title, body.ViewerCount)
	var s stream.Stream
	if err := row.Scan(&s.ID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
		&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
		&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create stream", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleStreamsDispatcher routes requests under /streams/* to the unify and
// merge-parts workflows or to the per-id detail and update handlers.
func (h *Handlers) HandleStreamsDispatcher(w http.ResponseWriter, r *http.Request) {
	// crude routing
	path := strings.TrimPrefix(r.URL.Path, "/streams/")
	switch {
	case path == "" || strings.Contains(path, "/"):
		http.NotFound(w, r)
	case path == "unify":
		h.handleUnify(w, r)
	case path == "merge-parts":
		h.handleMergeParts(w, r)
	default:
		h.handleStreamByID(w, r, path)
	}
}

func (h *Handlers) handleStreamByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		s, err := stream.GetByID(r.Context(), h.db, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ex, err := stream.Expand(r.Context(), h.db, *s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ex)
	case http.MethodPatch:
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
			return
		}
		delete(body, "id")
		h.applyStreamPatch(w, r, id, body)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// streamPatchColumns is the allow-list of updatable stream columns. Column
// names are interpolated into SQL and must never come from the request
// verbatim.
var streamPatchColumns = map[string]bool{
	"title":            true,
	"viewer_count":     true,
	"started_at":       true,
	"ended_at":         true,
	"parent_stream_id": true,
	"part_number":      true,
	"streamer_id":      true,
}

// applyStreamPatch updates the allow-listed columns present in body. A JSON
// null clears the column, which is how the dashboard ends a reopened stream
// or detaches a part.
func (h *Handlers) applyStreamPatch(w http.ResponseWriter, r *http.Request, id string, body map[string]json.RawMessage) {
	sets := make([]string, 0, len(body))
	args := []any{}
	for col, raw := range body {
		if !streamPatchColumns[col] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("field %q is not updatable", col), "")
			return
		}
		if string(raw) == "null" {
			sets = append(sets, col+"=NULL")
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid value for field %q", col), err.Error())
			return
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if len(sets) == 0 {
		writeError(w, http.StatusBadRequest, "no updatable fields in body", "")
		return
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, id)

	row := h.db.QueryRowContext(r.Context(), fmt.Sprintf(`
		UPDATE streams SET %s WHERE id=$%d
		RETURNING id, streamer_id, title, started_at, ended_at, viewer_count,
			COALESCE(total_events, 0), COALESCE(total_donations, 0), COALESCE(total_follows, 0),
			parent_stream_id, COALESCE(part_number, 1), created_at, updated_at
	`, strings.Join(sets, ", "), len(args)), args...)
	var s stream.Stream
	if err := row.Scan(&s.ID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
		&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
		&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, fmt.Sprintf("stream %s not found", id), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update stream", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type streamIDsBody struct {
	StreamIDs []string `json:"stream_ids"`
}

func (h *Handlers) handleUnify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body streamIDsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	ex, err := stream.Unify(r.Context(), h.db, body.StreamIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (h *Handlers) handleMergeParts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body streamIDsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	res, err := stream.MergeParts(r.Context(), h.db, body.StreamIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
