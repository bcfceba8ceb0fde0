package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/stream-pulse/backend/db"
	"github.com/onnwee/stream-pulse/backend/stream"
)

// userRecord mirrors one row of the users table.
type userRecord struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	DisplayName         *string   `json:"display_name"`
	ProfileImageURL     *string   `json:"profile_image_url"`
	FollowerCount       *int      `json:"follower_count"`
	FollowingCount      *int      `json:"following_count"`
	IsFollowingStreamer bool      `json:"is_following_streamer"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

const userColumns = `id, username, display_name, profile_image_url, follower_count, following_count, COALESCE(is_following_streamer, FALSE), created_at, updated_at`

// joinedUser receives the user columns of a LEFT JOIN, where every field may
// be NULL when the event or donation has no user.
type joinedUser struct {
	id                  *string
	username            *string
	displayName         *string
	profileImageURL     *string
	followerCount       *int
	followingCount      *int
	isFollowingStreamer sql.NullBool
	createdAt           sql.NullTime
	updatedAt           sql.NullTime
}

func (j *joinedUser) record() *userRecord {
	if j.id == nil {
		return nil
	}
	u := &userRecord{
		ID:                  *j.id,
		DisplayName:         j.displayName,
		ProfileImageURL:     j.profileImageURL,
		FollowerCount:       j.followerCount,
		FollowingCount:      j.followingCount,
		IsFollowingStreamer: j.isFollowingStreamer.Bool,
		CreatedAt:           j.createdAt.Time,
		UpdatedAt:           j.updatedAt.Time,
	}
	if j.username != nil {
		u.Username = *j.username
	}
	return u
}

func scanUser(rs interface{ Scan(...any) error }) (userRecord, error) {
	var u userRecord
	err := rs.Scan(&u.ID, &u.Username, &u.DisplayName, &u.ProfileImageURL,
		&u.FollowerCount, &u.FollowingCount, &u.IsFollowingStreamer, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// HandleUsersList lists users, optionally filtered by username or by
// participation in a stream (stream_id resolves through the principal/part
// set, like every other stream filter).
func (h *Handlers) HandleUsersList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conds := []string{}
	args := []any{}
	if username := r.URL.Query().Get("username"); username != "" {
		args = append(args, username)
		conds = append(conds, fmt.Sprintf("username=$%d", len(args)))
	}
	if streamID := r.URL.Query().Get("stream_id"); streamID != "" {
		_, ids, err := stream.Scope(r.Context(), h.db, streamID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve stream filter", err.Error())
			return
		}
		clause, inArgs := db.InArgs(ids, len(args)+1)
		args = append(args, inArgs...)
		conds = append(conds, fmt.Sprintf(
			"id IN (SELECT DISTINCT user_id FROM events WHERE stream_id IN %s AND user_id IS NOT NULL)", clause))
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch users", err.Error())
		return
	}
	defer rows.Close()

	list := make([]userRecord, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch users", err.Error())
			return
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch users", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type userChangeLogEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FieldChanged string    `json:"field_changed"`
	OldValue     *string   `json:"old_value"`
	NewValue     *string   `json:"new_value"`
	CreatedAt    time.Time `json:"created_at"`
}

type userDetail struct {
	userRecord
	Events    []apiEvent           `json:"events"`
	Donations []apiDonation        `json:"donations"`
	ChangeLog []userChangeLogEntry `json:"change_log"`
}

// HandleUserDetail serves GET /users/{id}: the user row plus their recent
// events and donations (each with the related stream resolved) and the
// field-level change log.
func (h *Handlers) HandleUserDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	row := h.db.QueryRowContext(r.Context(), `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "user not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch user", err.Error())
		return
	}
	detail := userDetail{
		userRecord: u,
		Events:     []apiEvent{},
		Donations:  []apiDonation{},
		ChangeLog:  []userChangeLogEntry{},
	}

	const streamJoin = `
		s.id, s.streamer_id, s.title, s.started_at, s.ended_at, s.viewer_count,
		COALESCE(s.total_events, 0), COALESCE(s.total_donations, 0), COALESCE(s.total_follows, 0),
		s.parent_stream_id, COALESCE(s.part_number, 1), s.created_at, s.updated_at`

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT e.id, e.stream_id, e.user_id, e.event_type, e.content, e.metadata, e.created_at, `+streamJoin+`
		FROM events e
		LEFT JOIN streams s ON s.id = e.stream_id
		WHERE e.user_id=$1
		ORDER BY e.created_at DESC
		LIMIT 100
	`, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch user events", err.Error())
		return
	}
	for rows.Next() {
		var (
			e        apiEvent
			metadata []byte
			s        stream.Stream
			sID      *string
		)
		err := rows.Scan(&e.ID, &e.StreamID, &e.UserID, &e.EventType, &e.Content, &metadata, &e.CreatedAt,
			&sID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
			&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
			&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			rows.Close()
			writeError(w, http.StatusInternalServerError, "failed to fetch user events", err.Error())
			return
		}
		e.Metadata = metadata
		if sID != nil {
			s.ID = *sID
			e.Stream = &s
		}
		detail.Events = append(detail.Events, e)
	}
	rows.Close()

	rows, err = h.db.QueryContext(r.Context(), `
		SELECT d.id, d.event_id, d.stream_id, d.user_id, d.gift_type, d.gift_name,
		       COALESCE(d.gift_count, 1), d.gift_value, d.coin_amount, d.gift_image_url, d.message, d.created_at, `+streamJoin+`
		FROM donations d
		LEFT JOIN streams s ON s.id = d.stream_id
		WHERE d.user_id=$1
		ORDER BY d.created_at DESC
		LIMIT 100
	`, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch user donations", err.Error())
		return
	}
	for rows.Next() {
		var (
			d   apiDonation
			s   stream.Stream
			sID *string
		)
		err := rows.Scan(&d.ID, &d.EventID, &d.StreamID, &d.UserID, &d.GiftType, &d.GiftName,
			&d.GiftCount, &d.GiftValue, &d.CoinAmount, &d.GiftImageURL, &d.Message, &d.CreatedAt,
			&sID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
			&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
			&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			rows.Close()
			writeError(w, http.StatusInternalServerError, "failed to fetch user donations", err.Error())
			return
		}
		if sID != nil {
			s.ID = *sID
			d.Stream = &s
		}
		detail.Donations = append(detail.Donations, d)
	}
	rows.Close()

	rows, err = h.db.QueryContext(r.Context(), `
		SELECT id, user_id, field_changed, old_value, new_value, created_at
		FROM user_changes_log
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT 100
	`, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch user change log", err.Error())
		return
	}
	for rows.Next() {
		var c userChangeLogEntry
		if err := rows.Scan(&c.ID, &c.UserID, &c.FieldChanged, &c.OldValue, &c.NewValue, &c.CreatedAt); err != nil {
			rows.Close()
			writeError(w, http.StatusInternalServerError, "failed to fetch user change log", err.Error())
			return
		}
		detail.ChangeLog = append(detail.ChangeLog, c)
	}
	rows.Close()

	writeJSON(w, http.StatusOK, detail)
}
