package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/stream-pulse/backend/db"
	"github.com/onnwee/stream-pulse/backend/stream"
)

// apiDonation is the donation representation returned by the read endpoints,
// with the related user and stream resolved inline.
type apiDonation struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	StreamID     string         `json:"stream_id"`
	UserID       *string        `json:"user_id"`
	GiftType     *string        `json:"gift_type"`
	GiftName     *string        `json:"gift_name"`
	GiftCount    int            `json:"gift_count"`
	GiftValue    *float64       `json:"gift_value"`
	CoinAmount   *int           `json:"coin_amount"`
	GiftImageURL *string        `json:"gift_image_url"`
	Message      *string        `json:"message"`
	CreatedAt    time.Time      `json:"created_at"`
	User         *userRecord    `json:"users,omitempty"`
	Stream       *stream.Stream `json:"streams,omitempty"`
}

// HandleDonations lists donations newest first, optionally scoped by
// stream_id (principal plus parts) or streamer_id.
func (h *Handlers) HandleDonations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scopeIDs, scoped, err := h.scopeStreamIDs(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve stream filter", err.Error())
		return
	}
	if scoped && len(scopeIDs) == 0 {
		writeJSON(w, http.StatusOK, []apiDonation{})
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	conds := []string{}
	args := []any{}
	if scoped {
		clause, inArgs := db.InArgs(scopeIDs, 1)
		args = append(args, inArgs...)
		conds = append(conds, "d.stream_id IN "+clause)
	}

	query := `
		SELECT d.id, d.event_id, d.stream_id, d.user_id, d.gift_type, d.gift_name,
		       COALESCE(d.gift_count, 1), d.gift_value, d.coin_amount, d.gift_image_url, d.message, d.created_at,
		       u.id, u.username, u.display_name, u.profile_image_url, u.follower_count,
		       u.following_count, u.is_following_streamer, u.created_at, u.updated_at,
		       s.id, s.streamer_id, s.title, s.started_at, s.ended_at, s.viewer_count,
		       COALESCE(s.total_events, 0), COALESCE(s.total_donations, 0), COALESCE(s.total_follows, 0),
		       s.parent_stream_id, COALESCE(s.part_number, 1), s.created_at, s.updated_at
		FROM donations d
		LEFT JOIN users u ON u.id = d.user_id
		LEFT JOIN streams s ON s.id = d.stream_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT $%d", len(args))

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch donations", err.Error())
		return
	}
	defer rows.Close()

	list := make([]apiDonation, 0)
	for rows.Next() {
		var (
			d   apiDonation
			u   joinedUser
			s   stream.Stream
			sID *string
		)
		err := rows.Scan(&d.ID, &d.EventID, &d.StreamID, &d.UserID, &d.GiftType, &d.GiftName,
			&d.GiftCount, &d.GiftValue, &d.CoinAmount, &d.GiftImageURL, &d.Message, &d.CreatedAt,
			&u.id, &u.username, &u.displayName, &u.profileImageURL, &u.followerCount,
			&u.followingCount, &u.isFollowingStreamer, &u.createdAt, &u.updatedAt,
			&sID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
			&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
			&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch donations", err.Error())
			return
		}
		d.User = u.record()
		if sID != nil {
			s.ID = *sID
			d.Stream = &s
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch donations", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}
