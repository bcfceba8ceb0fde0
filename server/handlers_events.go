package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/stream-pulse/backend/db"
	"github.com/onnwee/stream-pulse/backend/stream"
	"github.com/onnwee/stream-pulse/backend/telemetry"
)

// apiEvent is the event representation returned by the read endpoints, with
// the related user and stream resolved inline.
type apiEvent struct {
	ID        string          `json:"id"`
	StreamID  string          `json:"stream_id"`
	UserID    *string         `json:"user_id"`
	EventType string          `json:"event_type"`
	Content   *string         `json:"content"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	User      *userRecord     `json:"users,omitempty"`
	Stream    *stream.Stream  `json:"streams,omitempty"`
}

// scopeStreamIDs resolves the stream_id / streamer_id query filters into the
// set of stream ids to query. stream_id expands to the principal plus all of
// its parts; streamer_id expands to every stream the streamer owns. The
// second return reports whether a filter was present at all: a present filter
// with an empty id set means the caller must answer with an empty result, not
// an unfiltered query.
func (h *Handlers) scopeStreamIDs(ctx context.Context, r *http.Request) ([]string, bool, error) {
	if streamID := r.URL.Query().Get("stream_id"); streamID != "" {
		_, ids, err := stream.Scope(ctx, h.db, streamID)
		return ids, true, err
	}
	if streamerID := r.URL.Query().Get("streamer_id"); streamerID != "" {
		ids, err := stream.OwnedStreamIDs(ctx, h.db, streamerID)
		return ids, true, err
	}
	return nil, false, nil
}

// HandleEvents serves GET (list or hour-bucketed aggregation) and POST
// (ingestion) on /events.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleEventsList(w, r)
	case http.MethodPost:
		h.handleEventIngest(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleEventsList(w http.ResponseWriter, r *http.Request) {
	scopeIDs, scoped, err := h.scopeStreamIDs(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve stream filter", err.Error())
		return
	}

	if r.URL.Query().Get("group_by") == "hour" {
		h.handleEventsHourly(w, r, scopeIDs, scoped)
		return
	}

	if scoped && len(scopeIDs) == 0 {
		writeJSON(w, http.StatusOK, []apiEvent{})
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
		conds = append(conds, "e.stream_id IN "+clause)
	}
	if eventType := r.URL.Query().Get("event_type"); eventType != "" {
		args = append(args, eventType)
		conds = append(conds, fmt.Sprintf("e.event_type=$%d", len(args)))
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		args = append(args, userID)
		conds = append(conds, fmt.Sprintf("e.user_id=$%d", len(args)))
	}
	since, err := parseTimeQuery(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if since != nil {
		args = append(args, *since)
		conds = append(conds, fmt.Sprintf("e.created_at>=$%d", len(args)))
	}

	query := `
		SELECT e.id, e.stream_id, e.user_id, e.event_type, e.content, e.metadata, e.created_at,
		       u.id, u.username, u.display_name, u.profile_image_url, u.follower_count,
		       u.following_count, u.is_following_streamer, u.created_at, u.updated_at,
		       s.id, s.streamer_id, s.title, s.started_at, s.ended_at, s.viewer_count,
		       COALESCE(s.total_events, 0), COALESCE(s.total_donations, 0), COALESCE(s.total_follows, 0),
		       s.parent_stream_id, COALESCE(s.part_number, 1), s.created_at, s.updated_at
		FROM events e
		LEFT JOIN users u ON u.id = e.user_id
		LEFT JOIN streams s ON s.id = e.stream_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY e.created_at DESC LIMIT $%d", len(args))

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch events", err.Error())
		return
	}
	defer rows.Close()

	list := make([]apiEvent, 0)
	for rows.Next() {
		var (
			e        apiEvent
			metadata []byte
			u        joinedUser
			s        stream.Stream
			sID      *string
		)
		err := rows.Scan(&e.ID, &e.StreamID, &e.UserID, &e.EventType, &e.Content, &metadata, &e.CreatedAt,
			&u.id, &u.username, &u.displayName, &u.profileImageURL, &u.followerCount,
			&u.followingCount, &u.isFollowingStreamer, &u.createdAt, &u.updatedAt,
			&sID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
			&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
			&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch events", err.Error())
			return
		}
		e.Metadata = metadata
		e.User = u.record()
		if sID != nil {
			s.ID = *sID
			e.Stream = &s
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch events", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type hourBucket struct {
	Hour      string `json:"hour"`
	Comments  int    `json:"comments"`
	Donations int    `json:"donations"`
	Follows   int    `json:"follows"`
	Joins     int    `json:"joins"`
	Likes     int    `json:"likes"`
	Shares    int    `json:"shares"`
}

type eventSample struct {
	eventType string
	at        time.Time
}

// buildHourBuckets groups event samples into contiguous hour buckets from the
// earliest to the latest sample, zero-filling hours with no events. When the
// target stream is still active the range extends to the current hour; an
// active stream with no samples yields a single zero bucket for the current
// hour.
func buildHourBuckets(samples []eventSample, active bool, now time.Time) []hourBucket {
	hourOf := func(t time.Time) time.Time { return t.UTC().Truncate(time.Hour) }

	if len(samples) == 0 {
		if active {
			return []hourBucket{{Hour: hourOf(now).Format("2006-01-02T15:04:05")}}
		}
		return []hourBucket{}
	}

	first, last := hourOf(samples[0].at), hourOf(samples[0].at)
	counts := make(map[time.Time]*hourBucket)
	for _, s := range samples {
		hr := hourOf(s.at)
		if hr.Before(first) {
			first = hr
		}
		if hr.After(last) {
			last = hr
		}
		b := counts[hr]
		if b == nil {
			b = &hourBucket{}
			counts[hr] = b
		}
		switch s.eventType {
		case "comment":
			b.Comments++
		case "donation":
			b.Donations++
		case "follow":
			b.Follows++
		case "join":
			b.Joins++
		case "like":
			b.Likes++
		case "share":
			b.Shares++
		}
	}
	if active {
		if nowHour := hourOf(now); nowHour.After(last) {
			last = nowHour
		}
	}

	out := make([]hourBucket, 0, int(last.Sub(first)/time.Hour)+1)
	for hr := first; !hr.After(last); hr = hr.Add(time.Hour) {
		b := hourBucket{Hour: hr.Format("2006-01-02T15:04:05")}
		if c := counts[hr]; c != nil {
			b.Comments, b.Donations, b.Follows = c.Comments, c.Donations, c.Follows
			b.Joins, b.Likes, b.Shares = c.Joins, c.Likes, c.Shares
		}
		out = append(out, b)
	}
	return out
}

func (h *Handlers) handleEventsHourly(w http.ResponseWriter, r *http.Request, scopeIDs []string, scoped bool) {
	if scoped && len(scopeIDs) == 0 {
		writeJSON(w, http.StatusOK, []hourBucket{})
		return
	}

	hours := parseIntQuery(r, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	windowStart := time.Now().Add(-time.Duration(hours) * time.Hour)

	conds := []string{"created_at >= $1"}
	args := []any{windowStart}
	if scoped {
		clause, inArgs := db.InArgs(scopeIDs, 2)
		args = append(args, inArgs...)
		conds = append(conds, "stream_id IN "+clause)
	}

	rows, err := h.db.QueryContext(r.Context(),
		`SELECT event_type, created_at FROM events WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch events", err.Error())
		return
	}
	defer rows.Close()

	samples := make([]eventSample, 0)
	for rows.Next() {
		var s eventSample
		if err := rows.Scan(&s.eventType, &s.at); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch events", err.Error())
			return
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch events", err.Error())
		return
	}

	// Extend the bucket range to the current hour while the target stream is
	// still live so the chart keeps advancing between events. Callers that
	// already know the stream is live can pass active=true and skip the lookup.
	active := r.URL.Query().Get("active") == "true"
	if streamID := r.URL.Query().Get("stream_id"); !active && streamID != "" {
		principalID, _, err := stream.Scope(r.Context(), h.db, streamID)
		if err == nil {
			if principal, err := stream.GetByID(r.Context(), h.db, principalID); err == nil {
				active = principal.EndedAt == nil
			}
		}
	}

	writeJSON(w, http.StatusOK, buildHourBuckets(samples, active, time.Now()))
}

type eventIngestBody struct {
	EventType string `json:"event_type"`
	StreamID  string `json:"stream_id"`
	UserData  *struct {
		Username            string  `json:"username"`
		DisplayName         *string `json:"display_name"`
		ProfileImageURL     *string `json:"profile_image_url"`
		FollowerCount       *int    `json:"follower_count"`
		FollowingCount      *int    `json:"following_count"`
		IsFollowingStreamer *bool   `json:"is_following_streamer"`
	} `json:"user_data"`
	EventData *struct {
		Content  *string         `json:"content"`
		Metadata json.RawMessage `json:"metadata"`
		Donation *struct {
			GiftType     *string  `json:"gift_type"`
			GiftName     *string  `json:"gift_name"`
			GiftCount    *int     `json:"gift_count"`
			GiftValue    *float64 `json:"gift_value"`
			CoinAmount   *int     `json:"coin_amount"`
			GiftImageURL *string  `json:"gift_image_url"`
			Message      *string  `json:"message"`
		} `json:"donation"`
	} `json:"event_data"`
}

var knownEventTypes = map[string]bool{
	"comment": true, "donation": true, "follow": true,
	"join": true, "like": true, "share": true,
}

// handleEventIngest accepts one event from the ingestion collaborator:
// upserts the interacting user by username, inserts the event row, records
// the linked donation when the event is a donation, and bumps the owning
// stream's aggregate counters. The whole write runs in one transaction.
func (h *Handlers) handleEventIngest(w http.ResponseWriter, r *http.Request) {
	var body eventIngestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if body.EventType == "" || body.StreamID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: event_type, stream_id", "")
		return
	}
	if !knownEventTypes[body.EventType] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event_type %q", body.EventType), "")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create event", err.Error())
		return
	}
	defer tx.Rollback()

	var userID *string
	if body.UserData != nil && body.UserData.Username != "" {
		u := body.UserData
		var id string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO users (username, display_name, profile_image_url, follower_count, following_count, is_following_streamer)
			VALUES ($1, $2, $3, $4, $5, COALESCE($6, FALSE))
			ON CONFLICT (username) DO UPDATE SET
				display_name = COALESCE(EXCLUDED.display_name, users.display_name),
				profile_image_url = COALESCE(EXCLUDED.profile_image_url, users.profile_image_url),
				follower_count = COALESCE(EXCLUDED.follower_count, users.follower_count),
				following_count = COALESCE(EXCLUDED.following_count, users.following_count),
				is_following_streamer = COALESCE($6, users.is_following_streamer),
				updated_at = NOW()
			RETURNING id
		`, u.Username, u.DisplayName, u.ProfileImageURL, u.FollowerCount, u.FollowingCount, u.IsFollowingStreamer).Scan(&id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to upsert user", err.Error())
			return
		}
		userID = &id
	}

	var content *string
	var metadata []byte
	if body.EventData != nil {
		content = body.EventData.Content
		if len(body.EventData.Metadata) > 0 {
			metadata = body.EventData.Metadata
		}
	}
	var eventID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (stream_id, user_id, event_type, content, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, body.StreamID, userID, body.EventType, content, metadata).Scan(&eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create event", err.Error())
		return
	}

	isDonation := body.EventType == "donation"
	if isDonation && body.EventData != nil && body.EventData.Donation != nil {
		d := body.EventData.Donation
		giftCount := 1
		if d.GiftCount != nil {
			giftCount = *d.GiftCount
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO donations (event_id, stream_id, user_id, gift_type, gift_name, gift_count, gift_value, coin_amount, gift_image_url, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, eventID, body.StreamID, userID, d.GiftType, d.GiftName, giftCount, d.GiftValue, d.CoinAmount, d.GiftImageURL, d.Message)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create donation", err.Error())
			return
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE streams SET
			total_events = COALESCE(total_events, 0) + 1,
			total_donations = COALESCE(total_donations, 0) + $2,
			total_follows = COALESCE(total_follows, 0) + $3,
			updated_at = NOW()
		WHERE id = $1
	`, body.StreamID, boolToInt(isDonation), boolToInt(body.EventType == "follow"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update stream counters", err.Error())
		return
	}

	if err := tx.Commit(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create event", err.Error())
		return
	}

	telemetry.CountEvent(body.EventType)
	if isDonation {
		telemetry.CountDonation()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event_id": eventID})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// HandleEventsSSE streams newly ingested events as server-sent events. The
// dashboard can subscribe here instead of polling GET /events with `since`.
// Implemented as a short-interval database poll per connection; the data
// contract matches the list endpoint's event rows.
func (h *Handlers) HandleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	scopeIDs, scoped, err := h.scopeStreamIDs(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve stream filter", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	cursor := time.Now()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if scoped && len(scopeIDs) == 0 {
			continue
		}
		conds := []string{"created_at > $1"}
		args := []any{cursor}
		if scoped {
			clause, inArgs := db.InArgs(scopeIDs, 2)
			args = append(args, inArgs...)
			conds = append(conds, "stream_id IN "+clause)
		}
		rows, err := h.db.QueryContext(r.Context(),
			`SELECT id, stream_id, user_id, event_type, content, metadata, created_at
			 FROM events WHERE `+strings.Join(conds, " AND ")+` ORDER BY created_at ASC`, args...)
		if err != nil {
			if r.Context().Err() == nil {
				slog.Warn("sse event poll failed", slog.Any("err", err))
			}
			continue
		}
		batch := make([]apiEvent, 0)
		for rows.Next() {
			var e apiEvent
			var metadata []byte
			if err := rows.Scan(&e.ID, &e.StreamID, &e.UserID, &e.EventType, &e.Content, &metadata, &e.CreatedAt); err != nil {
				break
			}
			e.Metadata = metadata
			batch = append(batch, e)
		}
		rows.Close()

		for _, e := range batch {
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if e.CreatedAt.After(cursor) {
				cursor = e.CreatedAt
			}
		}
		if len(batch) > 0 {
			flusher.Flush()
		}
	}
}
