// Package stream implements the stream record model: principal/part
// resolution, response expansion, and the unify and merge-parts admin
// workflows. A principal stream has no parent and owns zero or more parts;
// a part references its principal via parent_stream_id and never has parts
// of its own.
package stream

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/stream-pulse/backend/db"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside or
// outside the workflow transactions.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Stream mirrors one row of the streams table. ended_at == nil means the
// stream is live; parent_stream_id == nil means it is a principal.
type Stream struct {
	ID             string     `json:"id"`
	StreamerID     *string    `json:"streamer_id"`
	Title          *string    `json:"title"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	ViewerCount    *int       `json:"viewer_count"`
	TotalEvents    int        `json:"total_events"`
	TotalDonations int        `json:"total_donations"`
	TotalFollows   int        `json:"total_follows"`
	ParentStreamID *string    `json:"parent_stream_id"`
	PartNumber     int        `json:"part_number"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Streamer mirrors one row of the streamers table.
type Streamer struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	DisplayName     *string   `json:"display_name"`
	ProfileImageURL *string   `json:"profile_image_url"`
	FollowerCount   *int      `json:"follower_count"`
	FollowingCount  *int      `json:"following_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Part is a stream row presented inside a principal's parts array.
type Part struct {
	Stream
	IsActive bool      `json:"is_active"`
	Streamer *Streamer `json:"streamers,omitempty"`
}

// Expanded is the API representation of a stream: the row itself plus the
// resolved hierarchy. Principals carry parts (part_number ascending) and
// part_count = len(parts)+1; parts carry their resolved parent instead.
type Expanded struct {
	Stream
	IsActive     bool      `json:"is_active"`
	Streamer     *Streamer `json:"streamers,omitempty"`
	ParentStream *Stream   `json:"parent_stream,omitempty"`
	Parts        []Part    `json:"parts"`
	PartCount    int       `json:"part_count,omitempty"`
}

const streamColumns = `id, streamer_id, title, started_at, ended_at, viewer_count,
	COALESCE(total_events, 0), COALESCE(total_donations, 0), COALESCE(total_follows, 0),
	parent_stream_id, COALESCE(part_number, 1), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(rs rowScanner) (Stream, error) {
	var s Stream
	err := rs.Scan(&s.ID, &s.StreamerID, &s.Title, &s.StartedAt, &s.EndedAt, &s.ViewerCount,
		&s.TotalEvents, &s.TotalDonations, &s.TotalFollows,
		&s.ParentStreamID, &s.PartNumber, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// GetByID fetches a single stream row.
func GetByID(ctx context.Context, q Querier, id string) (*Stream, error) {
	row := q.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id=$1`, id)
	s, err := scanStream(row)
	if err == sql.ErrNoRows {
		return nil, NotFoundf("stream %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch stream %s: %w", id, err)
	}
	return &s, nil
}

// ListByIDs fetches the stream rows for the given id set. An empty set
// returns an empty slice without touching the database.
func ListByIDs(ctx context.Context, q Querier, ids []string) ([]Stream, error) {
	if len(ids) == 0 {
		return []Stream{}, nil
	}
	clause, args := db.InArgs(ids, 1)
	rows, err := q.QueryContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id IN `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch streams: %w", err)
	}
	defer rows.Close()
	out := make([]Stream, 0, len(ids))
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PartsOf returns the parts of a principal ordered by part_number.
func PartsOf(ctx context.Context, q Querier, principalID string) ([]Stream, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE parent_stream_id=$1 ORDER BY part_number ASC`, principalID)
	if err != nil {
		return nil, fmt.Errorf("fetch parts of %s: %w", principalID, err)
	}
	defer rows.Close()
	out := make([]Stream, 0)
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const streamerColumns = `id, username, display_name, profile_image_url, follower_count, following_count, created_at, updated_at`

// StreamerByID fetches one streamer row, or nil when absent.
func StreamerByID(ctx context.Context, q Querier, id string) (*Streamer, error) {
	var st Streamer
	err := q.QueryRowContext(ctx, `SELECT `+streamerColumns+` FROM streamers WHERE id=$1`, id).
		Scan(&st.ID, &st.Username, &st.DisplayName, &st.ProfileImageURL, &st.FollowerCount, &st.FollowingCount, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch streamer %s: %w", id, err)
	}
	return &st, nil
}

// Expand resolves the hierarchy around a stream row for API responses. A part
// gets its parent resolved; a principal gets its ordered parts and part_count.
func Expand(ctx context.Context, q Querier, s Stream) (*Expanded, error) {
	ex := &Expanded{Stream: s, IsActive: s.EndedAt == nil, Parts: []Part{}}

	if s.StreamerID != nil {
		st, err := StreamerByID(ctx, q, *s.StreamerID)
		if err != nil {
			return nil, err
		}
		ex.Streamer = st
	}

	if s.ParentStreamID != nil {
		parent, err := GetByID(ctx, q, *s.ParentStreamID)
		if err != nil {
			return nil, err
		}
		ex.ParentStream = parent
		return ex, nil
	}

	parts, err := PartsOf(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		part := Part{Stream: p, IsActive: p.EndedAt == nil}
		if p.StreamerID != nil {
			if ex.Streamer != nil && ex.Streamer.ID == *p.StreamerID {
				part.Streamer = ex.Streamer
			} else {
				st, err := StreamerByID(ctx, q, *p.StreamerID)
				if err != nil {
					return nil, err
				}
				part.Streamer = st
			}
		}
		ex.Parts = append(ex.Parts, part)
	}
	ex.PartCount = len(parts) + 1
	return ex, nil
}
