package stream_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/onnwee/stream-pulse/backend/stream"
	"github.com/onnwee/stream-pulse/backend/testutil"
)

func newStreamer(t *testing.T, dbh *sql.DB) string {
	t.Helper()
	username := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
	var id string
	err := dbh.QueryRow(`INSERT INTO streamers (username) VALUES ($1) RETURNING id`, username).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create streamer: %v", err)
	}
	return id
}

func newStream(t *testing.T, dbh *sql.DB, streamerID string, startedAt time.Time, endedAt *time.Time) string {
	t.Helper()
	var id string
	err := dbh.QueryRow(`
		INSERT INTO streams (streamer_id, started_at, ended_at) VALUES ($1, $2, $3) RETURNING id
	`, streamerID, startedAt, endedAt).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create stream: %v", err)
	}
	return id
}

func attachPart(t *testing.T, dbh *sql.DB, partID, principalID string, partNumber int) {
	t.Helper()
	_, err := dbh.Exec(`UPDATE streams SET parent_stream_id=$1, part_number=$2 WHERE id=$3`,
		principalID, partNumber, partID)
	if err != nil {
		t.Fatalf("failed to attach part: %v", err)
	}
}

func insertEvent(t *testing.T, dbh *sql.DB, streamID, eventType string) string {
	t.Helper()
	var id string
	err := dbh.QueryRow(`
		INSERT INTO events (stream_id, event_type) VALUES ($1, $2) RETURNING id
	`, streamID, eventType).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}
	return id
}

func countRows(t *testing.T, dbh *sql.DB, table, column, id string) int {
	t.Helper()
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s=$1`, table, column)
	if err := dbh.QueryRow(query, id).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return parsed
}

func TestExpandPrincipalWithoutParts(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	streamID := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)

	s, err := stream.GetByID(context.Background(), dbh, streamID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	ex, err := stream.Expand(context.Background(), dbh, *s)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if !ex.IsActive {
		t.Error("stream with nil ended_at should be active")
	}
	if ex.Parts == nil || len(ex.Parts) != 0 {
		t.Errorf("parts = %v, want empty slice", ex.Parts)
	}
	if ex.PartCount != 1 {
		t.Errorf("part_count = %d, want 1", ex.PartCount)
	}
	if ex.Streamer == nil || ex.Streamer.ID != streamerID {
		t.Error("expanded stream should resolve its streamer")
	}
}

func TestExpandPartResolvesParent(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	ended := ts(t, "2025-06-01T10:00:00Z")
	principalID := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), &ended)
	partID := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:05:00Z"), nil)
	attachPart(t, dbh, partID, principalID, 2)

	s, err := stream.GetByID(context.Background(), dbh, partID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	ex, err := stream.Expand(context.Background(), dbh, *s)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if ex.ParentStream == nil || ex.ParentStream.ID != principalID {
		t.Error("part should resolve its parent stream")
	}
}
