package stream_test

import (
	"context"
	"testing"

	"github.com/onnwee/stream-pulse/backend/stream"
	"github.com/onnwee/stream-pulse/backend/testutil"
)

func TestMergePartsMigratesRowsAndKeepsLiveness(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principalEnd := ts(t, "2025-06-01T10:00:00Z")
	principal := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), &principalEnd)
	p1End := ts(t, "2025-06-01T10:30:00Z")
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:05:00Z"), &p1End)
	p2 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:35:00Z"), nil) // still live
	attachPart(t, dbh, p1, principal, 2)
	attachPart(t, dbh, p2, principal, 3)

	eventID := insertEvent(t, dbh, p1, "comment")
	insertEvent(t, dbh, p2, "follow")
	if _, err := dbh.Exec(`INSERT INTO donations (event_id, stream_id, gift_count) VALUES ($1, $2, 1)`, eventID, p1); err != nil {
		t.Fatalf("failed to insert donation: %v", err)
	}
	if _, err := dbh.Exec(`INSERT INTO viewer_history (stream_id, viewer_count) VALUES ($1, 42)`, p2); err != nil {
		t.Fatalf("failed to insert viewer history: %v", err)
	}

	res, err := stream.MergeParts(context.Background(), dbh, []string{p1, p2})
	if err != nil {
		t.Fatalf("MergeParts: %v", err)
	}

	pr := res.PrincipalStream
	if pr.ID != principal {
		t.Fatalf("principal = %s, want %s", pr.ID, principal)
	}
	if !pr.StartedAt.Equal(ts(t, "2025-06-01T09:00:00Z")) {
		t.Errorf("started_at = %v, want original 09:00 minimum", pr.StartedAt)
	}
	// One live part keeps the merged session live.
	if pr.EndedAt != nil {
		t.Errorf("ended_at = %v, want nil from live part", pr.EndedAt)
	}
	if len(res.MergedParts) != 2 {
		t.Errorf("merged_parts = %d, want 2", len(res.MergedParts))
	}

	if n := countRows(t, dbh, "events", "stream_id", principal); n != 2 {
		t.Errorf("events on principal = %d, want 2", n)
	}
	if n := countRows(t, dbh, "donations", "stream_id", principal); n != 1 {
		t.Errorf("donations on principal = %d, want 1", n)
	}
	if n := countRows(t, dbh, "viewer_history", "stream_id", principal); n != 1 {
		t.Errorf("viewer history on principal = %d, want 1", n)
	}

	for _, id := range []string{p1, p2} {
		if _, err := stream.GetByID(context.Background(), dbh, id); !stream.IsNotFound(err) {
			t.Errorf("part %s should be deleted, got %v", id, err)
		}
	}

	// Idempotence of the read model: refetching the principal shows no parts.
	s, err := stream.GetByID(context.Background(), dbh, principal)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	ex, err := stream.Expand(context.Background(), dbh, *s)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(ex.Parts) != 0 || ex.PartCount != 1 {
		t.Errorf("parts = %d, part_count = %d, want 0 and 1", len(ex.Parts), ex.PartCount)
	}
	if !ex.IsActive {
		t.Error("principal should remain active after sticky-liveness merge")
	}
}

func TestMergePartsEndsWhenAllPartsEnded(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principal := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)
	p1End := ts(t, "2025-06-01T10:30:00Z")
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T08:30:00Z"), &p1End)
	p2End := ts(t, "2025-06-01T11:00:00Z")
	p2 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:35:00Z"), &p2End)
	attachPart(t, dbh, p1, principal, 2)
	attachPart(t, dbh, p2, principal, 3)

	res, err := stream.MergeParts(context.Background(), dbh, []string{p1, p2})
	if err != nil {
		t.Fatalf("MergeParts: %v", err)
	}
	pr := res.PrincipalStream
	// started_at extends to the earliest part start.
	if !pr.StartedAt.Equal(ts(t, "2025-06-01T08:30:00Z")) {
		t.Errorf("started_at = %v, want part minimum 08:30", pr.StartedAt)
	}
	if pr.EndedAt == nil || !pr.EndedAt.Equal(p2End) {
		t.Errorf("ended_at = %v, want max part end %v", pr.EndedAt, p2End)
	}
}

func TestMergePartsRenumbersRemaining(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principal := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:00:00Z"), nil)
	p2 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T11:00:00Z"), nil)
	p3 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T12:00:00Z"), nil)
	attachPart(t, dbh, p1, principal, 2)
	attachPart(t, dbh, p2, principal, 3)
	attachPart(t, dbh, p3, principal, 4)

	res, err := stream.MergeParts(context.Background(), dbh, []string{p2})
	if err != nil {
		t.Fatalf("MergeParts: %v", err)
	}
	parts := res.PrincipalStream.Parts
	if len(parts) != 2 {
		t.Fatalf("remaining parts = %d, want 2", len(parts))
	}
	if parts[0].ID != p1 || parts[0].PartNumber != 2 {
		t.Errorf("first remaining part = %s #%d, want %s #2", parts[0].ID, parts[0].PartNumber, p1)
	}
	if parts[1].ID != p3 || parts[1].PartNumber != 3 {
		t.Errorf("second remaining part = %s #%d, want %s #3", parts[1].ID, parts[1].PartNumber, p3)
	}
	if res.PrincipalStream.PartCount != 3 {
		t.Errorf("part_count = %d, want 3", res.PrincipalStream.PartCount)
	}
}

func TestMergePartsRejectsPrincipalInSelection(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principal := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:00:00Z"), nil)
	attachPart(t, dbh, p1, principal, 2)

	_, err := stream.MergeParts(context.Background(), dbh, []string{principal, p1})
	if !stream.IsConflict(err) {
		t.Fatalf("MergeParts error = %v, want ConflictError", err)
	}
	// Part must survive the rejection.
	if _, err := stream.GetByID(context.Background(), dbh, p1); err != nil {
		t.Errorf("part should still exist after rejected merge: %v", err)
	}
}

func TestMergePartsRejectsMixedPrincipals(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principalA := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)
	principalB := newStream(t, dbh, streamerID, ts(t, "2025-06-02T09:00:00Z"), nil)
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:00:00Z"), nil)
	p2 := newStream(t, dbh, streamerID, ts(t, "2025-06-02T10:00:00Z"), nil)
	attachPart(t, dbh, p1, principalA, 2)
	attachPart(t, dbh, p2, principalB, 2)

	_, err := stream.MergeParts(context.Background(), dbh, []string{p1, p2})
	if !stream.IsConflict(err) {
		t.Fatalf("MergeParts error = %v, want ConflictError", err)
	}
}

func TestMergeSinglePartRunsFullSequence(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principalEnd := ts(t, "2025-06-01T10:00:00Z")
	principal := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), &principalEnd)
	p1End := ts(t, "2025-06-01T11:00:00Z")
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:05:00Z"), &p1End)
	attachPart(t, dbh, p1, principal, 2)

	res, err := stream.MergeParts(context.Background(), dbh, []string{p1})
	if err != nil {
		t.Fatalf("MergeParts: %v", err)
	}
	pr := res.PrincipalStream
	if len(pr.Parts) != 0 || pr.PartCount != 1 {
		t.Errorf("parts = %d, part_count = %d, want 0 and 1", len(pr.Parts), pr.PartCount)
	}
	if pr.EndedAt == nil || !pr.EndedAt.Equal(p1End) {
		t.Errorf("ended_at = %v, want %v", pr.EndedAt, p1End)
	}
	if pr.IsActive {
		t.Error("principal should be inactive when the merged part had ended")
	}
}
