package stream_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/onnwee/stream-pulse/backend/stream"
	"github.com/onnwee/stream-pulse/backend/testutil"
)

func TestUnifyPicksEarliestAsPrincipal(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	endedA := ts(t, "2025-06-01T10:30:00Z")
	a := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:00:00Z"), &endedA)
	endedB := ts(t, "2025-06-01T09:45:00Z")
	b := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), &endedB)
	c := newStream(t, dbh, streamerID, ts(t, "2025-06-01T11:00:00Z"), nil)

	ex, err := stream.Unify(context.Background(), dbh, []string{a, b, c})
	if err != nil {
		t.Fatalf("Unify: %v", err)
	}

	if ex.ID != b {
		t.Fatalf("principal = %s, want earliest-started %s", ex.ID, b)
	}
	if ex.EndedAt != nil {
		t.Error("principal ended_at should be reset to nil after unify")
	}
	if !ex.IsActive {
		t.Error("unified principal should be active")
	}
	if ex.PartCount != 3 {
		t.Errorf("part_count = %d, want 3", ex.PartCount)
	}
	if len(ex.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(ex.Parts))
	}
	// Parts numbered chronologically by started_at: a before c.
	if ex.Parts[0].ID != a || ex.Parts[0].PartNumber != 2 {
		t.Errorf("first part = %s #%d, want %s #2", ex.Parts[0].ID, ex.Parts[0].PartNumber, a)
	}
	if ex.Parts[1].ID != c || ex.Parts[1].PartNumber != 3 {
		t.Errorf("second part = %s #%d, want %s #3", ex.Parts[1].ID, ex.Parts[1].PartNumber, c)
	}
}

func TestUnifyRejectsMixedStreamers(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	a := newStream(t, dbh, newStreamer(t, dbh), ts(t, "2025-06-01T09:00:00Z"), nil)
	b := newStream(t, dbh, newStreamer(t, dbh), ts(t, "2025-06-01T10:00:00Z"), nil)

	_, err := stream.Unify(context.Background(), dbh, []string{a, b})
	if !stream.IsConflict(err) {
		t.Fatalf("Unify error = %v, want ConflictError", err)
	}

	// Rejection must leave both rows untouched.
	for _, id := range []string{a, b} {
		s, err := stream.GetByID(context.Background(), dbh, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if s.ParentStreamID != nil || s.PartNumber != 1 {
			t.Errorf("stream %s was modified by rejected unify", id)
		}
	}
}

func TestUnifyRejectsMissingStream(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	a := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)

	_, err := stream.Unify(context.Background(), dbh, []string{a, uuid.NewString()})
	if !stream.IsNotFound(err) {
		t.Fatalf("Unify error = %v, want NotFoundError", err)
	}
}

func TestUnifyRequiresTwoStreams(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	a := newStream(t, dbh, newStreamer(t, dbh), ts(t, "2025-06-01T09:00:00Z"), nil)

	_, err := stream.Unify(context.Background(), dbh, []string{a})
	if !stream.IsValidation(err) {
		t.Fatalf("Unify error = %v, want ValidationError", err)
	}
	// Duplicated ids collapse to one and fail the same way.
	_, err = stream.Unify(context.Background(), dbh, []string{a, a})
	if !stream.IsValidation(err) {
		t.Fatalf("Unify error = %v, want ValidationError", err)
	}
}
