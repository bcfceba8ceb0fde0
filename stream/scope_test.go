package stream_test

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/onnwee/stream-pulse/backend/stream"
	"github.com/onnwee/stream-pulse/backend/testutil"
)

func TestScopeFromPartCoversWholeSession(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	principal := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)
	p1 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:00:00Z"), nil)
	p2 := newStream(t, dbh, streamerID, ts(t, "2025-06-01T11:00:00Z"), nil)
	attachPart(t, dbh, p1, principal, 2)
	attachPart(t, dbh, p2, principal, 3)

	want := []string{principal, p1, p2}
	sort.Strings(want)

	// The same set resolves whether addressed by the principal or any part.
	for _, target := range []string{principal, p1, p2} {
		principalID, ids, err := stream.Scope(context.Background(), dbh, target)
		if err != nil {
			t.Fatalf("Scope(%s): %v", target, err)
		}
		if principalID != principal {
			t.Errorf("Scope(%s) principal = %s, want %s", target, principalID, principal)
		}
		got := append([]string(nil), ids...)
		sort.Strings(got)
		if len(got) != len(want) {
			t.Fatalf("Scope(%s) ids = %v, want %v", target, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Scope(%s) ids = %v, want %v", target, got, want)
			}
		}
	}
}

func TestScopeUnknownIDResolvesToItself(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	id := uuid.NewString()
	principalID, ids, err := stream.Scope(context.Background(), dbh, id)
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	if principalID != id || len(ids) != 1 || ids[0] != id {
		t.Errorf("Scope(unknown) = %s %v, want self only", principalID, ids)
	}
}

func TestOwnedStreamIDs(t *testing.T) {
	dbh := testutil.SetupTestDB(t)

	streamerID := newStreamer(t, dbh)
	ids, err := stream.OwnedStreamIDs(context.Background(), dbh, streamerID)
	if err != nil {
		t.Fatalf("OwnedStreamIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("new streamer owns %d streams, want 0", len(ids))
	}

	a := newStream(t, dbh, streamerID, ts(t, "2025-06-01T09:00:00Z"), nil)
	b := newStream(t, dbh, streamerID, ts(t, "2025-06-01T10:00:00Z"), nil)
	attachPart(t, dbh, b, a, 2)

	ids, err = stream.OwnedStreamIDs(context.Background(), dbh, streamerID)
	if err != nil {
		t.Fatalf("OwnedStreamIDs: %v", err)
	}
	// Principals and parts both count as owned.
	if len(ids) != 2 {
		t.Errorf("owned streams = %d, want 2", len(ids))
	}
}
