package server

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return parsed
}

func TestBuildHourBucketsContiguous(t *testing.T) {
	now := mustTime(t, "2025-06-01T14:20:00Z")
	samples := []eventSample{
		{eventType: "comment", at: mustTime(t, "2025-06-01T10:15:00Z")},
		{eventType: "donation", at: mustTime(t, "2025-06-01T10:45:00Z")},
		// 11:00 and 12:00 have no events
		{eventType: "follow", at: mustTime(t, "2025-06-01T13:05:00Z")},
	}

	buckets := buildHourBuckets(samples, false, now)
	if len(buckets) != 4 {
		t.Fatalf("buckets = %d, want 4 (10:00 through 13:00)", len(buckets))
	}
	if buckets[0].Hour != "2025-06-01T10:00:00" {
		t.Errorf("first bucket = %s, want 2025-06-01T10:00:00", buckets[0].Hour)
	}
	if buckets[0].Comments != 1 || buckets[0].Donations != 1 || buckets[0].Follows != 0 {
		t.Errorf("10:00 counts = %+v, want 1 comment 1 donation", buckets[0])
	}
	// Hours strictly between earliest and latest must still be present.
	for i, hour := range []string{"2025-06-01T11:00:00", "2025-06-01T12:00:00"} {
		b := buckets[i+1]
		if b.Hour != hour {
			t.Errorf("bucket %d = %s, want %s", i+1, b.Hour, hour)
		}
		if b.Comments != 0 || b.Donations != 0 || b.Follows != 0 {
			t.Errorf("empty hour %s has counts %+v", hour, b)
		}
	}
	if buckets[3].Follows != 1 {
		t.Errorf("13:00 follows = %d, want 1", buckets[3].Follows)
	}
}

func TestBuildHourBucketsCountAllEventTypes(t *testing.T) {
	now := mustTime(t, "2025-06-01T11:00:00Z")
	samples := []eventSample{
		{eventType: "comment", at: mustTime(t, "2025-06-01T10:01:00Z")},
		{eventType: "donation", at: mustTime(t, "2025-06-01T10:02:00Z")},
		{eventType: "follow", at: mustTime(t, "2025-06-01T10:03:00Z")},
		{eventType: "join", at: mustTime(t, "2025-06-01T10:04:00Z")},
		{eventType: "like", at: mustTime(t, "2025-06-01T10:05:00Z")},
		{eventType: "like", at: mustTime(t, "2025-06-01T10:06:00Z")},
		{eventType: "share", at: mustTime(t, "2025-06-01T10:07:00Z")},
	}

	buckets := buildHourBuckets(samples, false, now)
	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(buckets))
	}
	b := buckets[0]
	if b.Comments != 1 || b.Donations != 1 || b.Follows != 1 {
		t.Errorf("counts = %+v, want 1 comment 1 donation 1 follow", b)
	}
	if b.Joins != 1 || b.Likes != 2 || b.Shares != 1 {
		t.Errorf("counts = %+v, want 1 join 2 likes 1 share", b)
	}
}

func TestBuildHourBucketsActiveExtendsToNow(t *testing.T) {
	now := mustTime(t, "2025-06-01T14:20:00Z")
	samples := []eventSample{
		{eventType: "comment", at: mustTime(t, "2025-06-01T12:30:00Z")},
	}

	buckets := buildHourBuckets(samples, true, now)
	if len(buckets) != 3 {
		t.Fatalf("buckets = %d, want 3 (12:00 through 14:00)", len(buckets))
	}
	if buckets[2].Hour != "2025-06-01T14:00:00" {
		t.Errorf("last bucket = %s, want the current hour", buckets[2].Hour)
	}
}

func TestBuildHourBucketsActiveNoEvents(t *testing.T) {
	now := mustTime(t, "2025-06-01T14:20:00Z")

	buckets := buildHourBuckets(nil, true, now)
	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want single current-hour bucket", len(buckets))
	}
	b := buckets[0]
	if b.Hour != "2025-06-01T14:00:00" {
		t.Errorf("bucket = %s, want 2025-06-01T14:00:00", b.Hour)
	}
	if b.Comments != 0 || b.Donations != 0 || b.Follows != 0 {
		t.Errorf("zero-event bucket has counts %+v", b)
	}
}

func TestBuildHourBucketsInactiveNoEvents(t *testing.T) {
	buckets := buildHourBuckets(nil, false, time.Now())
	if buckets == nil || len(buckets) != 0 {
		t.Errorf("buckets = %v, want empty slice", buckets)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/streams":            "/streams",
		"/streams/abc":        "/streams",
		"/streams/unify":      "/streams",
		"/events/stream":      "/events",
		"/":                   "/",
		"/users/42/whatever":  "/users",
		"/viewer-history":     "/viewer-history",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
