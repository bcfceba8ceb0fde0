package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// parseTimeQuery extracts an RFC 3339 timestamp parameter. Absent values
// return nil; malformed values return an error so the handler can reject the
// request instead of silently widening the result.
func parseTimeQuery(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q is not an RFC 3339 timestamp", key, v)
	}
	return &t, nil
}
