package stream

import (
	"context"
	"database/sql"
	"fmt"
)

// Scope resolves the full id set covered by a stream filter: the principal of
// the given stream plus every part of that principal. Passing a part id and
// passing its principal's id resolve to the same set. An unknown id resolves
// to just itself, matching the permissive behavior of the event queries.
func Scope(ctx context.Context, q Querier, streamID string) (principalID string, ids []string, err error) {
	var parent *string
	err = q.QueryRowContext(ctx, `SELECT parent_stream_id FROM streams WHERE id=$1`, streamID).Scan(&parent)
	if err == sql.ErrNoRows {
		return streamID, []string{streamID}, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("resolve stream %s: %w", streamID, err)
	}

	principalID = streamID
	if parent != nil {
		principalID = *parent
	}

	ids = []string{principalID}
	rows, err := q.QueryContext(ctx, `SELECT id FROM streams WHERE parent_stream_id=$1`, principalID)
	if err != nil {
		return "", nil, fmt.Errorf("resolve parts of %s: %w", principalID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", nil, fmt.Errorf("scan part id: %w", err)
		}
		ids = append(ids, id)
	}
	return principalID, ids, rows.Err()
}

// OwnedStreamIDs returns every stream id belonging to a streamer, principals
// and parts alike. A streamer with no streams yields an empty slice; callers
// must short-circuit to an empty result instead of issuing an empty IN query.
func OwnedStreamIDs(ctx context.Context, q Querier, streamerID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM streams WHERE streamer_id=$1`, streamerID)
	if err != nil {
		return nil, fmt.Errorf("resolve streams of streamer %s: %w", streamerID, err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
