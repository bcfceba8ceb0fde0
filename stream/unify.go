package stream

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/onnwee/stream-pulse/backend/telemetry"
)

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Unify links a set of streams into one principal/parts session. The
// earliest-started stream becomes the principal and is reopened (ended_at
// reset to NULL); the rest become its parts, numbered 2..N in start order.
// All streams must exist and belong to the same streamer. The whole rewrite
// runs in a single transaction.
func Unify(ctx context.Context, dbh *sql.DB, streamIDs []string) (*Expanded, error) {
	done := telemetry.TimeFunc(telemetry.UnifyDuration)
	defer done()

	ids := dedupe(streamIDs)
	if len(ids) < 2 {
		return nil, Validationf("stream_ids must contain at least 2 distinct stream ids")
	}

	tx, err := dbh.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unify tx: %w", err)
	}
	defer tx.Rollback()

	streams, err := ListByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if len(streams) < len(ids) {
		return nil, NotFoundf("one or more stream ids do not exist")
	}

	owners := make(map[string]struct{})
	for _, s := range streams {
		owner := ""
		if s.StreamerID != nil {
			owner = *s.StreamerID
		}
		owners[owner] = struct{}{}
	}
	if len(owners) > 1 {
		return nil, Conflictf("all streams must belong to the same streamer")
	}

	sort.Slice(streams, func(i, j int) bool {
		return streams[i].StartedAt.Before(streams[j].StartedAt)
	})
	principal := streams[0]

	// The unified session is live again until marked ended explicitly.
	_, err = tx.ExecContext(ctx,
		`UPDATE streams SET parent_stream_id=NULL, part_number=1, ended_at=NULL, updated_at=NOW() WHERE id=$1`,
		principal.ID)
	if err != nil {
		return nil, fmt.Errorf("promote principal %s: %w", principal.ID, err)
	}

	for i, part := range streams[1:] {
		_, err = tx.ExecContext(ctx,
			`UPDATE streams SET parent_stream_id=$1, part_number=$2, updated_at=NOW() WHERE id=$3`,
			principal.ID, i+2, part.ID)
		if err != nil {
			return nil, fmt.Errorf("attach part %s: %w", part.ID, err)
		}
	}

	refreshed, err := GetByID(ctx, tx, principal.ID)
	if err != nil {
		return nil, err
	}
	ex, err := Expand(ctx, tx, *refreshed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unify: %w", err)
	}
	telemetry.CountUnified(len(ids))
	return ex, nil
}
