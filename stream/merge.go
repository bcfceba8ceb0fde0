package stream

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/stream-pulse/backend/db"
	"github.com/onnwee/stream-pulse/backend/telemetry"
)

// MergeResult is the merge-parts response payload.
type MergeResult struct {
	Message         string    `json:"message"`
	PrincipalStream *Expanded `json:"principal_stream"`
	MergedParts     []string  `json:"merged_parts"`
}

// MergeParts collapses part streams into their principal. Events, donations
// and viewer history rows of each part are reassigned to the principal, the
// part rows are deleted, and the remaining parts are renumbered from 2 in
// start order. The principal's span is recomputed: started_at becomes the
// minimum across principal and merged parts; ended_at becomes the maximum
// part end, or NULL when any merged part was still live. All ids must be
// parts of the same principal. The whole rewrite runs in one transaction.
func MergeParts(ctx context.Context, dbh *sql.DB, streamIDs []string) (*MergeResult, error) {
	done := telemetry.TimeFunc(telemetry.MergeDuration)
	defer done()

	ids := dedupe(streamIDs)
	if len(ids) < 1 {
		return nil, Validationf("stream_ids must contain at least 1 stream id")
	}

	tx, err := dbh.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback()

	streams, err := ListByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if len(streams) < len(ids) {
		return nil, NotFoundf("one or more stream ids do not exist")
	}

	parents := make(map[string]struct{})
	principalIncluded := false
	for _, s := range streams {
		if s.ParentStreamID == nil {
			principalIncluded = true
			continue
		}
		parents[*s.ParentStreamID] = struct{}{}
	}
	if len(parents) > 1 {
		return nil, Conflictf("all parts must belong to the same principal stream")
	}
	if principalIncluded {
		return nil, Conflictf("cannot merge the principal stream; only parts can be merged")
	}

	var parentID string
	for id := range parents {
		parentID = id
	}
	principal, err := GetByID(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}

	minStart := principal.StartedAt
	var maxEnd time.Time
	hasEnd, hasActive := false, false
	for _, s := range streams {
		if s.StartedAt.Before(minStart) {
			minStart = s.StartedAt
		}
		if s.EndedAt == nil {
			hasActive = true
		} else if !hasEnd || s.EndedAt.After(maxEnd) {
			maxEnd = *s.EndedAt
			hasEnd = true
		}
	}
	// A still-live part keeps the merged session live.
	var finalEnd *time.Time
	if !hasActive && hasEnd {
		finalEnd = &maxEnd
	}

	clause, inArgs := db.InArgs(ids, 2)
	args := append([]any{parentID}, inArgs...)
	for _, table := range []string{"events", "donations", "viewer_history"} {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET stream_id=$1 WHERE stream_id IN %s`, table, clause), args...)
		if err != nil {
			return nil, fmt.Errorf("reassign %s to principal %s: %w", table, parentID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE streams SET started_at=$1, ended_at=$2, updated_at=NOW() WHERE id=$3`,
		minStart, finalEnd, parentID)
	if err != nil {
		return nil, fmt.Errorf("update principal span %s: %w", parentID, err)
	}

	delClause, delArgs := db.InArgs(ids, 1)
	_, err = tx.ExecContext(ctx, `DELETE FROM streams WHERE id IN `+delClause, delArgs...)
	if err != nil {
		return nil, fmt.Errorf("delete merged parts: %w", err)
	}

	// Close the gap in part numbering; the principal is always part 1.
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM streams WHERE parent_stream_id=$1 ORDER BY started_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list remaining parts: %w", err)
	}
	remaining := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan remaining part id: %w", err)
		}
		remaining = append(remaining, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i, id := range remaining {
		_, err = tx.ExecContext(ctx,
			`UPDATE streams SET part_number=$1, updated_at=NOW() WHERE id=$2`, i+2, id)
		if err != nil {
			return nil, fmt.Errorf("renumber part %s: %w", id, err)
		}
	}

	refreshed, err := GetByID(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}
	ex, err := Expand(ctx, tx, *refreshed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	telemetry.CountMerged(len(ids))
	return &MergeResult{
		Message:         fmt.Sprintf("merged %d part(s) into principal stream %s", len(ids), parentID),
		PrincipalStream: ex,
		MergedParts:     ids,
	}, nil
}
