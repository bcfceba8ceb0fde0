package stream

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/stream-pulse/backend/telemetry"
)

// StartStatsRefreshJob launches a background loop that refreshes the
// active-streams gauge on the given interval until ctx is cancelled.
func StartStatsRefreshJob(ctx context.Context, dbh *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		refreshActiveStreams(ctx, dbh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshActiveStreams(ctx, dbh)
			}
		}
	}()
}

func refreshActiveStreams(ctx context.Context, dbh *sql.DB) {
	var n int
	err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams WHERE ended_at IS NULL`).Scan(&n)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("active streams refresh failed", "error", err)
		}
		return
	}
	telemetry.SetActiveStreams(n)
}
