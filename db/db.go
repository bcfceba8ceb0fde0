// Package db provides database connection helpers, schema migration, and small data access helpers.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection for the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
// This is the legacy fallback path; new deployments use versioned migrations
// (see RunMigrations) which track schema versions properly.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS streamers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username TEXT UNIQUE NOT NULL,
			display_name TEXT,
			profile_image_url TEXT,
			follower_count INTEGER,
			following_count INTEGER,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS streams (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			streamer_id UUID REFERENCES streamers(id),
			title TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			viewer_count INTEGER,
			total_events INTEGER DEFAULT 0,
			total_donations INTEGER DEFAULT 0,
			total_follows INTEGER DEFAULT 0,
			parent_stream_id UUID REFERENCES streams(id),
			part_number INTEGER DEFAULT 1,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username TEXT UNIQUE NOT NULL,
			display_name TEXT,
			profile_image_url TEXT,
			follower_count INTEGER,
			following_count INTEGER,
			is_following_streamer BOOLEAN,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
			user_id UUID REFERENCES users(id),
			event_type TEXT NOT NULL CHECK (event_type IN ('comment','donation','follow','join','like','share')),
			content TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS donations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			event_id UUID REFERENCES events(id),
			stream_id UUID NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
			user_id UUID REFERENCES users(id),
			gift_type TEXT,
			gift_name TEXT,
			gift_count INTEGER DEFAULT 1,
			gift_value NUMERIC,
			coin_amount INTEGER,
			gift_image_url TEXT,
			message TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS viewer_history (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
			viewer_count INTEGER NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_changes_log (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			field_changed TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_streamer ON streams(streamer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_parent ON streams(parent_stream_id)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_ended ON streams(ended_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_stream_created ON events(stream_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_stream ON donations(stream_id)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_user ON donations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_viewer_history_stream_created ON viewer_history(stream_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_changes_user ON user_changes_log(user_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// InArgs builds a parenthesized placeholder list for an IN clause, numbering
// placeholders from start. The caller must have rejected an empty id set
// before issuing SQL; an empty set must short-circuit to zero results, never
// reach the database.
func InArgs(ids []string, start int) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", start+i)
		args[i] = id
	}
	return "(" + strings.Join(ph, ",") + ")", args
}
