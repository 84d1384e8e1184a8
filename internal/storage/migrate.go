// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/honolytics/honolytics-go/internal/logging"
)

// Migration is one versioned schema change. Versions are contiguous and
// ascending starting at 1; the list is append-only.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// schemaVersionTable tracks applied migrations. The current version is the
// highest recorded row.
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at BIGINT NOT NULL
);`

// sqlMigrations is the ordered migration list shared by the SQL adapters.
// The column set mirrors the Event and Session records one to one.
var sqlMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_tables",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	timestamp BIGINT NOT NULL,
	user_id TEXT,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	event TEXT NOT NULL,
	user_agent TEXT,
	ip TEXT,
	referrer TEXT,
	duration BIGINT,
	meta TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	start_time BIGINT NOT NULL,
	end_time BIGINT,
	pageviews INTEGER DEFAULT 0,
	duration BIGINT
);`,
	},
	{
		Version: 2,
		Name:    "add_indices",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_url ON events(url);
CREATE INDEX IF NOT EXISTS idx_events_event ON events(event);
CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);`,
	},
}

// runMigrations applies pending migrations in strict ascending order from
// the stored current version. Each migration is applied and the version
// advanced by exactly one; the first failure aborts and is surfaced to the
// caller of Connect, never retried.
func runMigrations(ctx context.Context, db *sql.DB, d dialect, migrations []Migration) error {
	log := logging.Component("storage")

	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	version := int(current.Int64)
	log.Debug().Int("current_version", version).Msg("checking schema migrations")

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		if m.Version != version+1 {
			return fmt.Errorf("migration %d out of order, current version %d", m.Version, version)
		}

		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.ExecContext(ctx,
			rebindQuery(`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`, d),
			m.Version, m.Name, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		version = m.Version
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}

	return nil
}
