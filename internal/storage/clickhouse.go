// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"

	"github.com/honolytics/honolytics-go/internal/logging"
)

// chMigrations is the ordered DDL list for the ClickHouse adapter. Sessions
// use ReplacingMergeTree so re-inserting a session id supersedes the old
// row; reads go through FINAL to observe the replacement.
var chMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_tables",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	id String,
	timestamp Int64,
	user_id String,
	session_id String,
	url String,
	event String,
	user_agent String,
	ip String,
	referrer String,
	duration Int64,
	meta String
) ENGINE = MergeTree() ORDER BY (timestamp, id);

CREATE TABLE IF NOT EXISTS sessions (
	id String,
	user_id String,
	start_time Int64,
	end_time Int64,
	pageviews Int32,
	duration Int64
) ENGINE = ReplacingMergeTree(start_time) ORDER BY id;`,
	},
}

// chSchemaVersionTable tracks applied ClickHouse migrations.
const chSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version Int32,
	name String,
	applied_at Int64
) ENGINE = MergeTree() ORDER BY version;`

// ClickHouseAdapter stores the event log in a remote ClickHouse cluster
// reached over the native protocol with token authentication.
type ClickHouseAdapter struct {
	url   string
	token string
	conn  clickhouse.Conn
	agg   aggregator
}

// NewClickHouseAdapter creates a ClickHouse-backed adapter. URL has the
// form host:port or host:port/database; the token authenticates as the
// default user.
func NewClickHouseAdapter(url, token string, geo GeoLookup) *ClickHouseAdapter {
	return &ClickHouseAdapter{url: url, token: token, agg: aggregator{geo: geo}}
}

// Connect opens the native connection and runs pending schema migrations.
func (a *ClickHouseAdapter) Connect(ctx context.Context) error {
	addr := a.url
	database := "default"
	if idx := strings.Index(a.url, "/"); idx >= 0 {
		addr = a.url[:idx]
		if rest := a.url[idx+1:]; rest != "" {
			database = rest
		}
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: a.token,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	if err := a.migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("clickhouse migrations: %w", err)
	}

	a.conn = conn
	return nil
}

// migrate applies pending DDL in strict ascending order, mirroring the SQL
// adapters' migration loop over ClickHouse's interface.
func (a *ClickHouseAdapter) migrate(ctx context.Context, conn clickhouse.Conn) error {
	log := logging.Component("storage")

	if err := conn.Exec(ctx, chSchemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int32
	row := conn.QueryRow(ctx, `SELECT toInt32(coalesce(max(version), 0)) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	version := int(current)
	for _, m := range chMigrations {
		if m.Version <= version {
			continue
		}
		if m.Version != version+1 {
			return fmt.Errorf("migration %d out of order, current version %d", m.Version, version)
		}

		// ClickHouse runs one statement per Exec.
		for _, stmt := range strings.Split(m.SQL, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
			int32(m.Version), m.Name, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		version = m.Version
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}

// Disconnect closes the connection.
func (a *ClickHouseAdapter) Disconnect(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// InsertEvent appends an event row.
func (a *ClickHouseAdapter) InsertEvent(ctx context.Context, event Event) error {
	if a.conn == nil {
		return ErrNotConnected
	}

	meta := ""
	if len(event.Meta) > 0 {
		data, err := json.Marshal(event.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		meta = string(data)
	}

	err := a.conn.Exec(ctx, `
INSERT INTO events (id, timestamp, user_id, session_id, url, event, user_agent, ip, referrer, duration, meta)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, event.UserID, event.SessionID, event.URL,
		event.Event, event.UserAgent, event.IP, event.Referrer, event.Duration, meta)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertSession inserts a session row; ReplacingMergeTree supersedes any
// previous row with the same id.
func (a *ClickHouseAdapter) InsertSession(ctx context.Context, session Session) error {
	if a.conn == nil {
		return ErrNotConnected
	}

	err := a.conn.Exec(ctx, `
INSERT INTO sessions (id, user_id, start_time, end_time, pageviews, duration)
VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.StartTime, session.EndTime,
		int32(session.Pageviews), session.Duration)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// QueryEvents returns events matching the filter in timestamp order.
func (a *ClickHouseAdapter) QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if a.conn == nil {
		return nil, ErrNotConnected
	}

	var (
		conds []string
		args  []any
	)
	if !filter.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Start.UnixMilli())
	}
	if !filter.End.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.End.UnixMilli())
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Event != "" {
		conds = append(conds, "event = ?")
		args = append(args, filter.Event)
	}

	query := `SELECT id, timestamp, user_id, session_id, url, event, user_agent, ip, referrer, duration, meta FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp"

	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			meta string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.SessionID, &e.URL,
			&e.Event, &e.UserAgent, &e.IP, &e.Referrer, &e.Duration, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// windowEvents fetches the raw events for an aggregate window.
func (a *ClickHouseAdapter) windowEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	return a.QueryEvents(ctx, EventFilter{Start: start, End: end})
}

// windowSessions fetches sessions whose start falls in the window, reading
// through FINAL so replaced rows are collapsed.
func (a *ClickHouseAdapter) windowSessions(ctx context.Context, start, end time.Time) ([]Session, error) {
	if a.conn == nil {
		return nil, ErrNotConnected
	}

	rows, err := a.conn.Query(ctx, `
SELECT id, user_id, start_time, end_time, toInt32(pageviews), duration
FROM sessions FINAL WHERE start_time >= ? AND start_time <= ?`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s         Session
			pageviews int32
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.StartTime, &s.EndTime, &pageviews, &s.Duration); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Pageviews = int(pageviews)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// QueryMetrics returns the per-day timeseries for the window.
func (a *ClickHouseAdapter) QueryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error) {
	events, err := a.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return a.agg.timeseries(events), nil
}

// QueryTopPages returns the top pages breakdown for the window.
func (a *ClickHouseAdapter) QueryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error) {
	events, err := a.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return a.agg.topPages(events, limit), nil
}

// QueryCountries returns the country breakdown for the window.
func (a *ClickHouseAdapter) QueryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error) {
	events, err := a.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return a.agg.countries(events, limit), nil
}

// QueryBrowsers returns the browser breakdown for the window.
func (a *ClickHouseAdapter) QueryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error) {
	events, err := a.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return a.agg.browsers(events, limit), nil
}

// QueryDevices returns the device breakdown for the window.
func (a *ClickHouseAdapter) QueryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error) {
	events, err := a.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return a.agg.devices(events, limit), nil
}

// QueryTotals returns the window-wide totals.
func (a *ClickHouseAdapter) QueryTotals(ctx context.Context, start, end time.Time) (Totals, error) {
	events, err := a.windowEvents(ctx, start, end)
	if err != nil {
		return Totals{}, err
	}
	sessions, err := a.windowSessions(ctx, start, end)
	if err != nil {
		return Totals{}, err
	}
	return a.agg.totals(events, sessions), nil
}

// QueryFullMetrics runs all aggregate queries concurrently and assembles
// one result.
func (a *ClickHouseAdapter) QueryFullMetrics(ctx context.Context, start, end time.Time) (*FullMetrics, error) {
	return queryFullMetrics(ctx, a, start, end)
}
