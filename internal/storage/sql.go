// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// dialect selects the placeholder style for a database/sql backend.
type dialect int

const (
	// dialectQuestion uses ? placeholders (DuckDB).
	dialectQuestion dialect = iota
	// dialectDollar uses $1..$n placeholders (Postgres).
	dialectDollar
)

// rebindQuery rewrites ? placeholders into the dialect's native style.
func rebindQuery(query string, d dialect) string {
	if d == dialectQuestion {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore is the shared database/sql implementation behind the DuckDB and
// Postgres adapters. The adapters own connection setup; inserts, window
// queries, and aggregate delegation live here so the two stores cannot
// drift apart.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	agg aggregator
}

// insertEvent writes one event row. Meta is serialized to JSON text.
func (s *sqlStore) insertEvent(ctx context.Context, e Event) error {
	if s.db == nil {
		return ErrNotConnected
	}

	var meta any
	if len(e.Meta) > 0 {
		data, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		meta = string(data)
	}

	query := rebindQuery(`
INSERT INTO events (id, timestamp, user_id, session_id, url, event, user_agent, ip, referrer, duration, meta)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.d)

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Timestamp, nullString(e.UserID), e.SessionID, e.URL, e.Event,
		nullString(e.UserAgent), nullString(e.IP), nullString(e.Referrer),
		nullInt64(e.Duration), meta)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// insertSession upserts one session row by id.
func (s *sqlStore) insertSession(ctx context.Context, sess Session) error {
	if s.db == nil {
		return ErrNotConnected
	}

	query := rebindQuery(`
INSERT INTO sessions (id, user_id, start_time, end_time, pageviews, duration)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	pageviews = EXCLUDED.pageviews,
	duration = EXCLUDED.duration`, s.d)

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, nullString(sess.UserID), sess.StartTime,
		nullInt64(sess.EndTime), sess.Pageviews, nullInt64(sess.Duration))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// queryEvents fetches events matching the filter, timestamp ascending.
func (s *sqlStore) queryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if s.db == nil {
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

	rows, err := s.db.QueryContext(ctx, rebindQuery(query, s.d), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// windowEvents fetches the raw events for an aggregate window.
func (s *sqlStore) windowEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	return s.queryEvents(ctx, EventFilter{Start: start, End: end})
}

// windowSessions fetches sessions whose start falls in the window.
func (s *sqlStore) windowSessions(ctx context.Context, start, end time.Time) ([]Session, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	query := rebindQuery(`
SELECT id, user_id, start_time, end_time, pageviews, duration
FROM sessions WHERE start_time >= ? AND start_time <= ?`, s.d)

	rows, err := s.db.QueryContext(ctx, query, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess      Session
			userID    sql.NullString
			endTime   sql.NullInt64
			pageviews sql.NullInt64
			duration  sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &userID, &sess.StartTime, &endTime, &pageviews, &duration); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.UserID = userID.String
		sess.EndTime = endTime.Int64
		sess.Pageviews = int(pageviews.Int64)
		sess.Duration = duration.Int64
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanEvents decodes event rows, tolerating NULL optional columns.
func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e         Event
			userID    sql.NullString
			userAgent sql.NullString
			ip        sql.NullString
			referrer  sql.NullString
			duration  sql.NullInt64
			meta      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &userID, &e.SessionID, &e.URL,
			&e.Event, &userAgent, &ip, &referrer, &duration, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.UserID = userID.String
		e.UserAgent = userAgent.String
		e.IP = ip.String
		e.Referrer = referrer.String
		e.Duration = duration.Int64
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt64 maps 0 to SQL NULL.
func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

// Aggregate queries shared by the SQL adapters. Raw rows are fetched for
// the window and handed to the aggregate engine so results match the other
// stores exactly.

func (s *sqlStore) queryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error) {
	events, err := s.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return s.agg.timeseries(events), nil
}

func (s *sqlStore) queryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error) {
	events, err := s.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return s.agg.topPages(events, limit), nil
}

func (s *sqlStore) queryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error) {
	events, err := s.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return s.agg.countries(events, limit), nil
}

func (s *sqlStore) queryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error) {
	events, err := s.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return s.agg.browsers(events, limit), nil
}

func (s *sqlStore) queryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error) {
	events, err := s.windowEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return s.agg.devices(events, limit), nil
}

func (s *sqlStore) queryTotals(ctx context.Context, start, end time.Time) (Totals, error) {
	events, err := s.windowEvents(ctx, start, end)
	if err != nil {
		return Totals{}, err
	}
	sessions, err := s.windowSessions(ctx, start, end)
	if err != nil {
		return Totals{}, err
	}
	return s.agg.totals(events, sessions), nil
}
