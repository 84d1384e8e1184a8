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

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDBAdapter stores the event log in an embedded DuckDB database. URL is
// a file path, or empty/":memory:" for an in-memory database.
type DuckDBAdapter struct {
	url string
	sqlStore
}

// NewDuckDBAdapter creates a DuckDB-backed adapter.
func NewDuckDBAdapter(url string, geo GeoLookup) *DuckDBAdapter {
	return &DuckDBAdapter{
		url:      url,
		sqlStore: sqlStore{d: dialectQuestion, agg: aggregator{geo: geo}},
	}
}

// Connect opens the database and runs pending schema migrations. A failed
// migration aborts the connect and is surfaced as a fatal error.
func (a *DuckDBAdapter) Connect(ctx context.Context) error {
	path := a.url
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping duckdb: %w", err)
	}

	if err := runMigrations(ctx, db, dialectQuestion, sqlMigrations); err != nil {
		_ = db.Close()
		return fmt.Errorf("duckdb migrations: %w", err)
	}

	a.db = db
	return nil
}

// Disconnect closes the database.
func (a *DuckDBAdapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// InsertEvent appends an event row.
func (a *DuckDBAdapter) InsertEvent(ctx context.Context, event Event) error {
	return a.insertEvent(ctx, event)
}

// InsertSession upserts a session row by id.
func (a *DuckDBAdapter) InsertSession(ctx context.Context, session Session) error {
	return a.insertSession(ctx, session)
}

// QueryEvents returns events matching the filter in timestamp order.
func (a *DuckDBAdapter) QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	return a.queryEvents(ctx, filter)
}

// QueryMetrics returns the per-day timeseries for the window.
func (a *DuckDBAdapter) QueryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error) {
	return a.queryMetrics(ctx, start, end)
}

// QueryTopPages returns the top pages breakdown for the window.
func (a *DuckDBAdapter) QueryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error) {
	return a.queryTopPages(ctx, start, end, limit)
}

// QueryCountries returns the country breakdown for the window.
func (a *DuckDBAdapter) QueryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error) {
	return a.queryCountries(ctx, start, end, limit)
}

// QueryBrowsers returns the browser breakdown for the window.
func (a *DuckDBAdapter) QueryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error) {
	return a.queryBrowsers(ctx, start, end, limit)
}

// QueryDevices returns the device breakdown for the window.
func (a *DuckDBAdapter) QueryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error) {
	return a.queryDevices(ctx, start, end, limit)
}

// QueryTotals returns the window-wide totals.
func (a *DuckDBAdapter) QueryTotals(ctx context.Context, start, end time.Time) (Totals, error) {
	return a.queryTotals(ctx, start, end)
}

// QueryFullMetrics runs all aggregate queries concurrently and assembles
// one result.
func (a *DuckDBAdapter) QueryFullMetrics(ctx context.Context, start, end time.Time) (*FullMetrics, error) {
	return queryFullMetrics(ctx, a, start, end)
}
