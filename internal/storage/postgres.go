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

	_ "github.com/lib/pq"
)

// PostgresAdapter stores the event log in a Postgres database reached over
// the network via a connection URL.
type PostgresAdapter struct {
	url string
	sqlStore
}

// NewPostgresAdapter creates a Postgres-backed adapter.
func NewPostgresAdapter(url string, geo GeoLookup) *PostgresAdapter {
	return &PostgresAdapter{
		url:      url,
		sqlStore: sqlStore{d: dialectDollar, agg: aggregator{geo: geo}},
	}
}

// Connect opens the connection pool and runs pending schema migrations. A
// failed migration aborts the connect and is surfaced as a fatal error.
func (a *PostgresAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open("postgres", a.url)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(ctx, db, dialectDollar, sqlMigrations); err != nil {
		_ = db.Close()
		return fmt.Errorf("postgres migrations: %w", err)
	}

	a.db = db
	return nil
}

// Disconnect closes the connection pool.
func (a *PostgresAdapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// InsertEvent appends an event row.
func (a *PostgresAdapter) InsertEvent(ctx context.Context, event Event) error {
	return a.insertEvent(ctx, event)
}

// InsertSession upserts a session row by id.
func (a *PostgresAdapter) InsertSession(ctx context.Context, session Session) error {
	return a.insertSession(ctx, session)
}

// QueryEvents returns events matching the filter in timestamp order.
func (a *PostgresAdapter) QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	return a.queryEvents(ctx, filter)
}

// QueryMetrics returns the per-day timeseries for the window.
func (a *PostgresAdapter) QueryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error) {
	return a.queryMetrics(ctx, start, end)
}

// QueryTopPages returns the top pages breakdown for the window.
func (a *PostgresAdapter) QueryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error) {
	return a.queryTopPages(ctx, start, end, limit)
}

// QueryCountries returns the country breakdown for the window.
func (a *PostgresAdapter) QueryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error) {
	return a.queryCountries(ctx, start, end, limit)
}

// QueryBrowsers returns the browser breakdown for the window.
func (a *PostgresAdapter) QueryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error) {
	return a.queryBrowsers(ctx, start, end, limit)
}

// QueryDevices returns the device breakdown for the window.
func (a *PostgresAdapter) QueryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error) {
	return a.queryDevices(ctx, start, end, limit)
}

// QueryTotals returns the window-wide totals.
func (a *PostgresAdapter) QueryTotals(ctx context.Context, start, end time.Time) (Totals, error) {
	return a.queryTotals(ctx, start, end)
}

// QueryFullMetrics runs all aggregate queries concurrently and assembles
// one result.
func (a *PostgresAdapter) QueryFullMetrics(ctx context.Context, start, end time.Time) (*FullMetrics, error) {
	return queryFullMetrics(ctx, a, start, end)
}
