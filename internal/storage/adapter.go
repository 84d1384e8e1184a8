// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"fmt"
	"time"
)

// Adapter is the uniform contract every backing store implements. The
// aggregate queries produce identical results regardless of the store: each
// adapter fetches its raw event/session log for the window and delegates to
// the shared aggregate engine.
type Adapter interface {
	// Connect opens the backing store. For networked SQL stores this also
	// runs idempotent schema migrations; a failed migration aborts the
	// connect and is not retried.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	InsertEvent(ctx context.Context, event Event) error
	// InsertSession inserts or replaces the session with the same ID.
	InsertSession(ctx context.Context, session Session) error

	QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	QueryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error)
	QueryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error)
	QueryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error)
	QueryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error)
	QueryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error)
	QueryTotals(ctx context.Context, start, end time.Time) (Totals, error)
	QueryFullMetrics(ctx context.Context, start, end time.Time) (*FullMetrics, error)
}

// Type tags a storage Config variant.
type Type string

// Supported storage backends.
const (
	TypeMemory     Type = "memory"
	TypeBadger     Type = "badger"
	TypeDuckDB     Type = "duckdb"
	TypePostgres   Type = "postgres"
	TypeClickHouse Type = "clickhouse"
)

// Config selects an adapter implementation and its connection parameters.
// Immutable after construction; the variant is resolved at init time only.
type Config struct {
	Type Type   `koanf:"type" json:"type"`
	URL  string `koanf:"url" json:"url,omitempty"`
	// Token authenticates remote stores that require one (ClickHouse).
	Token string `koanf:"token" json:"token,omitempty"`
	// Geo resolves event IPs to countries for the country breakdown.
	// Nil means every event buckets under "Unknown".
	Geo GeoLookup `koanf:"-" json:"-"`
}

// Memory returns a config for the in-memory adapter.
func Memory() Config { return Config{Type: TypeMemory} }

// Badger returns a config for the embedded BadgerDB adapter. Path is the
// data directory; empty selects an in-memory Badger instance.
func Badger(path string) Config { return Config{Type: TypeBadger, URL: path} }

// DuckDB returns a config for the embedded DuckDB adapter.
func DuckDB(url string) Config { return Config{Type: TypeDuckDB, URL: url} }

// Postgres returns a config for the Postgres adapter.
func Postgres(url string) Config { return Config{Type: TypePostgres, URL: url} }

// ClickHouse returns a config for the token-authenticated ClickHouse
// adapter.
func ClickHouse(url, token string) Config {
	return Config{Type: TypeClickHouse, URL: url, Token: token}
}

// NewAdapter maps a config variant to a concrete adapter. Missing required
// parameters are configuration errors surfaced here, before any connection
// attempt.
func NewAdapter(cfg Config) (Adapter, error) {
	switch cfg.Type {
	case TypeMemory:
		return NewMemoryAdapter(cfg.Geo), nil
	case TypeBadger:
		return NewBadgerAdapter(cfg.URL, cfg.Geo), nil
	case TypeDuckDB:
		if cfg.URL == "" {
			return nil, fmt.Errorf("duckdb: %w", ErrMissingURL)
		}
		return NewDuckDBAdapter(cfg.URL, cfg.Geo), nil
	case TypePostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres: %w", ErrMissingURL)
		}
		return NewPostgresAdapter(cfg.URL, cfg.Geo), nil
	case TypeClickHouse:
		if cfg.URL == "" {
			return nil, fmt.Errorf("clickhouse: %w", ErrMissingURL)
		}
		if cfg.Token == "" {
			return nil, fmt.Errorf("clickhouse: %w", ErrMissingToken)
		}
		return NewClickHouseAdapter(cfg.URL, cfg.Token, cfg.Geo), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorageType, cfg.Type)
	}
}
