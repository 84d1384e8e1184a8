// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package storage provides a uniform adapter abstraction over heterogeneous
// event stores (in-memory, BadgerDB, DuckDB, Postgres, ClickHouse) exposing
// raw event CRUD and derived metrics aggregates.
package storage

import "time"

// EventTypePageview is the event tag for pageview events. Named events are
// supported but aggregation currently only counts pageviews.
const EventTypePageview = "pageview"

// Event is one recorded user action. Immutable once created.
type Event struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId"`
	URL       string         `json:"url"`
	Event     string         `json:"event"`
	UserAgent string         `json:"userAgent,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Referrer  string         `json:"referrer,omitempty"`
	Duration  int64          `json:"duration,omitempty"` // milliseconds on page
	Meta      map[string]any `json:"meta,omitempty"`
}

// Session is one continuous visit window. EndTime of zero means the session
// was never observed to end.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"userId,omitempty"`
	StartTime int64  `json:"startTime"` // epoch milliseconds
	EndTime   int64  `json:"endTime,omitempty"`
	Pageviews int    `json:"pageviews"`
	Duration  int64  `json:"duration,omitempty"`
}

// EventFilter selects events for QueryEvents. Zero-valued fields are
// ignored.
type EventFilter struct {
	Start     time.Time
	End       time.Time
	UserID    string
	SessionID string
	Event     string
}

// Totals are the window-wide counts: distinct users, distinct sessions,
// pageview events, and the mean session duration in seconds.
type Totals struct {
	Users       int     `json:"users"`
	Sessions    int     `json:"sessions"`
	Pageviews   int     `json:"pageviews"`
	AvgDuration float64 `json:"avgDuration"`
}

// TimeseriesPoint is one day of per-day users/sessions/pageviews. Date is a
// UTC calendar day formatted YYYY-MM-DD.
type TimeseriesPoint struct {
	Date      string `json:"date"`
	Users     int    `json:"users"`
	Sessions  int    `json:"sessions"`
	Pageviews int    `json:"pageviews"`
}

// PageStat ranks one URL by view count with the mean on-page duration over
// duration-bearing events only.
type PageStat struct {
	URL         string  `json:"url"`
	Views       int     `json:"views"`
	AvgDuration float64 `json:"avgDuration"`
}

// CountryStat ranks one country by distinct-user count.
type CountryStat struct {
	Country string `json:"country"`
	Users   int    `json:"users"`
}

// BrowserStat ranks one browser by distinct-user count.
type BrowserStat struct {
	Browser string `json:"browser"`
	Users   int    `json:"users"`
}

// DeviceStat ranks one device class by distinct-user count.
type DeviceStat struct {
	Device string `json:"device"`
	Users  int    `json:"users"`
}

// Breakdowns groups the per-dimension aggregate lists.
type Breakdowns struct {
	TopPages  []PageStat    `json:"topPages"`
	Countries []CountryStat `json:"countries"`
	Browsers  []BrowserStat `json:"browsers"`
	Devices   []DeviceStat  `json:"devices"`
}

// FullMetrics is the complete aggregate object assembled by
// QueryFullMetrics and served by the GET /metrics endpoint.
type FullMetrics struct {
	Totals     Totals            `json:"totals"`
	Timeseries []TimeseriesPoint `json:"timeseries"`
	Breakdowns Breakdowns        `json:"breakdowns"`
}
