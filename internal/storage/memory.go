// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryAdapter keeps the event and session logs in process memory. It is
// the zero-dependency adapter: useful for tests, ephemeral clients, and as
// the reference implementation the other adapters are checked against.
type MemoryAdapter struct {
	mu       sync.RWMutex
	events   []Event
	sessions []Session
	agg      aggregator
}

// NewMemoryAdapter creates an in-memory adapter.
func NewMemoryAdapter(geo GeoLookup) *MemoryAdapter {
	return &MemoryAdapter{agg: aggregator{geo: geo}}
}

// Connect is a no-op; memory needs no connection.
func (m *MemoryAdapter) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op.
func (m *MemoryAdapter) Disconnect(ctx context.Context) error { return nil }

// InsertEvent appends an event to the log.
func (m *MemoryAdapter) InsertEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// InsertSession inserts a session, replacing any session with the same ID.
func (m *MemoryAdapter) InsertSession(ctx context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == session.ID {
			m.sessions[i] = session
			return nil
		}
	}
	m.sessions = append(m.sessions, session)
	return nil
}

// QueryEvents returns events matching the filter in insertion order.
func (m *MemoryAdapter) QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		if !filter.Start.IsZero() && e.Timestamp < filter.Start.UnixMilli() {
			continue
		}
		if !filter.End.IsZero() && e.Timestamp > filter.End.UnixMilli() {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.Event != "" && e.Event != filter.Event {
			continue
		}
		matched = append(matched, e)
	}
	return matched, nil
}

// QueryMetrics returns the per-day timeseries for the window.
func (m *MemoryAdapter) QueryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error) {
	return m.agg.timeseries(m.windowEvents(start, end)), nil
}

// QueryTopPages returns the top pages breakdown for the window.
func (m *MemoryAdapter) QueryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error) {
	return m.agg.topPages(m.windowEvents(start, end), limit), nil
}

// QueryCountries returns the country breakdown for the window.
func (m *MemoryAdapter) QueryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error) {
	return m.agg.countries(m.windowEvents(start, end), limit), nil
}

// QueryBrowsers returns the browser breakdown for the window.
func (m *MemoryAdapter) QueryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error) {
	return m.agg.browsers(m.windowEvents(start, end), limit), nil
}

// QueryDevices returns the device breakdown for the window.
func (m *MemoryAdapter) QueryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error) {
	return m.agg.devices(m.windowEvents(start, end), limit), nil
}

// QueryTotals returns the window-wide totals.
func (m *MemoryAdapter) QueryTotals(ctx context.Context, start, end time.Time) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := filterEvents(m.events, start, end)
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if inWindow(s.StartTime, start, end) {
			sessions = append(sessions, s)
		}
	}
	return m.agg.totals(events, sessions), nil
}

// QueryFullMetrics runs all aggregate queries concurrently and assembles
// one result.
func (m *MemoryAdapter) QueryFullMetrics(ctx context.Context, start, end time.Time) (*FullMetrics, error) {
	return queryFullMetrics(ctx, m, start, end)
}

// windowEvents copies the events inside the window under the read lock.
func (m *MemoryAdapter) windowEvents(start, end time.Time) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterEvents(m.events, start, end)
}
