// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage. Event keys embed a zero-padded
// timestamp so a prefix iteration yields events in time order.
const (
	eventKeyPrefix   = "honolytics:events:"
	sessionKeyPrefix = "honolytics:sessions:"
)

// BadgerAdapter persists the event and session logs in an embedded
// BadgerDB. It is the durable local store: the document-store equivalent of
// the two-table browser schema, with the timestamp baked into event keys in
// place of an index.
type BadgerAdapter struct {
	path string
	db   *badger.DB
	agg  aggregator
}

// NewBadgerAdapter creates a Badger-backed adapter. An empty path selects an
// in-memory Badger instance (no files on disk).
func NewBadgerAdapter(path string, geo GeoLookup) *BadgerAdapter {
	return &BadgerAdapter{path: path, agg: aggregator{geo: geo}}
}

// Connect opens the Badger database.
func (b *BadgerAdapter) Connect(ctx context.Context) error {
	opts := badger.DefaultOptions(b.path)
	opts.Logger = nil
	if b.path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger: %w", err)
	}
	b.db = db
	return nil
}

// Disconnect closes the database.
func (b *BadgerAdapter) Disconnect(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// eventKey builds the timestamp-ordered key for an event.
func eventKey(e Event) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", eventKeyPrefix, e.Timestamp, e.ID))
}

// InsertEvent stores an event under its timestamp-ordered key.
func (b *BadgerAdapter) InsertEvent(ctx context.Context, event Event) error {
	if b.db == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(event), data)
	})
}

// InsertSession stores a session keyed by id, replacing any previous value.
func (b *BadgerAdapter) InsertSession(ctx context.Context, session Session) error {
	if b.db == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+session.ID), data)
	})
}

// loadEvents iterates the event keyspace in time order, decoding every
// event. Badger key order gives the timestamp ordering for free.
func (b *BadgerAdapter) loadEvents() ([]Event, error) {
	if b.db == nil {
		return nil, ErrNotConnected
	}

	var events []Event
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Event
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("unmarshal event: %w", err)
				}
				events = append(events, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// loadSessions decodes every stored session.
func (b *BadgerAdapter) loadSessions() ([]Session, error) {
	if b.db == nil {
		return nil, ErrNotConnected
	}

	var sessions []Session
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var s Session
				if err := json.Unmarshal(val, &s); err != nil {
					return fmt.Errorf("unmarshal session: %w", err)
				}
				sessions = append(sessions, s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// QueryEvents returns events matching the filter in timestamp order.
func (b *BadgerAdapter) QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	events, err := b.loadEvents()
	if err != nil {
		return nil, err
	}

	matched := make([]Event, 0, len(events))
	for _, e := range events {
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

// windowEvents loads the events inside the window.
func (b *BadgerAdapter) windowEvents(start, end time.Time) ([]Event, error) {
	events, err := b.loadEvents()
	if err != nil {
		return nil, err
	}
	return filterEvents(events, start, end), nil
}

// QueryMetrics returns the per-day timeseries for the window.
func (b *BadgerAdapter) QueryMetrics(ctx context.Context, start, end time.Time) ([]TimeseriesPoint, error) {
	events, err := b.windowEvents(start, end)
	if err != nil {
		return nil, err
	}
	return b.agg.timeseries(events), nil
}

// QueryTopPages returns the top pages breakdown for the window.
func (b *BadgerAdapter) QueryTopPages(ctx context.Context, start, end time.Time, limit int) ([]PageStat, error) {
	events, err := b.windowEvents(start, end)
	if err != nil {
		return nil, err
	}
	return b.agg.topPages(events, limit), nil
}

// QueryCountries returns the country breakdown for the window.
func (b *BadgerAdapter) QueryCountries(ctx context.Context, start, end time.Time, limit int) ([]CountryStat, error) {
	events, err := b.windowEvents(start, end)
	if err != nil {
		return nil, err
	}
	return b.agg.countries(events, limit), nil
}

// QueryBrowsers returns the browser breakdown for the window.
func (b *BadgerAdapter) QueryBrowsers(ctx context.Context, start, end time.Time, limit int) ([]BrowserStat, error) {
	events, err := b.windowEvents(start, end)
	if err != nil {
		return nil, err
	}
	return b.agg.browsers(events, limit), nil
}

// QueryDevices returns the device breakdown for the window.
func (b *BadgerAdapter) QueryDevices(ctx context.Context, start, end time.Time, limit int) ([]DeviceStat, error) {
	events, err := b.windowEvents(start, end)
	if err != nil {
		return nil, err
	}
	return b.agg.devices(events, limit), nil
}

// QueryTotals returns the window-wide totals.
func (b *BadgerAdapter) QueryTotals(ctx context.Context, start, end time.Time) (Totals, error) {
	events, err := b.windowEvents(start, end)
	if err != nil {
		return Totals{}, err
	}

	sessions, err := b.loadSessions()
	if err != nil {
		return Totals{}, err
	}
	inRange := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if inWindow(s.StartTime, start, end) {
			inRange = append(inRange, s)
		}
	}
	return b.agg.totals(events, inRange), nil
}

// QueryFullMetrics runs all aggregate queries concurrently and assembles
// one result.
func (b *BadgerAdapter) QueryFullMetrics(ctx context.Context, start, end time.Time) (*FullMetrics, error) {
	return queryFullMetrics(ctx, b, start, end)
}
