// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAdapterQueryEventsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter(nil)

	base := windowStart.UnixMilli()
	events := []Event{
		{ID: "e1", Timestamp: base, UserID: "u1", SessionID: "s1", URL: "/a", Event: EventTypePageview},
		{ID: "e2", Timestamp: base + 1000, UserID: "u2", SessionID: "s2", URL: "/b", Event: EventTypePageview},
		{ID: "e3", Timestamp: base + 2000, UserID: "u1", SessionID: "s1", URL: "/c", Event: "click"},
	}
	for _, e := range events {
		if err := m.InsertEvent(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  EventFilter
		wantIDs []string
	}{
		{"no filter", EventFilter{}, []string{"e1", "e2", "e3"}},
		{"by user", EventFilter{UserID: "u1"}, []string{"e1", "e3"}},
		{"by session", EventFilter{SessionID: "s2"}, []string{"e2"}},
		{"by event type", EventFilter{Event: "click"}, []string{"e3"}},
		{"by start", EventFilter{Start: windowStart.Add(1500 * time.Millisecond)}, []string{"e3"}},
		{"by end", EventFilter{End: windowStart.Add(500 * time.Millisecond)}, []string{"e1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.QueryEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestMemoryAdapterSessionUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter(nil)

	start := windowStart.UnixMilli()
	if err := m.InsertSession(ctx, Session{ID: "s1", StartTime: start, Pageviews: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := m.InsertSession(ctx, Session{ID: "s1", StartTime: start, EndTime: start + 30_000, Pageviews: 3}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	totals, err := m.QueryTotals(ctx, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// One session record after the upsert, 30s duration.
	if totals.AvgDuration != 30 {
		t.Errorf("AvgDuration = %v, want 30 from the replaced record", totals.AvgDuration)
	}
}

func TestMemoryAdapterConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter(nil)

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				e := pageview("", "u", "s", "/", 0)
				_ = m.InsertEvent(ctx, e)
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	got, err := m.QueryEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("got %d events, want 200", len(got))
	}
}
