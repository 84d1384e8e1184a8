// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/honolytics/honolytics-go/internal/config"
	"github.com/honolytics/honolytics-go/internal/storage"
)

func newTestServer(t *testing.T) (*Server, storage.Adapter) {
	t.Helper()
	adapter := storage.NewMemoryAdapter(nil)
	if err := adapter.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	cfg := config.ServerConfig{
		Addr:            ":0",
		APIKey:          "key-test",
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	}
	return New(cfg, adapter), adapter
}

func postTrack(t *testing.T, h http.Handler, apiKey string, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/track", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0.0.0 Safari/537.36")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func validTrackBody() map[string]any {
	return map[string]any{
		"event": "pageview",
		"user":  map[string]any{"id": "u1"},
		"session": map[string]any{
			"id":       "s1",
			"referrer": "https://google.com/search",
			"origin":   "google.com",
		},
		"pageview": map[string]any{
			"url":       "https://example.com/home",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

func setTrackTimestamp(body map[string]any, millis int64) {
	body["pageview"].(map[string]any)["timestamp"] = time.UnixMilli(millis).UTC().Format(time.RFC3339Nano)
}

func TestTrackStoresEventAndSession(t *testing.T) {
	srv, adapter := newTestServer(t)
	h := srv.Routes()

	if w := postTrack(t, h, "key-test", validTrackBody(), nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", w.Code, w.Body.String())
	}

	events, err := adapter.QueryEvents(t.Context(), storage.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d stored events, want 1", len(events))
	}
	if events[0].UserID != "u1" || events[0].SessionID != "s1" {
		t.Errorf("stored event = %+v", events[0])
	}
	if events[0].URL != "https://example.com/home" {
		t.Errorf("stored url = %q", events[0].URL)
	}
	if events[0].Referrer != "https://google.com/search" {
		t.Errorf("stored referrer = %q, want the session referrer", events[0].Referrer)
	}
	if events[0].UserAgent == "" {
		t.Error("user agent not taken from the request header")
	}
	if events[0].ID == "" {
		t.Error("event id not assigned")
	}
}

func TestTrackSessionAccumulatesPageviews(t *testing.T) {
	srv, adapter := newTestServer(t)
	h := srv.Routes()

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		body := validTrackBody()
		setTrackTimestamp(body, base+int64(i*1000))
		if w := postTrack(t, h, "key-test", body, nil); w.Code != http.StatusNoContent {
			t.Fatalf("status = %d", w.Code)
		}
	}

	start := time.UnixMilli(base - 1000)
	end := time.UnixMilli(base + 10000)
	totals, err := adapter.QueryTotals(t.Context(), start, end)
	if err != nil {
		t.Fatal(err)
	}
	if totals.Pageviews != 3 || totals.Sessions != 1 || totals.Users != 1 {
		t.Errorf("totals = %+v, want 3 pageviews in 1 session for 1 user", totals)
	}
}

func TestTrackRejectsInvalidPayload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{name: "missing url", mutate: func(b map[string]any) {
			delete(b["pageview"].(map[string]any), "url")
		}},
		{name: "bad url", mutate: func(b map[string]any) {
			b["pageview"].(map[string]any)["url"] = "not a url"
		}},
		{name: "bad referrer", mutate: func(b map[string]any) {
			b["session"].(map[string]any)["referrer"] = "not a url"
		}},
		{name: "negative duration", mutate: func(b map[string]any) {
			b["pageview"].(map[string]any)["durationMs"] = -5
		}},
		{name: "malformed timestamp", mutate: func(b map[string]any) {
			b["pageview"].(map[string]any)["timestamp"] = "yesterday"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validTrackBody()
			tt.mutate(body)
			if w := postTrack(t, h, "key-test", body, nil); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestTrackNamedEventAccepted(t *testing.T) {
	srv, adapter := newTestServer(t)
	h := srv.Routes()

	base := time.Now().UnixMilli()
	body := validTrackBody()
	body["event"] = "click"
	setTrackTimestamp(body, base)
	if w := postTrack(t, h, "key-test", body, nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 for a named event: %s", w.Code, w.Body.String())
	}

	events, err := adapter.QueryEvents(t.Context(), storage.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Event != "click" {
		t.Fatalf("stored events = %+v, want one click event", events)
	}
	// Named events count for nothing in pageview aggregation.
	totals, err := adapter.QueryTotals(t.Context(), time.UnixMilli(base-1000), time.UnixMilli(base+1000))
	if err != nil {
		t.Fatal(err)
	}
	if totals.Pageviews != 0 {
		t.Errorf("pageviews = %d, want 0 for a click event", totals.Pageviews)
	}
}

func TestTrackGeneratesMissingIdentifiers(t *testing.T) {
	srv, adapter := newTestServer(t)
	h := srv.Routes()

	body := validTrackBody()
	body["user"] = map[string]any{}
	body["session"] = map[string]any{}
	if w := postTrack(t, h, "key-test", body, nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", w.Code, w.Body.String())
	}

	events, err := adapter.QueryEvents(t.Context(), storage.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d stored events, want 1", len(events))
	}
	if events[0].SessionID == "" || events[0].UserID == "" {
		t.Errorf("identifiers not generated: %+v", events[0])
	}
}

func TestTrackRequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	if w := postTrack(t, h, "", validTrackBody(), nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", w.Code)
	}
	if w := postTrack(t, h, "wrong", validTrackBody(), nil); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}
}

func TestTrackDevTrafficNotStored(t *testing.T) {
	srv, adapter := newTestServer(t)
	h := srv.Routes()

	w := postTrack(t, h, "key-test", validTrackBody(), map[string]string{"x-dev-traffic": "true"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	events, err := adapter.QueryEvents(t.Context(), storage.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("dev traffic stored: %d events", len(events))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	now := time.Now()
	body := validTrackBody()
	setTrackTimestamp(body, now.UnixMilli())
	if w := postTrack(t, h, "key-test", body, nil); w.Code != http.StatusNoContent {
		t.Fatalf("track status = %d", w.Code)
	}

	url := "/metrics?start_date=" + now.Add(-time.Hour).UTC().Format(time.RFC3339) +
		"&end_date=" + now.Add(time.Hour).UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("x-api-key", "key-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var full storage.FullMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &full); err != nil {
		t.Fatal(err)
	}
	if full.Totals.Pageviews != 1 || full.Totals.Users != 1 {
		t.Errorf("totals = %+v", full.Totals)
	}
	if len(full.Breakdowns.TopPages) != 1 {
		t.Errorf("top pages = %+v", full.Breakdowns.TopPages)
	}
}

func TestMetricsRejectsBadRange(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	tests := []struct {
		name  string
		query string
	}{
		{name: "malformed start", query: "?start_date=yesterday"},
		{name: "inverted range", query: "?start_date=2026-03-31T00:00:00Z&end_date=2026-03-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics"+tt.query, nil)
			req.Header.Set("x-api-key", "key-test")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without api key", w.Code)
	}
}
