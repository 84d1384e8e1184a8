// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package transport delivers tracked events to a collector endpoint.
// Events are queued in memory and flushed either when the queue reaches
// the batch size or when the batch timer fires, whichever comes first.
// Each event's retry lifecycle runs independently, so completion order
// across a batch is not guaranteed. Delivery failures are retried with
// exponential backoff and then dropped; delivery never blocks the
// caller.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/honolytics/honolytics-go/internal/logging"
)

const (
	// DefaultBatchSize triggers an immediate flush when the queue
	// reaches it.
	DefaultBatchSize = 10
	// DefaultBatchTimeout flushes a partial batch that has been waiting
	// this long.
	DefaultBatchTimeout = 5 * time.Second
	// DefaultMaxRetries bounds additional delivery attempts after the
	// first, so an event is tried up to 1+DefaultMaxRetries times.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base backoff; retry n (0-indexed) waits
	// delay * 2^n.
	DefaultRetryDelay = time.Second

	headerAPIKey     = "x-api-key"
	headerDevTraffic = "x-dev-traffic"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport: closed")

// User identifies and describes the visitor attached to an event. All
// fields are optional; the collector fills what it can from the request
// itself.
type User struct {
	ID      string  `json:"id,omitempty"`
	Device  string  `json:"device,omitempty"`
	Browser string  `json:"browser,omitempty"`
	OS      string  `json:"os,omitempty"`
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Session carries the visit identifier plus the referrer and its derived
// origin tag.
type Session struct {
	ID       string `json:"id,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// Pageview describes the page hit itself. Timestamp is RFC3339; empty
// means the collector stamps arrival time.
type Pageview struct {
	URL        string `json:"url"`
	Timestamp  string `json:"timestamp,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Title      string `json:"title,omitempty"`
	Path       string `json:"path,omitempty"`
}

// Payload is the wire form of a tracked event: user, session, and
// pageview objects as the collector contract defines them. Event names
// the type, empty meaning pageview.
type Payload struct {
	Event    string         `json:"event,omitempty"`
	User     User           `json:"user"`
	Session  Session        `json:"session"`
	Pageview Pageview       `json:"pageview"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Config carries the delivery settings.
type Config struct {
	Endpoint string
	APIKey   string
	// UserAgent is sent as the User-Agent request header so the
	// collector can attribute browser and device facts.
	UserAgent    string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	Debug        bool
	// IgnoreAnalytics silently drops every payload, used to exclude
	// internal traffic entirely.
	IgnoreAnalytics bool

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	// Clock overrides the time source for the batch timer and backoff.
	Clock quartz.Clock
}

// Transport batches and delivers payloads. Create one per client and
// Close it when done.
type Transport struct {
	cfg    Config
	client *http.Client
	clock  quartz.Clock
	log    zerolog.Logger

	mu     sync.Mutex
	queue  []Payload
	timer  *quartz.Timer
	closed bool

	wg sync.WaitGroup
}

// New builds a Transport. Zero config fields fall back to the defaults
// above.
func New(cfg Config) *Transport {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Transport{
		cfg:    cfg,
		client: client,
		clock:  clock,
		log:    logging.Component("transport"),
	}
}

// Send adds a payload to the queue. A full batch flushes immediately;
// otherwise the batch timer is armed so the payload leaves within the
// batch timeout. Send never blocks on network I/O; delivery continues
// after ctx is done.
func (t *Transport) Send(ctx context.Context, p Payload) error {
	if t.cfg.IgnoreAnalytics {
		if t.cfg.Debug {
			t.log.Debug().Str("event", p.Event).Msg("analytics ignored, payload dropped")
		}
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.queue = append(t.queue, p)
	if len(t.queue) >= t.cfg.BatchSize {
		batch := t.detachLocked()
		t.mu.Unlock()
		t.deliverAsync(context.WithoutCancel(ctx), batch)
		return nil
	}
	if t.timer == nil {
		t.timer = t.clock.AfterFunc(t.cfg.BatchTimeout, t.onTimer)
	}
	t.mu.Unlock()
	return nil
}

// Flush sends everything currently queued, synchronously. Used by tests
// and by callers that want delivery before a checkpoint.
func (t *Transport) Flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.detachLocked()
	t.mu.Unlock()
	t.deliver(ctx, batch)
}

// Close flushes the remaining queue with a bounded best-effort attempt
// and rejects further payloads.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	batch := t.detachLocked()
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.deliver(ctx, batch)
	t.wg.Wait()
	return nil
}

// detachLocked takes ownership of the queue and disarms the timer.
// Callers hold the mutex.
func (t *Transport) detachLocked() []Payload {
	batch := t.queue
	t.queue = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return batch
}

func (t *Transport) onTimer() {
	t.mu.Lock()
	t.timer = nil
	batch := t.detachLocked()
	t.mu.Unlock()
	t.deliverAsync(context.Background(), batch)
}

func (t *Transport) deliverAsync(ctx context.Context, batch []Payload) {
	if len(batch) == 0 {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.deliver(ctx, batch)
	}()
}

// deliver runs each payload's retry lifecycle in its own goroutine and
// waits for all of them, so one event retrying to exhaustion never
// delays the rest of the batch.
func (t *Transport) deliver(ctx context.Context, batch []Payload) {
	var wg sync.WaitGroup
	for _, p := range batch {
		wg.Add(1)
		go func(p Payload) {
			defer wg.Done()
			if err := t.sendWithRetry(ctx, p); err != nil {
				t.log.Error().Err(err).
					Str("url", p.Pageview.URL).
					Int("max_retries", t.cfg.MaxRetries).
					Msg("event dropped after retries")
			}
		}(p)
	}
	wg.Wait()
}

// sendWithRetry makes an initial attempt plus up to MaxRetries retries,
// retry n waiting RetryDelay * 2^n first.
func (t *Transport) sendWithRetry(ctx context.Context, p Payload) error {
	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		lastErr = t.send(ctx, p)
		if lastErr == nil {
			if t.cfg.Debug {
				t.log.Debug().Str("url", p.Pageview.URL).Int("attempt", attempt+1).Msg("event delivered")
			}
			return nil
		}
		if attempt == t.cfg.MaxRetries {
			break
		}
		delay := t.cfg.RetryDelay * time.Duration(1<<uint(attempt))
		t.log.Warn().Err(lastErr).
			Str("url", p.Pageview.URL).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("delivery failed, retrying")
		backoff := t.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		case <-backoff.C:
		}
	}
	return lastErr
}

func (t *Transport) send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	url := strings.TrimRight(t.cfg.Endpoint, "/") + "/track"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, t.cfg.APIKey)
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}
	if isDevTraffic(p.User.ID) {
		req.Header.Set(headerDevTraffic, "true")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// isDevTraffic flags identifiers that mark internal testing so the
// collector can segregate them.
func isDevTraffic(userID string) bool {
	return strings.Contains(strings.ToLower(userID), "dev")
}
