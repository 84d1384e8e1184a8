// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package analytics is the top-level client facade. It wires identity,
// session lifecycle, device collection, and the delivery transport into a
// single object the host binding talks to.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/honolytics/honolytics-go/internal/collect"
	"github.com/honolytics/honolytics-go/internal/identity"
	"github.com/honolytics/honolytics-go/internal/logging"
	"github.com/honolytics/honolytics-go/internal/session"
	"github.com/honolytics/honolytics-go/internal/transport"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the collector base URL, e.g. "https://api.example.com".
	Endpoint string
	// APIKey authenticates against the collector.
	APIKey string
	// Environment is the host snapshot used for device collection and as
	// the default page URL.
	Environment collect.Environment
	// AutoTrack fires an initial pageview for the environment URL as soon
	// as the client is built.
	AutoTrack bool
	// IgnoreAnalytics drops every event without sending.
	IgnoreAnalytics bool
	// Debug enables verbose delivery logging.
	Debug bool
	// IdentityLayers overrides the identity persistence stack. Empty means
	// a single in-memory layer.
	IdentityLayers []identity.Layer
	// Clock overrides the time source, for tests.
	Clock quartz.Clock
	// Transport overrides the delivery transport, for tests.
	Transport *transport.Transport
}

// Pageview describes one tracked page event. Zero fields fall back to the
// environment URL and the current time.
type Pageview struct {
	URL        string
	Timestamp  int64 // epoch ms
	DurationMs int64
	Meta       map[string]any
}

// UserData carries identification attributes, shallow-merged into the
// payload's user object where non-zero fields override the collected
// device facts. A non-empty ID replaces the generated durable user
// identifier. Traits are free-form and ride along in the event meta.
type UserData struct {
	ID      string
	Device  string
	Browser string
	OS      string
	Country string
	City    string
	Lat     float64
	Lng     float64
	Traits  map[string]any
}

// ErrMissingEndpoint is returned by New when no collector endpoint is
// configured.
var ErrMissingEndpoint = errors.New("analytics: endpoint is required")

// Client is the analytics facade. All methods are safe for concurrent
// use. After Destroy the client drops every call with a warning.
type Client struct {
	opts      Options
	ids       *identity.Store
	sessions  *session.Tracker
	transport *transport.Transport
	device    collect.DeviceInfo
	clock     quartz.Clock
	log       zerolog.Logger

	mu        sync.Mutex
	user      transport.User
	overlay   map[string]any
	destroyed bool
}

// New builds a client, collecting device info once from the environment
// snapshot.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	layers := opts.IdentityLayers
	if len(layers) == 0 {
		layers = []identity.Layer{identity.NewMemoryLayer()}
	}
	ids := identity.NewStore(layers...)

	tr := opts.Transport
	if tr == nil {
		tr = transport.New(transport.Config{
			Endpoint:        opts.Endpoint,
			APIKey:          opts.APIKey,
			UserAgent:       opts.Environment.UserAgent,
			Debug:           opts.Debug,
			IgnoreAnalytics: opts.IgnoreAnalytics,
			Clock:           clock,
		})
	}

	c := &Client{
		opts:      opts,
		ids:       ids,
		sessions:  session.NewTracker(ids, session.WithClock(clock)),
		transport: tr,
		device:    collect.CollectDeviceInfo(opts.Environment),
		clock:     clock,
		log:       logging.Component("analytics"),
		overlay:   make(map[string]any),
	}

	if opts.AutoTrack {
		if err := c.Track(context.Background(), Pageview{}); err != nil {
			c.log.Warn().Err(err).Msg("initial pageview not queued")
		}
	}
	return c, nil
}

// Track queues a pageview for delivery. Fire and forget: a nil return
// means queued, not delivered.
func (c *Client) Track(ctx context.Context, pv Pageview) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		c.log.Warn().Msg("track called on destroyed client")
		return nil
	}
	meta := c.assembleMetaLocked(pv.Meta)
	identified := c.user
	c.mu.Unlock()

	url := pv.URL
	if url == "" {
		url = c.opts.Environment.URL
	}
	ts := pv.Timestamp
	if ts == 0 {
		ts = c.clock.Now().UnixMilli()
	}

	// Campaign parameters ride along in meta without clobbering values
	// the caller set explicitly.
	if utm, err := collect.ExtractUTMParams(url); err == nil && len(utm) > 0 {
		if meta == nil {
			meta = make(map[string]any, len(utm))
		}
		for k, v := range utm {
			if _, ok := meta[k]; !ok {
				meta[k] = v
			}
		}
	}

	// Collected device facts fill the user object; identify overrides
	// win wherever they were set.
	user := transport.User{
		ID:      c.ids.UserID(),
		Device:  c.device.Device,
		Browser: c.device.Browser,
		OS:      c.device.OS,
	}
	mergeUser(&user, identified)

	referrer := c.opts.Environment.Referrer
	payload := transport.Payload{
		Event: "pageview",
		User:  user,
		Session: transport.Session{
			ID:       c.sessions.CurrentSessionID(),
			Referrer: referrer,
			Origin:   collect.ReferrerOrigin(referrer),
		},
		Pageview: transport.Pageview{
			URL:        url,
			Timestamp:  time.UnixMilli(ts).UTC().Format(time.RFC3339Nano),
			DurationMs: pv.DurationMs,
		},
		Meta: meta,
	}
	return c.transport.Send(ctx, payload)
}

// Identify merges user attributes into the payload user object and its
// traits into the meta overlay. A non-empty ID is persisted immediately
// as the durable user identifier.
func (c *Client) Identify(data UserData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		c.log.Warn().Msg("identify called on destroyed client")
		return
	}
	for k, v := range data.Traits {
		c.overlay[k] = v
	}
	mergeUser(&c.user, transport.User{
		Device:  data.Device,
		Browser: data.Browser,
		OS:      data.OS,
		Country: data.Country,
		City:    data.City,
		Lat:     data.Lat,
		Lng:     data.Lng,
	})
	if data.ID != "" {
		c.ids.SetUserID(data.ID)
	}
}

// Touch forwards an activity signal to the session tracker.
func (c *Client) Touch() {
	c.sessions.Touch()
}

// HandleVisibility forwards a visibility change to the session tracker.
func (c *Client) HandleVisibility(visible bool) {
	c.sessions.HandleVisibility(visible)
}

// UserID returns the durable user identifier.
func (c *Client) UserID() string {
	return c.ids.UserID()
}

// SessionID returns the current session identifier, rotating it if the
// previous session went idle.
func (c *Client) SessionID() string {
	return c.sessions.CurrentSessionID()
}

// Destroy shuts the client down: the session tracker stops, the transport
// performs a bounded final flush, and every later call becomes a warned
// no-op. Destroy is idempotent.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	c.sessions.Close()
	if err := c.transport.Close(); err != nil {
		c.log.Warn().Err(err).Msg("transport close failed")
	}
}

// assembleMetaLocked merges the identify overlay with per-event meta,
// the event values winning. Callers hold the mutex.
func (c *Client) assembleMetaLocked(eventMeta map[string]any) map[string]any {
	if len(c.overlay) == 0 && len(eventMeta) == 0 {
		return nil
	}
	meta := make(map[string]any, len(c.overlay)+len(eventMeta)+1)
	for k, v := range c.overlay {
		meta[k] = v
	}
	for k, v := range eventMeta {
		meta[k] = v
	}
	return meta
}

// mergeUser copies every non-zero field of src onto dst.
func mergeUser(dst *transport.User, src transport.User) {
	if src.ID != "" {
		dst.ID = src.ID
	}
	if src.Device != "" {
		dst.Device = src.Device
	}
	if src.Browser != "" {
		dst.Browser = src.Browser
	}
	if src.OS != "" {
		dst.OS = src.OS
	}
	if src.Country != "" {
		dst.Country = src.Country
	}
	if src.City != "" {
		dst.City = src.City
	}
	if src.Lat != 0 {
		dst.Lat = src.Lat
	}
	if src.Lng != 0 {
		dst.Lng = src.Lng
	}
}
