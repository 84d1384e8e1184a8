// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package session rotates session identifiers after a period of
// inactivity. A session is a run of activity with gaps shorter than the
// idle timeout; the first access after a longer gap starts a new session
// with a fresh identifier.
package session

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/honolytics/honolytics-go/internal/identity"
	"github.com/honolytics/honolytics-go/internal/logging"
)

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 30 * time.Minute

// Tracker owns the current session identifier. It is safe for concurrent
// use.
type Tracker struct {
	mu           sync.Mutex
	store        *identity.Store
	clock        quartz.Clock
	idle         time.Duration
	sessionID    string
	lastActivity time.Time
	expiry       *quartz.Timer
	closed       bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIdleTimeout overrides the inactivity window after which the session
// identifier rotates.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.idle = d }
}

// WithClock injects a time source, used by tests to fast-forward through
// the idle window.
func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// NewTracker builds a tracker over the identity store. A session id
// persisted by a previous run is resumed if it has not expired.
func NewTracker(store *identity.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		clock: quartz.NewReal(),
		idle:  DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if id, ok := store.SessionID(); ok {
		t.sessionID = id
		t.lastActivity = t.clock.Now()
		t.scheduleExpiry()
	}
	return t
}

// CurrentSessionID returns the current session identifier, starting a
// new session if none exists or the previous one went idle. Every call
// counts as activity.
func (t *Tracker) CurrentSessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.sessionID == "" || t.expired(now) {
		t.rotateLocked(now)
	}
	t.lastActivity = now
	t.scheduleExpiry()
	return t.sessionID
}

// Touch registers activity without reading the identifier, resetting the
// idle countdown.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.lastActivity = t.clock.Now()
	t.scheduleExpiry()
}

// HandleVisibility reacts to the host becoming visible or hidden. On
// return to visibility an already-idle session is cleared immediately so
// the next access mints a fresh identifier; going hidden records the
// moment as last activity.
func (t *Tracker) HandleVisibility(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	now := t.clock.Now()
	if visible {
		if t.sessionID != "" && t.expired(now) {
			t.clearLocked()
			return
		}
		t.lastActivity = now
		t.scheduleExpiry()
		return
	}
	t.lastActivity = now
}

// Close stops the expiry timer. The current identifier stays persisted so
// a restart within the idle window resumes the session.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
}

func (t *Tracker) expired(now time.Time) bool {
	return now.Sub(t.lastActivity) > t.idle
}

func (t *Tracker) rotateLocked(now time.Time) {
	t.sessionID = t.store.NewID()
	t.lastActivity = now
	t.store.SetSessionID(t.sessionID)
	logging.Debug().Str("session_id", t.sessionID).Msg("session started")
}

func (t *Tracker) clearLocked() {
	t.sessionID = ""
	t.store.ClearSession()
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
}

// scheduleExpiry arms a timer that clears the session once the idle
// window elapses without further activity. Callers hold the mutex.
func (t *Tracker) scheduleExpiry() {
	if t.closed {
		return
	}
	if t.expiry != nil {
		t.expiry.Reset(t.idle)
		return
	}
	t.expiry = t.clock.AfterFunc(t.idle, t.onExpiry)
}

func (t *Tracker) onExpiry() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.sessionID == "" {
		return
	}
	// Activity may have raced the timer firing.
	if t.clock.Now().Sub(t.lastActivity) < t.idle {
		return
	}
	logging.Debug().Str("session_id", t.sessionID).Msg("session expired")
	t.clearLocked()
}
