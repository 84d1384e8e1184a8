// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package server

import (
	"sync"
	"time"

	"github.com/honolytics/honolytics-go/internal/storage"
)

// sessionIdleCutoff is how long a tracked session lives in the resolver
// without new events before it is swept.
const sessionIdleCutoff = 30 * time.Minute

// sweepThreshold bounds resolver memory; crossing it triggers a sweep of
// idle sessions on the next resolve.
const sweepThreshold = 10000

// sessionResolver accumulates per-session counters across events so each
// upsert carries the session's running totals.
type sessionResolver struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	userID    string
	startTime int64
	lastTime  int64
	pageviews int
}

func newSessionResolver() *sessionResolver {
	return &sessionResolver{sessions: make(map[string]*sessionState)}
}

// resolve folds an event into its session and returns the session row to
// upsert.
func (sr *sessionResolver) resolve(event storage.Event) storage.Session {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	state, ok := sr.sessions[event.SessionID]
	if !ok {
		if len(sr.sessions) >= sweepThreshold {
			sr.sweepLocked(event.Timestamp)
		}
		state = &sessionState{userID: event.UserID, startTime: event.Timestamp}
		sr.sessions[event.SessionID] = state
	}
	if event.Timestamp > state.lastTime {
		state.lastTime = event.Timestamp
	}
	if event.Timestamp < state.startTime {
		state.startTime = event.Timestamp
	}
	if event.Event == storage.EventTypePageview {
		state.pageviews++
	}

	return storage.Session{
		ID:        event.SessionID,
		UserID:    state.userID,
		StartTime: state.startTime,
		EndTime:   state.lastTime,
		Pageviews: state.pageviews,
		Duration:  state.lastTime - state.startTime,
	}
}

// sweepLocked drops sessions idle past the cutoff. Callers hold the
// mutex.
func (sr *sessionResolver) sweepLocked(nowMilli int64) {
	cutoff := nowMilli - sessionIdleCutoff.Milliseconds()
	for id, state := range sr.sessions {
		if state.lastTime < cutoff {
			delete(sr.sessions, id)
		}
	}
}
