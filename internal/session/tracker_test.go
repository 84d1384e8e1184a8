// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package session

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/honolytics/honolytics-go/internal/identity"
)

func newTestTracker(t *testing.T) (*Tracker, *quartz.Mock, *identity.Store) {
	t.Helper()
	mock := quartz.NewMock(t)
	store := identity.NewStore(identity.NewMemoryLayer())
	tracker := NewTracker(store, WithClock(mock))
	t.Cleanup(tracker.Close)
	return tracker, mock, store
}

func TestSessionIDStableWithinIdleWindow(t *testing.T) {
	tracker, mock, _ := newTestTracker(t)

	first := tracker.CurrentSessionID()
	if first == "" {
		t.Fatal("expected a session id")
	}

	mock.Advance(10 * time.Minute).MustWait(context.Background())
	if got := tracker.CurrentSessionID(); got != first {
		t.Fatalf("session rotated within idle window: %q then %q", first, got)
	}
}

func TestSessionRotatesAfterIdleTimeout(t *testing.T) {
	tracker, mock, store := newTestTracker(t)

	first := tracker.CurrentSessionID()
	mock.Advance(DefaultIdleTimeout).MustWait(context.Background())
	mock.Advance(time.Minute).MustWait(context.Background())

	second := tracker.CurrentSessionID()
	if second == first {
		t.Fatalf("session id %q survived the idle timeout", first)
	}
	if id, ok := store.SessionID(); !ok || id != second {
		t.Fatalf("store holds %q ok=%v, want %q", id, ok, second)
	}
}

func TestTouchExtendsSession(t *testing.T) {
	tracker, mock, _ := newTestTracker(t)

	first := tracker.CurrentSessionID()
	mock.Advance(20 * time.Minute).MustWait(context.Background())
	tracker.Touch()
	mock.Advance(20 * time.Minute).MustWait(context.Background())

	// 40 minutes of wall time, but never more than 20 idle.
	if got := tracker.CurrentSessionID(); got != first {
		t.Fatalf("session rotated despite activity: %q then %q", first, got)
	}
}

func TestVisibilityReturnClearsIdleSession(t *testing.T) {
	tracker, mock, store := newTestTracker(t)

	first := tracker.CurrentSessionID()

	// Going hidden marks the moment; the idle clock runs from here.
	mock.Advance(29 * time.Minute).MustWait(context.Background())
	tracker.HandleVisibility(false)

	mock.Advance(time.Minute).MustWait(context.Background())
	mock.Advance(30 * time.Minute).MustWait(context.Background())
	tracker.HandleVisibility(true)

	if _, ok := store.SessionID(); ok {
		t.Fatal("idle session not cleared on return to visibility")
	}
	if got := tracker.CurrentSessionID(); got == first {
		t.Fatalf("session id %q resumed after idle return", first)
	}
}

func TestTrackerResumesPersistedSession(t *testing.T) {
	mock := quartz.NewMock(t)
	store := identity.NewStore(identity.NewMemoryLayer())
	store.SetSessionID("sess-prev")

	tracker := NewTracker(store, WithClock(mock))
	defer tracker.Close()

	if got := tracker.CurrentSessionID(); got != "sess-prev" {
		t.Fatalf("got %q, want resumed session sess-prev", got)
	}
}

func TestCloseStopsRotation(t *testing.T) {
	tracker, mock, store := newTestTracker(t)

	first := tracker.CurrentSessionID()
	tracker.Close()
	mock.Advance(2 * DefaultIdleTimeout).MustWait(context.Background())

	if id, ok := store.SessionID(); !ok || id != first {
		t.Fatalf("session %q not preserved after Close: got %q ok=%v", first, id, ok)
	}
}
