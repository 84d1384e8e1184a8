// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var testRange = DateRange{
	From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBackoffDelaySequence(t *testing.T) {
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for n, w := range want {
		if got := backoffDelay(DefaultBackoffBase, DefaultBackoffCap, n); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestInvalidDateRangeBeforeAnyFetch(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		calls.Add(1)
		return 0, nil
	}

	for _, r := range []DateRange{
		{From: testRange.To, To: testRange.From}, // inverted
		{From: testRange.From, To: testRange.From}, // empty
	} {
		p := New(fetch, Options{Range: r})
		if err := p.Start(t.Context()); !errors.Is(err, ErrInvalidDateRange) {
			t.Fatalf("got %v, want ErrInvalidDateRange", err)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("fetch ran %d times despite invalid range", calls.Load())
	}
}

func TestImmediateFetchThenInterval(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		return int(calls.Add(1)), nil
	}

	p := New(fetch, Options{Range: testRange, Interval: 5 * time.Millisecond})
	if err := p.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	waitUntil(t, func() bool { return calls.Load() >= 3 })

	state := p.State()
	if !state.Polling {
		t.Error("poller not reported as polling")
	}
	if state.Err != nil {
		t.Errorf("unexpected error: %v", state.Err)
	}
	if state.Data < 1 {
		t.Errorf("data not populated: %d", state.Data)
	}
}

func TestSingleShotWhenNoInterval(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		return int(calls.Add(1)), nil
	}

	p := New(fetch, Options{Range: testRange})
	if err := p.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool { return !p.State().Polling })

	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("fetch ran %d times, want 1", calls.Load())
	}
	if p.State().Data != 1 {
		t.Fatalf("data = %d, want 1", p.State().Data)
	}
}

func TestStopsAfterMaxRetriesKeepingLastError(t *testing.T) {
	boom := errors.New("backend down")
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		calls.Add(1)
		return 0, boom
	}

	p := New(fetch, Options{
		Range:       testRange,
		Interval:    time.Millisecond,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	})
	if err := p.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool { return !p.State().Polling })

	state := p.State()
	if !errors.Is(state.Err, boom) {
		t.Errorf("last error lost: %v", state.Err)
	}
	if state.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", state.Attempt)
	}
	if calls.Load() != 3 {
		t.Errorf("fetch ran %d times, want 3", calls.Load())
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		n := calls.Add(1)
		if n == 1 {
			return 0, errors.New("transient")
		}
		return int(n), nil
	}

	p := New(fetch, Options{
		Range:       testRange,
		Interval:    2 * time.Millisecond,
		BackoffBase: time.Millisecond,
	})
	if err := p.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	waitUntil(t, func() bool {
		s := p.State()
		return s.Err == nil && s.Data >= 2 && s.Attempt == 0
	})
}

func TestRefetchBypassesBackoffAndReflectsError(t *testing.T) {
	boom := errors.New("backend down")
	fail := atomic.Bool{}
	fail.Store(true)
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		n := calls.Add(1)
		if fail.Load() {
			return 0, boom
		}
		return int(n), nil
	}

	p := New(fetch, Options{Range: testRange})
	if err := p.Refetch(t.Context()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want backend error", err)
	}
	if p.State().Attempt != 1 {
		t.Fatalf("attempt = %d after failed refetch, want 1", p.State().Attempt)
	}

	fail.Store(false)
	if err := p.Refetch(t.Context()); err != nil {
		t.Fatal(err)
	}
	state := p.State()
	if state.Attempt != 0 || state.Err != nil {
		t.Fatalf("refetch success did not reset state: %+v", state)
	}
}

func TestSupersededFetchAbortedAndDiscarded(t *testing.T) {
	var calls atomic.Int64
	firstAborted := make(chan struct{})
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		if calls.Add(1) == 1 {
			// Hang until superseded; the newer fetch must cancel us.
			<-ctx.Done()
			close(firstAborted)
			return 0, ctx.Err()
		}
		return 2, nil
	}

	p := New(fetch, Options{Range: testRange})

	slowDone := make(chan error, 1)
	go func() { slowDone <- p.Refetch(context.Background()) }()
	waitUntil(t, func() bool { return calls.Load() == 1 })

	if err := p.Refetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-firstAborted:
	case <-time.After(3 * time.Second):
		t.Fatal("superseded fetch was not cancelled")
	}
	// The superseded fetch reports neither success nor error and leaves
	// the fresher result in place.
	if err := <-slowDone; err != nil {
		t.Fatalf("superseded refetch reported %v, want nil", err)
	}
	state := p.State()
	if state.Data != 2 || state.Err != nil || state.Attempt != 0 {
		t.Fatalf("stale result corrupted state: %+v", state)
	}
}

func TestRefetchWithCacheSupersedesInFlightFetch(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 2, nil
	}

	p := New(fetch, Options{
		Range:        testRange,
		CacheEnabled: true,
		CacheTTL:     time.Hour,
	})

	slowDone := make(chan error, 1)
	go func() { slowDone <- p.Refetch(context.Background()) }()
	waitUntil(t, func() bool { return calls.Load() == 1 })

	// The manual refetch cancels the in-flight fetch; it must not join
	// that fetch's pending cache call and report its cancellation.
	if err := p.Refetch(context.Background()); err != nil {
		t.Fatalf("refetch reported the superseded fetch's abort: %v", err)
	}
	if err := <-slowDone; err != nil {
		t.Fatalf("superseded refetch reported %v, want nil", err)
	}
	state := p.State()
	if state.Data != 2 || state.Err != nil || state.Attempt != 0 {
		t.Fatalf("refetch did not reflect its own result: %+v", state)
	}
}

func TestCacheServesRapidPolls(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		return int(calls.Add(1)), nil
	}

	p := New(fetch, Options{
		Range:        testRange,
		Interval:     time.Millisecond,
		CacheEnabled: true,
		CacheTTL:     time.Hour,
	})
	if err := p.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch ran %d times within cache TTL, want 1", got)
	}
}

func TestOnUpdateCallback(t *testing.T) {
	fetch := func(ctx context.Context, from, to time.Time) (int, error) {
		return 99, nil
	}

	updates := make(chan State[int], 1)
	p := New(fetch, Options{Range: testRange}, OnUpdate[int](func(s State[int]) {
		select {
		case updates <- s:
		default:
		}
	}))
	if err := p.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	select {
	case s := <-updates:
		if s.Data != 99 || s.Err != nil {
			t.Fatalf("unexpected update %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update received")
	}
}
