// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package poller periodically refreshes a metrics window from a fetch
// function, backing off exponentially on failure and giving up after a
// bounded number of consecutive errors. A manual Refetch always runs
// immediately regardless of backoff state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/honolytics/honolytics-go/internal/logging"
	"github.com/honolytics/honolytics-go/internal/requestcache"
)

const (
	// DefaultMaxRetries is how many consecutive automatic failures stop
	// the polling loop.
	DefaultMaxRetries = 3
	// DefaultBackoffBase is the first retry delay; failure n waits
	// base * 2^n, capped.
	DefaultBackoffBase = time.Second
	// DefaultBackoffCap bounds the retry delay.
	DefaultBackoffCap = 30 * time.Second
)

// ErrInvalidDateRange is returned by Start before any fetch when the
// range is empty or inverted.
var ErrInvalidDateRange = errors.New("poller: date range start must be before end")

// errStale marks a fetch superseded by a newer one; its result is
// discarded without touching state.
var errStale = errors.New("poller: fetch superseded")

// Fetch produces the data for one window.
type Fetch[T any] func(ctx context.Context, from, to time.Time) (T, error)

// DateRange is the window every fetch covers.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Options configures a Poller.
type Options struct {
	Range DateRange
	// Interval between automatic fetches. Zero means fetch once and
	// stop.
	Interval time.Duration
	// MaxRetries bounds consecutive automatic failures.
	MaxRetries int
	// BackoffBase and BackoffCap shape the retry delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// CacheEnabled routes fetches through a request cache so rapid
	// re-polls of the same window are served without hitting the
	// backend.
	CacheEnabled bool
	CacheTTL     time.Duration
	// CacheKey overrides the derived cache key, typically built with
	// requestcache.GenerateKey.
	CacheKey string
	// Clock overrides the time source, for tests.
	Clock quartz.Clock
}

// State is a snapshot of the poller.
type State[T any] struct {
	Data T
	// Err is the most recent fetch error, nil after a success.
	Err error
	// Polling reports whether the automatic loop is still running.
	Polling bool
	// Attempt counts consecutive automatic failures.
	Attempt int
}

// Poller drives the fetch loop. Construct with New; all methods are safe
// for concurrent use.
type Poller[T any] struct {
	fetch    Fetch[T]
	opts     Options
	clock    quartz.Clock
	cache    *requestcache.Cache[T]
	cacheKey string
	onUpdate func(State[T])

	mu       sync.Mutex
	state    State[T]
	gen      uint64
	inflight context.CancelFunc
	stop     context.CancelFunc

	wg sync.WaitGroup
}

// Option tweaks a Poller at construction.
type Option[T any] func(*Poller[T])

// OnUpdate registers a callback invoked with a state snapshot after every
// completed fetch.
func OnUpdate[T any](fn func(State[T])) Option[T] {
	return func(p *Poller[T]) { p.onUpdate = fn }
}

// New builds a poller over fetch.
func New[T any](fetch Fetch[T], opts Options, extra ...Option[T]) *Poller[T] {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	p := &Poller[T]{
		fetch: fetch,
		opts:  opts,
		clock: clock,
	}
	if opts.CacheEnabled {
		p.cache = requestcache.NewWithClock[T](clock)
		p.cacheKey = opts.CacheKey
		if p.cacheKey == "" {
			p.cacheKey = fmt.Sprintf("%d-%d", opts.Range.From.UnixMilli(), opts.Range.To.UnixMilli())
		}
	}
	for _, o := range extra {
		o(p)
	}
	return p
}

// Start validates the date range and launches the polling loop. The
// first fetch happens immediately; validation failures are reported
// before any fetch runs.
func (p *Poller[T]) Start(ctx context.Context) error {
	if !p.opts.Range.From.Before(p.opts.Range.To) {
		return ErrInvalidDateRange
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		cancel()
		return errors.New("poller: already started")
	}
	p.stop = cancel
	p.state.Polling = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop cancels the loop and any in-flight fetch, then waits for the loop
// to exit.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	cancel := p.stop
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Refetch runs one fetch immediately, outside any backoff schedule, and
// returns its error. A success resets the failure counter; an in-flight
// automatic fetch is superseded and discarded.
func (p *Poller[T]) Refetch(ctx context.Context) error {
	err := p.runFetch(ctx)
	if errors.Is(err, errStale) {
		return nil
	}
	return err
}

// State returns a snapshot.
func (p *Poller[T]) State() State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller[T]) loop(ctx context.Context) {
	defer p.wg.Done()
	defer p.setPolling(false)

	log := logging.Component("poller")
	for {
		err := p.runFetch(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, errStale):
			// A manual refetch took over this cycle; fall through to
			// the normal interval wait.
		case err != nil:
			p.mu.Lock()
			attempt := p.state.Attempt
			p.mu.Unlock()
			if attempt >= p.opts.MaxRetries {
				log.Error().Err(err).Int("attempts", attempt).Msg("polling stopped after repeated failures")
				return
			}
			delay := backoffDelay(p.opts.BackoffBase, p.opts.BackoffCap, attempt-1)
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("poll failed, backing off")
			if !p.sleep(ctx, delay) {
				return
			}
			continue
		}
		if p.opts.Interval <= 0 {
			return
		}
		if !p.sleep(ctx, p.opts.Interval) {
			return
		}
	}
}

// runFetch performs one generation-stamped fetch. A result that arrives
// after a newer fetch started is discarded.
func (p *Poller[T]) runFetch(ctx context.Context) error {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.inflight != nil {
		p.inflight()
	}
	fctx, cancel := context.WithCancel(ctx)
	p.inflight = cancel
	p.mu.Unlock()
	defer cancel()

	var (
		data T
		err  error
	)
	if p.cache != nil {
		data, err = p.cache.Get(fctx, p.cacheKey, func(fc context.Context) (T, error) {
			return p.fetch(fc, p.opts.Range.From, p.opts.Range.To)
		}, p.opts.CacheTTL)
	} else {
		data, err = p.fetch(fctx, p.opts.Range.From, p.opts.Range.To)
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return errStale
	}
	if err != nil {
		p.state.Err = err
		p.state.Attempt++
	} else {
		p.state.Data = data
		p.state.Err = nil
		p.state.Attempt = 0
	}
	snapshot := p.state
	notify := p.onUpdate
	p.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return err
}

func (p *Poller[T]) setPolling(v bool) {
	p.mu.Lock()
	p.state.Polling = v
	p.mu.Unlock()
}

// sleep waits for d or until ctx is done, reporting whether the full
// delay elapsed.
func (p *Poller[T]) sleep(ctx context.Context, d time.Duration) bool {
	timer := p.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

// backoffDelay returns base * 2^n capped at limit, n counted from zero.
func backoffDelay(base, limit time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base * time.Duration(1<<uint(n))
	if d > limit || d <= 0 {
		return limit
	}
	return d
}
