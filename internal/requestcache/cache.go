// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package requestcache deduplicates and caches expensive fetches. A fresh
// cached value is served directly; concurrent callers for the same key
// share one in-flight fetch instead of stampeding the backend.
package requestcache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DefaultTTL is how long a cached value is considered fresh.
const DefaultTTL = 5 * time.Second

// Fetcher produces the value for a key.
type Fetcher[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// call is one in-flight fetch that concurrent callers join.
type call[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Cache is a keyed single-flight cache. The zero value is not usable;
// construct with New.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	pending map[string]*call[T]
	clock   quartz.Clock
}

// New creates an empty cache.
func New[T any]() *Cache[T] {
	return NewWithClock[T](quartz.NewReal())
}

// NewWithClock creates a cache with an injectable time source.
func NewWithClock[T any](clock quartz.Clock) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		pending: make(map[string]*call[T]),
		clock:   clock,
	}
}

// GenerateKey derives a cache key from the endpoint, a truncated API key,
// and the sorted request parameters, so the same logical request always
// maps to the same key.
func GenerateKey(endpoint, apiKey string, params map[string]string) string {
	keyPart := apiKey
	if len(keyPart) > 8 {
		keyPart = keyPart[:8]
	}
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return endpoint + ":" + keyPart + ":" + strings.Join(pairs, "&")
}

// Get returns the cached value for key if it is younger than ttl,
// otherwise fetches it. Concurrent calls for the same key invoke fetcher
// exactly once and share the result. A failed fetch is not cached; the
// next call retries from scratch. A pending fetch that dies because its
// own caller's context was cancelled resolves nothing for a joiner whose
// context is still live, so the joiner runs its own fetch instead of
// inheriting the cancellation.
func (c *Cache[T]) Get(ctx context.Context, key string, fetcher Fetcher[T], ttl time.Duration) (T, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.clock.Now().Sub(e.storedAt) < ttl {
			c.mu.Unlock()
			return e.value, nil
		}
		inflight, ok := c.pending[key]
		if !ok {
			break
		}
		c.mu.Unlock()
		select {
		case <-inflight.done:
			if cancelledElsewhere(inflight.err, ctx) {
				c.mu.Lock()
				if c.pending[key] == inflight {
					delete(c.pending, key)
				}
				c.mu.Unlock()
				continue
			}
			return inflight.value, inflight.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	inflight := &call[T]{done: make(chan struct{})}
	c.pending[key] = inflight
	c.mu.Unlock()

	inflight.value, inflight.err = fetcher(ctx)
	close(inflight.done)

	c.mu.Lock()
	if c.pending[key] == inflight {
		delete(c.pending, key)
	}
	if inflight.err == nil {
		c.entries[key] = entry[T]{value: inflight.value, storedAt: c.clock.Now()}
	}
	c.mu.Unlock()

	return inflight.value, inflight.err
}

// cancelledElsewhere reports whether err is a context cancellation that
// cannot have come from ctx, which is still live.
func cancelledElsewhere(err error, ctx context.Context) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate drops the cached value for key. An in-flight fetch is left
// alone.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every cached value.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()
}
