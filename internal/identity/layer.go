// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package identity persists a stable user identifier and a rotating session
// identifier across client restarts, using two redundant persistence layers
// so that losing one does not lose the identity.
package identity

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Layer is one persistence backend for identity values. Implementations
// must tolerate hostile environments: a Layer that cannot operate returns
// an error and the Store moves on to the next layer.
type Layer interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error
}

// MemoryLayer keeps identity values in process memory with expiry. It is
// the ephemeral fallback and the test double.
type MemoryLayer struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryLayer creates an empty in-memory layer.
func NewMemoryLayer() *MemoryLayer {
	return &MemoryLayer{entries: make(map[string]memoryEntry), now: time.Now}
}

// NewMemoryLayerWithClock creates an in-memory layer with an injectable
// time source for expiry tests.
func NewMemoryLayerWithClock(now func() time.Time) *MemoryLayer {
	return &MemoryLayer{entries: make(map[string]memoryEntry), now: now}
}

// Get returns the value for key if present and not expired.
func (m *MemoryLayer) Get(key string) (string, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false
	}
	return entry.value, true
}

// Set stores a value. A zero ttl means no expiry.
func (m *MemoryLayer) Set(key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *MemoryLayer) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// FileLayer persists identity values in a small JSON file, the cookie-jar
// equivalent for non-browser hosts. Entries carry an absolute expiry; a
// missing or corrupt file reads as empty rather than failing.
type FileLayer struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

type fileEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // epoch ms, 0 = no expiry
}

// NewFileLayer creates a file-backed layer at path.
func NewFileLayer(path string) *FileLayer {
	return &FileLayer{path: path, now: time.Now}
}

// Get returns the value for key if present and not expired.
func (f *FileLayer) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.load()
	entry, ok := entries[key]
	if !ok {
		return "", false
	}
	if entry.ExpiresAt != 0 && f.now().UnixMilli() > entry.ExpiresAt {
		delete(entries, key)
		_ = f.save(entries)
		return "", false
	}
	return entry.Value, true
}

// Set stores a value. A zero ttl means no expiry.
func (f *FileLayer) Set(key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.load()
	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = f.now().Add(ttl).UnixMilli()
	}
	entries[key] = entry
	return f.save(entries)
}

// Delete removes a key.
func (f *FileLayer) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.load()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(entries)
}

// load reads the entry file, treating any failure as an empty jar.
func (f *FileLayer) load() map[string]fileEntry {
	entries := make(map[string]fileEntry)
	data, err := os.ReadFile(f.path)
	if err != nil {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return make(map[string]fileEntry)
	}
	return entries
}

// save writes the entry file, creating parent directories as needed.
func (f *FileLayer) save(entries map[string]fileEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(f.path, data, 0o600)
}
