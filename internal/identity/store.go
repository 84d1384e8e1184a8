// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/honolytics/honolytics-go/internal/logging"
)

const (
	// UserIDKey and SessionIDKey are the storage keys shared by every
	// persistence layer.
	UserIDKey    = "honolytics:user_id"
	SessionIDKey = "honolytics:session_id"

	// UserIDTTL is how long a user identifier survives without renewal.
	UserIDTTL = 365 * 24 * time.Hour
	// SessionIDTTL bounds how long a session identifier may outlive the
	// process that minted it.
	SessionIDTTL = 24 * time.Hour
)

// Store resolves identity values across an ordered list of layers. Reads
// probe layers in order and stop at the first hit; the hit is backfilled
// into every earlier layer so a wiped layer heals on the next read.
// Writes go to all layers. A failing layer is logged and skipped, never
// fatal.
type Store struct {
	layers []Layer
	newID  func() string
}

// NewStore builds a store over layers, ordered most to least preferred.
// At least one layer is required; callers wanting pure ephemeral identity
// pass a single MemoryLayer.
func NewStore(layers ...Layer) *Store {
	return &Store{layers: layers, newID: func() string { return uuid.NewString() }}
}

// UserID returns the persistent user identifier, generating and
// persisting a fresh one if no layer holds it. Two consecutive calls
// always return the same identifier.
func (s *Store) UserID() string {
	if id, ok := s.get(UserIDKey); ok {
		return id
	}
	id := s.newID()
	s.set(UserIDKey, id, UserIDTTL)
	return id
}

// SetUserID overwrites the user identifier in every layer. Used when the
// caller identifies the user with an external id.
func (s *Store) SetUserID(id string) {
	s.set(UserIDKey, id, UserIDTTL)
}

// SessionID returns the stored session identifier, if any. Unlike UserID
// it never generates one; session rotation is the session tracker's job.
func (s *Store) SessionID() (string, bool) {
	return s.get(SessionIDKey)
}

// SetSessionID stores a session identifier in every layer.
func (s *Store) SetSessionID(id string) {
	s.set(SessionIDKey, id, SessionIDTTL)
}

// ClearSession removes the session identifier from every layer.
func (s *Store) ClearSession() {
	s.delete(SessionIDKey)
}

// ClearAll removes both identifiers from every layer.
func (s *Store) ClearAll() {
	s.delete(UserIDKey)
	s.delete(SessionIDKey)
}

// NewID mints a fresh identifier without persisting it.
func (s *Store) NewID() string {
	return s.newID()
}

func (s *Store) get(key string) (string, bool) {
	for i, layer := range s.layers {
		value, ok := layer.Get(key)
		if !ok {
			continue
		}
		// Heal the layers that missed.
		ttl := UserIDTTL
		if key == SessionIDKey {
			ttl = SessionIDTTL
		}
		for _, earlier := range s.layers[:i] {
			if err := earlier.Set(key, value, ttl); err != nil {
				logging.Debug().Err(err).Str("key", key).Msg("identity backfill failed")
			}
		}
		return value, true
	}
	return "", false
}

func (s *Store) set(key, value string, ttl time.Duration) {
	for _, layer := range s.layers {
		if err := layer.Set(key, value, ttl); err != nil {
			logging.Debug().Err(err).Str("key", key).Msg("identity write failed")
		}
	}
}

func (s *Store) delete(key string) {
	for _, layer := range s.layers {
		if err := layer.Delete(key); err != nil {
			logging.Debug().Err(err).Str("key", key).Msg("identity delete failed")
		}
	}
}
