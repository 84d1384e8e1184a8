// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package identity

import (
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerLayer persists identity values in a Badger database, the durable
// localStorage equivalent. TTLs are enforced by Badger itself.
type BadgerLayer struct {
	db    *badger.DB
	owned bool
}

// NewBadgerLayer opens a Badger-backed layer at path. An empty path opens
// an in-memory database.
func NewBadgerLayer(path string) (*BadgerLayer, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerLayer{db: db, owned: true}, nil
}

// NewBadgerLayerFromDB wraps an already-open database. The caller retains
// ownership; Close becomes a no-op.
func NewBadgerLayerFromDB(db *badger.DB) *BadgerLayer {
	return &BadgerLayer{db: db}
}

// Get returns the value for key if present and not expired.
func (b *BadgerLayer) Get(key string) (string, bool) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return value, true
}

// Set stores a value. A zero ttl means no expiry.
func (b *BadgerLayer) Set(key, value string, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes a key.
func (b *BadgerLayer) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close releases the underlying database when this layer opened it.
func (b *BadgerLayer) Close() error {
	if b.db == nil || !b.owned {
		return nil
	}
	return b.db.Close()
}
