// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import "errors"

// ErrNotConnected is returned when an adapter is used before Connect.
var ErrNotConnected = errors.New("storage adapter not connected")

// ErrMissingURL is returned by the factory when a config variant requires a
// connection URL that was not supplied.
var ErrMissingURL = errors.New("storage config requires url")

// ErrMissingToken is returned by the factory when a config variant requires
// an auth token that was not supplied.
var ErrMissingToken = errors.New("storage config requires token")

// ErrUnknownStorageType is returned by the factory for unrecognized config
// variants.
var ErrUnknownStorageType = errors.New("unknown storage type")
