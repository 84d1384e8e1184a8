// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

// GeoLookup resolves a client IP to a country name. Implementations wrap
// whatever service the host application uses (MaxMind, ipapi, an internal
// table). There is no built-in database.
type GeoLookup interface {
	Country(ip string) (string, bool)
}

// unknownCountry is the bucket for events whose IP cannot be resolved.
const unknownCountry = "Unknown"

// lookupCountry applies an optional GeoLookup, degrading to "Unknown" for
// missing IPs, a nil lookup, or a lookup miss.
func lookupCountry(geo GeoLookup, ip string) string {
	if ip == "" || geo == nil {
		return unknownCountry
	}
	country, ok := geo.Country(ip)
	if !ok || country == "" {
		return unknownCountry
	}
	return country
}
