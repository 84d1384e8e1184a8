// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package collect derives device, browser, OS, screen, language, connection
// and campaign facts from a runtime environment snapshot. All functions are
// pure: the host binding captures the Environment once and hands it in.
package collect

import (
	"fmt"
	"net/url"
	"strings"
)

// Environment is a snapshot of the runtime properties a host binding can
// observe. Fields that the environment cannot provide are left zero-valued
// and degrade to documented defaults.
type Environment struct {
	UserAgent     string
	ScreenWidth   int
	ScreenHeight  int
	Language      string
	ConnectionTag string // raw effective connection type, possibly empty
	Referrer      string
	URL           string
}

// Screen holds display dimensions in pixels.
type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceInfo is the synchronously collected device/context snapshot attached
// to every event payload.
type DeviceInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	Device     string `json:"device"`
	Screen     Screen `json:"screen"`
	Language   string `json:"language"`
	Connection string `json:"connection"`
	UserAgent  string `json:"userAgent"`
}

// utmKeys is the fixed whitelist of campaign query parameters.
var utmKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// CollectDeviceInfo derives the device snapshot from an environment.
// Undetectable facts fall back to defaults: device class "desktop",
// language "en", connection "unknown".
func CollectDeviceInfo(env Environment) DeviceInfo {
	parsed := ParseUserAgent(env.UserAgent)

	browser := strings.TrimSpace(fmt.Sprintf("%s %s", parsed.Browser, parsed.BrowserVersion))
	os := parsed.OS

	language := env.Language
	if language == "" {
		language = "en"
	}

	return DeviceInfo{
		Browser:    browser,
		OS:         os,
		Device:     deviceClass(parsed.Device),
		Screen:     Screen{Width: env.ScreenWidth, Height: env.ScreenHeight},
		Language:   language,
		Connection: connectionType(env.ConnectionTag),
		UserAgent:  env.UserAgent,
	}
}

// deviceClass maps a parsed device type to the coarse mobile/tablet/desktop
// bucket, defaulting to desktop.
func deviceClass(parsed string) string {
	switch strings.ToLower(parsed) {
	case "mobile":
		return "mobile"
	case "tablet":
		return "tablet"
	default:
		return "desktop"
	}
}

// connectionType buckets a raw effective-connection tag. The capability is
// non-standard and possibly absent; anything unrecognized is "unknown".
func connectionType(tag string) string {
	switch tag {
	case "slow-2g", "2g", "3g", "4g":
		return tag
	default:
		return "unknown"
	}
}

// ExtractUTMParams parses the campaign parameters off a URL. Only keys
// present in the query string are included; absent keys are not null-filled.
func ExtractUTMParams(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	query := u.Query()
	params := make(map[string]string)
	for _, key := range utmKeys {
		if query.Has(key) {
			params[key] = query.Get(key)
		}
	}
	return params, nil
}

// ReferrerOrigin derives the origin tag for a session: the referrer's
// hostname, or "direct" when there is no referrer or it does not parse.
func ReferrerOrigin(referrer string) string {
	if referrer == "" {
		return "direct"
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return "direct"
	}
	return u.Hostname()
}
