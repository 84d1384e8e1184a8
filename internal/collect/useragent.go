// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package collect

import (
	"regexp"
	"strings"
)

// ParsedUserAgent holds the browser, device and OS facts extracted from a
// raw user-agent string.
type ParsedUserAgent struct {
	Browser        string
	BrowserVersion string
	Device         string
	OS             string
}

// versionPattern matches a leading dotted version number such as 120.0.6099.
var versionPattern = regexp.MustCompile(`^(\d+(\.\d+)*)`)

// ParseUserAgent extracts browser name/version, device class and OS from a
// user-agent string. Detection is marker-based and ordered: Edge ships a
// chrome/ token so edg/ must be checked first, and Safari is only reported
// when no chrome token is present.
func ParseUserAgent(userAgent string) ParsedUserAgent {
	ua := strings.ToLower(userAgent)

	browser := "Unknown"
	browserVersion := ""

	switch {
	case strings.Contains(ua, "edg/"):
		browser = "Edge"
		browserVersion = extractVersion(ua, "edg/")
	case strings.Contains(ua, "chrome/"):
		browser = "Chrome"
		browserVersion = extractVersion(ua, "chrome/")
	case strings.Contains(ua, "firefox/"):
		browser = "Firefox"
		browserVersion = extractVersion(ua, "firefox/")
	case strings.Contains(ua, "safari/") && !strings.Contains(ua, "chrome"):
		browser = "Safari"
		browserVersion = extractVersion(ua, "version/")
	case strings.Contains(ua, "opera/") || strings.Contains(ua, "opr/"):
		browser = "Opera"
		marker := "opera/"
		if strings.Contains(ua, "opr/") {
			marker = "opr/"
		}
		browserVersion = extractVersion(ua, marker)
	}

	device := "Desktop"
	switch {
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android"):
		device = "Mobile"
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		device = "Tablet"
	}

	os := "Unknown"
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "mac os"):
		os = "macOS"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	case strings.Contains(ua, "android"):
		os = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		os = "iOS"
	}

	return ParsedUserAgent{
		Browser:        browser,
		BrowserVersion: browserVersion,
		Device:         device,
		OS:             os,
	}
}

// extractVersion returns the dotted version number following marker, or ""
// when the marker is absent or not followed by digits.
func extractVersion(ua, marker string) string {
	idx := strings.Index(ua, marker)
	if idx == -1 {
		return ""
	}
	rest := ua[idx+len(marker):]
	return versionPattern.FindString(rest)
}
