// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package collect

import "testing"

const (
	chromeLinuxUA   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.71 Safari/537.36"
	edgeWindowsUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.61"
	firefoxMacUA    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0"
	safariIphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	operaAndroidUA  = "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36 OPR/79.2.4195"
	safariIpadUA    = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/604.1"
	gibberishUA     = "curl/8.4.0"
)

func TestParseUserAgentBrowsers(t *testing.T) {
	tests := []struct {
		name        string
		ua          string
		wantBrowser string
		wantVersion string
	}{
		{"chrome", chromeLinuxUA, "Chrome", "120.0.6099.71"},
		{"edge before chrome", edgeWindowsUA, "Edge", "120.0.2210.61"},
		{"firefox", firefoxMacUA, "Firefox", "121.0"},
		{"safari uses version marker", safariIphoneUA, "Safari", "17.1"},
		{"opera via opr token", operaAndroidUA, "Opera", "79.2.4195"},
		{"unknown", gibberishUA, "Unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserAgent(tt.ua)
			if got.Browser != tt.wantBrowser {
				t.Errorf("Browser = %q, want %q", got.Browser, tt.wantBrowser)
			}
			if got.BrowserVersion != tt.wantVersion {
				t.Errorf("BrowserVersion = %q, want %q", got.BrowserVersion, tt.wantVersion)
			}
		})
	}
}

func TestParseUserAgentDeviceAndOS(t *testing.T) {
	tests := []struct {
		name       string
		ua         string
		wantDevice string
		wantOS     string
	}{
		{"desktop linux", chromeLinuxUA, "Desktop", "Linux"},
		{"desktop windows", edgeWindowsUA, "Desktop", "Windows"},
		{"desktop macos", firefoxMacUA, "Desktop", "macOS"},
		// iOS user agents carry "like Mac OS X", and Android ones carry
		// "Linux", so the earlier OS markers win. Kept as-is: breakdowns
		// depend on the existing bucket labels.
		{"mobile iphone buckets as macOS", safariIphoneUA, "Mobile", "macOS"},
		{"mobile android buckets as Linux", operaAndroidUA, "Mobile", "Linux"},
		{"tablet ipad buckets as macOS", safariIpadUA, "Tablet", "macOS"},
		{"unknown os", gibberishUA, "Desktop", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserAgent(tt.ua)
			if got.Device != tt.wantDevice {
				t.Errorf("Device = %q, want %q", got.Device, tt.wantDevice)
			}
			if got.OS != tt.wantOS {
				t.Errorf("OS = %q, want %q", got.OS, tt.wantOS)
			}
		})
	}
}

func TestExtractVersionMissingMarker(t *testing.T) {
	if v := extractVersion("mozilla/5.0", "chrome/"); v != "" {
		t.Errorf("expected empty version, got %q", v)
	}
}
