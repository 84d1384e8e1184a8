// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package metricsclient fetches aggregated metrics from a remote
// collector, the network counterpart to querying a local storage adapter.
package metricsclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/honolytics/honolytics-go/internal/storage"
)

// Client talks to a collector's metrics endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(mc *Client) { mc.http = c }
}

// New builds a metrics client for the collector at endpoint.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FullMetrics fetches totals, timeseries, and breakdowns for the window
// [start, end].
func (c *Client) FullMetrics(ctx context.Context, start, end time.Time) (storage.FullMetrics, error) {
	var metrics storage.FullMetrics

	query := url.Values{}
	query.Set("start_date", start.UTC().Format(time.RFC3339))
	query.Set("end_date", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/metrics?"+query.Encode(), nil)
	if err != nil {
		return metrics, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return metrics, fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return metrics, fmt.Errorf("metrics endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return metrics, fmt.Errorf("decode metrics: %w", err)
	}
	return metrics, nil
}
