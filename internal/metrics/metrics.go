// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package metrics exposes the collector's Prometheus instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts accepted track payloads.
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "honolytics_events_ingested_total",
			Help: "Total number of accepted analytics events",
		},
	)

	// EventsRejected counts refused track payloads by reason.
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honolytics_events_rejected_total",
			Help: "Total number of rejected analytics events",
		},
		[]string{"reason"}, // "validation", "storage", "decode"
	)

	// HTTPRequestDuration observes handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "honolytics_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	// StorageQueryDuration observes adapter query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "honolytics_storage_query_duration_seconds",
			Help:    "Duration of storage adapter queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveHTTPRequest records one finished request.
func ObserveHTTPRequest(path, method string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(path, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveStorageQuery records one adapter query.
func ObserveStorageQuery(operation string, duration time.Duration) {
	StorageQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
