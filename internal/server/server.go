// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package server is the reference collector: it ingests tracked events
// over HTTP, resolves them into sessions, and serves aggregated metrics
// from a storage adapter.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/honolytics/honolytics-go/internal/config"
	"github.com/honolytics/honolytics-go/internal/logging"
	"github.com/honolytics/honolytics-go/internal/storage"
)

// Server owns the HTTP surface of the collector.
type Server struct {
	cfg      config.ServerConfig
	store    storage.Adapter
	sessions *sessionResolver
	log      zerolog.Logger
	http     *http.Server
}

// New wires a server over the given adapter. The adapter must already be
// connected.
func New(cfg config.ServerConfig, store storage.Adapter) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		sessions: newSessionResolver(),
		log:      logging.Component("server"),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handler stack without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "x-api-key", "x-dev-traffic"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics-prom", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
		r.Use(s.requireAPIKey)

		r.Post("/track", s.handleTrack)
		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("collector listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
