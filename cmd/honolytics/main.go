// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package main is the entry point for the Honolytics collector.
//
// The collector ingests analytics events posted by the tracking SDK,
// resolves them into sessions, and serves aggregated metrics from a
// pluggable storage adapter (in-memory, Badger, DuckDB, Postgres, or
// ClickHouse).
//
// Configuration is loaded via Koanf with layered sources (highest
// priority wins):
//   - HONOLYTICS_ environment variables (see internal/config)
//   - Config file (honolytics.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting new connections, drains in-flight requests within the
// configured timeout, then disconnects the storage adapter.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/honolytics/honolytics-go/internal/config"
	"github.com/honolytics/honolytics-go/internal/logging"
	"github.com/honolytics/honolytics-go/internal/server"
	"github.com/honolytics/honolytics-go/internal/storage"
)

func main() {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.DefaultConfig())
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("storage_type", cfg.Storage.Type).
		Str("addr", cfg.Server.Addr).
		Msg("Configuration loaded")

	adapter, err := storage.NewAdapter(storageConfig(cfg))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build storage adapter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Connect(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect storage")
	}
	defer func() {
		if err := adapter.Disconnect(context.Background()); err != nil {
			logging.Error().Err(err).Msg("Error disconnecting storage")
		}
	}()
	logging.Info().Msg("Storage connected")

	srv := server.New(cfg.Server, adapter)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Graceful shutdown failed")
	}
	logging.Info().Msg("Shutdown complete")
}

// storageConfig maps the loaded configuration onto a storage adapter
// config. Badger uses the path field; the SQL stores use the URL.
func storageConfig(cfg *config.Config) storage.Config {
	switch cfg.Storage.Type {
	case "badger":
		return storage.Badger(cfg.Storage.Path)
	case "duckdb":
		return storage.DuckDB(cfg.Storage.URL)
	case "postgres":
		return storage.Postgres(cfg.Storage.URL)
	case "clickhouse":
		return storage.ClickHouse(cfg.Storage.URL, cfg.Storage.Token)
	default:
		return storage.Memory()
	}
}
