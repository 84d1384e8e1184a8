// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then environment variables, the later layers
// winning.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration tree.
type Config struct {
	Client  ClientConfig  `koanf:"client"`
	Session SessionConfig `koanf:"session"`
	Storage StorageConfig `koanf:"storage"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// ClientConfig drives the tracking client and its delivery transport.
type ClientConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	APIKey          string        `koanf:"api_key"`
	Debug           bool          `koanf:"debug"`
	IgnoreAnalytics bool          `koanf:"ignore_analytics"`
	BatchSize       int           `koanf:"batch_size"`
	BatchTimeout    time.Duration `koanf:"batch_timeout"`
	MaxRetries      int           `koanf:"max_retries"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
}

// SessionConfig drives session rotation and identity persistence.
type SessionConfig struct {
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	IdentityPath string        `koanf:"identity_path"`
}

// StorageConfig selects and parameterizes the metrics store.
type StorageConfig struct {
	// Type is one of memory, badger, duckdb, postgres, clickhouse.
	Type  string `koanf:"type"`
	Path  string `koanf:"path"`
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// ServerConfig drives the collector HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	APIKey          string        `koanf:"api_key"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors the logging package options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Endpoint:     "",
			APIKey:       "",
			BatchSize:    10,
			BatchTimeout: 5 * time.Second,
			MaxRetries:   3,
			RetryDelay:   time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:  30 * time.Minute,
			IdentityPath: "",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			APIKey:          "",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Client.Endpoint != "" {
		u, err := url.Parse(c.Client.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("client.endpoint %q is not an absolute URL", c.Client.Endpoint)
		}
	}
	if c.Client.BatchSize < 1 {
		return fmt.Errorf("client.batch_size must be at least 1, got %d", c.Client.BatchSize)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must not be negative, got %d", c.Client.MaxRetries)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive, got %s", c.Session.IdleTimeout)
	}

	switch c.Storage.Type {
	case "memory", "badger":
	case "duckdb", "postgres":
		if c.Storage.URL == "" {
			return fmt.Errorf("storage.url is required for storage.type %q", c.Storage.Type)
		}
	case "clickhouse":
		if c.Storage.URL == "" {
			return fmt.Errorf("storage.url is required for storage.type clickhouse")
		}
		if c.Storage.Token == "" {
			return fmt.Errorf("storage.token is required for storage.type clickhouse")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	return nil
}
