// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package config loads layered service configuration with koanf:
// built-in defaults, then an optional YAML file, then environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/nihontowatch/nihontowatch/internal/interest"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Tracking  TrackingConfig  `koanf:"tracking"`
	Interest  interest.Config `koanf:"interest"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Ranking   RankingConfig   `koanf:"ranking"`
	Security  SecurityConfig  `koanf:"security"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig tunes zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// CatalogConfig tunes the Badger-backed listing store.
type CatalogConfig struct {
	// Path is the Badger directory; empty selects in-memory storage.
	Path string `koanf:"path"`
}

// AnalyticsConfig tunes the DuckDB event archive and its writer.
type AnalyticsConfig struct {
	// Path is the DuckDB file; empty selects in-memory storage.
	Path             string        `koanf:"path"`
	BatchSize        int           `koanf:"batch_size"`
	FlushInterval    time.Duration `koanf:"flush_interval"`
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// TrackingConfig tunes the engagement engine and its dwell trackers.
type TrackingConfig struct {
	MinDwell           time.Duration `koanf:"min_dwell"`
	MaxDwell           time.Duration `koanf:"max_dwell"`
	MinRatio           float64       `koanf:"min_ratio"`
	FlushInterval      time.Duration `koanf:"flush_interval"`
	IdleTimeout        time.Duration `koanf:"idle_timeout"`
	EvictInterval      time.Duration `koanf:"evict_interval"`
	ObservationsPerSec float64       `koanf:"observations_per_sec"`
	ObservationBurst   int           `koanf:"observation_burst"`
}

// IngestConfig tunes the scraper webhook.
type IngestConfig struct {
	// Secret signs webhook bodies; empty disables verification.
	Secret string `koanf:"secret"`
}

// RankingConfig tunes the featured refresher.
type RankingConfig struct {
	Interval         time.Duration `koanf:"interval"`
	EngagementWindow time.Duration `koanf:"engagement_window"`
	RecencyHalfLife  time.Duration `koanf:"recency_half_life"`
}

// SecurityConfig tunes the HTTP perimeter.
type SecurityConfig struct {
	CORSOrigins            []string `koanf:"cors_origins"`
	RequestsPerMinute      int      `koanf:"requests_per_minute"`
	TrackRequestsPerMinute int      `koanf:"track_requests_per_minute"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8460,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Catalog: CatalogConfig{
			Path: "/data/catalog",
		},
		Analytics: AnalyticsConfig{
			Path:             "/data/analytics.duckdb",
			BatchSize:        100,
			FlushInterval:    2 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Tracking: TrackingConfig{
			MinDwell:           1500 * time.Millisecond,
			MaxDwell:           5 * time.Minute,
			MinRatio:           0.5,
			FlushInterval:      10 * time.Second,
			IdleTimeout:        30 * time.Minute,
			EvictInterval:      time.Minute,
			ObservationsPerSec: 50,
			ObservationBurst:   100,
		},
		Interest: *interest.DefaultConfig(),
		Ingest: IngestConfig{
			Secret: "",
		},
		Ranking: RankingConfig{
			Interval:         15 * time.Minute,
			EngagementWindow: 7 * 24 * time.Hour,
			RecencyHalfLife:  7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			CORSOrigins:            []string{"*"},
			RequestsPerMinute:      300,
			TrackRequestsPerMinute: 1200,
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Tracking.MinDwell < 0 {
		return fmt.Errorf("tracking.min_dwell must be non-negative")
	}
	if c.Tracking.MaxDwell > 0 && c.Tracking.MaxDwell < c.Tracking.MinDwell {
		return fmt.Errorf("tracking.max_dwell %v below tracking.min_dwell %v", c.Tracking.MaxDwell, c.Tracking.MinDwell)
	}
	if c.Tracking.MinRatio < 0 || c.Tracking.MinRatio > 1 {
		return fmt.Errorf("tracking.min_ratio %v outside [0,1]", c.Tracking.MinRatio)
	}
	if c.Analytics.BatchSize <= 0 {
		return fmt.Errorf("analytics.batch_size must be positive")
	}
	if err := c.Interest.Validate(); err != nil {
		return fmt.Errorf("interest config: %w", err)
	}
	return nil
}
