// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package main is the entry point for the Nihontowatch server.
//
// Nihontowatch aggregates Japanese sword listings scraped from dealer
// sites and measures buyer engagement: anonymous browser sessions
// report viewport observations, the engine converts them into dwell
// events and interest scores, and the analytics layer persists them
// for dealer-facing reporting.
//
// Startup order:
//
//  1. Configuration: layered koanf load (defaults, YAML file, NIHONTO_ env)
//  2. Stores: Badger listing catalog and DuckDB analytics archive
//  3. Event bus: in-process Watermill pub/sub
//  4. Engagement engine, analytics writer, featured ranker
//  5. WebSocket hub and bus-to-hub forwarder
//  6. HTTP server: REST intake/read API plus the tracking WebSocket
//
// All long-running services live in a Suture supervisor tree with
// data, messaging, and api layers; SIGINT/SIGTERM cancels the tree
// context, sessions flush their pending dwell, the writer drains its
// batch, and the stores close last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nihontowatch/nihontowatch/internal/analytics"
	"github.com/nihontowatch/nihontowatch/internal/api"
	"github.com/nihontowatch/nihontowatch/internal/catalog"
	"github.com/nihontowatch/nihontowatch/internal/config"
	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/eventbus"
	"github.com/nihontowatch/nihontowatch/internal/ingest"
	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/supervisor"
	ws "github.com/nihontowatch/nihontowatch/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("catalog_path", cfg.Catalog.Path).
		Str("analytics_path", cfg.Analytics.Path).
		Int("port", cfg.Server.Port).
		Msg("Configuration loaded")

	// Listing catalog. An empty path selects in-memory storage, which
	// is only useful for local development.
	badgerOpts := badger.DefaultOptions(cfg.Catalog.Path).WithLogger(nil)
	if cfg.Catalog.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
		logging.Warn().Msg("Catalog path empty, using in-memory store; listings are lost on restart")
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open catalog store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing catalog store")
		}
	}()
	store := catalog.NewStore(db)

	// Analytics archive.
	archive, err := analytics.Open(context.Background(), cfg.Analytics.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open analytics store")
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing analytics store")
		}
	}()

	// In-process event bus connecting engine, writer, ranker, and hub.
	bus := eventbus.New()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	engine := engagement.NewEngine(engagement.Config{
		MinDwell:           cfg.Tracking.MinDwell,
		MaxDwell:           cfg.Tracking.MaxDwell,
		MinRatio:           cfg.Tracking.MinRatio,
		FlushInterval:      cfg.Tracking.FlushInterval,
		IdleTimeout:        cfg.Tracking.IdleTimeout,
		EvictInterval:      cfg.Tracking.EvictInterval,
		ObservationsPerSec: cfg.Tracking.ObservationsPerSec,
		ObservationBurst:   cfg.Tracking.ObservationBurst,
		Scoring:            &cfg.Interest,
	}, bus)

	writer := analytics.NewWriter(archive, bus, analytics.WriterConfig{
		BatchSize:        cfg.Analytics.BatchSize,
		FlushInterval:    cfg.Analytics.FlushInterval,
		BreakerThreshold: cfg.Analytics.BreakerThreshold,
		BreakerTimeout:   cfg.Analytics.BreakerTimeout,
	})

	ranker := catalog.NewRanker(store, archive, bus, eventbus.TopicListingUpdated, catalog.RankerConfig{
		Interval:         cfg.Ranking.Interval,
		EngagementWindow: cfg.Ranking.EngagementWindow,
		RecencyHalfLife:  cfg.Ranking.RecencyHalfLife,
	})

	hub := ws.NewHub()
	forwarder := ws.NewForwarder(hub, bus)

	ingestor := ingest.New(store, bus, cfg.Ingest.Secret)
	if cfg.Ingest.Secret == "" {
		logging.Warn().Msg("Ingest secret empty, webhook signature verification is DISABLED")
	}

	handler := api.NewHandler(store, ingestor, engine, archive, hub)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:         cfg.Security.CORSOrigins,
		RequestsPerMinute:      cfg.Security.RequestsPerMinute,
		TrackRequestsPerMinute: cfg.Security.TrackRequestsPerMinute,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sutureslog needs an slog.Logger; the adapter writes through
	// zerolog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(writer)

	tree.AddMessagingService(engine)
	tree.AddMessagingService(supervisor.NewHubService(hub))
	tree.AddMessagingService(forwarder)
	tree.AddMessagingService(ranker)

	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
}
