// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nihontowatch/nihontowatch/internal/middleware"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// AllowedOrigins for CORS and websocket origin checks. Empty allows
	// all (development).
	AllowedOrigins []string

	// RequestsPerMinute is the per-IP rate limit on API routes.
	// Default 300.
	RequestsPerMinute int

	// TrackRequestsPerMinute is the per-IP limit on intake routes,
	// which clients hit far more often. Default 1200.
	TrackRequestsPerMinute int
}

func (c *RouterConfig) applyDefaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 300
	}
	if c.TrackRequestsPerMinute <= 0 {
		c.TrackRequestsPerMinute = 1200
	}
}

// NewRouter assembles the chi router around a handler.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	cfg.applyDefaults()
	h.SetAllowedOrigins(cfg.AllowedOrigins)

	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", SignatureHeader},
		MaxAge:         300,
	}))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1/listings", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)
		r.Get("/", h.Listings)
		r.Get("/featured", h.Featured)
		r.Get("/{id}", h.Listing)
	})

	r.Route("/api/v1/ingest", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)
		r.Post("/listings", h.IngestListings)
	})

	// Intake routes carry the observation firehose; rate limiting here
	// is per IP, the engine applies a second per-session limit.
	r.Route("/api/v1/track", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.TrackRequestsPerMinute, time.Minute))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)
		r.Post("/observations", h.TrackObservations)
		r.Post("/signals", h.TrackSignals)
		r.Post("/flush", h.TrackFlush)
	})

	r.Route("/api/v1/analytics", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)
		r.Get("/engagement", h.AnalyticsEngagement)
		r.Get("/top-listings", h.AnalyticsTopListings)
		r.Get("/tiers", h.AnalyticsTiers)
		r.Get("/revisits", h.AnalyticsRevisits)
	})

	r.Get("/api/v1/ws", h.WebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// corsOrigins maps an empty allowlist to the permissive wildcard.
func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
