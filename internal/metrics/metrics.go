// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package metrics provides Prometheus instrumentation for the
// engagement pipeline: intake volume, dwell emission, scoring, the
// analytics sink and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engagement pipeline metrics
	ObservationsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_observations_total",
			Help: "Total number of intersection observations processed",
		},
	)

	ObservationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_observations_rejected_total",
			Help: "Total number of observations rejected before processing",
		},
		[]string{"reason"}, // "rate_limited", "no_consent", "unknown_session"
	)

	DwellEventsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_dwell_events_total",
			Help: "Total number of dwell events emitted by trackers",
		},
	)

	InterestScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engagement_interest_score",
			Help:    "Distribution of computed interest scores",
			Buckets: []float64{10, 30, 60, 80, 100}, // tier boundaries
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engagement_active_sessions",
			Help: "Current number of live tracking sessions",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_sessions_evicted_total",
			Help: "Total number of idle sessions evicted",
		},
	)

	// Analytics sink metrics
	AnalyticsEventsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_events_written_total",
			Help: "Total number of dwell events persisted to the analytics store",
		},
	)

	AnalyticsWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_write_failures_total",
			Help: "Total number of failed analytics store writes",
		},
	)

	AnalyticsEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_events_dropped_total",
			Help: "Total number of dwell events dropped while the sink breaker was open",
		},
	)

	// Catalog metrics
	ListingsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_listings_ingested_total",
			Help: "Total number of listings upserted from the scraper webhook",
		},
	)

	FeaturedRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_featured_refresh_duration_seconds",
			Help:    "Duration of featured ranking refresh passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP surface metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)
)

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
