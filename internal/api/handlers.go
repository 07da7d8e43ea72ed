// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nihontowatch/nihontowatch/internal/analytics"
	"github.com/nihontowatch/nihontowatch/internal/catalog"
	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/ingest"
	"github.com/nihontowatch/nihontowatch/internal/interest"
	"github.com/nihontowatch/nihontowatch/internal/websocket"
)

// Tracker is the engagement engine surface the intake endpoints use.
type Tracker interface {
	StartSession(sessionID string, consent bool)
	HandleObservations(sessionID string, batch []engagement.Observation) error
	RecordSignals(sessionID string, listingID int64, s interest.Signals) error
	Untrack(sessionID, elementID string) error
	Flush(sessionID string) error
	SessionCount() int
}

// Catalog is the listing store surface the read endpoints use.
type Catalog interface {
	Get(ctx context.Context, id int64) (*catalog.Listing, error)
	List(ctx context.Context, filter catalog.Filter) ([]*catalog.Listing, int, error)
	Featured(ctx context.Context, n int) ([]*catalog.Listing, error)
	Count(ctx context.Context) (int, error)
}

// Ingestor is the webhook surface.
type Ingestor interface {
	VerifySignature(body []byte, signature string) error
	Apply(ctx context.Context, batch *ingest.Batch) (int, error)
}

// AnalyticsReader serves the admin aggregation endpoints.
type AnalyticsReader interface {
	TopListingsByDwell(ctx context.Context, since time.Time, n int) ([]analytics.ListingDwell, error)
	TierDistribution(ctx context.Context, since time.Time) (map[string]int64, error)
	RevisitRate(ctx context.Context, since time.Time) (float64, error)
	EngagementSummary(ctx context.Context, since time.Time) (analytics.Summary, error)
}

// Handler owns all HTTP handlers.
type Handler struct {
	catalog   Catalog
	ingestor  Ingestor
	tracker   Tracker
	analytics AnalyticsReader
	hub       *websocket.Hub
	origins   []string
	started   time.Time
}

// NewHandler wires a handler. Any dependency may be nil; the matching
// endpoints then answer 503.
func NewHandler(cat Catalog, ing Ingestor, tracker Tracker, reader AnalyticsReader, hub *websocket.Hub) *Handler {
	return &Handler{
		catalog:   cat,
		ingestor:  ing,
		tracker:   tracker,
		analytics: reader,
		hub:       hub,
		started:   time.Now(),
	}
}

// SetAllowedOrigins configures the websocket origin allowlist.
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.origins = origins
}

// Health reports overall service health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	if h.tracker != nil {
		data["active_sessions"] = h.tracker.SessionCount()
	}
	if h.hub != nil {
		data["websocket_clients"] = h.hub.ClientCount()
	}
	if h.catalog != nil {
		if count, err := h.catalog.Count(r.Context()); err == nil {
			data["listings"] = count
		}
	}
	respondJSON(w, http.StatusOK, data)
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe: storage must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.catalog != nil {
		if _, err := h.catalog.Count(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "NOT_READY", "catalog store unavailable", err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
