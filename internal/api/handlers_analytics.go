// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"net/http"
	"time"
)

// defaultAnalyticsWindow bounds aggregations when the client does not
// pass one.
const defaultAnalyticsWindow = 7 * 24 * time.Hour

// analyticsSince resolves the aggregation window from the "window"
// query parameter (a Go duration such as "24h").
func analyticsSince(r *http.Request) (time.Time, bool) {
	window := defaultAnalyticsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return time.Time{}, false
		}
		window = parsed
	}
	return time.Now().Add(-window), true
}

// AnalyticsEngagement serves the headline engagement summary.
func (h *Handler) AnalyticsEngagement(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		respondError(w, http.StatusServiceUnavailable, "ANALYTICS_UNAVAILABLE", "analytics not configured", nil)
		return
	}

	since, ok := analyticsSince(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "window must be a positive duration", nil)
		return
	}

	summary, err := h.analytics.EngagementSummary(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to aggregate engagement", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// AnalyticsTopListings serves listings ranked by accumulated dwell.
func (h *Handler) AnalyticsTopListings(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		respondError(w, http.StatusServiceUnavailable, "ANALYTICS_UNAVAILABLE", "analytics not configured", nil)
		return
	}

	since, ok := analyticsSince(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "window must be a positive duration", nil)
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 10)

	top, err := h.analytics.TopListingsByDwell(r.Context(), since, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to aggregate top listings", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"listings": top})
}

// AnalyticsTiers serves the tier distribution.
func (h *Handler) AnalyticsTiers(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		respondError(w, http.StatusServiceUnavailable, "ANALYTICS_UNAVAILABLE", "analytics not configured", nil)
		return
	}

	since, ok := analyticsSince(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "window must be a positive duration", nil)
		return
	}

	dist, err := h.analytics.TierDistribution(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to aggregate tiers", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tiers": dist})
}

// AnalyticsRevisits serves the revisit rate.
func (h *Handler) AnalyticsRevisits(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		respondError(w, http.StatusServiceUnavailable, "ANALYTICS_UNAVAILABLE", "analytics not configured", nil)
		return
	}

	since, ok := analyticsSince(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "window must be a positive duration", nil)
		return
	}

	rate, err := h.analytics.RevisitRate(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to compute revisit rate", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"revisit_rate": rate})
}
