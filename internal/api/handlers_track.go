// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/interest"
)

// TrackObservations accepts a batch of intersection tuples for a
// session. A missing session id creates a fresh session so the first
// batch of a page visit needs no handshake.
func (h *Handler) TrackObservations(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		respondError(w, http.StatusServiceUnavailable, "TRACKING_UNAVAILABLE", "tracking not configured", nil)
		return
	}

	var req struct {
		SessionID    string                   `json:"session_id"`
		Consent      bool                     `json:"consent"`
		Observations []engagement.Observation `json:"observations"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON", err)
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	h.tracker.StartSession(req.SessionID, req.Consent)

	err := h.tracker.HandleObservations(req.SessionID, req.Observations)
	switch {
	case errors.Is(err, engagement.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "observation rate limit exceeded", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "TRACKING_ERROR", "failed to process observations", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": req.SessionID,
		"accepted":   len(req.Observations),
	})
}

// TrackSignals records client-side engagement signals for a listing.
func (h *Handler) TrackSignals(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		respondError(w, http.StatusServiceUnavailable, "TRACKING_UNAVAILABLE", "tracking not configured", nil)
		return
	}

	var req struct {
		SessionID string           `json:"session_id"`
		ListingID int64            `json:"listing_id"`
		Signals   interest.Signals `json:"signals"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON", err)
		return
	}
	if req.SessionID == "" || req.ListingID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "session_id and listing_id are required", nil)
		return
	}

	if err := h.tracker.RecordSignals(req.SessionID, req.ListingID, req.Signals); err != nil {
		if errors.Is(err, engagement.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "no such session", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "TRACKING_ERROR", "failed to record signals", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// TrackFlush closes open dwell periods for a session. Clients call this
// from pagehide and beforeunload handlers, typically via sendBeacon.
func (h *Handler) TrackFlush(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		respondError(w, http.StatusServiceUnavailable, "TRACKING_UNAVAILABLE", "tracking not configured", nil)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON", err)
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "session_id is required", nil)
		return
	}

	if err := h.tracker.Flush(req.SessionID); err != nil {
		if errors.Is(err, engagement.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "no such session", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "TRACKING_ERROR", "failed to flush session", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
