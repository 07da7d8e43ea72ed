// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/websocket"
)

// WebSocket upgrades the connection and binds it to a tracking session.
// Query parameters: session_id (generated when absent) and consent.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "WEBSOCKET_UNAVAILABLE", "websocket hub not configured", nil)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	consent := r.URL.Query().Get("consent") == "true"

	var intake websocket.Intake
	if h.tracker != nil {
		h.tracker.StartSession(sessionID, consent)
		intake = h.tracker
	}

	upgrader := gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, sessionID, intake)
	h.hub.Attach(client)
	client.Start()
}

// checkOrigin enforces the configured origin allowlist; an empty list
// allows all (development).
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
