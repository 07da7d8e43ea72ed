// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package api provides the HTTP surface: catalog queries, the scraper
// webhook, engagement intake, admin analytics and the WebSocket
// upgrade, routed with chi.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/nihontowatch/nihontowatch/internal/logging"
)

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError carries a machine-readable code plus a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&APIResponse{
		Status:    "ok",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError writes an error envelope. The wrapped error is logged,
// never sent to the client.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("api error")
	}

	w.Header().Set("Content-Type", "application/json")

	body, marshalErr := json.Marshal(&APIResponse{
		Status:    "error",
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// decodeJSON decodes a request body with a size cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(dst)
}
