// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nihontowatch/nihontowatch/internal/ingest"
)

// SignatureHeader carries the scraper webhook's HMAC signature.
const SignatureHeader = "X-Nihontowatch-Signature"

// maxIngestBody caps webhook bodies at 8 MB; a 500-listing batch stays
// well under this.
const maxIngestBody = 8 << 20

// IngestListings receives a signed scraper batch.
func (h *Handler) IngestListings(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		respondError(w, http.StatusServiceUnavailable, "INGEST_UNAVAILABLE", "ingest not configured", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large", err)
		return
	}

	if err := h.ingestor.VerifySignature(body, r.Header.Get(SignatureHeader)); err != nil {
		respondError(w, http.StatusUnauthorized, "BAD_SIGNATURE", "webhook signature verification failed", nil)
		return
	}

	var batch ingest.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not a valid batch", err)
		return
	}

	applied, err := h.ingestor.Apply(r.Context(), &batch)
	if errors.Is(err, ingest.ErrEmptyBatch) {
		respondError(w, http.StatusBadRequest, "EMPTY_BATCH", "batch contains no listings", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BATCH", "batch failed validation", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"applied": applied})
}
