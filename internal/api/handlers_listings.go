// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nihontowatch/nihontowatch/internal/catalog"
)

// Listings serves the filtered, paged catalog.
func (h *Handler) Listings(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "catalog not configured", nil)
		return
	}

	q := r.URL.Query()
	filter := catalog.Filter{
		Category:    q.Get("category"),
		Dealer:      q.Get("dealer"),
		Era:         q.Get("era"),
		IncludeSold: q.Get("include_sold") == "true",
		Page:        queryInt(q.Get("page"), 1),
		PageSize:    queryInt(q.Get("page_size"), catalog.DefaultPageSize),
	}
	if raw := q.Get("max_price"); raw != "" {
		maxPrice, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || maxPrice < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "max_price must be a non-negative integer", nil)
			return
		}
		filter.MaxPriceJPY = maxPrice
	}

	listings, total, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list listings", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"total":    total,
		"page":     filter.Page,
	})
}

// Listing serves one listing by id.
func (h *Handler) Listing(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "catalog not configured", nil)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "listing id must be a positive integer", nil)
		return
	}

	listing, err := h.catalog.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrListingNotFound) {
		respondError(w, http.StatusNotFound, "LISTING_NOT_FOUND", "no such listing", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load listing", err)
		return
	}

	respondJSON(w, http.StatusOK, listing)
}

// Featured serves the current featured ranking.
func (h *Handler) Featured(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "catalog not configured", nil)
		return
	}

	limit := queryInt(r.URL.Query().Get("limit"), 12)
	if limit > catalog.MaxPageSize {
		limit = catalog.MaxPageSize
	}

	listings, err := h.catalog.Featured(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load featured listings", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

// queryInt parses a positive integer query parameter with a fallback.
func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
