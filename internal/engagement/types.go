// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package engagement runs the per-session tracking engine: it owns one
// viewport adapter per client session, assembles engagement signals,
// scores interest and publishes qualified dwell events on the event bus.
package engagement

import (
	"errors"
	"time"

	"github.com/nihontowatch/nihontowatch/internal/interest"
)

// Sentinel errors returned by the engine's intake operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRateLimited     = errors.New("session rate limit exceeded")
)

// Observation is one intersection tuple reported by a client. Clients
// batch observations per animation frame; each tuple carries the element
// and the listing it is bound to so the server needs no mount bookkeeping
// beyond the adapter's own element map.
type Observation struct {
	// ElementID identifies the DOM node being observed, e.g. "card-42".
	ElementID string `json:"element_id" validate:"required"`

	// ListingID is the listing the element renders.
	ListingID int64 `json:"listing_id" validate:"required,gt=0"`

	// Intersecting reports whether the element intersects the viewport.
	Intersecting bool `json:"intersecting"`

	// Ratio is the visible fraction of the element, 0-1.
	Ratio float64 `json:"ratio" validate:"gte=0,lte=1"`
}

// DwellEnvelope is the event published on the dwell topic once a
// session's dwell on a listing qualifies. It carries the raw dwell
// measurement plus the interest score computed from all signals known
// for the (session, listing) pair at emission time.
type DwellEnvelope struct {
	SessionID         string             `json:"session_id"`
	ListingID         int64              `json:"listing_id"`
	DwellMs           int64              `json:"dwell_ms"`
	IntersectionRatio float64            `json:"intersection_ratio"`
	IsRevisit         bool               `json:"is_revisit"`
	Score             int                `json:"score"`
	Tier              string             `json:"tier"`
	Signals           interest.Signals   `json:"signals"`
	Breakdown         map[string]float64 `json:"breakdown,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}
