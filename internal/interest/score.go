// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package interest converts multi-signal engagement data into a bounded
// 0-100 purchase-interest score and a discrete tier.
//
// Scoring is a pure function: no state, no I/O, fully deterministic. All
// signal fields are optional - an absent signal contributes zero points.
// Out-of-range inputs (negative durations and the like) are the caller's
// responsibility to guard; this layer does not validate them.
package interest

import "math"

// Tier is a discrete engagement bucket derived from the score.
type Tier int

// Tiers in ascending order of inferred purchase interest.
const (
	TierGlanced Tier = iota
	TierBrowsed
	TierInterested
	TierHighlyInterested
	TierReadyToBuy
)

// String returns the canonical label for the tier.
func (t Tier) String() string {
	switch t {
	case TierReadyToBuy:
		return "READY_TO_BUY"
	case TierHighlyInterested:
		return "HIGHLY_INTERESTED"
	case TierInterested:
		return "INTERESTED"
	case TierBrowsed:
		return "BROWSED"
	case TierGlanced:
		return "GLANCED"
	default:
		return "GLANCED"
	}
}

// Signals is the engagement data for one (session, listing) pair,
// assembled from multiple sources. All fields are optional; the zero
// value contributes nothing to the score.
type Signals struct {
	// ViewportDwellMs is accumulated catalog-grid dwell time.
	ViewportDwellMs int64 `json:"viewport_dwell_ms,omitempty"`

	// DetailViewMs is time spent on the listing detail page.
	DetailViewMs int64 `json:"detail_view_ms,omitempty"`

	// ReturnVisits is the number of return visits to the listing.
	ReturnVisits int `json:"return_visits,omitempty"`

	// ImageViews is the number of listing images viewed.
	ImageViews int `json:"image_views,omitempty"`

	// ScrollDepth is the deepest scroll fraction observed (0-1).
	ScrollDepth float64 `json:"scroll_depth,omitempty"`

	// Favorited is true once the listing was favorited.
	Favorited bool `json:"favorited,omitempty"`

	// AlertCreated is true once a price alert was created.
	AlertCreated bool `json:"alert_created,omitempty"`

	// ExternalLinkClicked is true once the dealer link was followed.
	ExternalLinkClicked bool `json:"external_link_clicked,omitempty"`
}

// Result is the outcome of scoring one set of signals.
type Result struct {
	// Score is the bounded interest score, 0-100.
	Score int `json:"score"`

	// Tier is the discrete bucket the score falls into.
	Tier Tier `json:"-"`

	// TierLabel is the canonical string form of Tier.
	TierLabel string `json:"tier"`

	// Breakdown maps signal name to points awarded after per-signal
	// capping, for analytics and debugging.
	Breakdown map[string]float64 `json:"breakdown"`
}

// Breakdown keys, one per weight table row.
const (
	SignalViewportDwell = "viewport_dwell"
	SignalDetailView    = "detail_view"
	SignalReturnVisits  = "return_visits"
	SignalImageViews    = "image_views"
	SignalScrollDepth   = "scroll_depth"
	SignalFavorited     = "favorited"
	SignalAlertCreated  = "alert_created"
	SignalExternalLink  = "external_link"
)

// Score computes the interest score with the default weight table.
func Score(s Signals) Result {
	return DefaultConfig().Score(s)
}

// Score computes each row's contribution independently (rate times raw
// value clamped to the row's cap, or a flat award when the condition
// holds), sums the contributions, clamps the total to 0-100 and rounds
// to the nearest integer.
func (c *Config) Score(s Signals) Result {
	breakdown := make(map[string]float64, 8)

	add := func(name string, points float64) {
		if points != 0 {
			breakdown[name] = points
		}
	}

	add(SignalViewportDwell, capped(float64(s.ViewportDwellMs)/1000*c.DwellPointsPerSec, c.DwellMaxPoints))
	add(SignalDetailView, capped(float64(s.DetailViewMs)/1000*c.DetailViewPointsPerSec, c.DetailViewMaxPoints))
	add(SignalReturnVisits, capped(float64(s.ReturnVisits)*c.ReturnVisitPoints, c.ReturnVisitMaxPoints))
	add(SignalImageViews, capped(float64(s.ImageViews)*c.ImageViewPoints, c.ImageViewMaxPoints))

	if s.ScrollDepth > c.ScrollDepthThreshold {
		add(SignalScrollDepth, c.ScrollDepthPoints)
	}
	if s.Favorited {
		add(SignalFavorited, c.FavoritePoints)
	}
	if s.AlertCreated {
		add(SignalAlertCreated, c.AlertPoints)
	}
	if s.ExternalLinkClicked {
		add(SignalExternalLink, c.ExternalLinkPoints)
	}

	var total float64
	for _, points := range breakdown {
		total += points
	}

	score := int(math.Round(total))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	tier := TierFor(score)
	return Result{
		Score:     score,
		Tier:      tier,
		TierLabel: tier.String(),
		Breakdown: breakdown,
	}
}

// capped clamps a contribution to its per-signal cap.
func capped(points, limit float64) float64 {
	if points > limit {
		return limit
	}
	return points
}

// TierFor maps a score to its tier. Bands are non-overlapping; the
// highest matching tier wins when checked from the top down:
// READY_TO_BUY 81-100, HIGHLY_INTERESTED 61-80, INTERESTED 31-60,
// BROWSED 11-30, GLANCED 0-10.
func TierFor(score int) Tier {
	switch {
	case score >= 81:
		return TierReadyToBuy
	case score >= 61:
		return TierHighlyInterested
	case score >= 31:
		return TierInterested
	case score >= 11:
		return TierBrowsed
	default:
		return TierGlanced
	}
}

// Merge unions signals gathered from independent sources, such as grid
// dwell and detail-page dwell for the same listing. Numeric fields merge
// via max - the strongest observed value, never a sum, so the same
// underlying signal observed twice is not double-counted. Boolean fields
// merge via OR.
func Merge(sets ...Signals) Signals {
	var merged Signals
	for _, s := range sets {
		merged.ViewportDwellMs = maxI64(merged.ViewportDwellMs, s.ViewportDwellMs)
		merged.DetailViewMs = maxI64(merged.DetailViewMs, s.DetailViewMs)
		merged.ReturnVisits = maxInt(merged.ReturnVisits, s.ReturnVisits)
		merged.ImageViews = maxInt(merged.ImageViews, s.ImageViews)
		merged.ScrollDepth = math.Max(merged.ScrollDepth, s.ScrollDepth)
		merged.Favorited = merged.Favorited || s.Favorited
		merged.AlertCreated = merged.AlertCreated || s.AlertCreated
		merged.ExternalLinkClicked = merged.ExternalLinkClicked || s.ExternalLinkClicked
	}
	return merged
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
