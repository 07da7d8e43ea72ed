// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package catalog

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/metrics"
)

// EngagementProvider supplies aggregate interest scores per listing.
// Implemented by the analytics store; decoupled by interface so the
// ranker has no dependency on the analytics package.
type EngagementProvider interface {
	// ListingEngagement returns the mean interest score (0-100) per
	// listing for events recorded since the given time.
	ListingEngagement(ctx context.Context, since time.Time) (map[int64]float64, error)
}

// Publisher is the event-bus surface the ranker needs.
type Publisher interface {
	Publish(topic string, payload any) error
}

// RankerConfig configures the featured ranking refresher.
type RankerConfig struct {
	// Interval between refresh passes. Default 15 minutes.
	Interval time.Duration

	// EngagementWindow bounds how far back engagement is aggregated.
	// Default 7 days.
	EngagementWindow time.Duration

	// RecencyHalfLife controls decay of the freshness component.
	// Default 7 days.
	RecencyHalfLife time.Duration
}

// FeaturedUpdate is published on the listing-updated topic after a
// refresh pass.
type FeaturedUpdate struct {
	UpdatedAt time.Time `json:"updated_at"`
	Listings  int       `json:"listings"`
}

// Ranker recomputes featured scores for all live listings. The score
// blends engagement (mean interest score of recent sessions), freshness
// (exponential decay on days since the dealer last showed the listing),
// and listing quality hints (stated price, photo count).
type Ranker struct {
	store      *Store
	engagement EngagementProvider
	publisher  Publisher
	cfg        RankerConfig
	logger     zerolog.Logger
	topic      string
	now        func() time.Time
}

// NewRanker creates a ranker. The engagement provider may be nil, in
// which case only freshness and quality hints contribute.
func NewRanker(store *Store, engagement EngagementProvider, publisher Publisher, topic string, cfg RankerConfig) *Ranker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.EngagementWindow <= 0 {
		cfg.EngagementWindow = 7 * 24 * time.Hour
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 7 * 24 * time.Hour
	}

	return &Ranker{
		store:      store,
		engagement: engagement,
		publisher:  publisher,
		cfg:        cfg,
		topic:      topic,
		logger:     logging.With().Str("component", "ranker").Logger(),
		now:        time.Now,
	}
}

// Serve implements suture.Service: an initial refresh, then one per
// interval until the context is canceled.
func (r *Ranker) Serve(ctx context.Context) error {
	if _, err := r.Refresh(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("initial featured refresh failed")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("featured refresh failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Refresh recomputes featured scores for all live listings and returns
// the number of listings updated.
func (r *Ranker) Refresh(ctx context.Context) (int, error) {
	start := r.now()
	defer func() {
		metrics.FeaturedRefreshDuration.Observe(time.Since(start).Seconds())
	}()

	var byListing map[int64]float64
	if r.engagement != nil {
		var err error
		byListing, err = r.engagement.ListingEngagement(ctx, start.Add(-r.cfg.EngagementWindow))
		if err != nil {
			// Degraded mode: rank on freshness alone rather than fail.
			r.logger.Warn().Err(err).Msg("engagement aggregation unavailable, ranking without it")
			byListing = nil
		}
	}

	live, err := r.store.scan(func(l *Listing) bool { return !l.Sold })
	if err != nil {
		return 0, fmt.Errorf("scan listings: %w", err)
	}

	updated := 0
	for _, listing := range live {
		score := r.scoreListing(listing, byListing[listing.ID])
		if math.Abs(score-listing.FeaturedScore) < 1e-9 {
			continue
		}
		if err := r.store.SetFeaturedScore(ctx, listing.ID, score); err != nil {
			return updated, fmt.Errorf("set featured score for %d: %w", listing.ID, err)
		}
		updated++
	}

	if updated > 0 && r.publisher != nil {
		update := FeaturedUpdate{UpdatedAt: r.now().UTC(), Listings: updated}
		if err := r.publisher.Publish(r.topic, update); err != nil {
			r.logger.Warn().Err(err).Msg("publish featured update failed")
		}
	}

	r.logger.Info().
		Int("live", len(live)).
		Int("updated", updated).
		Dur("elapsed", time.Since(start)).
		Msg("featured refresh complete")

	return updated, nil
}

// scoreListing computes the featured score for one listing.
//
//	engagement: mean interest score scaled to 0-45
//	freshness:  0-25, halving every RecencyHalfLife since last seen
//	price:      10 when the dealer states a price (buyers skip "ask")
//	photos:     2 per image up to 10
func (r *Ranker) scoreListing(l *Listing, meanInterest float64) float64 {
	score := meanInterest * 0.45

	age := r.now().Sub(l.LastSeen)
	if age < 0 {
		age = 0
	}
	halfLives := age.Hours() / r.cfg.RecencyHalfLife.Hours()
	score += 25 * math.Pow(0.5, halfLives)

	if l.PriceJPY > 0 {
		score += 10
	}

	photos := float64(l.ImageCount) * 2
	if photos > 10 {
		photos = 10
	}
	score += photos

	return score
}
