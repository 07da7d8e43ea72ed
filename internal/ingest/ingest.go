// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package ingest receives listing batches from the scraper service.
// Batches arrive over a webhook signed with a shared HMAC-SHA256 secret;
// validated listings are upserted into the catalog and announced on the
// listing-updated topic.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/nihontowatch/nihontowatch/internal/catalog"
	"github.com/nihontowatch/nihontowatch/internal/eventbus"
	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/metrics"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrEmptyBatch   = errors.New("empty listing batch")
)

// Publisher is the event-bus surface ingest announces updates on.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Batch is the webhook payload: one scraper run's worth of listings.
type Batch struct {
	// Dealer is the scraper's dealer slug; informational.
	Dealer string `json:"dealer" validate:"required"`

	// ScrapedAt is when the scraper captured the batch.
	ScrapedAt time.Time `json:"scraped_at" validate:"required"`

	// Listings is the captured listing snapshots.
	Listings []*catalog.Listing `json:"listings" validate:"required,min=1,max=500,dive,required"`
}

// ListingUpdate is published per upserted listing.
type ListingUpdate struct {
	ListingID int64     `json:"listing_id"`
	Dealer    string    `json:"dealer"`
	Sold      bool      `json:"sold"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ingestor validates and applies scraper batches.
type Ingestor struct {
	store     *catalog.Store
	publisher Publisher
	secret    []byte
	validate  *validator.Validate
	logger    zerolog.Logger
}

// New creates an ingestor. The secret signs webhook bodies; an empty
// secret disables signature checking (local development only).
func New(store *catalog.Store, publisher Publisher, secret string) *Ingestor {
	return &Ingestor{
		store:     store,
		publisher: publisher,
		secret:    []byte(secret),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logging.With().Str("component", "ingest").Logger(),
	}
}

// VerifySignature checks the hex HMAC-SHA256 signature of a raw webhook
// body. Comparison is constant-time.
func (i *Ingestor) VerifySignature(body []byte, signature string) error {
	if len(i.secret) == 0 {
		return nil
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// Apply validates a batch, upserts its listings and publishes one
// update per listing. Returns the number of listings applied. The batch
// is applied listing by listing; a failing listing aborts the rest.
func (i *Ingestor) Apply(ctx context.Context, batch *Batch) (int, error) {
	if batch == nil || len(batch.Listings) == 0 {
		return 0, ErrEmptyBatch
	}
	if err := i.validate.Struct(batch); err != nil {
		return 0, fmt.Errorf("invalid batch: %w", err)
	}

	applied := 0
	for _, listing := range batch.Listings {
		if listing.LastSeen.IsZero() {
			listing.LastSeen = batch.ScrapedAt
		}
		if err := i.store.Upsert(ctx, listing); err != nil {
			return applied, fmt.Errorf("upsert listing %d: %w", listing.ID, err)
		}
		applied++
		metrics.ListingsIngested.Inc()

		update := ListingUpdate{
			ListingID: listing.ID,
			Dealer:    listing.Dealer,
			Sold:      listing.Sold,
			UpdatedAt: batch.ScrapedAt,
		}
		if err := i.publisher.Publish(eventbus.TopicListingUpdated, update); err != nil {
			i.logger.Warn().Err(err).Int64("listing", listing.ID).Msg("publish listing update failed")
		}
	}

	i.logger.Info().
		Str("dealer", batch.Dealer).
		Int("listings", applied).
		Msg("scraper batch applied")

	return applied, nil
}

// Sign computes the hex HMAC-SHA256 signature for a body with the given
// secret. Shared with the scraper client and tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
