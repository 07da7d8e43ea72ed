// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package catalog maintains the registry of dealer listings and their
// featured ranking.
package catalog

import "time"

// Listing categories as used by the dealer scrapers.
const (
	CategoryKatana    = "katana"
	CategoryWakizashi = "wakizashi"
	CategoryTanto     = "tanto"
	CategoryTachi     = "tachi"
	CategoryNaginata  = "naginata"
	CategoryYari      = "yari"
	CategoryTsuba     = "tsuba"
	CategoryFittings  = "fittings"
	CategoryArmor     = "armor"
	CategoryOther     = "other"
)

// Listing is one dealer listing as aggregated from the scraper service.
type Listing struct {
	// ID is the stable internal listing identifier.
	ID int64 `json:"id" validate:"required,gt=0"`

	// Dealer is the source dealer slug.
	Dealer string `json:"dealer" validate:"required"`

	// Title is the dealer's listing title.
	Title string `json:"title" validate:"required"`

	// Category classifies the item (katana, tsuba, ...).
	Category string `json:"category,omitempty"`

	// Era is the attributed period (koto, shinto, shinshinto, gendai).
	Era string `json:"era,omitempty"`

	// PriceJPY is the asking price in yen; zero when price on request.
	PriceJPY int64 `json:"price_jpy,omitempty" validate:"gte=0"`

	// URL is the dealer page for the listing.
	URL string `json:"url" validate:"required,url"`

	// ImageCount is the number of photos on the dealer page.
	ImageCount int `json:"image_count,omitempty" validate:"gte=0"`

	// Sold marks listings the scraper saw disappear or flagged sold.
	Sold bool `json:"sold,omitempty"`

	// FirstSeen and LastSeen bound the scraper's observations.
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// FeaturedScore is the current ranking score, maintained by the
	// Ranker. Not set by ingest.
	FeaturedScore float64 `json:"featured_score,omitempty"`
}

// Filter narrows List queries. Zero fields match everything.
type Filter struct {
	Category string
	Dealer   string
	Era      string

	// MaxPriceJPY excludes listings above the price; zero disables.
	MaxPriceJPY int64

	// IncludeSold includes sold listings; default is live only.
	IncludeSold bool

	// Page is 1-based; PageSize defaults to DefaultPageSize.
	Page     int
	PageSize int
}

// Paging defaults, matching the public API.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)
