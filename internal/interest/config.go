// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package interest

import "fmt"

// Config holds the scoring weight table. Each signal row has a rate (or
// flat award) and an independent cap applied before summation. The double
// capping - per signal, then the 0-100 total - means no single signal can
// dominate, but several medium signals can legitimately reach the ceiling.
type Config struct {
	// DwellPointsPerSec is awarded per second of viewport dwell.
	DwellPointsPerSec float64 `koanf:"dwell_points_per_sec" json:"dwell_points_per_sec"`

	// DwellMaxPoints caps the viewport dwell contribution.
	DwellMaxPoints float64 `koanf:"dwell_max_points" json:"dwell_max_points"`

	// DetailViewPointsPerSec is awarded per second on a detail page.
	DetailViewPointsPerSec float64 `koanf:"detail_view_points_per_sec" json:"detail_view_points_per_sec"`

	// DetailViewMaxPoints caps the detail view contribution.
	DetailViewMaxPoints float64 `koanf:"detail_view_max_points" json:"detail_view_max_points"`

	// ReturnVisitPoints is awarded per return visit.
	ReturnVisitPoints float64 `koanf:"return_visit_points" json:"return_visit_points"`

	// ReturnVisitMaxPoints caps the return visit contribution.
	ReturnVisitMaxPoints float64 `koanf:"return_visit_max_points" json:"return_visit_max_points"`

	// ImageViewPoints is awarded per image viewed.
	ImageViewPoints float64 `koanf:"image_view_points" json:"image_view_points"`

	// ImageViewMaxPoints caps the image view contribution.
	ImageViewMaxPoints float64 `koanf:"image_view_max_points" json:"image_view_max_points"`

	// ScrollDepthThreshold is the scroll fraction that earns the bonus.
	ScrollDepthThreshold float64 `koanf:"scroll_depth_threshold" json:"scroll_depth_threshold"`

	// ScrollDepthPoints is the flat bonus for deep scrolls.
	ScrollDepthPoints float64 `koanf:"scroll_depth_points" json:"scroll_depth_points"`

	// FavoritePoints is the flat award for favoriting a listing.
	FavoritePoints float64 `koanf:"favorite_points" json:"favorite_points"`

	// AlertPoints is the flat award for creating a price alert.
	AlertPoints float64 `koanf:"alert_points" json:"alert_points"`

	// ExternalLinkPoints is the flat award for clicking through to the
	// dealer's site.
	ExternalLinkPoints float64 `koanf:"external_link_points" json:"external_link_points"`
}

// DefaultConfig returns the production weight table.
func DefaultConfig() *Config {
	return &Config{
		DwellPointsPerSec:      0.5,
		DwellMaxPoints:         20,
		DetailViewPointsPerSec: 0.2,
		DetailViewMaxPoints:    15,
		ReturnVisitPoints:      10,
		ReturnVisitMaxPoints:   30,
		ImageViewPoints:        2,
		ImageViewMaxPoints:     10,
		ScrollDepthThreshold:   0.75,
		ScrollDepthPoints:      5,
		FavoritePoints:         50,
		AlertPoints:            40,
		ExternalLinkPoints:     30,
	}
}

// Validate checks that all rates, awards and caps are non-negative and
// that the scroll threshold is a fraction.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"dwell_points_per_sec", c.DwellPointsPerSec},
		{"dwell_max_points", c.DwellMaxPoints},
		{"detail_view_points_per_sec", c.DetailViewPointsPerSec},
		{"detail_view_max_points", c.DetailViewMaxPoints},
		{"return_visit_points", c.ReturnVisitPoints},
		{"return_visit_max_points", c.ReturnVisitMaxPoints},
		{"image_view_points", c.ImageViewPoints},
		{"image_view_max_points", c.ImageViewMaxPoints},
		{"scroll_depth_points", c.ScrollDepthPoints},
		{"favorite_points", c.FavoritePoints},
		{"alert_points", c.AlertPoints},
		{"external_link_points", c.ExternalLinkPoints},
	}

	for _, check := range checks {
		if check.value < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", check.name, check.value)
		}
	}

	if c.ScrollDepthThreshold < 0 || c.ScrollDepthThreshold > 1 {
		return fmt.Errorf("scroll_depth_threshold must be in [0,1], got %v", c.ScrollDepthThreshold)
	}

	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
