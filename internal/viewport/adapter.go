// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package viewport adapts a stream of element intersection observations
// into the dwell tracker.
//
// An Adapter owns exactly one observation Source and one dwell.Tracker.
// UI elements are registered against listing identifiers as they mount
// and unmount; every observed ratio change for a registered element is
// forwarded to the tracker. A periodic flush loop closes out very long
// uninterrupted visible periods, and a final flush runs on teardown so
// an open period is never silently dropped.
//
// When tracking is disabled (privacy opt-out) or the source is
// unavailable in the host environment, the adapter degrades to a no-op.
// Dwell tracking is a non-essential enhancement; its absence must never
// degrade browsing.
package viewport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nihontowatch/nihontowatch/internal/dwell"
	"github.com/nihontowatch/nihontowatch/internal/logging"
)

// DefaultFlushInterval is the period of the background flush loop.
const DefaultFlushInterval = 10 * time.Second

// Source is the viewport intersection primitive the adapter observes
// through. It stands in for a browser IntersectionObserver: production
// sources are fed by the client intake (HTTP batches or WebSocket
// messages), tests use a scriptable fake.
//
// Implementations deliver observations for an element only between
// Observe and Unobserve calls for that element, via the handler passed
// to Subscribe. A nil Source means the primitive is unavailable and the
// adapter disables itself.
type Source interface {
	// Subscribe registers the handler for intersection changes. Called
	// once, before any Observe.
	Subscribe(handler func(elementID string, intersecting bool, ratio float64))

	// Observe starts observation of an element at the given thresholds.
	Observe(elementID string, thresholds []float64) error

	// Unobserve stops observation of an element.
	Unobserve(elementID string)
}

// Config configures an Adapter.
type Config struct {
	// Enabled gates all tracking. The consent/opt-out signal is
	// consulted by the caller; a false value makes every adapter
	// operation a no-op.
	Enabled bool

	// FlushInterval is the period of the background flush loop.
	// Default DefaultFlushInterval.
	FlushInterval time.Duration

	// MinDwell, MaxDwell, MinRatio configure the owned tracker; zero
	// values select the dwell package defaults.
	MinDwell time.Duration
	MaxDwell time.Duration
	MinRatio float64

	// Now overrides the tracker clock, for tests.
	Now func() time.Time
}

// Adapter owns one Source and one dwell.Tracker and maps observed
// elements to listing identifiers. It implements suture.Service; Serve
// runs the periodic flush loop and guarantees a final flush on shutdown.
type Adapter struct {
	mu       sync.Mutex
	elements map[string]int64

	tracker       *dwell.Tracker
	source        Source
	enabled       bool
	minRatio      float64
	flushInterval time.Duration
	logger        zerolog.Logger
}

// NewAdapter creates an adapter around the given source. Dwell events
// from the owned tracker are delivered to onDwell. A nil source disables
// tracking rather than erroring.
func NewAdapter(cfg Config, source Source, onDwell func(dwell.Event)) *Adapter {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	minRatio := cfg.MinRatio
	if minRatio <= 0 {
		minRatio = dwell.DefaultMinRatio
	}

	a := &Adapter{
		elements: make(map[string]int64),
		tracker: dwell.NewTracker(dwell.Options{
			MinDwell: cfg.MinDwell,
			MaxDwell: cfg.MaxDwell,
			MinRatio: cfg.MinRatio,
			OnDwell:  onDwell,
			Now:      cfg.Now,
		}),
		source:        source,
		enabled:       cfg.Enabled && source != nil,
		minRatio:      minRatio,
		flushInterval: cfg.FlushInterval,
		logger:        logging.With().Str("component", "viewport").Logger(),
	}

	if !a.enabled {
		a.logger.Debug().Msg("viewport tracking disabled")
		return a
	}

	source.Subscribe(a.handleIntersection)
	return a
}

// Enabled reports whether the adapter is tracking at all.
func (a *Adapter) Enabled() bool {
	return a.enabled
}

// Tracker exposes the owned tracker for side-effect-free queries. All
// mutation goes through the adapter.
func (a *Adapter) Tracker() *dwell.Tracker {
	return a.tracker
}

// Thresholds returns the observation thresholds registered with the
// source: both "just entered" (0) and "fully visible" (1) transitions
// must be observable alongside the visibility cutoff.
func (a *Adapter) Thresholds() []float64 {
	return []float64{0, a.minRatio, 1.0}
}

// TrackElement registers an element for observation under a listing
// identifier. Re-tracking an already-tracked element updates the mapping
// rather than erroring. No-op while disabled.
func (a *Adapter) TrackElement(elementID string, listingID int64) {
	if !a.enabled {
		return
	}

	a.mu.Lock()
	a.elements[elementID] = listingID
	a.mu.Unlock()

	if err := a.source.Observe(elementID, a.Thresholds()); err != nil {
		a.logger.Warn().Err(err).Str("element", elementID).Msg("observe failed")
	}
}

// UntrackElement stops observation and drops the element mapping. The
// tracker record for the listing persists for the session, so revisits
// are still detected when a virtualized grid recycles its nodes.
func (a *Adapter) UntrackElement(elementID string) {
	if !a.enabled {
		return
	}

	a.mu.Lock()
	delete(a.elements, elementID)
	a.mu.Unlock()

	a.source.Unobserve(elementID)
}

// handleIntersection resolves the element to its listing and forwards
// the observation. Observations for unregistered elements are dropped.
func (a *Adapter) handleIntersection(elementID string, intersecting bool, ratio float64) {
	a.mu.Lock()
	listingID, ok := a.elements[elementID]
	a.mu.Unlock()
	if !ok {
		return
	}

	a.tracker.HandleIntersection(listingID, intersecting, ratio)
}

// Flush forces the tracker to close open periods and evaluate emission.
// Called by the periodic loop, on page-hide signals from the client, and
// on teardown.
func (a *Adapter) Flush() []dwell.Event {
	if !a.enabled {
		return nil
	}
	return a.tracker.Flush()
}

// Serve implements suture.Service. It runs the periodic flush loop until
// the context is canceled, then performs the mandatory final flush. The
// ticker is acquired here and released on every exit path.
func (a *Adapter) Serve(ctx context.Context) error {
	if !a.enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if events := a.Flush(); len(events) > 0 {
				a.logger.Debug().Int("events", len(events)).Msg("periodic flush emitted dwell events")
			}

		case <-ctx.Done():
			// Teardown contract: flush before releasing the timer so
			// the open period's time is not lost.
			if events := a.Flush(); len(events) > 0 {
				a.logger.Debug().Int("events", len(events)).Msg("final flush emitted dwell events")
			}
			return ctx.Err()
		}
	}
}
