// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package engagement

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nihontowatch/nihontowatch/internal/interest"
	"github.com/nihontowatch/nihontowatch/internal/viewport"
)

// streamSource is the viewport.Source fed by client intake. Clients push
// observation tuples over HTTP batches or WebSocket messages; the source
// relays tuples for elements under observation to the adapter's handler.
type streamSource struct {
	mu       sync.Mutex
	handler  func(elementID string, intersecting bool, ratio float64)
	observed map[string]struct{}
}

func newStreamSource() *streamSource {
	return &streamSource{observed: make(map[string]struct{})}
}

func (s *streamSource) Subscribe(handler func(elementID string, intersecting bool, ratio float64)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func (s *streamSource) Observe(elementID string, thresholds []float64) error {
	s.mu.Lock()
	s.observed[elementID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *streamSource) Unobserve(elementID string) {
	s.mu.Lock()
	delete(s.observed, elementID)
	s.mu.Unlock()
}

// push relays one client-reported tuple. Tuples for elements that are
// not under observation are dropped, mirroring how a real observer only
// fires for observed targets.
func (s *streamSource) push(elementID string, intersecting bool, ratio float64) {
	s.mu.Lock()
	_, ok := s.observed[elementID]
	handler := s.handler
	s.mu.Unlock()

	if ok && handler != nil {
		handler(elementID, intersecting, ratio)
	}
}

// session is one client tracking session: a catalog-page lifetime on the
// client side. Each session owns its adapter and tracker; trackers are
// never shared across sessions.
type session struct {
	id      string
	consent bool

	source  *streamSource
	adapter *viewport.Adapter
	limiter *rate.Limiter

	mu         sync.Mutex
	signals    map[int64]interest.Signals
	lastActive time.Time
}

// touch records intake activity for idle eviction.
func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// mergeSignals folds client-reported signals for a listing into the
// session's per-listing state and returns the merged set.
func (s *session) mergeSignals(listingID int64, in interest.Signals) interest.Signals {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := interest.Merge(s.signals[listingID], in)
	s.signals[listingID] = merged
	return merged
}

func (s *session) signalsFor(listingID int64) interest.Signals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals[listingID]
}
