// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package engagement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nihontowatch/nihontowatch/internal/dwell"
	"github.com/nihontowatch/nihontowatch/internal/eventbus"
	"github.com/nihontowatch/nihontowatch/internal/interest"
	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/metrics"
	"github.com/nihontowatch/nihontowatch/internal/viewport"
)

// Publisher is the event-bus surface the engine publishes envelopes to.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Config configures the engine.
type Config struct {
	// MinDwell, MaxDwell, MinRatio and FlushInterval configure each
	// session's viewport adapter; zero values select package defaults.
	MinDwell      time.Duration
	MaxDwell      time.Duration
	MinRatio      float64
	FlushInterval time.Duration

	// IdleTimeout evicts sessions with no intake for this long.
	// Default 30 minutes.
	IdleTimeout time.Duration

	// EvictInterval is the period of the eviction sweep. Default 1 minute.
	EvictInterval time.Duration

	// ObservationsPerSec and ObservationBurst bound per-session intake.
	// Defaults 50/100.
	ObservationsPerSec float64
	ObservationBurst   int

	// Scoring overrides the interest weight table; nil selects defaults.
	Scoring *interest.Config

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = time.Minute
	}
	if c.ObservationsPerSec <= 0 {
		c.ObservationsPerSec = 50
	}
	if c.ObservationBurst <= 0 {
		c.ObservationBurst = 100
	}
	if c.Scoring == nil {
		c.Scoring = interest.DefaultConfig()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine manages tracking sessions. Each session owns a viewport adapter
// and dwell tracker; the engine routes intake to sessions, assembles
// signals, scores interest on emission and publishes envelopes.
//
// Engine implements suture.Service: Serve runs the idle eviction sweep.
type Engine struct {
	cfg       Config
	publisher Publisher
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine creates an engine publishing envelopes through publisher.
func NewEngine(cfg Config, publisher Publisher) *Engine {
	cfg.applyDefaults()

	return &Engine{
		cfg:       cfg,
		publisher: publisher,
		logger:    logging.With().Str("component", "engagement").Logger(),
		sessions:  make(map[string]*session),
	}
}

// StartSession creates (or returns) the session for the given id. The
// consent flag is fixed at creation; an opted-out session accepts intake
// but tracks nothing.
func (e *Engine) StartSession(sessionID string, consent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[sessionID]; ok {
		return
	}

	src := newStreamSource()
	s := &session{
		id:         sessionID,
		consent:    consent,
		source:     src,
		limiter:    rate.NewLimiter(rate.Limit(e.cfg.ObservationsPerSec), e.cfg.ObservationBurst),
		signals:    make(map[int64]interest.Signals),
		lastActive: e.cfg.Now(),
	}
	s.adapter = viewport.NewAdapter(viewport.Config{
		Enabled:       consent,
		FlushInterval: e.cfg.FlushInterval,
		MinDwell:      e.cfg.MinDwell,
		MaxDwell:      e.cfg.MaxDwell,
		MinRatio:      e.cfg.MinRatio,
		Now:           e.cfg.Now,
	}, src, func(ev dwell.Event) {
		e.emit(s, ev)
	})

	e.sessions[sessionID] = s
	metrics.ActiveSessions.Set(float64(len(e.sessions)))

	e.logger.Debug().Str("session", sessionID).Bool("consent", consent).Msg("session started")
}

func (e *Engine) session(sessionID string) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// HandleObservations processes a batch of intersection tuples for a
// session. Elements are (re)bound to their listing on every tuple, so
// intake needs no separate mount protocol. Returns ErrSessionNotFound or
// ErrRateLimited; opted-out sessions accept and discard.
func (e *Engine) HandleObservations(sessionID string, batch []Observation) error {
	s, ok := e.session(sessionID)
	if !ok {
		metrics.ObservationsRejected.WithLabelValues("unknown_session").Inc()
		return ErrSessionNotFound
	}

	now := e.cfg.Now()
	s.touch(now)

	if !s.consent {
		metrics.ObservationsRejected.WithLabelValues("no_consent").Add(float64(len(batch)))
		return nil
	}
	if !s.limiter.AllowN(now, len(batch)) {
		metrics.ObservationsRejected.WithLabelValues("rate_limited").Add(float64(len(batch)))
		return ErrRateLimited
	}

	for _, o := range batch {
		s.adapter.TrackElement(o.ElementID, o.ListingID)
		s.source.push(o.ElementID, o.Intersecting, o.Ratio)
		metrics.ObservationsProcessed.Inc()
	}
	return nil
}

// Untrack stops observation of an element, typically when a virtualized
// grid unmounts a card. The tracker record survives so a later remount
// of the same listing is a revisit.
func (e *Engine) Untrack(sessionID, elementID string) error {
	s, ok := e.session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.touch(e.cfg.Now())
	s.adapter.UntrackElement(elementID)
	return nil
}

// RecordSignals folds client-reported engagement signals (favorites,
// alerts, detail-page dwell, image views, scroll depth, link clicks)
// into the session's per-listing state.
func (e *Engine) RecordSignals(sessionID string, listingID int64, in interest.Signals) error {
	s, ok := e.session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.touch(e.cfg.Now())
	if !s.consent {
		return nil
	}
	s.mergeSignals(listingID, in)
	return nil
}

// Flush forces the session's tracker to close open periods and emit
// qualified events. Clients call this on page-hide and unload.
func (e *Engine) Flush(sessionID string) error {
	s, ok := e.session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.touch(e.cfg.Now())
	s.adapter.Flush()
	return nil
}

// EndSession flushes and removes a session.
func (e *Engine) EndSession(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	metrics.ActiveSessions.Set(float64(len(e.sessions)))
	e.mu.Unlock()

	if ok {
		s.adapter.Flush()
	}
}

// Score returns the current interest result for a (session, listing)
// pair without emitting anything: stored signals merged with the live
// dwell measurement.
func (e *Engine) Score(sessionID string, listingID int64) (interest.Result, error) {
	s, ok := e.session(sessionID)
	if !ok {
		return interest.Result{}, ErrSessionNotFound
	}

	merged := interest.Merge(s.signalsFor(listingID), interest.Signals{
		ViewportDwellMs: s.adapter.Tracker().DwellTime(listingID).Milliseconds(),
		ReturnVisits:    returnVisits(s.adapter.Tracker().ViewCount(listingID)),
	})
	return e.cfg.Scoring.Score(merged), nil
}

// SessionCount reports the number of live sessions.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// emit is the dwell callback for every session adapter: merge the dwell
// measurement into the listing's signals, score, publish.
func (e *Engine) emit(s *session, ev dwell.Event) {
	merged := s.mergeSignals(ev.ListingID, interest.Signals{
		ViewportDwellMs: ev.DwellMs,
		ReturnVisits:    returnVisits(s.adapter.Tracker().ViewCount(ev.ListingID)),
	})
	result := e.cfg.Scoring.Score(merged)

	metrics.DwellEventsEmitted.Inc()
	metrics.InterestScores.Observe(float64(result.Score))

	envelope := DwellEnvelope{
		SessionID:         s.id,
		ListingID:         ev.ListingID,
		DwellMs:           ev.DwellMs,
		IntersectionRatio: ev.IntersectionRatio,
		IsRevisit:         ev.IsRevisit,
		Score:             result.Score,
		Tier:              result.TierLabel,
		Signals:           merged,
		Breakdown:         result.Breakdown,
		OccurredAt:        e.cfg.Now().UTC(),
	}
	if err := e.publisher.Publish(eventbus.TopicDwell, envelope); err != nil {
		e.logger.Warn().Err(err).
			Str("session", s.id).
			Int64("listing", ev.ListingID).
			Msg("publish dwell envelope failed")
	}
}

// Serve implements suture.Service: the periodic flush of every live
// session plus the idle eviction sweep. The flush ticker is what gets
// long uninterrupted dwell reported without any client-side flush;
// evicted sessions are additionally flushed before removal so open
// periods are not lost.
func (e *Engine) Serve(ctx context.Context) error {
	flushInterval := e.cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = viewport.DefaultFlushInterval
	}
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()

	evict := time.NewTicker(e.cfg.EvictInterval)
	defer evict.Stop()

	for {
		select {
		case <-flush.C:
			e.flushAll()
		case <-evict.C:
			e.evictIdle(e.cfg.Now())
		case <-ctx.Done():
			e.flushAll()
			return ctx.Err()
		}
	}
}

// evictIdle removes sessions idle beyond the timeout, flushing each
// before removal. Iteration order is fixed for deterministic logs.
func (e *Engine) evictIdle(now time.Time) {
	cutoff := now.Add(-e.cfg.IdleTimeout)

	e.mu.Lock()
	var idle []*session
	for _, s := range e.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	for _, s := range idle {
		delete(e.sessions, s.id)
	}
	remaining := len(e.sessions)
	e.mu.Unlock()

	sort.Slice(idle, func(i, j int) bool { return idle[i].id < idle[j].id })
	for _, s := range idle {
		s.adapter.Flush()
		metrics.SessionsEvicted.Inc()
		e.logger.Debug().Str("session", s.id).Msg("idle session evicted")
	}

	metrics.ActiveSessions.Set(float64(remaining))
}

// flushAll flushes every live session, for shutdown.
func (e *Engine) flushAll() {
	e.mu.Lock()
	all := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.Unlock()

	for _, s := range all {
		s.adapter.Flush()
	}
}

// returnVisits converts a tracker view count into the return-visit
// signal: the first view is not a return.
func returnVisits(viewCount int) int {
	if viewCount <= 1 {
		return 0
	}
	return viewCount - 1
}
