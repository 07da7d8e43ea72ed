// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nihontowatch/nihontowatch/internal/eventbus"
	"github.com/nihontowatch/nihontowatch/internal/interest"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type capturePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *capturePublisher) Publish(topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePublisher) envelopes() []DwellEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []DwellEnvelope
	for i, topic := range p.topics {
		if topic == eventbus.TopicDwell {
			out = append(out, p.payloads[i].(DwellEnvelope))
		}
	}
	return out
}

func newTestEngine(clock *testClock, pub *capturePublisher, overrides ...func(*Config)) *Engine {
	cfg := Config{Now: clock.Now}
	for _, o := range overrides {
		o(&cfg)
	}
	return NewEngine(cfg, pub)
}

func TestEngineObservationsToEnvelope(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", true)

	obs := []Observation{{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.8}}
	if err := e.HandleObservations("sess-1", obs); err != nil {
		t.Fatalf("HandleObservations: %v", err)
	}

	clock.Advance(3 * time.Second)
	if err := e.Flush("sess-1"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	envs := pub.envelopes()
	if len(envs) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(envs))
	}
	env := envs[0]
	if env.SessionID != "sess-1" || env.ListingID != 42 {
		t.Errorf("envelope identity = %s/%d, want sess-1/42", env.SessionID, env.ListingID)
	}
	if env.DwellMs != 3000 {
		t.Errorf("DwellMs = %d, want 3000", env.DwellMs)
	}
	// 3s dwell at 0.5 pts/s = 1.5, rounds to 2 = GLANCED.
	if env.Score != 2 || env.Tier != "GLANCED" {
		t.Errorf("score = %d tier = %s, want 2 GLANCED", env.Score, env.Tier)
	}
	if env.IsRevisit {
		t.Error("first view marked as revisit")
	}
}

func TestEngineSignalsRaiseScore(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", true)
	if err := e.RecordSignals("sess-1", 42, interest.Signals{Favorited: true}); err != nil {
		t.Fatalf("RecordSignals: %v", err)
	}

	obs := []Observation{{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9}}
	if err := e.HandleObservations("sess-1", obs); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)
	if err := e.Flush("sess-1"); err != nil {
		t.Fatal(err)
	}

	envs := pub.envelopes()
	if len(envs) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(envs))
	}
	// 10s dwell = 5 points + favorite 50 = 55 INTERESTED.
	if envs[0].Score != 55 || envs[0].Tier != "INTERESTED" {
		t.Errorf("score = %d tier = %s, want 55 INTERESTED", envs[0].Score, envs[0].Tier)
	}
	if !envs[0].Signals.Favorited {
		t.Error("favorite signal not carried in envelope")
	}
}

func TestEngineSubThresholdDwellEmitsNothing(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", true)
	obs := []Observation{{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.8}}
	if err := e.HandleObservations("sess-1", obs); err != nil {
		t.Fatal(err)
	}
	clock.Advance(500 * time.Millisecond)
	if err := e.Flush("sess-1"); err != nil {
		t.Fatal(err)
	}

	if got := pub.envelopes(); len(got) != 0 {
		t.Errorf("envelopes = %d, want 0 for sub-threshold dwell", len(got))
	}
}

func TestEngineNoConsentDiscardsIntake(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", false)

	obs := []Observation{{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9}}
	if err := e.HandleObservations("sess-1", obs); err != nil {
		t.Fatalf("opted-out intake should not error, got %v", err)
	}
	clock.Advance(10 * time.Second)
	if err := e.Flush("sess-1"); err != nil {
		t.Fatal(err)
	}

	if got := pub.envelopes(); len(got) != 0 {
		t.Errorf("envelopes = %d, want 0 for opted-out session", len(got))
	}
}

func TestEngineUnknownSession(t *testing.T) {
	e := newTestEngine(newTestClock(), &capturePublisher{})

	err := e.HandleObservations("nope", nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("HandleObservations error = %v, want ErrSessionNotFound", err)
	}
	if err := e.Flush("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Flush error = %v, want ErrSessionNotFound", err)
	}
}

func TestEngineRateLimitRejectsBurst(t *testing.T) {
	clock := newTestClock()
	e := newTestEngine(clock, &capturePublisher{}, func(c *Config) {
		c.ObservationsPerSec = 1
		c.ObservationBurst = 2
	})

	e.StartSession("sess-1", true)

	small := []Observation{{ElementID: "card-1", ListingID: 1, Intersecting: true, Ratio: 0.9}}
	if err := e.HandleObservations("sess-1", small); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	big := make([]Observation, 10)
	for i := range big {
		big[i] = Observation{ElementID: "card-x", ListingID: 1, Intersecting: true, Ratio: 0.9}
	}
	if err := e.HandleObservations("sess-1", big); !errors.Is(err, ErrRateLimited) {
		t.Errorf("oversized batch error = %v, want ErrRateLimited", err)
	}
}

func TestEngineRevisitAcrossElements(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", true)

	// First mount: listing 42 rendered as card-1. A one-second look
	// stays under the emission threshold.
	if err := e.HandleObservations("sess-1", []Observation{
		{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9},
	}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	if err := e.HandleObservations("sess-1", []Observation{
		{ElementID: "card-1", ListingID: 42, Intersecting: false, Ratio: 0},
	}); err != nil {
		t.Fatal(err)
	}
	if err := e.Untrack("sess-1", "card-1"); err != nil {
		t.Fatal(err)
	}

	// Grid recycles; the same listing comes back as card-9.
	if err := e.HandleObservations("sess-1", []Observation{
		{ElementID: "card-9", ListingID: 42, Intersecting: true, Ratio: 0.9},
	}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(3 * time.Second)
	if err := e.Flush("sess-1"); err != nil {
		t.Fatal(err)
	}

	envs := pub.envelopes()
	if len(envs) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(envs))
	}
	if !envs[0].IsRevisit {
		t.Error("second mount of the same listing not flagged as revisit")
	}
	if envs[0].Signals.ReturnVisits != 1 {
		t.Errorf("ReturnVisits = %d, want 1", envs[0].Signals.ReturnVisits)
	}
	if envs[0].DwellMs != 4000 {
		t.Errorf("DwellMs = %d, want 4000 accumulated across mounts", envs[0].DwellMs)
	}
}

func TestEngineScoreQueryDoesNotEmit(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", true)
	if err := e.HandleObservations("sess-1", []Observation{
		{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9},
	}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(40 * time.Second)

	result, err := e.Score("sess-1", 42)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// 40s dwell caps the dwell row at 20 points.
	if result.Score != 20 {
		t.Errorf("Score = %d, want 20", result.Score)
	}
	if got := pub.envelopes(); len(got) != 0 {
		t.Errorf("Score query published %d envelopes, want 0", len(got))
	}
}

func TestEngineIdleEvictionFlushesFirst(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub, func(c *Config) {
		c.IdleTimeout = 5 * time.Minute
	})

	e.StartSession("sess-1", true)
	if err := e.HandleObservations("sess-1", []Observation{
		{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9},
	}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Minute)
	e.evictIdle(clock.Now())

	if e.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0 after eviction", e.SessionCount())
	}

	envs := pub.envelopes()
	if len(envs) != 1 {
		t.Fatalf("envelopes = %d, want 1 from flush-before-evict", len(envs))
	}
	// MaxDwell caps the reported time even though the card sat visible
	// for ten minutes.
	if envs[0].DwellMs != 300000 {
		t.Errorf("DwellMs = %d, want 300000 (capped)", envs[0].DwellMs)
	}
}

func TestEngineEndSessionFlushes(t *testing.T) {
	clock := newTestClock()
	pub := &capturePublisher{}
	e := newTestEngine(clock, pub)

	e.StartSession("sess-1", true)
	if err := e.HandleObservations("sess-1", []Observation{
		{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9},
	}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Second)

	e.EndSession("sess-1")

	if e.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", e.SessionCount())
	}
	if got := pub.envelopes(); len(got) != 1 {
		t.Errorf("envelopes = %d, want 1 from end-of-session flush", len(got))
	}
}

func TestEngineStartSessionIdempotent(t *testing.T) {
	e := newTestEngine(newTestClock(), &capturePublisher{})

	e.StartSession("sess-1", true)
	e.StartSession("sess-1", true)

	if e.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", e.SessionCount())
	}
}

// A listing left visible must be reported by the engine's own flush
// ticker; no client-side flush, hide, or eviction is involved. Uses the
// wall clock because the ticker does.
func TestEngineServePeriodicallyFlushesLiveSessions(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEngine(Config{
		MinDwell:      5 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
	}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()

	e.StartSession("sess-1", true)
	obs := []Observation{{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.9}}
	if err := e.HandleObservations("sess-1", obs); err != nil {
		t.Fatalf("HandleObservations: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(pub.envelopes()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	envs := pub.envelopes()
	if len(envs) == 0 {
		t.Fatal("no envelope published by the periodic flush")
	}
	if envs[0].ListingID != 42 {
		t.Errorf("ListingID = %d, want 42", envs[0].ListingID)
	}
	if envs[0].DwellMs < 5 {
		t.Errorf("DwellMs = %d, want at least the minimum dwell", envs[0].DwellMs)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
