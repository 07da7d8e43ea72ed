// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
)

func newTestAnalyticsStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("open in-memory duckdb: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEnvelope(session string, listing int64, dwellMs int64, score int, tier string, at time.Time) engagement.DwellEnvelope {
	return engagement.DwellEnvelope{
		SessionID:         session,
		ListingID:         listing,
		DwellMs:           dwellMs,
		IntersectionRatio: 0.8,
		Score:             score,
		Tier:              tier,
		OccurredAt:        at,
	}
}

func TestStoreInsertAndSummary(t *testing.T) {
	s := newTestAnalyticsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	batch := []engagement.DwellEnvelope{
		testEnvelope("sess-1", 1, 3000, 10, "GLANCED", now),
		testEnvelope("sess-1", 2, 8000, 20, "BROWSED", now),
		testEnvelope("sess-2", 1, 4000, 60, "INTERESTED", now),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	sum, err := s.EngagementSummary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("EngagementSummary: %v", err)
	}
	if sum.Events != 3 || sum.Sessions != 2 || sum.Listings != 2 {
		t.Errorf("summary = %+v, want 3 events / 2 sessions / 2 listings", sum)
	}
	if math.Abs(sum.MeanScore-30) > 1e-9 {
		t.Errorf("MeanScore = %v, want 30", sum.MeanScore)
	}
	if math.Abs(sum.MeanDwellMs-5000) > 1e-9 {
		t.Errorf("MeanDwellMs = %v, want 5000", sum.MeanDwellMs)
	}
}

func TestStoreInsertEmptyBatchIsNoop(t *testing.T) {
	s := newTestAnalyticsStore(t)

	if err := s.InsertBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch errored: %v", err)
	}
}

func TestStoreTopListingsByDwell(t *testing.T) {
	s := newTestAnalyticsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	batch := []engagement.DwellEnvelope{
		testEnvelope("sess-1", 1, 3000, 10, "GLANCED", now),
		testEnvelope("sess-2", 1, 5000, 20, "BROWSED", now),
		testEnvelope("sess-1", 2, 20000, 40, "INTERESTED", now),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopListingsByDwell(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("TopListingsByDwell: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("rows = %d, want 2", len(top))
	}
	if top[0].ListingID != 2 || top[0].TotalDwellMs != 20000 {
		t.Errorf("top row = %+v, want listing 2 with 20000ms", top[0])
	}
	if top[1].ListingID != 1 || top[1].TotalDwellMs != 8000 || top[1].Sessions != 2 {
		t.Errorf("second row = %+v, want listing 1, 8000ms, 2 sessions", top[1])
	}
}

func TestStoreTopListingsWindowExcludesOldEvents(t *testing.T) {
	s := newTestAnalyticsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	batch := []engagement.DwellEnvelope{
		testEnvelope("sess-1", 1, 3000, 10, "GLANCED", now),
		testEnvelope("sess-1", 2, 9000, 10, "GLANCED", now.Add(-48*time.Hour)),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopListingsByDwell(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].ListingID != 1 {
		t.Errorf("window query returned %+v, want only listing 1", top)
	}
}

func TestStoreTierDistribution(t *testing.T) {
	s := newTestAnalyticsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	batch := []engagement.DwellEnvelope{
		testEnvelope("sess-1", 1, 1000, 5, "GLANCED", now),
		testEnvelope("sess-1", 2, 1000, 6, "GLANCED", now),
		testEnvelope("sess-2", 3, 1000, 90, "READY_TO_BUY", now),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	dist, err := s.TierDistribution(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("TierDistribution: %v", err)
	}
	if dist["GLANCED"] != 2 || dist["READY_TO_BUY"] != 1 {
		t.Errorf("distribution = %v, want GLANCED:2 READY_TO_BUY:1", dist)
	}
}

func TestStoreRevisitRate(t *testing.T) {
	s := newTestAnalyticsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	rate, err := s.RevisitRate(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RevisitRate on empty store: %v", err)
	}
	if rate != 0 {
		t.Errorf("empty-store rate = %v, want 0", rate)
	}

	first := testEnvelope("sess-1", 1, 2000, 10, "GLANCED", now)
	second := testEnvelope("sess-1", 2, 2000, 10, "GLANCED", now)
	revisit := testEnvelope("sess-1", 3, 2000, 10, "GLANCED", now)
	revisit.IsRevisit = true
	third := testEnvelope("sess-2", 1, 2000, 10, "GLANCED", now)
	if err := s.InsertBatch(ctx, []engagement.DwellEnvelope{first, second, revisit, third}); err != nil {
		t.Fatal(err)
	}

	rate, err = s.RevisitRate(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RevisitRate: %v", err)
	}
	if math.Abs(rate-0.25) > 1e-9 {
		t.Errorf("rate = %v, want 0.25", rate)
	}
}

func TestStoreListingEngagement(t *testing.T) {
	s := newTestAnalyticsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	batch := []engagement.DwellEnvelope{
		testEnvelope("sess-1", 1, 2000, 40, "INTERESTED", now),
		testEnvelope("sess-2", 1, 2000, 60, "INTERESTED", now),
		testEnvelope("sess-1", 2, 2000, 10, "GLANCED", now),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	eng, err := s.ListingEngagement(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListingEngagement: %v", err)
	}
	if math.Abs(eng[1]-50) > 1e-9 {
		t.Errorf("listing 1 mean = %v, want 50", eng[1])
	}
	if math.Abs(eng[2]-10) > 1e-9 {
		t.Errorf("listing 2 mean = %v, want 10", eng[2])
	}
}
