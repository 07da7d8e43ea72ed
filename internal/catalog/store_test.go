// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db)
}

func testListing(id int64) *Listing {
	return &Listing{
		ID:         id,
		Dealer:     "aoi-art",
		Title:      "Katana signed Kanemoto",
		Category:   CategoryKatana,
		Era:        "koto",
		PriceJPY:   850000,
		URL:        "https://example.com/listing",
		ImageCount: 6,
		FirstSeen:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStoreUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := testListing(1)
	if err := s.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != want.Title || got.Dealer != want.Dealer || got.PriceJPY != want.PriceJPY {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestStoreGetUnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), 999)
	if !errors.Is(err, ErrListingNotFound) {
		t.Errorf("Get error = %v, want ErrListingNotFound", err)
	}
}

func TestStoreUpsertPreservesFirstSeenAndScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	original := testListing(1)
	if err := s.Upsert(ctx, original); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.SetFeaturedScore(ctx, 1, 42.5); err != nil {
		t.Fatalf("SetFeaturedScore: %v", err)
	}

	// Scraper re-observes the listing with a later LastSeen.
	update := testListing(1)
	update.FirstSeen = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	update.LastSeen = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	update.PriceJPY = 800000
	if err := s.Upsert(ctx, update); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	got, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.FirstSeen.Equal(original.FirstSeen) {
		t.Errorf("FirstSeen = %v, want preserved %v", got.FirstSeen, original.FirstSeen)
	}
	if got.FeaturedScore != 42.5 {
		t.Errorf("FeaturedScore = %v, want preserved 42.5", got.FeaturedScore)
	}
	if got.PriceJPY != 800000 {
		t.Errorf("PriceJPY = %d, want updated 800000", got.PriceJPY)
	}
}

func TestStoreListFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		l := testListing(i)
		l.LastSeen = l.LastSeen.Add(time.Duration(i) * time.Hour)
		if i%2 == 0 {
			l.Category = CategoryTsuba
		}
		if err := s.Upsert(ctx, l); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}

	katana, total, err := s.List(ctx, Filter{Category: CategoryKatana})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(katana) != 3 {
		t.Errorf("katana total = %d len = %d, want 3/3", total, len(katana))
	}

	// Newest LastSeen first.
	if katana[0].ID != 5 {
		t.Errorf("first listing = %d, want 5 (newest)", katana[0].ID)
	}

	pageTwo, total, err := s.List(ctx, Filter{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(pageTwo) != 2 {
		t.Errorf("page 2 len = %d, want 2", len(pageTwo))
	}
}

func TestStoreListExcludesSoldByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := testListing(1)
	sold := testListing(2)
	sold.Sold = true
	if err := s.Upsert(ctx, live); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, sold); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("List = %d listings, want only the live one", len(got))
	}

	all, _, err := s.List(ctx, Filter{IncludeSold: true})
	if err != nil {
		t.Fatalf("List include sold: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List with sold = %d listings, want 2", len(all))
	}
}

func TestStoreListMaxPriceExcludesPriceOnRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	priced := testListing(1)
	ask := testListing(2)
	ask.PriceJPY = 0
	if err := s.Upsert(ctx, priced); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, ask); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.List(ctx, Filter{MaxPriceJPY: 1000000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("price filter matched %d listings, want just the priced one", len(got))
	}
}

func TestStoreFeaturedOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := s.Upsert(ctx, testListing(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetFeaturedScore(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFeaturedScore(ctx, 2, 30); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFeaturedScore(ctx, 3, 20); err != nil {
		t.Fatal(err)
	}

	got, err := s.Featured(ctx, 2)
	if err != nil {
		t.Fatalf("Featured: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Featured len = %d, want 2", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("Featured order = [%d %d], want [2 3]", got[0].ID, got[1].ID)
	}
}

func TestStoreCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		if err := s.Upsert(ctx, testListing(i)); err != nil {
			t.Fatal(err)
		}
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 4 {
		t.Errorf("Count = %d, want 4", count)
	}
}
