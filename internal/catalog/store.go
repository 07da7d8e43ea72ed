// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ErrListingNotFound is returned by Get for unknown listing ids.
var ErrListingNotFound = errors.New("listing not found")

// Key prefix for BadgerDB storage.
const listingKeyPrefix = "listing:"

// Store is a BadgerDB-backed listing registry. The catalog is small
// (thousands of listings), so list queries are prefix scans filtered in
// memory rather than secondary indexes.
type Store struct {
	db *badger.DB
}

// NewStore creates a store over an open Badger database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func listingKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", listingKeyPrefix, id))
}

// Upsert inserts or updates a listing. FirstSeen and FeaturedScore of an
// existing entry are preserved; everything else is overwritten with the
// incoming snapshot.
func (s *Store) Upsert(ctx context.Context, listing *Listing) error {
	if listing == nil {
		return errors.New("nil listing")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := listingKey(listing.ID)

		if item, err := txn.Get(key); err == nil {
			var existing Listing
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			})
			if err != nil {
				return fmt.Errorf("decode existing listing %d: %w", listing.ID, err)
			}
			if !existing.FirstSeen.IsZero() {
				listing.FirstSeen = existing.FirstSeen
			}
			listing.FeaturedScore = existing.FeaturedScore
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get listing %d: %w", listing.ID, err)
		}

		if listing.FirstSeen.IsZero() {
			listing.FirstSeen = listing.LastSeen
		}

		data, err := json.Marshal(listing)
		if err != nil {
			return fmt.Errorf("marshal listing %d: %w", listing.ID, err)
		}
		return txn.Set(key, data)
	})
}

// Get retrieves a listing by id.
func (s *Store) Get(ctx context.Context, id int64) (*Listing, error) {
	var listing Listing

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(listingKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrListingNotFound
		}
		if err != nil {
			return fmt.Errorf("get listing %d: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &listing)
		})
	})
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// List returns listings matching the filter, newest LastSeen first,
// paged. The second return value is the total match count before paging.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Listing, int, error) {
	matches, err := s.scan(func(l *Listing) bool {
		return matchesFilter(l, filter)
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].LastSeen.Equal(matches[j].LastSeen) {
			return matches[i].LastSeen.After(matches[j].LastSeen)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	return page(matches, filter.Page, filter.PageSize), total, nil
}

// Featured returns live listings ordered by featured score, highest
// first, limited to n.
func (s *Store) Featured(ctx context.Context, n int) ([]*Listing, error) {
	matches, err := s.scan(func(l *Listing) bool {
		return !l.Sold
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].FeaturedScore != matches[j].FeaturedScore {
			return matches[i].FeaturedScore > matches[j].FeaturedScore
		}
		return matches[i].ID < matches[j].ID
	})

	if n > 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// SetFeaturedScore updates only the featured score of a listing.
func (s *Store) SetFeaturedScore(ctx context.Context, id int64, score float64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := listingKey(id)

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrListingNotFound
		}
		if err != nil {
			return fmt.Errorf("get listing %d: %w", id, err)
		}

		var listing Listing
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &listing)
		})
		if err != nil {
			return fmt.Errorf("decode listing %d: %w", id, err)
		}

		listing.FeaturedScore = score
		data, err := json.Marshal(&listing)
		if err != nil {
			return fmt.Errorf("marshal listing %d: %w", id, err)
		}
		return txn.Set(key, data)
	})
}

// Count returns the number of stored listings.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(listingKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// scan iterates all listings and collects those the predicate accepts.
func (s *Store) scan(keep func(*Listing) bool) ([]*Listing, error) {
	var matches []*Listing

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(listingKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var listing Listing
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &listing)
			})
			if err != nil {
				return fmt.Errorf("decode listing: %w", err)
			}
			if keep(&listing) {
				l := listing
				matches = append(matches, &l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func matchesFilter(l *Listing, f Filter) bool {
	if f.Category != "" && l.Category != f.Category {
		return false
	}
	if f.Dealer != "" && l.Dealer != f.Dealer {
		return false
	}
	if f.Era != "" && l.Era != f.Era {
		return false
	}
	if f.MaxPriceJPY > 0 && (l.PriceJPY == 0 || l.PriceJPY > f.MaxPriceJPY) {
		return false
	}
	if !f.IncludeSold && l.Sold {
		return false
	}
	return true
}

func page(listings []*Listing, pageNum, pageSize int) []*Listing {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if pageNum <= 0 {
		pageNum = 1
	}

	start := (pageNum - 1) * pageSize
	if start >= len(listings) {
		return []*Listing{}
	}
	end := start + pageSize
	if end > len(listings) {
		end = len(listings)
	}
	return listings[start:end]
}
