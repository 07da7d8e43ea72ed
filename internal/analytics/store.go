// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package analytics persists dwell events to DuckDB and serves the
// aggregation queries behind the admin dashboard and the featured
// ranker. DuckDB's columnar engine makes the aggregations cheap; writes
// arrive in batches from the event-bus writer.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/metrics"
)

const schema = `
	CREATE TABLE IF NOT EXISTS dwell_events (
		event_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		listing_id BIGINT NOT NULL,
		dwell_ms BIGINT NOT NULL,
		intersection_ratio DOUBLE NOT NULL,
		is_revisit BOOLEAN NOT NULL,
		score INTEGER NOT NULL,
		tier TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)
`

// Store is the DuckDB-backed dwell event archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the DuckDB database at path and ensures the
// schema exists. An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create dwell_events table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertBatch appends dwell envelopes in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, batch []engagement.DwellEnvelope) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dwell_events
			(event_id, session_id, listing_id, dwell_ms, intersection_ratio,
			 is_revisit, score, tier, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, env := range batch {
		_, err := stmt.ExecContext(ctx,
			uuid.NewString(),
			env.SessionID,
			env.ListingID,
			env.DwellMs,
			env.IntersectionRatio,
			env.IsRevisit,
			env.Score,
			env.Tier,
			env.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("insert dwell event for listing %d: %w", env.ListingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}

	metrics.AnalyticsEventsWritten.Add(float64(len(batch)))
	return nil
}

// ListingDwell is one row of the top-listings aggregation.
type ListingDwell struct {
	ListingID    int64   `json:"listing_id"`
	TotalDwellMs int64   `json:"total_dwell_ms"`
	Events       int64   `json:"events"`
	Sessions     int64   `json:"sessions"`
	MeanScore    float64 `json:"mean_score"`
}

// TopListingsByDwell returns listings ordered by total dwell time since
// the given time, limited to n.
func (s *Store) TopListingsByDwell(ctx context.Context, since time.Time, n int) ([]ListingDwell, error) {
	if n <= 0 {
		n = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id,
		       SUM(dwell_ms),
		       COUNT(*),
		       COUNT(DISTINCT session_id),
		       AVG(score)
		FROM dwell_events
		WHERE occurred_at >= ?
		GROUP BY listing_id
		ORDER BY SUM(dwell_ms) DESC, listing_id
		LIMIT ?
	`, since, n)
	if err != nil {
		return nil, fmt.Errorf("query top listings: %w", err)
	}
	defer rows.Close()

	var out []ListingDwell
	for rows.Next() {
		var row ListingDwell
		if err := rows.Scan(&row.ListingID, &row.TotalDwellMs, &row.Events, &row.Sessions, &row.MeanScore); err != nil {
			return nil, fmt.Errorf("scan top listings row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top listings: %w", err)
	}
	return out, nil
}

// TierDistribution returns event counts per tier label since the given
// time.
func (s *Store) TierDistribution(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, COUNT(*)
		FROM dwell_events
		WHERE occurred_at >= ?
		GROUP BY tier
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query tier distribution: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var tier string
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scan tier row: %w", err)
		}
		out[tier] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier distribution: %w", err)
	}
	return out, nil
}

// RevisitRate returns the fraction of events flagged as revisits since
// the given time; zero when there are no events.
func (s *Store) RevisitRate(ctx context.Context, since time.Time) (float64, error) {
	var total, revisits int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_revisit)
		FROM dwell_events
		WHERE occurred_at >= ?
	`, since).Scan(&total, &revisits)
	if err != nil {
		return 0, fmt.Errorf("query revisit rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(revisits) / float64(total), nil
}

// Summary is the headline engagement aggregation.
type Summary struct {
	Events      int64   `json:"events"`
	Sessions    int64   `json:"sessions"`
	Listings    int64   `json:"listings"`
	MeanScore   float64 `json:"mean_score"`
	MeanDwellMs float64 `json:"mean_dwell_ms"`
}

// EngagementSummary aggregates all events since the given time.
func (s *Store) EngagementSummary(ctx context.Context, since time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT session_id),
		       COUNT(DISTINCT listing_id),
		       COALESCE(AVG(score), 0),
		       COALESCE(AVG(dwell_ms), 0)
		FROM dwell_events
		WHERE occurred_at >= ?
	`, since).Scan(&sum.Events, &sum.Sessions, &sum.Listings, &sum.MeanScore, &sum.MeanDwellMs)
	if err != nil {
		return Summary{}, fmt.Errorf("query engagement summary: %w", err)
	}
	return sum, nil
}

// ListingEngagement returns the mean interest score per listing since
// the given time. Implements the featured ranker's engagement provider.
func (s *Store) ListingEngagement(ctx context.Context, since time.Time) (map[int64]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id, AVG(score)
		FROM dwell_events
		WHERE occurred_at >= ?
		GROUP BY listing_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query listing engagement: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var mean float64
		if err := rows.Scan(&id, &mean); err != nil {
			return nil, fmt.Errorf("scan listing engagement row: %w", err)
		}
		out[id] = mean
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing engagement: %w", err)
	}
	return out, nil
}
