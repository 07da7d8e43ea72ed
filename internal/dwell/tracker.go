// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package dwell implements the per-listing visible-time state machine.
//
// A Tracker converts a stream of viewport intersection observations into
// accumulated dwell time per listing and emits a bounded set of dwell
// events. It is pure in-memory bookkeeping: no I/O, no failure modes.
// The only contract obligation on callers is to invoke Flush before
// teardown, otherwise time accrued in an open visible period is lost.
//
// Each listing moves through three states: absent (never observed),
// tracked-hidden (observed but below the visibility threshold) and
// tracked-visible (threshold met, a visible period is open). Time is only
// reconciled when a period closes - on a visible-to-hidden transition or
// on Flush - never mid-period.
package dwell

import (
	"sort"
	"sync"
	"time"
)

// Defaults applied by NewTracker when the corresponding option is zero.
const (
	// DefaultMinDwell is the minimum accumulated visible time before a
	// dwell event may be emitted.
	DefaultMinDwell = 1500 * time.Millisecond

	// DefaultMaxDwell caps any single emitted dwell duration and any
	// value returned by DwellTime. Guards against tabs left open.
	DefaultMaxDwell = 5 * time.Minute

	// DefaultMinRatio is the minimum intersection ratio for a period to
	// count as visible. An element 40% in view does not count even if
	// the observer reports it as intersecting.
	DefaultMinRatio = 0.5
)

// Event is emitted once per listing when its accumulated visible time
// crosses the minimum dwell threshold.
type Event struct {
	// ListingID identifies the listing the element represents.
	ListingID int64 `json:"listing_id"`

	// DwellMs is the accumulated visible time in milliseconds, capped
	// at the tracker's maximum dwell.
	DwellMs int64 `json:"dwell_ms"`

	// IntersectionRatio is the last ratio observed before emission.
	IntersectionRatio float64 `json:"intersection_ratio"`

	// IsRevisit is true when the listing had more than one distinct
	// visible period at emission time.
	IsRevisit bool `json:"is_revisit"`
}

// Stats is a diagnostic snapshot of tracker state.
type Stats struct {
	// Tracked is the number of listings with a record.
	Tracked int `json:"tracked"`

	// Visible is the number of listings with an open visible period.
	Visible int `json:"visible"`

	// Reported is the number of listings that have emitted an event.
	Reported int `json:"reported"`
}

// record holds per-listing dwell state. Owned exclusively by one Tracker
// for its lifetime; destroyed only by Clear.
type record struct {
	// visibleSince marks the start of the current open visible period.
	// Zero when not visible.
	visibleSince time.Time

	// accumulated is total visible time across closed periods. Never
	// decreases except via Clear.
	accumulated time.Duration

	// viewCount increments only on a hidden-to-visible transition.
	viewCount int

	// lastRatio is updated on every observation, visible or not.
	lastRatio float64

	// reported latches once an event has been emitted. It never resets
	// for the record's lifetime, so a listing emits at most one event
	// per tracker lifetime regardless of how often it is revisited.
	reported bool
}

// Options configures a Tracker. The zero value selects all defaults.
type Options struct {
	// MinDwell is the emission threshold. Default DefaultMinDwell.
	MinDwell time.Duration

	// MaxDwell caps emitted and reported durations. Default DefaultMaxDwell.
	MaxDwell time.Duration

	// MinRatio is the visibility threshold. Default DefaultMinRatio.
	MinRatio float64

	// OnDwell is invoked synchronously for each emitted event. It must
	// not block; downstream delivery is the callback's problem.
	OnDwell func(Event)

	// Now overrides the clock, for tests. Default time.Now.
	Now func() time.Time
}

// Tracker accumulates per-listing dwell time from intersection
// observations. Safe for concurrent use: observation callbacks and the
// periodic flush may run on different goroutines.
type Tracker struct {
	mu       sync.Mutex
	records  map[int64]*record
	minDwell time.Duration
	maxDwell time.Duration
	minRatio float64
	onDwell  func(Event)
	now      func() time.Time
}

// NewTracker creates a Tracker with the given options.
func NewTracker(opts Options) *Tracker {
	if opts.MinDwell <= 0 {
		opts.MinDwell = DefaultMinDwell
	}
	if opts.MaxDwell <= 0 {
		opts.MaxDwell = DefaultMaxDwell
	}
	if opts.MinRatio <= 0 {
		opts.MinRatio = DefaultMinRatio
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Tracker{
		records:  make(map[int64]*record),
		minDwell: opts.MinDwell,
		maxDwell: opts.MaxDwell,
		minRatio: opts.MinRatio,
		onDwell:  opts.OnDwell,
		now:      opts.Now,
	}
}

// HandleIntersection is the sole state-transition entry point. It applies
// one observation for a listing: whether the element intersects the
// viewport and what fraction of it is visible. Duplicate or redundant
// observations are idempotent no-ops relative to state.
func (t *Tracker) HandleIntersection(listingID int64, intersecting bool, ratio float64) {
	var emitted *Event

	t.mu.Lock()
	rec, ok := t.records[listingID]
	if !ok {
		rec = &record{}
		t.records[listingID] = rec
	}

	visible := intersecting && ratio >= t.minRatio
	wasVisible := !rec.visibleSince.IsZero()

	// Ratio bookkeeping happens unconditionally, even while hidden, so
	// the ratio at emission reflects the most recent observation.
	rec.lastRatio = ratio

	switch {
	case visible && !wasVisible:
		rec.visibleSince = t.now()
		rec.viewCount++

	case !visible && wasVisible:
		t.closePeriodLocked(rec)
		emitted = t.maybeEmitLocked(rec, listingID)
	}
	t.mu.Unlock()

	// Callback runs outside the lock so a re-entrant consumer cannot
	// deadlock the tracker.
	if emitted != nil && t.onDwell != nil {
		t.onDwell(*emitted)
	}
}

// closePeriodLocked folds the open visible period into accumulated time.
func (t *Tracker) closePeriodLocked(rec *record) {
	if rec.visibleSince.IsZero() {
		return
	}
	if elapsed := t.now().Sub(rec.visibleSince); elapsed > 0 {
		rec.accumulated += elapsed
	}
	rec.visibleSince = time.Time{}
}

// maybeEmitLocked applies the emission rule and returns the event, or nil.
func (t *Tracker) maybeEmitLocked(rec *record, listingID int64) *Event {
	if rec.reported || rec.accumulated < t.minDwell {
		return nil
	}

	rec.reported = true

	dwell := rec.accumulated
	if dwell > t.maxDwell {
		dwell = t.maxDwell
	}

	return &Event{
		ListingID:         listingID,
		DwellMs:           dwell.Milliseconds(),
		IntersectionRatio: rec.lastRatio,
		IsRevisit:         rec.viewCount > 1,
	}
}

// DwellTime returns the total visible time for a listing, including the
// current open period, capped at the maximum dwell. Unknown listings
// return zero. Side-effect-free: no mutation, no emission.
func (t *Tracker) DwellTime(listingID int64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[listingID]
	if !ok {
		return 0
	}

	total := rec.accumulated
	if !rec.visibleSince.IsZero() {
		total += t.now().Sub(rec.visibleSince)
	}
	if total > t.maxDwell {
		total = t.maxDwell
	}
	return total
}

// ViewCount returns the number of distinct visible periods for a listing,
// or zero if unknown.
func (t *Tracker) ViewCount(listingID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[listingID]
	if !ok {
		return 0
	}
	return rec.viewCount
}

// IsRevisit reports whether the listing has had more than one distinct
// visible period.
func (t *Tracker) IsRevisit(listingID int64) bool {
	return t.ViewCount(listingID) > 1
}

// Flush closes every open visible period and evaluates the emission rule
// for every tracked listing, not just the previously-visible ones. It
// returns the newly emitted events (also delivered through OnDwell).
//
// Callers must flush on page-hide and before teardown; that is the only
// guarantee against losing an open period's time. Flushing twice in a row
// is harmless: already-reported listings emit nothing further.
func (t *Tracker) Flush() []Event {
	var events []Event

	t.mu.Lock()
	// Iterate in listing-id order so emission order is deterministic
	// across runs; map iteration order is not.
	ids := make([]int64, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		rec := t.records[id]
		t.closePeriodLocked(rec)
		if ev := t.maybeEmitLocked(rec, id); ev != nil {
			events = append(events, *ev)
		}
	}
	t.mu.Unlock()

	if t.onDwell != nil {
		for _, ev := range events {
			t.onDwell(ev)
		}
	}
	return events
}

// Clear discards all records. Intended for explicit resets and test
// isolation; there is no per-record eviction.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[int64]*record)
}

// Stats returns a diagnostic snapshot. No side effects.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{Tracked: len(t.records)}
	for _, rec := range t.records {
		if !rec.visibleSince.IsZero() {
			s.Visible++
		}
		if rec.reported {
			s.Reported++
		}
	}
	return s
}
