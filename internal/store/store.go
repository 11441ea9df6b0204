// Package store holds OHLC price bars keyed by (series id, timestamp).
//
// The store is the single owner of all ingested bars. Upserts are
// idempotent and last-write-wins: replaying the same bar leaves state
// unchanged, and a later write for the same key replaces the earlier one.
// The store's mutex is the serialization point for same-key writes.
package store

import (
	"sort"
	"sync"
	"time"
)

// Bar is one OHLC(+volume) observation for a series.
//
// Timestamps are expected to be minute-aligned and normalized to a single
// reference zone before ingestion; the store treats them as opaque keys.
type Bar struct {
	SeriesID  string    `json:"series_id"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume,omitempty"`
}

// Store is an in-memory append/merge bar store.
//
// Safe for concurrent use; upserts to different series are independent
// apart from sharing one lock, and same-key writes resolve last-applied-wins
// in the order the lock is acquired.
type Store struct {
	mu     sync.RWMutex
	series map[string]map[int64]Bar
}

// New returns an empty store.
func New() *Store {
	return &Store{series: map[string]map[int64]Bar{}}
}

// Upsert inserts or replaces the bar for (bar.SeriesID, bar.Timestamp).
func (s *Store) Upsert(bar Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(bar)
}

// UpsertMany applies Upsert to each bar under a single lock acquisition.
func (s *Store) UpsertMany(bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		s.upsertLocked(b)
	}
}

func (s *Store) upsertLocked(bar Bar) {
	m, ok := s.series[bar.SeriesID]
	if !ok {
		m = map[int64]Bar{}
		s.series[bar.SeriesID] = m
	}
	m[bar.Timestamp.Unix()] = bar
}

// Get returns the bar stored for the exact (seriesID, ts) key.
func (s *Store) Get(seriesID string, ts time.Time) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.series[seriesID][ts.Unix()]
	return b, ok
}

// Latest returns the bar with the maximum timestamp for the series,
// or false if the series is empty.
func (s *Store) Latest(seriesID string) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.series[seriesID]
	if len(m) == 0 {
		return Bar{}, false
	}

	var best Bar
	found := false
	for _, b := range m {
		if !found || b.Timestamp.After(best.Timestamp) {
			best = b
			found = true
		}
	}
	return best, found
}

// Range returns the series bars with from <= timestamp <= to,
// sorted by ascending timestamp.
func (s *Store) Range(seriesID string, from, to time.Time) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Bar{}
	for _, b := range s.series[seriesID] {
		if b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Count returns the number of bars held for the series.
func (s *Store) Count(seriesID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[seriesID])
}
