package quote

import (
	"time"

	"github.com/contactkeval/option-analytics/internal/logger"
	"github.com/contactkeval/option-analytics/internal/store"
)

// LegKey identifies one memoized fetch: an instrument token plus the
// requested range bucket.
type LegKey struct {
	Token string
	From  int64 // unix seconds
	To    int64 // unix seconds
}

// NewLegKey builds a key for a token over [from, to].
func NewLegKey(token string, from, to time.Time) LegKey {
	return LegKey{Token: token, From: from.Unix(), To: to.Unix()}
}

// FetchCache memoizes leg fetches within the scope of a single analytics
// pass. The open- and close-price strike resolutions for one bar often
// land on the same strike, and the cache keeps that from turning into two
// identical upstream requests.
//
// A cache must be created fresh for every pass and discarded afterwards;
// upstream data for a still-forming bar may change between passes. Fetch
// failures propagate and are not cached, so the next access retries.
//
// Not safe for concurrent use; a pass is sequential by design.
type FetchCache struct {
	entries map[LegKey][]store.Bar
	hits    int
	misses  int
}

// NewFetchCache returns an empty pass-scoped cache.
func NewFetchCache() *FetchCache {
	return &FetchCache{entries: map[LegKey][]store.Bar{}}
}

// GetOrFetch returns the cached bars for key, or invokes fetch and caches
// the successful result.
func (c *FetchCache) GetOrFetch(key LegKey, fetch func() ([]store.Bar, error)) ([]store.Bar, error) {
	if bars, ok := c.entries[key]; ok {
		c.hits++
		logger.Tracef("event=leg_cache_hit token=%s", key.Token)
		return bars, nil
	}

	bars, err := fetch()
	if err != nil {
		return nil, err
	}

	c.entries[key] = bars
	c.misses++
	return bars, nil
}

// Stats reports cache hits and misses for pass-level diagnostics.
func (c *FetchCache) Stats() (hits, misses int) {
	return c.hits, c.misses
}
