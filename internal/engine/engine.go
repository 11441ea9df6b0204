// Package engine orchestrates one analytics cycle: observe the
// underlying, maybe rebalance the ATM window, ingest option-leg bars,
// and compose analytics records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contactkeval/option-analytics/internal/analytics"
	"github.com/contactkeval/option-analytics/internal/atm"
	"github.com/contactkeval/option-analytics/internal/catalog"
	"github.com/contactkeval/option-analytics/internal/config"
	"github.com/contactkeval/option-analytics/internal/logger"
	"github.com/contactkeval/option-analytics/internal/pricing"
	"github.com/contactkeval/option-analytics/internal/quote"
	"github.com/contactkeval/option-analytics/internal/store"
)

// ErrNoExpiry indicates the catalog holds no future expiry for the symbol.
var ErrNoExpiry = errors.New("no future expiry in catalog")

// Engine wires the catalog, quote source, bar store, rebalance controller
// and composer into the per-cadence entry point RunPass.
type Engine struct {
	cfg      *config.Config
	loc      *time.Location
	source   quote.Source
	bars     *store.Store
	ctrl     *atm.Controller
	composer *analytics.Composer
	expiry   time.Time
}

// New builds an engine. The nearest future expiry for the configured
// symbol is fixed at construction, matching the single-expiry scope of a
// run; a process restart picks up the next expiry after rollover.
func New(cfg *config.Config, cat *catalog.Catalog, source quote.Source, bars *store.Store, now time.Time) (*Engine, error) {
	loc := cfg.Location()

	expiryDate, ok := cat.NearestExpiry(cfg.Symbol, atm.IndexOptionType, now)
	if !ok {
		return nil, fmt.Errorf("%w: symbol %s", ErrNoExpiry, cfg.Symbol)
	}
	expiry := pricing.ExpiryInstant(expiryDate, loc)

	composer, err := analytics.NewComposer(bars, cfg.StrikeStep, cfg.RiskFreeRate, loc, cfg.RowFilter)
	if err != nil {
		return nil, err
	}

	resolver := atm.NewResolver(cat, expiryDate)
	ctrl := atm.NewController(resolver, cfg.Symbol, cfg.StrikeStep, cfg.WindowSteps, cfg.TokenLimit)

	logger.Infof(
		"event=engine_ready symbol=%s expiry=%s step=%.2f window_steps=%d",
		cfg.Symbol, expiry.Format(time.RFC3339), cfg.StrikeStep, cfg.WindowSteps,
	)

	return &Engine{
		cfg:      cfg,
		loc:      loc,
		source:   source,
		bars:     bars,
		ctrl:     ctrl,
		composer: composer,
		expiry:   expiry,
	}, nil
}

// Expiry returns the expiry instant the engine prices against.
func (e *Engine) Expiry() time.Time { return e.expiry }

// FetchLatestUnderlying fetches the most recent minute bar for the
// underlying, normalized to the reference zone.
func (e *Engine) FetchLatestUnderlying(ctx context.Context, now time.Time) (store.Bar, error) {
	from := now.Add(-time.Minute)
	bars, err := e.source.FetchHistory(
		ctx, e.cfg.UnderlyingExchange, e.cfg.UnderlyingToken,
		from, now, quote.IntervalOneMinute,
	)
	if err != nil {
		return store.Bar{}, err
	}
	if len(bars) == 0 {
		return store.Bar{}, &quote.FetchError{
			Exchange: e.cfg.UnderlyingExchange,
			Token:    e.cfg.UnderlyingToken,
			Err:      errors.New("no underlying bars in latest window"),
		}
	}
	return bars[len(bars)-1], nil
}

// RunPass executes one analytics pass for the given underlying bar.
//
// Per-leg fetch failures never abort the pass: the pass completes with
// whatever records could be computed plus explicit skip reports for the
// rest. Only an unusable underlying observation is a pass-level error.
func (e *Engine) RunPass(ctx context.Context, underlying store.Bar) ([]analytics.Record, []analytics.SkipReport, error) {
	// Fresh cache per pass; cross-pass reuse would serve bars for a
	// still-forming minute.
	cache := quote.NewFetchCache()

	win, rebalanced, err := e.ctrl.Observe(underlying.Close, underlying.Timestamp)
	if err != nil {
		return nil, nil, fmt.Errorf("run pass: %w", err)
	}
	if rebalanced {
		logger.Infof("event=pass_window center=%.2f tokens=%d", win.CenterStrike, len(win.Tokens()))
	}

	e.bars.Upsert(underlying)

	from := underlying.Timestamp
	to := underlying.Timestamp.Add(time.Minute)
	skips := e.ingestLegs(ctx, cache, win, from, to)

	records, composeSkips := e.composer.Compose([]store.Bar{underlying}, win.Pair)
	skips = append(skips, composeSkips...)

	hits, misses := cache.Stats()
	logger.Debugf(
		"event=pass_done ts=%s records=%d skips=%d cache_hits=%d cache_misses=%d",
		underlying.Timestamp.Format(time.RFC3339), len(records), len(skips), hits, misses,
	)
	return records, skips, nil
}

// Backfill fetches and ingests underlying and leg history over
// [from, to], establishes the ATM window from the last underlying close,
// and composes records for the whole range.
func (e *Engine) Backfill(ctx context.Context, from, to time.Time) ([]analytics.Record, []analytics.SkipReport, error) {
	underlying, err := e.source.FetchHistory(
		ctx, e.cfg.UnderlyingExchange, e.cfg.UnderlyingToken,
		from, to, quote.IntervalOneMinute,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("backfill underlying: %w", err)
	}
	if len(underlying) == 0 {
		return nil, nil, fmt.Errorf("backfill underlying: no bars in range")
	}

	// Relabel fetched underlying bars under the configured series id.
	for i := range underlying {
		underlying[i].SeriesID = e.cfg.UnderlyingToken
	}
	e.bars.UpsertMany(underlying)

	last := underlying[len(underlying)-1]
	win, _, err := e.ctrl.Observe(last.Close, last.Timestamp)
	if err != nil {
		return nil, nil, fmt.Errorf("backfill window: %w", err)
	}

	cache := quote.NewFetchCache()
	skips := e.ingestLegs(ctx, cache, win, from, to)

	records, composeSkips := e.composer.Compose(underlying, win.Pair)
	skips = append(skips, composeSkips...)

	logger.Infof("event=backfill_done bars=%d records=%d skips=%d", len(underlying), len(records), len(skips))
	return records, skips, nil
}

// ingestLegs fetches bars for every present leg of the window through the
// pass cache and merges them into the store. A failed leg is reported as
// a skip and retried next cadence; it never aborts the pass.
func (e *Engine) ingestLegs(ctx context.Context, cache *quote.FetchCache, win *atm.Window, from, to time.Time) []analytics.SkipReport {
	skips := []analytics.SkipReport{}

	for _, token := range win.Tokens() {
		token := token
		key := quote.NewLegKey(token, from, to)

		bars, err := cache.GetOrFetch(key, func() ([]store.Bar, error) {
			return e.source.FetchHistory(ctx, e.cfg.OptionExchange, token, from, to, quote.IntervalOneMinute)
		})
		if err != nil {
			logger.Errorf("event=leg_fetch_failed token=%s err=%v", token, err)
			skips = append(skips, analytics.SkipReport{
				Timestamp: from,
				Reason:    fmt.Sprintf("leg %s fetch failed: %v", token, err),
			})
			continue
		}

		e.bars.UpsertMany(bars)
	}
	return skips
}
