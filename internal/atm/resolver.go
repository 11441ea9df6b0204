// Package atm resolves the at-the-money option window for an underlying
// price and decides when that window must be rebalanced.
package atm

import (
	"fmt"
	"math"
	"time"

	"github.com/contactkeval/option-analytics/internal/catalog"
	"github.com/contactkeval/option-analytics/internal/logger"
)

// IndexOptionType is the instrument-type marker for options on an index
// in the instrument master.
const IndexOptionType = "OPTIDX"

// LegPair is one (expiry, strike) contract pair inside a window. A pair
// missing one leg is retained with the missing token empty, so callers
// can detect partial coverage instead of silently losing the strike.
type LegPair struct {
	Expiry    time.Time
	Strike    float64
	CallToken string // empty when the call leg is absent
	PutToken  string // empty when the put leg is absent
}

// Complete reports whether both legs are present.
func (p LegPair) Complete() bool { return p.CallToken != "" && p.PutToken != "" }

// Window is the resolved ATM instrument set for one expiry. Windows are
// replaced wholesale on rebalance, never mutated incrementally.
type Window struct {
	CenterStrike float64
	Legs         []LegPair // ordered by |strike-center|, then token
	AsOf         time.Time // timestamp of the underlying price used to resolve
}

// Tokens returns all present leg tokens in window order.
func (w *Window) Tokens() []string {
	out := []string{}
	for _, p := range w.Legs {
		if p.CallToken != "" {
			out = append(out, p.CallToken)
		}
		if p.PutToken != "" {
			out = append(out, p.PutToken)
		}
	}
	return out
}

// Pair returns the leg pair for the given strike, if the window holds it.
func (w *Window) Pair(strike float64) (LegPair, bool) {
	for _, p := range w.Legs {
		if p.Strike == strike {
			return p, true
		}
	}
	return LegPair{}, false
}

// RoundToStrike rounds price to the nearest multiple of step.
//
// Ties (exact half-step prices) round away from zero, per math.Round,
// so 22025 with a 50 step rounds to 22050. That tie rule is part of the
// contract; callers rely on a stable center for the hysteresis check.
func RoundToStrike(price, step float64) float64 {
	return math.Round(price/step) * step
}

// Resolver computes ATM windows against the instrument catalog for one
// contract expiry.
type Resolver struct {
	cat    *catalog.Catalog
	expiry time.Time
}

// NewResolver returns a resolver over the given catalog, restricted to
// contracts expiring on the given date. Candidates on any other expiry
// never enter a window; pricing a leg against a different expiry than
// the one its premium reflects would silently corrupt the analytics.
func NewResolver(cat *catalog.Catalog, expiry time.Time) *Resolver {
	return &Resolver{cat: cat, expiry: expiry}
}

// Resolve computes the ATM window for the given underlying price.
//
// The center strike is the nearest step multiple to price; the strike
// range spans windowSteps full steps on each side. Candidates come from
// the catalog ordered by strike distance from center, then token, and
// only the resolver's expiry is admitted; limit bounds how many admitted
// records enter the window.
func (r *Resolver) Resolve(
	symbol string,
	price float64,
	asOf time.Time,
	step float64,
	windowSteps int,
	limit int,
) (*Window, error) {

	center := RoundToStrike(price, step)
	low := center - float64(windowSteps)*step
	high := center + float64(windowSteps)*step

	logger.Debugf(
		"event=resolve_atm symbol=%s price=%.2f center=%.2f range=[%.2f,%.2f]",
		symbol, price, center, low, high,
	)

	// The catalog query is unbounded; limit is applied after expiry
	// admission so records on stale expiries cannot starve the window.
	recs, err := r.cat.FindCandidates(symbol, IndexOptionType, low, high, center, 0)
	if err != nil {
		return nil, fmt.Errorf("resolve atm window: %w", err)
	}

	// Pair candidates sharing a strike into call/put legs on the
	// resolver's expiry, preserving the catalog's candidate ordering.
	index := map[float64]int{}
	legs := []LegPair{}
	admitted := 0

	for _, rec := range recs {
		if rec.Expiry == nil || rec.Strike == nil {
			continue
		}
		if !rec.Expiry.Equal(r.expiry) {
			continue
		}
		if limit > 0 && admitted >= limit {
			break
		}
		admitted++
		k := *rec.Strike
		i, ok := index[k]
		if !ok {
			i = len(legs)
			index[k] = i
			legs = append(legs, LegPair{Expiry: *rec.Expiry, Strike: *rec.Strike})
		}
		switch rec.OptionType {
		case catalog.RightCall:
			if legs[i].CallToken == "" {
				legs[i].CallToken = rec.Token
			}
		case catalog.RightPut:
			if legs[i].PutToken == "" {
				legs[i].PutToken = rec.Token
			}
		}
	}

	logger.Tracef("event=atm_resolved center=%.2f pairs=%d", center, len(legs))

	return &Window{CenterStrike: center, Legs: legs, AsOf: asOf}, nil
}
