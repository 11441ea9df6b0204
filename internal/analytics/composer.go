// Package analytics derives per-bar option analytics (synthetic futures,
// straddle premium, implied volatility and Greeks) from aligned
// underlying and option-leg bars.
//
// Records are pure derived data: they are recomputable from stored bars
// plus the instrument catalog and are owned by the caller.
package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/contactkeval/option-analytics/internal/atm"
	"github.com/contactkeval/option-analytics/internal/logger"
	"github.com/contactkeval/option-analytics/internal/pricing"
	"github.com/contactkeval/option-analytics/internal/store"
)

// ErrInvalidRowFilter reports a row-filter expression that failed to parse.
var ErrInvalidRowFilter = errors.New("invalid row filter expression")

// Record is one derived analytics row per underlying bar.
//
// The open and close strikes are resolved independently and may differ
// within a bar when the underlying crosses a strike-step boundary.
type Record struct {
	Timestamp time.Time `json:"timestamp"`

	SpotOpen  float64 `json:"spot_open"`
	SpotClose float64 `json:"spot_close"`

	StrikeOpen  float64 `json:"strike_open"`
	StrikeClose float64 `json:"strike_close"`

	CallOpen  float64 `json:"call_open"`
	CallClose float64 `json:"call_close"`
	PutOpen   float64 `json:"put_open"`
	PutClose  float64 `json:"put_close"`

	SyntheticFuturesOpen  float64 `json:"synthetic_futures_open"`
	SyntheticFuturesClose float64 `json:"synthetic_futures_close"`

	// Basis: synthetic futures minus spot.
	SpotSyntheticDiffOpen  float64 `json:"spot_synthetic_diff_open"`
	SpotSyntheticDiffClose float64 `json:"spot_synthetic_diff_close"`

	StraddleOpen  float64 `json:"straddle_open"`
	StraddleClose float64 `json:"straddle_close"`

	CallGreeks pricing.Result `json:"call_greeks"`
	PutGreeks  pricing.Result `json:"put_greeks"`

	// Call IV minus put IV at close; nil when either side is undefined.
	IVSkewClose *float64 `json:"iv_skew_close,omitempty"`
}

// SkipReport records a bar that produced no analytics row and why.
// Skips are reported, never silently dropped.
type SkipReport struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// LegLookup resolves a strike to the leg pair of the active ATM window.
type LegLookup func(strike float64) (atm.LegPair, bool)

// Composer combines stored bars and the Greeks engine into records.
type Composer struct {
	store        *store.Store
	strikeStep   float64
	riskFreeRate float64
	loc          *time.Location // reference zone for expiry session close
	filter       *govaluate.EvaluableExpression
}

// NewComposer builds a composer. Time to expiry is always measured
// against the expiry carried by the leg pair being priced, so a pair
// from an unexpected expiry can never be inverted with the wrong
// horizon.
//
// rowFilter is an optional govaluate boolean expression evaluated against
// each completed record (parameters: spot_close, strike_close, straddle_close,
// basis_close, synthetic_close); an empty string disables filtering.
func NewComposer(st *store.Store, strikeStep, riskFreeRate float64, loc *time.Location, rowFilter string) (*Composer, error) {
	c := &Composer{
		store:        st,
		strikeStep:   strikeStep,
		riskFreeRate: riskFreeRate,
		loc:          loc,
	}

	if rowFilter != "" {
		expr, err := govaluate.NewEvaluableExpression(rowFilter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRowFilter, err)
		}
		c.filter = expr
	}
	return c, nil
}

// Compose derives one record per underlying bar. Bars missing either leg
// for either the open-strike or close-strike grouping are skipped and
// reported.
//
// lookup resolves a strike to the leg pair of the active ATM window.
func (c *Composer) Compose(underlying []store.Bar, lookup LegLookup) ([]Record, []SkipReport) {
	records := []Record{}
	skips := []SkipReport{}

	for _, bar := range underlying {
		rec, skip := c.composeBar(bar, lookup)
		if skip != nil {
			logger.Debugf("event=bar_skipped ts=%s reason=%s", bar.Timestamp.Format(time.RFC3339), skip.Reason)
			skips = append(skips, *skip)
			continue
		}
		records = append(records, *rec)
	}

	return records, skips
}

func (c *Composer) composeBar(bar store.Bar, lookup LegLookup) (*Record, *SkipReport) {
	strikeOpen := atm.RoundToStrike(bar.Open, c.strikeStep)
	strikeClose := atm.RoundToStrike(bar.Close, c.strikeStep)

	openPair, ok := lookup(strikeOpen)
	if !ok || !openPair.Complete() {
		return nil, c.skip(bar, fmt.Sprintf("open strike %.2f: leg pair incomplete", strikeOpen))
	}
	closePair, ok := lookup(strikeClose)
	if !ok || !closePair.Complete() {
		return nil, c.skip(bar, fmt.Sprintf("close strike %.2f: leg pair incomplete", strikeClose))
	}

	callOpenBar, ok := c.store.Get(openPair.CallToken, bar.Timestamp)
	if !ok {
		return nil, c.skip(bar, fmt.Sprintf("no call bar for strike %.2f", strikeOpen))
	}
	putOpenBar, ok := c.store.Get(openPair.PutToken, bar.Timestamp)
	if !ok {
		return nil, c.skip(bar, fmt.Sprintf("no put bar for strike %.2f", strikeOpen))
	}
	callCloseBar, ok := c.store.Get(closePair.CallToken, bar.Timestamp)
	if !ok {
		return nil, c.skip(bar, fmt.Sprintf("no call bar for strike %.2f", strikeClose))
	}
	putCloseBar, ok := c.store.Get(closePair.PutToken, bar.Timestamp)
	if !ok {
		return nil, c.skip(bar, fmt.Sprintf("no put bar for strike %.2f", strikeClose))
	}

	callOpen := callOpenBar.Open
	putOpen := putOpenBar.Open
	callClose := callCloseBar.Close
	putClose := putCloseBar.Close

	// Put-call parity: synthetic futures = strike + (call - put).
	synthOpen := strikeOpen + (callOpen - putOpen)
	synthClose := strikeClose + (callClose - putClose)

	// Greeks are evaluated at the bar's close instant against the close
	// strike and close leg prices, with time to expiry taken from the
	// close pair's own expiry.
	closeInstant := bar.Timestamp.Add(time.Minute)
	expiry := pricing.ExpiryInstant(closePair.Expiry, c.loc)
	tte := pricing.TimeToExpiry(closeInstant, expiry)

	callGreeks := pricing.Compute(pricing.Call, callClose, bar.Close, strikeClose, tte, c.riskFreeRate)
	putGreeks := pricing.Compute(pricing.Put, putClose, bar.Close, strikeClose, tte, c.riskFreeRate)

	rec := Record{
		Timestamp:              bar.Timestamp,
		SpotOpen:               bar.Open,
		SpotClose:              bar.Close,
		StrikeOpen:             strikeOpen,
		StrikeClose:            strikeClose,
		CallOpen:               callOpen,
		CallClose:              callClose,
		PutOpen:                putOpen,
		PutClose:               putClose,
		SyntheticFuturesOpen:   synthOpen,
		SyntheticFuturesClose:  synthClose,
		SpotSyntheticDiffOpen:  synthOpen - bar.Open,
		SpotSyntheticDiffClose: synthClose - bar.Close,
		StraddleOpen:           callOpen + putOpen,
		StraddleClose:          callClose + putClose,
		CallGreeks:             callGreeks,
		PutGreeks:              putGreeks,
	}

	if callGreeks.Defined() && putGreeks.Defined() {
		skew := *callGreeks.ImpliedVol - *putGreeks.ImpliedVol
		rec.IVSkewClose = &skew
	}

	if c.filter != nil {
		keep, err := c.evalFilter(rec)
		if err != nil {
			// A filter evaluation error keeps the row; filtering is
			// advisory, data is not.
			logger.Errorf("event=row_filter_error ts=%s err=%v", bar.Timestamp.Format(time.RFC3339), err)
		} else if !keep {
			return nil, c.skip(bar, "row filter rejected")
		}
	}

	return &rec, nil
}

func (c *Composer) evalFilter(rec Record) (bool, error) {
	params := map[string]any{
		"spot_close":      rec.SpotClose,
		"strike_close":    rec.StrikeClose,
		"straddle_close":  rec.StraddleClose,
		"basis_close":     rec.SpotSyntheticDiffClose,
		"synthetic_close": rec.SyntheticFuturesClose,
	}

	v, err := c.filter.Evaluate(params)
	if err != nil {
		return false, err
	}
	keep, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("row filter did not evaluate to a boolean")
	}
	return keep, nil
}

func (c *Composer) skip(bar store.Bar, reason string) *SkipReport {
	return &SkipReport{Timestamp: bar.Timestamp, Reason: reason}
}
