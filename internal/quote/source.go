// Package quote supplies historical candle data for the underlying index
// and option legs, plus the pass-scoped fetch cache used by the engine.
//
// Transport concerns (session/auth refresh, rate limiting, retries)
// belong to the broker layer; a Source call is one blocking operation
// that returns bars or fails.
package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/contactkeval/option-analytics/internal/store"
)

// Interval names accepted by the candle endpoint.
const (
	IntervalOneMinute = "ONE_MINUTE"
)

// Source fetches historical OHLC bars for one instrument token.
type Source interface {
	FetchHistory(ctx context.Context, exchange, token string, from, to time.Time, interval string) ([]store.Bar, error)
}

// FetchError wraps an upstream failure for one instrument. It is
// recoverable: the pass continues with partial data and the fetch is
// retried on the next cadence tick.
type FetchError struct {
	Exchange string
	Token    string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch history %s/%s: %v", e.Exchange, e.Token, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
