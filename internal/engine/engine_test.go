package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/contactkeval/option-analytics/internal/catalog"
	"github.com/contactkeval/option-analytics/internal/config"
	"github.com/contactkeval/option-analytics/internal/store"
)

const (
	underlyingToken = "99926000"
	callToken       = "101"
	putToken        = "102"
)

// fakeSource serves canned bars per token and can be told to fail
// specific tokens.
type fakeSource struct {
	bars  map[string][]store.Bar
	fail  map[string]error
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bars:  map[string][]store.Bar{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeSource) FetchHistory(
	_ context.Context,
	_, token string,
	from, to time.Time,
	_ string,
) ([]store.Bar, error) {

	f.calls[token]++
	if err, ok := f.fail[token]; ok {
		return nil, err
	}

	var out []store.Bar
	for _, b := range f.bars[token] {
		if b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeSource) add(token string, ts time.Time, open, close float64) {
	f.bars[token] = append(f.bars[token], store.Bar{
		SeriesID:  token,
		Timestamp: ts,
		Open:      open,
		High:      open,
		Low:       close,
		Close:     close,
		Volume:    100,
	})
}

func strikeOf(v float64) *float64 { return &v }

func testConfig() *config.Config {
	return &config.Config{
		Symbol:             "NIFTY",
		UnderlyingToken:    underlyingToken,
		UnderlyingExchange: "NSE",
		OptionExchange:     "NFO",
		StrikeStep:         50,
		WindowSteps:        1,
		TokenLimit:         10,
		IntervalSeconds:    60,
		Timezone:           "UTC",
		SnapshotPath:       "unused.json",
		ReportDir:          "./out",
	}
}

const (
	farCallToken = "301"
	farPutToken  = "302"
)

func testCatalog() *catalog.Catalog {
	exp := time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC)
	far := time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)
	rec := func(token, symbol string, strike float64, expiry time.Time) catalog.InstrumentRecord {
		return catalog.InstrumentRecord{
			Name:           "NIFTY",
			InstrumentType: "OPTIDX",
			Expiry:         &expiry,
			Strike:         strikeOf(strike),
			Token:          token,
			Symbol:         symbol,
			OptionType:     catalog.OptionTypeFromSymbol(symbol),
			ExchSeg:        "NFO",
		}
	}
	return catalog.New([]catalog.InstrumentRecord{
		rec(callToken, "NIFTY30DEC2522000CE", 22000, exp),
		rec(putToken, "NIFTY30DEC2522000PE", 22000, exp),
		rec(farCallToken, "NIFTY29JAN2622000CE", 22000, far),
		rec(farPutToken, "NIFTY29JAN2622000PE", 22000, far),
	})
}

func underlyingBar(ts time.Time, open, close float64) store.Bar {
	return store.Bar{
		SeriesID:  underlyingToken,
		Timestamp: ts,
		Open:      open,
		High:      open,
		Low:       close,
		Close:     close,
		Volume:    1000,
	}
}

func newTestEngine(t *testing.T, src *fakeSource) (*Engine, *store.Store) {
	t.Helper()
	bars := store.New()
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	eng, err := New(testConfig(), testCatalog(), src, bars, now)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng, bars
}

func TestNewNoExpiry(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) // after every catalog expiry
	_, err := New(testConfig(), testCatalog(), newFakeSource(), store.New(), now)
	if !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}
}

func TestRunPassComposesRecord(t *testing.T) {
	ts := time.Date(2025, 12, 1, 9, 15, 0, 0, time.UTC)

	src := newFakeSource()
	src.add(callToken, ts, 150, 150)
	src.add(putToken, ts, 140, 140)

	eng, bars := newTestEngine(t, src)

	records, skips, err := eng.RunPass(context.Background(), underlyingBar(ts, 22005, 22005))
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if len(skips) != 0 {
		t.Fatalf("unexpected skips: %+v", skips)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec := records[0]
	if rec.StrikeClose != 22000 {
		t.Fatalf("close strike = %v, want 22000", rec.StrikeClose)
	}
	if rec.SyntheticFuturesClose != 22010 {
		t.Fatalf("synthetic close = %v, want 22010", rec.SyntheticFuturesClose)
	}

	// The pass persisted both the underlying and the leg bars.
	if _, ok := bars.Get(underlyingToken, ts); !ok {
		t.Fatalf("underlying bar not stored")
	}
	if _, ok := bars.Get(callToken, ts); !ok {
		t.Fatalf("call leg bar not stored")
	}

	// Next-month contracts share the strike but not the expiry; they are
	// outside the run's window and never fetched.
	if src.calls[farCallToken] != 0 || src.calls[farPutToken] != 0 {
		t.Fatalf("far-expiry legs fetched: %d/%d calls", src.calls[farCallToken], src.calls[farPutToken])
	}
}

func TestRunPassLegFailureDoesNotAbort(t *testing.T) {
	ts := time.Date(2025, 12, 1, 9, 15, 0, 0, time.UTC)

	src := newFakeSource()
	src.add(callToken, ts, 150, 150)
	src.fail[putToken] = errors.New("upstream down")

	eng, _ := newTestEngine(t, src)

	records, skips, err := eng.RunPass(context.Background(), underlyingBar(ts, 22005, 22005))
	if err != nil {
		t.Fatalf("leg failure must not fail the pass: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("record composed without a put leg: %+v", records)
	}

	var fetchSkip bool
	for _, s := range skips {
		if strings.Contains(s.Reason, putToken) && strings.Contains(s.Reason, "fetch failed") {
			fetchSkip = true
		}
	}
	if !fetchSkip {
		t.Fatalf("fetch failure not reported in skips: %+v", skips)
	}
}

func TestRunPassIdempotentReplay(t *testing.T) {
	ts := time.Date(2025, 12, 1, 9, 15, 0, 0, time.UTC)

	src := newFakeSource()
	src.add(callToken, ts, 150, 150)
	src.add(putToken, ts, 140, 140)

	eng, bars := newTestEngine(t, src)

	u := underlyingBar(ts, 22005, 22005)
	for i := 0; i < 3; i++ {
		if _, _, err := eng.RunPass(context.Background(), u); err != nil {
			t.Fatalf("pass %d failed: %v", i, err)
		}
	}

	if got := bars.Count(underlyingToken); got != 1 {
		t.Fatalf("replayed passes duplicated underlying bars: count=%d", got)
	}
	if got := bars.Count(callToken); got != 1 {
		t.Fatalf("replayed passes duplicated leg bars: count=%d", got)
	}
}

func TestFetchLatestUnderlying(t *testing.T) {
	now := time.Date(2025, 12, 1, 9, 16, 0, 0, time.UTC)

	src := newFakeSource()
	src.add(underlyingToken, now.Add(-time.Minute), 22000, 22003)
	src.add(underlyingToken, now, 22003, 22005)

	eng, _ := newTestEngine(t, src)

	bar, err := eng.FetchLatestUnderlying(context.Background(), now)
	if err != nil {
		t.Fatalf("FetchLatestUnderlying failed: %v", err)
	}
	if !bar.Timestamp.Equal(now) {
		t.Fatalf("latest bar ts = %s, want %s", bar.Timestamp, now)
	}

	// Empty window is a typed fetch error.
	empty := newFakeSource()
	eng2, _ := newTestEngine(t, empty)
	if _, err := eng2.FetchLatestUnderlying(context.Background(), now); err == nil {
		t.Fatalf("expected error for empty underlying window")
	}
}

func TestBackfillRange(t *testing.T) {
	base := time.Date(2025, 12, 1, 9, 15, 0, 0, time.UTC)

	src := newFakeSource()
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		src.add(underlyingToken, ts, 22005, 22005)
		src.add(callToken, ts, 150, 150)
		src.add(putToken, ts, 140, 140)
	}

	eng, bars := newTestEngine(t, src)

	records, skips, err := eng.Backfill(context.Background(), base, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if len(skips) != 0 {
		t.Fatalf("unexpected skips: %+v", skips)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if got := bars.Count(underlyingToken); got != 3 {
		t.Fatalf("underlying bars stored = %d, want 3", got)
	}

	// One fetch per leg for the whole range, not one per bar.
	if src.calls[callToken] != 1 || src.calls[putToken] != 1 {
		t.Fatalf("leg fetches = %d/%d, want 1/1", src.calls[callToken], src.calls[putToken])
	}
}
