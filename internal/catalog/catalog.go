// Package catalog provides read-only lookup over instrument master records.
//
// Responsibilities:
//   - Decode raw scrip-master records into typed InstrumentRecords
//   - Map raw strike sentinels to an explicit "no strike" (nil) field
//   - Serve ordered candidate queries for ATM window resolution
//
// Design notes:
//   - Sentinel decoding happens here, at the boundary; downstream code
//     only ever sees a nil or a valid strike.
//   - An empty match is a valid result; ErrUnavailable is returned only
//     when the catalog itself has no snapshot loaded.
package catalog

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable indicates the catalog has no instrument snapshot loaded.
var ErrUnavailable = errors.New("instrument catalog unavailable")

// Option right suffixes as encoded in trading symbols (e.g. NIFTY24DEC22000CE).
const (
	RightCall = "CE"
	RightPut  = "PE"
)

// InstrumentRecord is one immutable catalog entry decoded from the
// instrument master snapshot.
type InstrumentRecord struct {
	Name           string     // underlying symbol family, e.g. "NIFTY"
	InstrumentType string     // e.g. "OPTIDX" for index options
	Expiry         *time.Time // nil when the instrument has no expiry
	Strike         *float64   // nil when raw strike is a sentinel or undecodable
	Token          string     // opaque instrument id, unique
	Symbol         string     // display ticker; suffix encodes option right
	OptionType     string     // "CE", "PE", or ""; derived from Symbol only
	ExchSeg        string     // exchange segment, e.g. "NFO"
}

// strikeScale is the fixed-point divisor used by the scrip master:
// raw strikes are encoded as strike*100.
var strikeScale = decimal.NewFromInt(100)

// negSentinel is the one sentinel that survives numeric parsing:
// a raw value of exactly -0.01 means "no strike".
var negSentinel = decimal.RequireFromString("-0.01")

// DecodeStrike converts a raw scrip-master strike string into an optional
// strike price. The sentinel raw values "1", "-1" and "0", the parsed value
// -0.01, and anything undecodable all map to nil. Valid values are divided
// by 100 (the master encodes strikes as fixed-point integers).
//
// Decoding is idempotent in the sense required by callers: a given raw
// string always maps to the same optional value.
func DecodeStrike(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "", "1", "-1", "0":
		return nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	if d.Equal(negSentinel) {
		return nil
	}

	v, _ := d.Div(strikeScale).Float64()
	return &v
}

// OptionTypeFromSymbol derives the option right from a trading symbol's
// suffix. Records whose symbol ends in neither suffix get an empty right.
func OptionTypeFromSymbol(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, RightCall):
		return RightCall
	case strings.HasSuffix(symbol, RightPut):
		return RightPut
	}
	return ""
}

// Catalog is a read-only lookup over instrument master records.
type Catalog struct {
	records []InstrumentRecord
}

// New builds a catalog over the given decoded records.
func New(records []InstrumentRecord) *Catalog {
	return &Catalog{records: records}
}

// Len returns the number of records held by the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// FindCandidates returns instruments whose name starts with namePrefix,
// whose instrument type matches, and whose decoded strike falls in
// [strikeLow, strikeHigh]. Records with no decodable strike exist in the
// catalog but never match a range query.
//
// Results are ordered by ascending expiry, then by absolute distance of the
// strike from centerStrike, then by token for determinism. limit bounds the
// result count; limit <= 0 means unbounded.
func (c *Catalog) FindCandidates(
	namePrefix string,
	instrumentType string,
	strikeLow, strikeHigh float64,
	centerStrike float64,
	limit int,
) ([]InstrumentRecord, error) {

	if c == nil || len(c.records) == 0 {
		return nil, ErrUnavailable
	}

	out := []InstrumentRecord{}
	for _, rec := range c.records {
		if !strings.HasPrefix(rec.Name, namePrefix) {
			continue
		}
		if rec.InstrumentType != instrumentType {
			continue
		}
		if rec.Strike == nil {
			continue // sentinel/undecodable strikes never match a range
		}
		if *rec.Strike < strikeLow || *rec.Strike > strikeHigh {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].Expiry, out[j].Expiry
		switch {
		case ei == nil && ej != nil:
			return false
		case ei != nil && ej == nil:
			return true
		case ei != nil && ej != nil && !ei.Equal(*ej):
			return ei.Before(*ej)
		}
		di := math.Abs(*out[i].Strike - centerStrike)
		dj := math.Abs(*out[j].Strike - centerStrike)
		if di != dj {
			return di < dj
		}
		return out[i].Token < out[j].Token
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NearestExpiry returns the earliest expiry at or after asOf among records
// matching the name prefix and instrument type. The boolean is false when
// no such expiry exists.
func (c *Catalog) NearestExpiry(namePrefix, instrumentType string, asOf time.Time) (time.Time, bool) {
	// Expiry dates are stored as midnight UTC. The cutoff day comes from
	// asOf in its own zone; truncating the instant to UTC days would keep
	// yesterday's contract alive in the early hours of a zone ahead of
	// UTC.
	y, m, d := asOf.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var best time.Time
	found := false
	for _, rec := range c.records {
		if rec.Expiry == nil {
			continue
		}
		if !strings.HasPrefix(rec.Name, namePrefix) || rec.InstrumentType != instrumentType {
			continue
		}
		if rec.Expiry.Before(cutoff) {
			continue
		}
		if !found || rec.Expiry.Before(best) {
			best = *rec.Expiry
			found = true
		}
	}
	return best, found
}
