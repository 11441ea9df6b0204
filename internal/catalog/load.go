package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"github.com/contactkeval/option-analytics/internal/logger"
)

// expiry dates in the scrip master look like "26DEC2024" (uppercase month).
const expiryLayout = "02Jan2006"

// parseExpiry decodes a scrip-master expiry string. An empty string means
// the instrument has no expiry.
func parseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if len(raw) != len("02JAN2006") {
		return nil, fmt.Errorf("unexpected expiry %q", raw)
	}

	// Normalize "26DEC2024" to "26Dec2024" for time.Parse.
	normalized := raw[:3] + strings.ToLower(raw[3:5]) + raw[5:]
	t, err := time.Parse(expiryLayout, normalized)
	if err != nil {
		return nil, fmt.Errorf("parse expiry %q: %w", raw, err)
	}
	return &t, nil
}

// LoadSnapshot reads an instrument master snapshot file (a JSON array of
// scrip records) and returns the decoded records. Files ending in ".zst"
// are transparently decompressed.
//
// The snapshot is produced and refreshed externally; this loader never
// triggers a download.
func LoadSnapshot(path string) ([]InstrumentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd snapshot: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	return ParseSnapshot(raw)
}

// ParseSnapshot decodes a raw JSON scrip-master array into records.
//
// fastjson is used instead of encoding/json because production snapshots
// run to hundreds of thousands of records and we only need a handful of
// fields from each.
func ParseSnapshot(raw []byte) ([]InstrumentRecord, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot json: %w", err)
	}

	items, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("snapshot is not a json array: %w", err)
	}

	out := make([]InstrumentRecord, 0, len(items))
	skipped := 0
	for _, item := range items {
		symbol := string(item.GetStringBytes("symbol"))

		expiry, err := parseExpiry(string(item.GetStringBytes("expiry")))
		if err != nil {
			skipped++
			continue // malformed expiry, record is unusable
		}

		out = append(out, InstrumentRecord{
			Name:           string(item.GetStringBytes("name")),
			InstrumentType: string(item.GetStringBytes("instrumenttype")),
			Expiry:         expiry,
			Strike:         DecodeStrike(string(item.GetStringBytes("strike"))),
			Token:          string(item.GetStringBytes("token")),
			Symbol:         symbol,
			OptionType:     OptionTypeFromSymbol(symbol),
			ExchSeg:        string(item.GetStringBytes("exch_seg")),
		})
	}

	if skipped > 0 {
		logger.Debugf("snapshot decode skipped %d malformed records", skipped)
	}
	logger.Infof("instrument snapshot decoded: %d records", len(out))
	return out, nil
}
