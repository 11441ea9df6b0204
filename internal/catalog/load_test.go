package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

const sampleSnapshot = `[
  {"token":"101","symbol":"NIFTY30DEC2522000CE","name":"NIFTY","expiry":"30DEC2025","strike":"2200000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
  {"token":"102","symbol":"NIFTY30DEC2522000PE","name":"NIFTY","expiry":"30DEC2025","strike":"2200000.000000","instrumenttype":"OPTIDX","exch_seg":"NFO"},
  {"token":"200","symbol":"NIFTY-EQ","name":"NIFTY","expiry":"","strike":"-0.01","instrumenttype":"","exch_seg":"NSE"},
  {"token":"201","symbol":"RELIANCE-EQ","name":"RELIANCE","expiry":"","strike":"1","instrumenttype":"","exch_seg":"NSE"}
]`

func TestParseSnapshot(t *testing.T) {
	recs, err := ParseSnapshot([]byte(sampleSnapshot))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}

	call := recs[0]
	if call.Token != "101" || call.OptionType != RightCall {
		t.Fatalf("bad first record: %+v", call)
	}
	if call.Strike == nil || *call.Strike != 22000 {
		t.Fatalf("strike not decoded: %+v", call.Strike)
	}
	wantExpiry := time.Date(2025, time.December, 30, 0, 0, 0, 0, time.UTC)
	if call.Expiry == nil || !call.Expiry.Equal(wantExpiry) {
		t.Fatalf("expiry not decoded: %+v", call.Expiry)
	}

	// Sentinel strikes and empty expiries decode to nil, not zero.
	eq := recs[2]
	if eq.Strike != nil {
		t.Fatalf("sentinel strike should be nil, got %v", *eq.Strike)
	}
	if eq.Expiry != nil {
		t.Fatalf("empty expiry should be nil, got %v", *eq.Expiry)
	}
	if eq.OptionType != "" {
		t.Fatalf("equity symbol should carry no option type, got %q", eq.OptionType)
	}
}

func TestParseSnapshotRejectsNonArray(t *testing.T) {
	if _, err := ParseSnapshot([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatalf("expected error for non-array snapshot")
	}
}

func TestParseExpiryMalformed(t *testing.T) {
	if _, err := parseExpiry("2025-12-30"); err == nil {
		t.Fatalf("expected error for unexpected expiry layout")
	}
	if _, err := parseExpiry("30XYZ2025"); err == nil {
		t.Fatalf("expected error for bad month")
	}
}

func TestLoadSnapshotPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.json")
	if err := os.WriteFile(path, []byte(sampleSnapshot), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	recs, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
}

func TestLoadSnapshotZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.json.zst")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write([]byte(sampleSnapshot)); err != nil {
		t.Fatalf("compress fixture: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}

	recs, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot(.zst) failed: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing snapshot")
	}
}
