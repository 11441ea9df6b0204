// Package report writes analytics records and skip reports to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/contactkeval/option-analytics/internal/analytics"
)

// Output bundles one run's results for the JSON report.
type Output struct {
	Records []analytics.Record     `json:"records"`
	Skips   []analytics.SkipReport `json:"skips"`
}

// WriteJSON writes records and skips as indented JSON to
// <outdir>/analytics.json.
func WriteJSON(records []analytics.Record, skips []analytics.SkipReport, outdir string) error {
	b, err := json.MarshalIndent(Output{Records: records, Skips: skips}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "analytics.json"), b, 0644)
}

// WriteCSV writes one row per record to <outdir>/analytics.csv.
// Implied volatilities are reported as percentages.
func WriteCSV(records []analytics.Record, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "analytics.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{
		"timestamp",
		"spot_open", "spot_close",
		"strike_open", "strike_close",
		"call_open", "call_close", "put_open", "put_close",
		"synthetic_futures_open", "synthetic_futures_close",
		"spot_synthetic_diff_open", "spot_synthetic_diff_close",
		"straddle_open", "straddle_close",
		"call_iv_close_pct", "call_delta_close",
		"put_iv_close_pct", "put_delta_close",
		"iv_skew_close_pct",
	}
	if err := w.Write(headers); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			f2(r.SpotOpen), f2(r.SpotClose),
			f2(r.StrikeOpen), f2(r.StrikeClose),
			f2(r.CallOpen), f2(r.CallClose), f2(r.PutOpen), f2(r.PutClose),
			f2(r.SyntheticFuturesOpen), f2(r.SyntheticFuturesClose),
			f2(r.SpotSyntheticDiffOpen), f2(r.SpotSyntheticDiffClose),
			f2(r.StraddleOpen), f2(r.StraddleClose),
			pct(r.CallGreeks.ImpliedVol), opt(r.CallGreeks.Delta),
			pct(r.PutGreeks.ImpliedVol), opt(r.PutGreeks.Delta),
			pct(r.IVSkewClose),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteSkipsCSV writes one row per skipped bar to <outdir>/skips.csv.
func WriteSkipsCSV(skips []analytics.SkipReport, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "skips.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "reason"}); err != nil {
		return err
	}
	for _, s := range skips {
		if err := w.Write([]string{s.Timestamp.Format(time.RFC3339), s.Reason}); err != nil {
			return err
		}
	}
	return nil
}

func f2(v float64) string { return fmt.Sprintf("%.2f", v) }

// opt formats an optional value; undefined renders empty, never a fake
// number.
func opt(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v)
}

// pct formats an optional value as a percentage.
func pct(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v*100)
}
