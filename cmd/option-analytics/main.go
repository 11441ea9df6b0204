package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/contactkeval/option-analytics/internal/analytics"
	"github.com/contactkeval/option-analytics/internal/catalog"
	"github.com/contactkeval/option-analytics/internal/config"
	"github.com/contactkeval/option-analytics/internal/engine"
	"github.com/contactkeval/option-analytics/internal/logger"
	"github.com/contactkeval/option-analytics/internal/quote"
	"github.com/contactkeval/option-analytics/internal/report"
	"github.com/contactkeval/option-analytics/internal/store"
)

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config")
	backfill := flag.Bool("backfill", true, "backfill from market open before the live cadence")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	// Credentials come from the environment; .env is optional.
	if err := godotenv.Load(); err != nil {
		log.Printf("[warn] no .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err) // ConfigurationError is fatal at startup
	}
	logger.SetVerbosity(cfg.Verbosity)
	loc := cfg.Location()

	records, err := catalog.LoadSnapshot(cfg.SnapshotPath)
	if err != nil {
		log.Fatalf("instrument snapshot: %v", err)
	}
	cat := catalog.New(records)

	// Broker source when credentials exist, synthetic otherwise.
	var source quote.Source
	apiKey := os.Getenv("ANGEL_API_KEY")
	jwtToken := os.Getenv("ANGEL_JWT_TOKEN")
	if apiKey != "" && jwtToken != "" {
		source = quote.NewAngelSource(os.Getenv("ANGEL_BASE_URL"), apiKey, jwtToken, loc)
		logger.Infof("broker quote source enabled")
	} else {
		source = quote.NewSyntheticSource(1, loc)
		logger.Infof("synthetic quote source enabled")
	}

	eng, err := engine.New(cfg, cat, source, store.New(), time.Now().In(loc))
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	if err := os.MkdirAll(cfg.ReportDir, 0755); err != nil {
		log.Fatalf("report dir %s: %v", cfg.ReportDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var allRecords []analytics.Record
	var allSkips []analytics.SkipReport

	if *backfill {
		now := time.Now().In(loc)
		open := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, loc)
		if !open.Before(now) {
			open = now.Add(-24 * time.Hour)
		}

		recs, skips, err := eng.Backfill(ctx, open, now)
		if err != nil {
			logger.Errorf("backfill failed: %v", err)
		} else {
			allRecords = append(allRecords, recs...)
			allSkips = append(allSkips, skips...)
			writeReports(cfg.ReportDir, allRecords, allSkips)
		}
	}

	runPass := func(ctx context.Context, now time.Time) error {
		bar, err := eng.FetchLatestUnderlying(ctx, now.In(loc))
		if err != nil {
			return err
		}
		bar.SeriesID = cfg.UnderlyingToken

		recs, skips, err := eng.RunPass(ctx, bar)
		if err != nil {
			return err
		}

		allRecords = append(allRecords, recs...)
		allSkips = append(allSkips, skips...)
		writeReports(cfg.ReportDir, allRecords, allSkips)
		return nil
	}

	if *once {
		if err := runPass(ctx, time.Now()); err != nil {
			log.Fatalf("pass failed: %v", err)
		}
		logger.Infof("single pass complete: %d records, %d skips", len(allRecords), len(allSkips))
		return
	}

	sched := engine.NewScheduler(engine.NewIntervalTicks(cfg.Interval()))
	logger.Infof("starting cadence every %s", cfg.Interval())
	if err := sched.Run(ctx, runPass); err != nil && err != context.Canceled {
		log.Fatalf("scheduler: %v", err)
	}
	logger.Infof("stopped: %d records, %d skips", len(allRecords), len(allSkips))
}

func writeReports(dir string, records []analytics.Record, skips []analytics.SkipReport) {
	if err := report.WriteJSON(records, skips, dir); err != nil {
		logger.Errorf("write json report: %v", err)
	}
	if err := report.WriteCSV(records, dir); err != nil {
		logger.Errorf("write csv report: %v", err)
	}
	if err := report.WriteSkipsCSV(skips, dir); err != nil {
		logger.Errorf("write skips report: %v", err)
	}
}
