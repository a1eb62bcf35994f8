package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tickstore/internal/config"
	"tickstore/internal/domain"
	"tickstore/internal/feed"
	"tickstore/internal/ingest"
	"tickstore/internal/store"
	"tickstore/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "instrument to ingest, e.g. EURUSD (required)")
	startDate := flag.String("start-date", "", "first day to ingest, YYYY-MM-DD (required unless -fill-gaps)")
	endDate := flag.String("end-date", "", "last day to ingest, YYYY-MM-DD (defaults to start-date)")
	fillGaps := flag.Bool("fill-gaps", false, "scan the stored span and backfill only missing hours")
	parquetDir := flag.String("parquet-dir", "", "write day-partitioned parquet files here instead of the database")
	initSchema := flag.Bool("init-schema", false, "create tick tables before ingesting")
	cfgPath := flag.String("config", configPath(), "path to YAML config")
	flag.Parse()

	// Missing arguments fail fast, before any network or storage work.
	if *symbol == "" {
		log.Fatal("missing required -symbol")
	}
	if !*fillGaps && *startDate == "" {
		log.Fatal("missing required -start-date (or use -fill-gaps)")
	}
	if *fillGaps && *parquetDir != "" {
		log.Fatal("-fill-gaps needs the database; it cannot run with -parquet-dir")
	}

	godotenv.Load()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	sym := strings.ToUpper(*symbol)
	client := feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.Timeout(), cfg.Feed.RequestsPerSec)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		sink store.TickSink
		pg   *store.PostgresStore
	)
	if *parquetDir != "" {
		sink = store.NewParquetSink(*parquetDir)
	} else {
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid config: %v", err)
		}
		pg, err = store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("failed to open store: %v", err)
		}
		defer pg.Close()

		if *initSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				log.Fatalf("failed to create schema: %v", err)
			}
		}
		sink = pg
	}

	sched := ingest.NewScheduler(client, sink, int64(cfg.Ingest.Concurrency), cfg.Ingest.DayBatchSize)

	var stats domain.IngestStats
	if *fillGaps {
		rec := ingest.NewReconciler(sched, pg)
		stats, err = rec.FillGaps(ctx, sym)
	} else {
		var start, end time.Time
		start, err = time.Parse("2006-01-02", *startDate)
		if err != nil {
			log.Fatalf("invalid -start-date: %v", err)
		}
		end = start
		if *endDate != "" {
			end, err = time.Parse("2006-01-02", *endDate)
			if err != nil {
				log.Fatalf("invalid -end-date: %v", err)
			}
		}
		stats, err = sched.IngestRange(ctx, sym, start, end)
	}

	// The summary always prints, even on partial failure, so an operator can
	// tell partial success from total failure without reading logs.
	fmt.Printf("symbol=%s ticks_written=%d hours_processed=%d hours_failed=%d\n",
		sym, stats.TicksWritten, stats.HoursProcessed, stats.HoursFailed)
	if err != nil {
		log.Fatalf("backfill error: %v", err)
	}
}

func configPath() string {
	if p := os.Getenv("TICKSTORE_CONFIG"); p != "" {
		return p
	}
	return "config/tickstore.yaml"
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.FromEnv(), nil
	}
	return config.Load(path)
}
