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
	"tickstore/internal/feed"
	"tickstore/internal/ingest"
	"tickstore/internal/store"
	"tickstore/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "instrument to catch up, e.g. EURUSD (required)")
	from := flag.String("from", "", "window start, RFC 3339 (required)")
	to := flag.String("to", "", "window end, RFC 3339 (defaults to now)")
	cfgPath := flag.String("config", configPath(), "path to YAML config")
	flag.Parse()

	if *symbol == "" {
		log.Fatal("missing required -symbol")
	}
	if *from == "" {
		log.Fatal("missing required -from")
	}

	fromTime, err := time.Parse(time.RFC3339, *from)
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}
	toTime := time.Now().UTC()
	if *to != "" {
		toTime, err = time.Parse(time.RFC3339, *to)
		if err != nil {
			log.Fatalf("invalid -to: %v", err)
		}
	}

	godotenv.Load()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer pg.Close()

	client := feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.Timeout(), cfg.Feed.RequestsPerSec)
	sched := ingest.NewScheduler(client, pg, int64(cfg.Ingest.Concurrency), cfg.Ingest.DayBatchSize)
	rec := ingest.NewReconciler(sched, pg)

	sym := strings.ToUpper(*symbol)
	stats, err := rec.CatchupGap(ctx, sym, fromTime, toTime)

	fmt.Printf("symbol=%s ticks_written=%d hours_processed=%d hours_failed=%d\n",
		sym, stats.TicksWritten, stats.HoursProcessed, stats.HoursFailed)
	if err != nil {
		log.Fatalf("catchup error: %v", err)
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
