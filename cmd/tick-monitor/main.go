package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tickstore/internal/config"
	"tickstore/internal/feed"
	"tickstore/internal/ingest"
	"tickstore/internal/store"
	"tickstore/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single freshness cycle and exit")
	dryRun := flag.Bool("dry-run", false, "log intended catch-ups without writing")
	cfgPath := flag.String("config", configPath(), "path to YAML config")
	flag.Parse()

	godotenv.Load()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if len(cfg.Monitor.Symbols) == 0 {
		log.Fatal("monitor.symbols is empty, nothing to watch")
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

	var summary ingest.SummarySource
	if cfg.Monitor.SummaryURL != "" {
		summary = feed.NewSummaryClient(cfg.Monitor.SummaryURL, cfg.Monitor.CacheTTL(), cfg.Feed.Timeout())
	}

	monitor := ingest.NewMonitor(client, summary, pg, rec, ingest.MonitorConfig{
		Symbols:      cfg.Monitor.Symbols,
		PollInterval: cfg.Monitor.PollInterval(),
		DryRun:       *dryRun,
	})

	if *once {
		if err := monitor.RunCycle(ctx); err != nil {
			log.Fatalf("cycle error: %v", err)
		}
		return
	}
	if err := monitor.Run(ctx); err != nil {
		log.Fatalf("monitor error: %v", err)
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
