package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/robfig/cron/v3"

	"carmarket-ingest/config"
	"carmarket-ingest/handlers"
	"carmarket-ingest/models"
	"carmarket-ingest/scraper"
	"carmarket-ingest/scraper/browser"
	"carmarket-ingest/scraper/static"
	"carmarket-ingest/services"
	"carmarket-ingest/storage"
	"carmarket-ingest/utils"
)

func main() {
	runOnce := flag.String("run", "", "run one source ingestion and exit (source tag, or 'all')")
	flag.Parse()

	cfg := config.Load()
	logger := utils.NewLogger(cfg.Verbose)

	logger.Info("=== carmarket ingestion engine starting ===")
	logger.Info("Config — page cap: %d | rows/page: %d | concurrency: %d | rate: %dms | free limit: %d",
		cfg.PageCap, cfg.RowsPerPage, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.FreeListingLimit)

	store, err := storage.NewPostgres(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	objects, err := storage.NewLocalObjectStore(cfg.ImageStoreDir, cfg.ImageBaseURL)
	if err != nil {
		logger.Error("Failed to open image store: %v", err)
		os.Exit(1)
	}

	var snapshot *storage.SnapshotWriter
	if cfg.RawSnapshotPath != "" {
		snapshot, err = storage.NewSnapshotWriter(cfg.RawSnapshotPath)
		if err != nil {
			logger.Error("Failed to create raw snapshot writer: %v", err)
			os.Exit(1)
		}
		defer snapshot.Close()
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Error("Failed to build source registry: %v", err)
		os.Exit(1)
	}
	logger.Info("Registered sources: %v", registry.Sources())

	notifier := services.NewEmailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.AdminEmails, logger)
	reconciler := services.NewReconciler(store, logger)
	dealerSvc := services.NewDealerService(store, store, notifier, cfg.FreeListingLimit, logger)
	relocator := services.NewImageRelocator(objects, logger)
	importer := services.NewImporter(registry, reconciler, dealerSvc, relocator, store, notifier, snapshot, logger)

	if *runOnce != "" {
		runAndExit(importer, registry, *runOnce, logger)
		return
	}

	if cfg.IngestCron != "" {
		c := cron.New()
		for _, src := range registry.Sources() {
			src := src
			if _, err := c.AddFunc(cfg.IngestCron, func() {
				if _, err := importer.RunSource(context.Background(), src); err != nil {
					logger.Error("Scheduled run for %s failed: %v", src, err)
				}
			}); err != nil {
				logger.Error("Bad INGEST_CRON spec %q: %v", cfg.IngestCron, err)
				os.Exit(1)
			}
		}
		c.Start()
		defer c.Stop()
		logger.Info("Scheduled %d sources on cron spec %q", len(registry.Sources()), cfg.IngestCron)
	}

	feedHandler := handlers.NewFeedHandler(importer, store, cfg.FeedSecret, logger)
	adminHandler := handlers.NewAdminHandler(importer, registry, cfg.FeedSecret, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/feed/listings", feedHandler.PushListings)
	mux.HandleFunc("/api/feed/csv", feedHandler.PushCSV)
	mux.HandleFunc("/api/admin/run/", adminHandler.RunSource)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(); err != nil {
			logger.Error("Health check failed: DB ping: %v", err)
			http.Error(w, `{"status":"error","message":"database connection error"}`, http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := ":" + cfg.ServerPort
	logger.Info("Feed API listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}
}

// buildRegistry turns the YAML source registry into live adapters.
func buildRegistry(cfg *config.Config, logger *utils.Logger) (*scraper.Registry, error) {
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	registry := scraper.NewRegistry()
	for _, src := range sources {
		var adapter scraper.SourceAdapter
		switch src.Kind {
		case "browser":
			adapter = browser.New(src, cfg, logger)
		default:
			adapter = static.New(src, cfg, logger)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// runAndExit performs one-shot ingestion for external cron triggers.
// Distinct sources have disjoint key spaces, so "all" runs them in
// sequence without coordination concerns.
func runAndExit(importer *services.Importer, registry *scraper.Registry, target string, logger *utils.Logger) {
	ctx := context.Background()

	var sources []models.Source
	if target == "all" {
		sources = registry.Sources()
	} else {
		sources = []models.Source{models.Source(target)}
	}

	failed := false
	for _, src := range sources {
		if _, err := importer.RunSource(ctx, src); err != nil {
			logger.Error("Run for %s failed: %v", src, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
