// Package main is the entry point for the Old Man Footy sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"

	"github.com/old-man-footy/backend/internal/api"
	"github.com/old-man-footy/backend/internal/carnival"
	"github.com/old-man-footy/backend/internal/config"
	"github.com/old-man-footy/backend/internal/image"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/mysideline"
	"github.com/old-man-footy/backend/internal/storage"
	"github.com/old-man-footy/backend/internal/storage/models"
	"github.com/old-man-footy/backend/internal/supervisor"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	healthCheck := flag.Bool("health-check", false, "Run health check against the running server and exit")
	syncOnce := flag.Bool("sync-once", false, "Run one MySideline sync, print the result and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("loading configuration")
	}

	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.IsDevelopment(),
	})

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	if err := run(cfg, *syncOnce); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config, syncOnce bool) error {
	log := logging.With("main")
	log.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Bool("sync_enabled", cfg.MySideline.SyncEnabledFlag()).
		Msg("starting Old Man Footy sync server")

	clock := clockwork.NewRealClock()

	db, err := storage.NewDB(cfg.DatabasePath(), storage.WithClock(clock))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	applied, err := storage.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info().Int("applied", applied).Msg("database migrations complete")

	carnivals := storage.NewCarnivalRepository(db)
	syncLogs := storage.NewSyncLogRepository(db)
	replies := storage.NewContactReplyRepository(db)

	scraper := mysideline.NewScraper(mysideline.NewChromeBrowser(), mysideline.ScraperConfig{
		Enabled:        cfg.MySideline.ScrapingEnabledFlag(),
		Headless:       cfg.Headless(),
		RequestTimeout: cfg.MySideline.RequestTimeout(),
		SearchURL:      cfg.MySideline.SearchURL,
		EventURLPrefix: cfg.MySideline.EventURLPrefix,
		APIMatch:       cfg.MySideline.APIURLMatch,
		ImageSelector:  cfg.MySideline.ImageSelector,
		BrowserPath:    cfg.MySideline.BrowserPath,
	})

	logoCfg := image.DefaultConfig(cfg.Server.UploadsDir)
	logoCfg.MaxRetries = cfg.Logos.MaxRetries
	logoCfg.Timeout = cfg.Logos.Timeout
	logoCfg.MaxFileSizeBytes = cfg.Logos.MaxFileSizeBytes
	logoCfg.RequestSpacing = cfg.Logos.RequestSpacing
	logos := image.New(logoCfg, image.WithClock(clock))

	syncService := carnival.NewSyncService(carnivals, syncLogs, scraper, logos, clock, carnival.SyncConfig{
		Enabled:     cfg.MySideline.SyncEnabledFlag(),
		Environment: cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if syncOnce {
		return runSyncOnce(ctx, syncService)
	}

	retention := carnival.NewRetentionJob(replies, syncLogs, clock, cfg.Retention.ContactReplyDays, cfg.Environment)
	scheduler := carnival.NewScheduler(syncService, retention, syncLogs, clock, carnival.SchedulerConfig{
		SyncCron:          cfg.MySideline.SyncCron,
		SyncIntervalHours: cfg.MySideline.SyncIntervalHours,
		StartupDelay:      cfg.MySideline.StartupDelay,
		RetentionCron:     cfg.Retention.ContactReplyCron,
	})

	router := api.NewHandler(api.Dependencies{
		DB:               db,
		Carnivals:        carnivals,
		Upcoming:         carnivals,
		SyncLogs:         syncLogs,
		Sync:             syncService,
		Scheduler:        scheduler,
		UploadsDir:       cfg.Server.UploadsDir,
		Clock:            clock,
		CORSOrigins:      cfg.Server.CORSOrigins,
		SyncTriggerLimit: cfg.Server.SyncTriggerLimit,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddJobService(scheduler)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 30*time.Second))

	log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn().Int("count", len(report)).Msg("services did not stop within the shutdown timeout")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// runSyncOnce performs a single manual sync and writes the result to stdout.
func runSyncOnce(ctx context.Context, svc *carnival.SyncService) error {
	res := svc.RunSync(ctx, models.TriggerManual)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sync result: %w", err)
	}
	fmt.Println(string(out))

	if !res.Success {
		return fmt.Errorf("sync failed: %s", res.Error)
	}
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
