package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"toribot/api"
	"toribot/bot"
	"toribot/config"
	"toribot/fetch"
	"toribot/images"
	"toribot/metrics"
	"toribot/settings"
	"toribot/storage"
	"toribot/utils"
	"toribot/valuate"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(cfg.Verbose)

	variant, err := bot.VariantBySlug(cfg.Variant)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	logger.Info("=== %s starting ===", variant.Name)
	logger.Info("Config — variant: %s | data dir: %s | crawl delay: %dms",
		variant.Slug, cfg.DataDir, cfg.CrawlDelayMs)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data dir %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}

	settingsStore, err := settings.NewStore(cfg.SettingsFile, variant.DefaultSettings(), logger)
	if err != nil {
		logger.Error("Failed to open settings: %v", err)
		os.Exit(1)
	}

	productStore, err := storage.NewProductStore(cfg.ProductsFile, logger)
	if err != nil {
		logger.Error("Failed to open product store: %v", err)
		os.Exit(1)
	}
	logger.Info("Loaded %d products from %s", productStore.Len(), cfg.ProductsFile)

	m := metrics.New()

	limiter := rate.NewLimiter(rate.Every(time.Duration(cfg.CrawlDelayMs)*time.Millisecond), 1)
	fetcher := fetch.New(limiter, m, logger)
	browser := fetch.NewBrowserFetcher(logger)
	downloader := images.NewDownloader(fetcher, cfg.ImagesDir, logger)
	valuator := valuate.New(variant.Prompt, logger)

	b := bot.New(bot.Config{
		Variant:        variant,
		Settings:       settingsStore,
		Store:          productStore,
		Fetcher:        fetcher,
		Browser:        browser,
		Images:         downloader,
		Valuator:       valuator,
		Metrics:        m,
		Logger:         logger,
		DebugDir:       cfg.DebugDir,
		MaxJitter:      3 * time.Second,
		ValuationDelay: 2 * time.Second,
	})

	sinks := []storage.ProductSink{storage.NewCSVExporter(cfg.ExportPath)}
	if cfg.PostgresDSN != "" {
		archiver, err := storage.NewPostgresArchiver(cfg.PostgresDSN)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
			os.Exit(1)
		}
		defer archiver.Close()
		sinks = append(sinks, archiver)
	}

	server := api.New(b, productStore, settingsStore, m, logger,
		variant.Name, cfg.ImagesDir, "web", sinks...)

	snap := settingsStore.Snapshot()
	host := snap.Server.Host
	if cfg.HostOverride != "" {
		host = cfg.HostOverride
	}
	port := snap.Server.Port
	if cfg.PortOverride != 0 {
		port = cfg.PortOverride
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	b.Start()

	go func() {
		logger.Info("Dashboard listening on http://%s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server: %v", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown: %v", err)
	}

	b.Stop()
	logger.Info("=== %s stopped ===", variant.Name)
}
