package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iconidentify/clipdrop/internal/api"
	"github.com/iconidentify/clipdrop/internal/api/handler"
	"github.com/iconidentify/clipdrop/internal/config"
	"github.com/iconidentify/clipdrop/internal/downloader"
	"github.com/iconidentify/clipdrop/internal/metrics"
	"github.com/iconidentify/clipdrop/internal/repository"
	"github.com/iconidentify/clipdrop/internal/service"
	"github.com/iconidentify/clipdrop/internal/worker"
	"github.com/iconidentify/clipdrop/pkg/ffmpeg"
	"github.com/iconidentify/clipdrop/pkg/tiktok"
	"github.com/iconidentify/clipdrop/pkg/toolexec"
	"github.com/iconidentify/clipdrop/pkg/ytdlp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clipdrop %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting clipdrop",
		"version", Version,
		"build_time", BuildTime,
	)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(configPath string, logger *slog.Logger) error {
	startedAt := time.Now()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Ensure storage directories exist
	for _, dir := range []string{cfg.Storage.BasePath, cfg.Storage.TempPath, cfg.Storage.DataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// One live process per data directory; startup recovery relies on it.
	lock := flock.New(filepath.Join(cfg.Storage.DataDir(), "clipdrop.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another clipdrop instance is using this data directory")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	ctx := context.Background()

	db, err := repository.Open(ctx, cfg.Storage.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize dependencies
	assetRepo := repository.NewSQLiteAssetRepository(db)
	favoriteRepo := repository.NewSQLiteFavoriteRepository(db)
	jobRepo := repository.NewInMemoryJobRepository()
	layout := service.Layout{BasePath: cfg.Storage.BasePath, TempPath: cfg.Storage.TempPath}

	runner := toolexec.NewExecRunner()
	acquirer := service.NewMediaAcquirer(
		tiktok.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout, cfg.Download.UserAgent),
		downloader.NewHTTPDownloader(cfg.Download, cfg.Storage.MaxFileSize, logger),
		ytdlp.New(runner, cfg.Tools.YtDlpPath),
		layout,
		cfg.Download.Parallelism,
		cfg.Tools.FallbackTimeout,
		m,
		logger,
	)
	transformer := service.NewMediaTransformer(
		ffmpeg.NewProcessor(runner, cfg.Tools.FFmpegPath, cfg.Tools.FFprobePath),
		layout,
		cfg.Tools.TranscodeTimeout,
		cfg.Tools.ProbeTimeout,
		logger,
	)

	// Initialize services
	assetSvc := service.NewAssetService(
		assetRepo,
		favoriteRepo,
		jobRepo,
		acquirer,
		transformer,
		service.EveryoneVisible{},
		layout,
		service.IngestPolicy{
			AllowedHosts:     cfg.Ingest.AllowedHosts,
			MaxMessageLength: cfg.Ingest.MaxMessageLength,
			Retention:        cfg.Retention.Window,
		},
		m,
		logger,
	)

	// Anything still processing was abandoned by a previous process.
	if _, err := assetSvc.RecoverInterrupted(ctx, startedAt.Add(-cfg.Retention.OrphanGrace)); err != nil {
		return err
	}

	reaper := service.NewReaper(assetRepo, favoriteRepo, layout, cfg.Retention.SweepSchedule, m, logger)
	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	if err := reaper.Start(reaperCtx); err != nil {
		return err
	}

	// Initialize handlers
	assetHandler := handler.NewAssetHandler(assetSvc, handler.NewURLBuilder(cfg.Server.PublicBaseURL), logger)
	mediaHandler := handler.NewMediaHandler(assetSvc, logger)
	healthHandler := handler.NewHealthHandler(db, jobRepo).WithStoragePath(cfg.Storage.BasePath)

	// Setup router
	router := api.NewRouter(
		api.RouterConfig{
			JWTSecret:   cfg.Auth.JWTSecret,
			CORSOrigins: cfg.Server.CORSOrigins,
			Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		},
		assetHandler,
		mediaHandler,
		healthHandler,
		logger,
	)

	// Initialize worker pool
	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		assetSvc,
		logger,
	)
	pool.Start()

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers (allow in-flight jobs to complete)
	if err := pool.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	reaper.Stop(shutdownCtx)
	return runErr
}
