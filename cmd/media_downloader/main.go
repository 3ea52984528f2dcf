package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/media_downloader/internal/admission"
	"github.com/italolelis/media_downloader/internal/cleanup"
	"github.com/italolelis/media_downloader/internal/config"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/fetch"
	"github.com/italolelis/media_downloader/internal/history"
	"github.com/italolelis/media_downloader/internal/http/rest"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/notifier"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/storage/jsonfile"
	"github.com/italolelis/media_downloader/internal/storage/sqlite"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const dirPerm = 0755

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("media downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if err := os.MkdirAll(cfg.DownloadDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	// =========================================================================
	// Start Media Engine
	if cfg.YtdlpAutoInstall {
		if err := fetch.EnsureInstalled(ctx); err != nil {
			return err
		}
	}

	engine := fetch.NewYtdlpEngine(cfg.DownloadDir)

	// =========================================================================
	// Start History
	repo, closeRepo, err := buildHistoryRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build history repository: %w", err)
	}
	defer closeRepo()

	store := history.NewStore(storage.NewInstrumentedHistoryRepository(repo, tel), cfg.HistoryLimit)

	// =========================================================================
	// Start Downloader
	dl := downloader.NewDownloader(engine, admission.NewTracker(), store, tel, downloader.Options{
		DownloadDir:      cfg.DownloadDir,
		MaxParallel:      cfg.MaxParallel,
		Timeout:          cfg.DownloadTimeout,
		RecentFileWindow: cfg.RecentFileWindow,
	})

	server := setupServer(ctx, cfg, dl, store, tel)

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Notification
	g.Go(func() error {
		runNotifications(gctx, dl, cfg, tel)

		return nil
	})

	// =========================================================================
	// Start Cleanup
	if cfg.KeepDownloadedFor > 0 {
		g.Go(func() error {
			runCleanup(gctx, store, cfg, tel)

			return nil
		})
	}

	// =========================================================================
	// Start API Service
	g.Go(func() error {
		logger.Info("Initializing API support",
			"host", cfg.Web.BindAddress,
			"download_dir", cfg.DownloadDir,
			"history_backend", cfg.HistoryBackend,
			"ffmpeg_installed", engine.MuxerAvailable(),
			"retention", cfg.KeepDownloadedFor.String(),
		)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	err = g.Wait()

	dl.Close()

	return err
}

// This is an abstract factory for the history repository.
func buildHistoryRepository(ctx context.Context, cfg *config.Config) (storage.HistoryRepository, func(), error) {
	switch cfg.HistoryBackend {
	case config.HistoryBackendJSON:
		return jsonfile.NewHistoryRepository(cfg.HistoryFile), func() {}, nil
	case config.HistoryBackendSQLite:
		db, err := sqlite.InitDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		closeDB := func() {
			if err := db.Close(); err != nil {
				logctx.LoggerFromContext(ctx).Error("failed to close database", "err", err)
			}
		}

		return sqlite.NewHistoryRepository(db, cfg.DBPath), closeDB, nil
	}

	return nil, nil, fmt.Errorf("invalid history backend: %s", cfg.HistoryBackend)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	dl *downloader.Downloader,
	store *history.Store,
	tel *telemetry.Telemetry,
) *http.Server {
	mediaHandler := rest.NewMediaHandler(dl, store, cfg.DownloadDir)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", mediaHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		BaseContext: func(net.Listener) context.Context {
			// in-flight downloads are allowed to finish within the shutdown timeout
			return context.WithoutCancel(ctx)
		},
	}
}

func runNotifications(ctx context.Context, dl *downloader.Downloader, cfg *config.Config, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	notify := func(content string) {
		if notif == nil {
			return
		}

		if err := notif.Notify(ctx, content); err != nil {
			logger.Error("failed to send notification", "err", err)
			tel.RecordNotification(ctx, "error")

			return
		}

		tel.RecordNotification(ctx, "success")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("notification goroutine shutting down.")

			return
		case event, ok := <-dl.OnDownloadFinished:
			if !ok {
				return
			}

			logger.Info("download finished", "url", event.URL, "title", event.Title, "file", event.Filename)
			notify("✅ Download finished: " + event.Title + " (" + history.FormatSize(event.Filesize) + ")")
		case event, ok := <-dl.OnDownloadFailed:
			if !ok {
				return
			}

			logger.Error("download failed", "url", event.URL, "choice", event.Choice, "err", event.Err)
			notify("❌ Download failed for " + event.URL + ": " + event.Err.Error())
		}
	}
}

func runCleanup(ctx context.Context, store *history.Store, cfg *config.Config, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			deleted, err := cleanup.DeleteExpiredFiles(ctx, store.Load(ctx), cfg.DownloadDir, cfg.KeepDownloadedFor)
			if err != nil {
				logger.Error("failed to delete expired files", "err", err)
				tel.RecordSystemError(ctx, "cleanup", "delete_failed")
			}

			tel.RecordCleanup(ctx, deleted)
		}
	}
}
