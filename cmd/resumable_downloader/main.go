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
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/resumable_downloader/internal/cleanup"
	"github.com/italolelis/resumable_downloader/internal/config"
	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/http/rest"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/notifier"
	"github.com/italolelis/resumable_downloader/internal/persistence"
	"github.com/italolelis/resumable_downloader/internal/storage/sqlite"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transport"
	"github.com/italolelis/resumable_downloader/internal/transport/httptransport"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("resumable downloader starting...", "log_level", cfg.LogLevel, "version", version)

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
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	store := persistence.NewStore(
		sqlite.NewInstrumentedKeyValueRepository(database, tel),
		sqlite.NewInstrumentedArtifactRepository(database, tel),
	)

	// =========================================================================
	// Start Transport and Manager
	fs := afero.NewOsFs()

	for _, dir := range []string{cfg.TargetDir, cfg.PartialDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	tr := httptransport.New(ctx, httptransport.Options{
		PartialDir:       cfg.PartialDir,
		Fs:               fs,
		ProgressInterval: cfg.ProgressInterval,
		RetryMax:         cfg.RetryMax,
		RetryWaitMin:     cfg.RetryWaitMin,
		RetryWaitMax:     cfg.RetryWaitMax,
		AuthToken:        cfg.AuthToken,
	})

	manager := downloader.NewManager(ctx, transport.NewInstrumentedTransport(tr, tel), store, downloader.Options{
		TargetDir:     cfg.TargetDir,
		Fs:            fs,
		MaxConcurrent: cfg.MaxConcurrent,
		DrainTimeout:  cfg.DrainTimeout,
		PauseTimeout:  cfg.PauseTimeout,
		Headers:       cfg.Headers,
		Telemetry:     tel,
	})

	if err := manager.Reconnect(ctx); err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	if cfg.AutoResume {
		resumed := manager.ResumePending(ctx)
		logger.Info("resumed pending downloads", "count", len(resumed))
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, manager, tel, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		webhookClient := retryablehttp.NewClient()
		webhookClient.Logger = nil
		webhookClient.RetryMax = cfg.RetryMax

		n := &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL, Client: webhookClient.StandardClient()}

		g.Go(func() error {
			notifier.Forward(gctx, n, manager.SubscribeAll(gctx))

			return nil
		})
	}

	// =========================================================================
	// Start Cleanup
	if cfg.KeepDownloadedFor > 0 {
		g.Go(func() error {
			runCleanup(gctx, fs, store, cfg)

			return nil
		})
	}

	logger.Info("waiting for downloads...",
		"target_dir", cfg.TargetDir,
		"max_concurrent", cfg.MaxConcurrent,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		shutdown(context.WithoutCancel(ctx), manager, tr.SessionID(), cfg)

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// shutdown drains every transfer into a checkpoint and then waits, bounded by the drain
// timeout, for the transport to deliver its last events. With nothing live there is
// nothing to wait for.
func shutdown(ctx context.Context, manager *downloader.Manager, sessionID string, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	flushed := make(chan struct{})

	var once sync.Once

	manager.HandleBackgroundCompletion(sessionID, func() {
		once.Do(func() { close(flushed) })
	})

	if report := manager.PrepareForTermination(); report.Tasks == 0 {
		return
	}

	select {
	case <-flushed:
		logger.Info("transport events flushed", "session_id", sessionID)
	case <-time.After(cfg.DrainTimeout):
		logger.Warn("transport events not flushed before deadline", "session_id", sessionID)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, manager *downloader.Manager, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	dHandler := rest.NewDownloadsHandler(cfg.API.Username, cfg.API.Password, manager)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", dHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "downloads-api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanup(ctx context.Context, fs afero.Fs, store *persistence.Store, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			gone, err := cleanup.DeleteExpiredFiles(ctx, fs, store.Artifacts(ctx), cfg.KeepDownloadedFor, time.Now())
			if err != nil {
				logger.Error("failed to delete expired tracked files", "err", err)
			}

			for _, id := range gone {
				store.ForgetArtifact(ctx, id)
			}
		}
	}
}
