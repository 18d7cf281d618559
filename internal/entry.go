// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/timedline/internal/api"
	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/sse"
	"github.com/starford/timedline/internal/storage/local"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("local_engine", cfg.Local.Engine),
		slog.String("local_path", cfg.Local.Path),
		slog.Bool("remote_ready", cfg.Remote.Ready()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(sse.WithTimelineThrottle(2 * time.Second))
	defer broker.Close()

	c, err := newComponents(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer c.Close()

	apiRouter := api.NewRouter(api.Deps{
		Vault:        c.vault,
		Activity:     c.activity,
		Tracker:      c.tracker,
		Selector:     c.sel,
		Auth:         c.auth,
		RemoteWanted: cfg.WantsRemote(),
		Events:       broker,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","driver":%q}`, c.sel.Current().Driver.Name())
	})
	r.Handle("/metrics", c.metrics.Handler())

	// Attachment bytes: blob references and signed object URLs.
	api.NewAttachmentHandler(c.blobs, c.objects, cfg.Remote.Objects.Public).Mount(r)

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Swap to the remote backend once it is up. Until then the server
	// answers from local storage.
	g.Go(func() error {
		if err := c.promote(); err != nil {
			logger.Warn("remote promotion failed, staying on local storage", slog.String("error", err.Error()))
		}
		return nil
	})

	// Reload when another process edits the local documents.
	if fsStore, ok := c.store.(*kv.FS); ok {
		g.Go(func() error {
			err := kv.Watch(gCtx, fsStore, logger, func(key string) {
				if c.sel.IsRemote() {
					return
				}
				switch key {
				case local.KeyEntries:
					_ = c.vault.Load(gCtx)
				case local.KeyActivity:
					_ = c.activity.Load(gCtx)
				}
			})
			if err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")
