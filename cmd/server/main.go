package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/ingest"
	"github.com/JonMunkholm/tableapi/internal/logging"
	"github.com/JonMunkholm/tableapi/internal/metrics"
	"github.com/JonMunkholm/tableapi/internal/storage"
	"github.com/JonMunkholm/tableapi/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage_driver", cfg.Storage.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"persist_all_rows", cfg.Upload.PersistAll,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"require_api_key", cfg.Security.RequireAPIKey,
	)

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	if tables, err := store.ListTables(ctx); err == nil {
		slog.Info("store ready", "driver", cfg.Storage.Driver, "tables", len(tables))
	}

	m := metrics.New()
	service := core.NewService(m.InstrumentStore(store), ingest.ParseFunc, cfg, core.WithIngestObserver(m))
	server := web.NewServer(service, cfg, web.WithMetrics(m))

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new ingest starts while we wait.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if active, _ := service.IngestStatus(); active > 0 {
			slog.Info("waiting for ingests to complete", "active", active)
			if err := service.WaitForIngests(shutdownCtx); err != nil {
				slog.Warn("ingests did not complete in time", "error", err)
			} else {
				slog.Info("all ingests completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
