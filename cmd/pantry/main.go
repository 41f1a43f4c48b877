// Pantry serves multi-tenant food-service records over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pantryhq/pantry/internal/api"
	"github.com/pantryhq/pantry/internal/bus"
	"github.com/pantryhq/pantry/internal/cache"
	"github.com/pantryhq/pantry/internal/catalog"
	"github.com/pantryhq/pantry/internal/crud"
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/repository"
	"github.com/pantryhq/pantry/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("PANTRY_TIER") == "pro" {
		cfg = domain.ProConfig()
	}
	domain.ApplyEnv(cfg)
	if os.Getenv("PANTRY_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("PANTRY_WORKER_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = splitList(v)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting pantry",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	if cacheImpl != nil {
		defer cacheImpl.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	if busImpl != nil {
		defer busImpl.Close()
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	nodeID := uuid.New().String()

	// Register entities and build the engine
	cat, err := catalog.Build(store, crud.Options{
		Cache:    cacheImpl,
		CacheTTL: cfg.Cache.RecordTTL,
		Bus:      busImpl,
		NodeID:   nodeID,
	})
	if err != nil {
		slog.Error("failed to build catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog initialized", "entities", len(cat.Engine.Names()), "node_id", nodeID)

	drift, err := cat.Registry.VerifyColumns(ctx, store)
	if err != nil {
		slog.Error("failed to verify columns", "error", err)
		os.Exit(1)
	}
	for _, d := range drift {
		slog.Warn("column drift", "entity", d.Entity, "column", d.Column, "problem", d.Problem)
	}

	// Keep this node's local cache tier coherent with its peers
	var cacheWorker *worker.Worker
	if evicter, ok := cacheImpl.(domain.LocalEvicter); ok && busImpl != nil && cfg.Worker.Enabled {
		cacheWorker = worker.NewWorker(busImpl, evicter, nodeID)
		if err := cacheWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start cache worker", "error", err)
			cacheWorker = nil
		} else {
			slog.Info("cache worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, cacheImpl, cat.Engine, cat.DietLog, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("pantry is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so no evictions race the shutdown
	if cacheWorker != nil {
		if err := cacheWorker.Stop(); err != nil {
			slog.Error("failed to stop cache worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("pantry shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  PANTRY - food-service records")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /v1/entities                   - List entities")
	fmt.Println("    GET    /v1/{entity}                   - List records")
	fmt.Println("    POST   /v1/{entity}                   - Create a record")
	fmt.Println("    GET    /v1/{entity}/_schema           - Input contract")
	fmt.Println("    POST   /v1/{entity}/_bulk             - Bulk create")
	fmt.Println("    POST   /v1/{entity}/_bulk-delete      - Bulk delete")
	fmt.Println("    GET    /v1/{entity}/{id}              - Get a record")
	fmt.Println("    PATCH  /v1/{entity}/{id}              - Update a record")
	fmt.Println("    DELETE /v1/{entity}/{id}              - Delete a record")
	fmt.Println("    POST   /v1/diners/{id}/diet           - Assign a diet")
	fmt.Println("    POST   /v1/diners/{id}/discharge      - Discharge a diner")
	fmt.Println("    GET    /v1/diners/{id}/diet-history   - Diet history")
	fmt.Println("    GET    /health                        - Health check")
	fmt.Println()
}
