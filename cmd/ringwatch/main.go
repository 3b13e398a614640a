// Ringwatch - Money-muling ring detection over transaction batches.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/ringwatch/internal/analyzer"
	"github.com/opensource-finance/ringwatch/internal/api"
	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/cache"
	"github.com/opensource-finance/ringwatch/internal/config"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/logging"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/repository"
	"github.com/opensource-finance/ringwatch/internal/rules"
	"github.com/opensource-finance/ringwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration (.env + RINGWATCH_* overrides)
	cfg := config.Load()

	// Initialize structured logger
	slog.SetDefault(logging.New(cfg.Logging))

	// Log startup
	slog.Info("starting ringwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"fan_window", cfg.Detection.FanWindow.String(),
		"fan_threshold", cfg.Detection.FanThreshold,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	var cacheImpl domain.Cache
	if cfg.Cache.Type != "none" {
		cacheImpl, err = cache.New(cfg.Cache)
		if err != nil {
			slog.Error("failed to initialize cache", "error", err)
			os.Exit(1)
		}
		defer cacheImpl.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize alert Rule Engine
	engine, err := rules.NewEngine(cfg.Alerting.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, engine, cfg.Alerting.UseDefaultRules); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount(), "alerts_enabled", cfg.Alerting.Enabled)

	// Initialize detection pipeline and analysis service
	opts := analyzer.Options{
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		ReportTTL:  cfg.Cache.ReportTTL,
	}
	if cfg.Alerting.Enabled {
		opts.Rules = engine
	}
	service := analyzer.New(pipeline.New(cfg.Detection), opts)
	slog.Info("detection pipeline initialized",
		"cycle_lengths", fmt.Sprintf("%d-%d", cfg.Detection.MinCycleLength, cfg.Detection.MaxCycleLength),
		"workers", cfg.Detection.Workers,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, service)

		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			WorkerCount: cfg.Worker.Count,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Service:    service,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Rules:      engine,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("ringwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("ringwatch shutdown complete")
}

// loadRules loads alert rules from the database into the engine, falling
// back to the built-in rules when the database holds none.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, useDefaults bool) error {
	dbRules, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		dbRules = nil
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	if useDefaults {
		slog.Info("no rules in database - loading built-in rules")
		return engine.LoadRules(rules.DefaultRules())
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               RINGWATCH                   ║")
	fmt.Println("  ║     Money-Muling Ring Detection Engine    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze           - Analyse a CSV or JSON batch")
	fmt.Println("    GET  /analyses          - List archived reports")
	fmt.Println("    GET  /analyses/{id}     - Get an archived report")
	fmt.Println("    GET  /rules             - List alert rules")
	fmt.Println("    POST /rules             - Create an alert rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
