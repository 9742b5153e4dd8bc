// Kestrel - Explainable fraud decisions for payment transactions.
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

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/directory"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/traces"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ledger_durable", cfg.Ledger.Durable,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := traces.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus; nil when disabled
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	if busImpl != nil {
		defer busImpl.Close()
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Identity ledger
	ledgerOpts := []ledger.Option{ledger.WithMatcher(features.MatchVariant)}
	if cfg.Ledger.Durable {
		ledgerOpts = append(ledgerOpts, ledger.WithStore(repo))
	}
	identity := ledger.New(cfg.Detection.HighRiskCountries, ledgerOpts...)
	if cfg.Ledger.Durable {
		if err := identity.Restore(ctx); err != nil {
			slog.Error("failed to restore ledger", "error", err)
			os.Exit(1)
		}
	}
	stats := identity.Stats()
	slog.Info("ledger initialized",
		"durable", cfg.Ledger.Durable,
		"accounts", stats.Accounts,
		"holders", stats.Holders,
		"names", stats.Names,
	)

	// Reference directory
	sqlDir := directory.NewSQL(repo)
	seeded, err := sqlDir.Seed(ctx, directory.DemoAccounts)
	if err != nil {
		slog.Error("failed to seed reference directory", "error", err)
		os.Exit(1)
	}
	refDir := directory.NewCached(sqlDir, cacheImpl, cfg.Cache.DirectoryTTL)
	slog.Info("reference directory initialized", "seeded", seeded, "ttl", cfg.Cache.DirectoryTTL)

	// Classifier
	model, err := classifier.New(cfg.Detection.ModelPath)
	if err != nil {
		slog.Error("failed to initialize classifier", "error", err)
		os.Exit(1)
	}
	if info, err := model.Reload(); err != nil {
		// Serve anyway: /analyze answers 503 until POST /model/reload succeeds.
		slog.Error("failed to load model", "path", cfg.Detection.ModelPath, "error", err)
	} else {
		slog.Info("model loaded", "model", info.Name, "version", info.Version, "terms", info.Terms)
	}

	// Decision overlay
	veryHigh, err := decimal.NewFromString(cfg.Detection.VeryHighAmount)
	if err != nil {
		veryHigh = features.DefaultVeryHighAmount
	}
	processor := decision.NewProcessor()
	processor.DeclineThreshold = cfg.Detection.DeclineThreshold
	processor.ReviewThreshold = cfg.Detection.ReviewThreshold
	slog.Info("decision processor initialized",
		"decline_threshold", processor.DeclineThreshold,
		"review_threshold", processor.ReviewThreshold,
		"very_high_amount", veryHigh.String(),
	)

	svc := analysis.NewService(analysis.Deps{
		Ledger:     identity,
		Extractor:  features.NewExtractor(identity, refDir, veryHigh),
		Classifier: model,
		Processor:  processor,
		Log:        repo,
		Bus:        busImpl,
	})

	// Async worker
	var asyncWorker *worker.Worker
	if busImpl != nil && (cfg.Tier == domain.TierPro || cfg.AsyncWorker) {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, cfg.Security, api.Deps{
		Service:   svc,
		Model:     model,
		Directory: refDir,
		Decisions: repo,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

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
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown failed", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 KESTREL                   |")
	fmt.Println("  |      Fraud Decision Engine                |")
	fmt.Println("  |   Every verdict comes with its reasons.   |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze              - Analyze a transaction")
	fmt.Println("    POST /analyze/async        - Queue a transaction for analysis")
	fmt.Println("    GET  /get-history          - All decisions, oldest first")
	fmt.Println("    GET  /get-history-by-date  - Decisions grouped by date")
	fmt.Println("    POST /reset-history        - Clear history and ledger (admin)")
	fmt.Println("    GET  /ledger               - Identity ledger sizes")
	fmt.Println("    GET  /model                - Loaded scoring model")
	fmt.Println("    POST /model/reload         - Reload the scoring model (admin)")
	fmt.Println("    POST /reference-accounts   - Register a reference account (admin)")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println("    GET  /metrics              - Prometheus metrics")
	fmt.Println()
}
