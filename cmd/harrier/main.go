// Harrier - AP invoice decisions that deploy in 60 seconds.
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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fraud"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/match"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
	"github.com/opensource-finance/harrier/internal/workflow"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if mode := os.Getenv("HARRIER_INTAKE_MODE"); mode != "" {
		cfg.IntakeMode = domain.IntakeMode(mode)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"intake_mode", cfg.IntakeMode,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Policy Table
	table := policy.NewTable()
	if err := loadPoliciesFromDatabase(ctx, repo, table); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy table initialized", "tiers", table.Count())

	// Initialize Fraud Rule Set
	ruleSet, err := fraud.NewRuleSet(100)
	if err != nil {
		slog.Error("failed to initialize fraud rule set", "error", err)
		os.Exit(1)
	}
	defer ruleSet.Close()

	// Load custom rules from database (no hardcoded defaults - configure via API)
	if err := loadFraudRulesFromDatabase(ctx, repo, ruleSet); err != nil {
		slog.Error("failed to load fraud rules", "error", err)
		os.Exit(1)
	}
	slog.Info("fraud rule set initialized", "rules_count", ruleSet.Count())

	// Initialize engines
	matcher := match.NewEngine()
	scorer := fraud.NewScorer(ruleSet)
	workflows := workflow.NewEngine(repo, table)
	histSvc := history.NewService(repo, cacheImpl)
	slog.Info("decision engines initialized")

	// Initialize Decision Orchestrator
	orchestrator := decision.NewOrchestrator(
		repo, busImpl,
		matcher, scorer, workflows, histSvc,
		table,
		fraud.NewBaselinePredictor(),
	)

	// Initialize async Worker (Pro tier or explicit opt-in)
	var asyncWorker *worker.Worker
	if cfg.IntakeMode == domain.ModeAsync || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, orchestrator, workflows)

		// Get tenant IDs to process (from environment or all tenants)
		tenantIDs := []string{}
		if envTenants := os.Getenv("HARRIER_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs:          tenantIDs,
			EscalationInterval: time.Minute,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, orchestrator, workflows, table, ruleSet, Version, cfg.IntakeMode)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
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

	slog.Info("harrier shutdown complete")
}

// GlobalTenantID is used for policies and rules that apply to all tenants.
const GlobalTenantID = "*"

// loadPoliciesFromDatabase loads tier policies into the table. On first boot
// the database is empty, so the built-in defaults are seeded and used.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, table *policy.Table) error {
	dbPolicies, err := repo.ListPolicies(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		dbPolicies = nil
	}

	if len(dbPolicies) > 0 {
		slog.Info("loading policies from database", "count", len(dbPolicies))
		table.Load(dbPolicies)
		return nil
	}

	// Seed defaults so they can be edited via the API later
	defaults := domain.DefaultPolicies()
	for _, p := range defaults {
		p.Enabled = true
		if err := repo.SavePolicy(ctx, GlobalTenantID, p); err != nil {
			slog.Warn("failed to seed default policy", "tier", p.Tier, "error", err)
		}
	}
	slog.Info("seeded default policies", "count", len(defaults))
	table.Load(defaults)
	return nil
}

// loadFraudRulesFromDatabase loads custom CEL rules from the database into
// the rule set. All rules are configured via POST /fraud-rules - no
// hardcoded defaults.
func loadFraudRulesFromDatabase(ctx context.Context, repo domain.Repository, ruleSet *fraud.RuleSet) error {
	dbRules, err := repo.ListFraudRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list fraud rules from database", "error", err)
		return nil // Start with the built-in indicator battery only
	}

	if len(dbRules) > 0 {
		slog.Info("loading fraud rules from database", "count", len(dbRules))
		return ruleSet.LoadRules(dbRules)
	}

	slog.Info("no custom fraud rules in database - configure via POST /fraud-rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                   ║")
	fmt.Println("  ║      AP Invoice Decision Engine         ║")
	fmt.Println("  ║      Every invoice, decided.            ║")
	fmt.Println("  ╚═════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /decide                 - Decide an invoice synchronously")
	fmt.Println("    POST /invoices               - Submit an invoice (sync or async)")
	fmt.Println("    GET  /invoices/{id}          - Get invoice by ID")
	fmt.Println("    POST /purchase-orders        - Register a purchase order")
	fmt.Println("    POST /goods-receipts         - Register a goods receipt")
	fmt.Println("    GET  /workflows/{id}         - Get approval workflow")
	fmt.Println("    POST /workflows/{id}/steps/{stepID}/approve  - Approve or reject")
	fmt.Println("    GET  /approvals/pending      - Pending approvals for a role")
	fmt.Println("    GET  /policies               - Tier policy management")
	fmt.Println("    GET  /fraud-rules            - Custom fraud rule management")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
