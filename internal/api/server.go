// Package api exposes the HTTP surface of Harrier: invoice intake and
// decisions, approval actions, and policy and fraud-rule management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fraud"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/workflow"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	orchestrator *decision.Orchestrator,
	workflows *workflow.Engine,
	policies *policy.Table,
	ruleSet *fraud.RuleSet,
	version string,
	mode domain.IntakeMode,
) *Server {
	handler := NewHandler(repo, cache, bus, orchestrator, workflows, policies, ruleSet, version, mode)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Invoice intake
		r.Post("/decide", handler.Decide)
		r.Post("/invoices", handler.SubmitInvoice)
		r.Get("/invoices/{id}", handler.GetInvoice)

		// Reference data the matcher resolves against
		r.Post("/purchase-orders", handler.CreatePurchaseOrder)
		r.Post("/goods-receipts", handler.CreateGoodsReceipt)

		// Decision artifacts
		r.Get("/match-results/{id}", handler.GetMatchResult)
		r.Get("/fraud-analyses/{id}", handler.GetFraudAnalysis)

		// Approval workflow
		r.Get("/workflows/{id}", handler.GetWorkflow)
		r.Post("/workflows/{id}/steps/{stepID}/approve", handler.ProcessApproval)
		r.Post("/workflows/{id}/steps/{stepID}/delegate", handler.DelegateApproval)
		r.Post("/workflows/{id}/cancel", handler.CancelWorkflow)
		r.Get("/approvals/pending", handler.PendingApprovals)
		r.Get("/approvals/overdue", handler.OverdueApprovals)

		// Policy management
		r.Get("/policies", handler.ListPolicies)
		r.Get("/policies/{tier}", handler.GetPolicy)
		r.Post("/policies", handler.SavePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)

		// Custom fraud rule management
		r.Get("/fraud-rules", handler.ListFraudRules)
		r.Post("/fraud-rules", handler.CreateFraudRule)
		r.Post("/fraud-rules/reload", handler.ReloadFraudRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
