// Package worker provides async invoice processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/workflow"
)

// Worker consumes invoice submissions from the EventBus, runs the decision
// pipeline on them, and periodically flags overdue approval steps.
type Worker struct {
	bus          domain.EventBus
	orchestrator *decision.Orchestrator
	workflows    *workflow.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty drains every
	// tenant through one broadcast subscription.
	TenantIDs []string

	// EscalationInterval is how often overdue approval steps are scanned.
	// Zero disables the escalation scanner.
	EscalationInterval time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, orchestrator *decision.Orchestrator, workflows *workflow.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		orchestrator: orchestrator,
		workflows:    workflows,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.startGlobalWorker(); err != nil {
			return err
		}
	} else {
		for _, tenantID := range cfg.TenantIDs {
			if err := w.startTenantWorker(tenantID); err != nil {
				slog.Error("failed to start worker for tenant",
					"tenant_id", tenantID,
					"error", err,
				)
				continue
			}
		}
	}

	if cfg.EscalationInterval > 0 {
		w.wg.Add(1)
		go w.escalationLoop(cfg.TenantIDs, cfg.EscalationInterval)
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"escalation_interval", cfg.EscalationInterval,
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.BroadcastTenant, domain.TopicInvoiceReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicInvoiceReceived, func(ctx context.Context, msg *domain.Message) error {
		return w.processInvoice(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicInvoiceReceived,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processInvoice(ctx, msg.TenantID, msg)
}

// processInvoice decodes a submission and runs the decision pipeline.
func (w *Worker) processInvoice(ctx context.Context, tenantID string, msg *domain.Message) error {
	var req domain.InvoiceRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse invoice message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID == "" {
		req.TenantID = tenantID
	}

	inv := req.ToInvoice()

	out, err := w.orchestrator.Decide(ctx, inv, req.Tier)
	if err != nil {
		slog.Error("invoice decision failed",
			"tenant_id", req.TenantID,
			"invoice_number", req.InvoiceNumber,
			"error", err,
		)
		return err
	}

	slog.Debug("invoice processed",
		"invoice_id", out.Invoice.ID,
		"tenant_id", req.TenantID,
		"workflow_status", out.Status,
	)

	return nil
}

// escalationLoop periodically scans for overdue open approval steps and
// publishes them so notification consumers can chase the approvers.
func (w *Worker) escalationLoop(tenantIDs []string, interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case now := <-ticker.C:
			for _, tenantID := range tenantIDs {
				w.escalateTenant(tenantID, now.UTC())
			}
		}
	}
}

func (w *Worker) escalateTenant(tenantID string, now time.Time) {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	overdue, err := w.workflows.OverdueApprovals(ctx, tenantID, now)
	if err != nil {
		slog.Error("overdue approval scan failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}

	for _, step := range overdue {
		payload, err := json.Marshal(step)
		if err != nil {
			continue
		}
		if err := w.bus.Publish(ctx, tenantID, domain.TopicApprovalOverdue, payload); err != nil {
			slog.Error("failed to publish overdue approval",
				"tenant_id", tenantID,
				"step_id", step.ID,
				"error", err,
			)
		}
	}

	if len(overdue) > 0 {
		slog.Info("overdue approvals flagged",
			"tenant_id", tenantID,
			"count", len(overdue),
		)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
