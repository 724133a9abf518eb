// Package decision sequences the match, fraud and workflow engines into a
// single invoice decision. The orchestrator is the only component that sees
// all three; the engines stay pure and side-effect free while persistence
// and event publication happen here.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fraud"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/match"
	"github.com/opensource-finance/harrier/internal/workflow"
)

// Outcome is the aggregated result for one decided invoice. It is what the
// API returns and what gets published on the decision topic.
type Outcome struct {
	Invoice  *domain.Invoice             `json:"invoice"`
	Match    *domain.MatchResult         `json:"match"`
	Fraud    *domain.FraudAnalysisResult `json:"fraud"`
	Workflow *domain.WorkflowInstance    `json:"workflow"`

	// Status is the workflow's terminal or routing status at decision time.
	Status domain.WorkflowStatus `json:"status"`

	// NextApprover is the role holding the first open step, empty when the
	// instance is already terminal.
	NextApprover string `json:"nextApprover,omitempty"`

	DurationMs int64 `json:"durationMs"`
}

// PolicyLookup resolves the effective policy for a tier.
type PolicyLookup interface {
	PolicyFor(tier string) (*domain.TierPolicy, error)
}

// Orchestrator runs the decision pipeline for one invoice at a time. It is
// safe for concurrent use: the engines it calls are stateless, and per-invoice
// workflow mutation is serialized inside the workflow engine.
type Orchestrator struct {
	repo      domain.Repository
	bus       domain.EventBus
	matcher   *match.Engine
	scorer    *fraud.Scorer
	workflows *workflow.Engine
	history   *history.Service
	policies  PolicyLookup
	predictor domain.FraudPredictor
}

// NewOrchestrator wires the pipeline. The predictor is the injected model
// capability; pass fraud.NewBaselinePredictor() when no external model is
// configured.
func NewOrchestrator(
	repo domain.Repository,
	bus domain.EventBus,
	matcher *match.Engine,
	scorer *fraud.Scorer,
	workflows *workflow.Engine,
	hist *history.Service,
	policies PolicyLookup,
	predictor domain.FraudPredictor,
) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		bus:       bus,
		matcher:   matcher,
		scorer:    scorer,
		workflows: workflows,
		history:   hist,
		policies:  policies,
		predictor: predictor,
	}
}

// Decide runs the full pipeline for an invoice: persist it, resolve its PO
// and receipt references, match, score, route, then publish the outcome.
// The engines leave result IDs and timestamps zero; they are stamped here so
// identical inputs always produce identical engine output.
func (o *Orchestrator) Decide(ctx context.Context, inv *domain.Invoice, tier string) (*Outcome, error) {
	start := time.Now()

	if inv == nil || inv.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", domain.ErrInvalidInput)
	}
	if inv.SupplierID == "" || inv.InvoiceNumber == "" {
		return nil, fmt.Errorf("%w: supplier ID and invoice number are required", domain.ErrInvalidInput)
	}

	pol, err := o.policies.PolicyFor(tier)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}

	// History is snapshotted before this invoice is stored so the scorer
	// sees only prior submissions.
	submissions, err := o.history.RecordSubmission(ctx, inv.TenantID, inv.SupplierID)
	if err != nil {
		slog.Warn("submission counter unavailable",
			"tenant_id", inv.TenantID,
			"supplier_id", inv.SupplierID,
			"error", err,
		)
		submissions = 1
	}
	hist, err := o.history.Snapshot(ctx, inv.TenantID, inv.SupplierID, pol.DuplicateLookbackDays, submissions)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplier history: %w", err)
	}

	if err := o.repo.SaveInvoice(ctx, inv.TenantID, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	po, receipt, err := o.resolveReferences(ctx, inv)
	if err != nil {
		return nil, err
	}

	matchRes := o.matcher.Match(inv, po, receipt, pol)
	matchRes.ID = uuid.New().String()
	matchRes.CreatedAt = now
	if err := o.repo.SaveMatchResult(ctx, inv.TenantID, matchRes); err != nil {
		return nil, fmt.Errorf("failed to save match result: %w", err)
	}
	o.publish(ctx, inv.TenantID, domain.TopicMatchCompleted, matchRes)

	fraudRes, err := o.scorer.Assess(ctx, inv, hist, pol, o.predictor)
	if err != nil {
		return nil, err
	}
	fraudRes.ID = uuid.New().String()
	fraudRes.CreatedAt = now
	if err := o.repo.SaveFraudAnalysis(ctx, inv.TenantID, fraudRes); err != nil {
		return nil, fmt.Errorf("failed to save fraud analysis: %w", err)
	}
	o.publish(ctx, inv.TenantID, domain.TopicFraudCompleted, fraudRes)

	wf, err := o.workflows.CreateWorkflow(ctx, inv, matchRes, fraudRes, tier, "")
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Invoice:    inv,
		Match:      matchRes,
		Fraud:      fraudRes,
		Workflow:   wf,
		Status:     wf.Status,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if role, ok := o.workflows.NextApprover(wf); ok {
		out.NextApprover = role
	}

	o.publish(ctx, inv.TenantID, domain.TopicDecision, out)
	if fraudRes.RequiresManualReview {
		o.publish(ctx, inv.TenantID, domain.TopicReviewRequired, fraudRes)
	}

	slog.Info("invoice decided",
		"invoice_id", inv.ID,
		"tenant_id", inv.TenantID,
		"match_status", matchRes.Status,
		"risk_score", fraudRes.RiskScore,
		"risk_level", fraudRes.RiskLevel,
		"workflow_status", wf.Status,
		"duration_ms", out.DurationMs,
	)

	return out, nil
}

// resolveReferences looks up the PO and goods receipt named by the invoice.
// A missing reference or a lookup miss yields nil, which the matcher treats
// as a match signal rather than an error.
func (o *Orchestrator) resolveReferences(ctx context.Context, inv *domain.Invoice) (*domain.PurchaseOrder, *domain.GoodsReceipt, error) {
	var po *domain.PurchaseOrder
	var receipt *domain.GoodsReceipt

	if inv.PONumber != "" {
		p, err := o.repo.GetPurchaseOrderByNumber(ctx, inv.TenantID, inv.PONumber)
		switch {
		case err == nil:
			po = p
		case errors.Is(err, domain.ErrNotFound):
			// fall through, matcher reports NO_PO_FOUND
		default:
			return nil, nil, fmt.Errorf("failed to resolve purchase order %s: %w", inv.PONumber, err)
		}
	}

	if inv.ReceiptNumber != "" {
		r, err := o.repo.GetGoodsReceiptByNumber(ctx, inv.TenantID, inv.ReceiptNumber)
		switch {
		case err == nil:
			receipt = r
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, nil, fmt.Errorf("failed to resolve goods receipt %s: %w", inv.ReceiptNumber, err)
		}
	}

	return po, receipt, nil
}

// publish sends a JSON payload on the bus. Publish failures are logged and
// swallowed: the decision is already persisted and must not be rolled back
// because a notification could not be delivered.
func (o *Orchestrator) publish(ctx context.Context, tenantID, topic string, v any) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event payload", "topic", topic, "error", err)
		return
	}
	if err := o.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}
