package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fraud"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/workflow"
)

// GlobalTenantID is used for policies and rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *decision.Orchestrator
	workflows    *workflow.Engine
	policies     *policy.Table
	ruleSet      *fraud.RuleSet
	version      string
	mode         domain.IntakeMode
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	orchestrator *decision.Orchestrator,
	workflows *workflow.Engine,
	policies *policy.Table,
	ruleSet *fraud.RuleSet,
	version string,
	mode domain.IntakeMode,
) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		workflows:    workflows,
		policies:     policies,
		ruleSet:      ruleSet,
		version:      version,
		mode:         mode,
	}
}

// Decide handles POST /decide: run the full pipeline synchronously and
// return the aggregated outcome.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	req, ok := h.decodeInvoiceRequest(w, r, tenantID)
	if !ok {
		return
	}

	out, err := h.orchestrator.Decide(ctx, req.ToInvoice(), req.Tier)
	if err != nil {
		h.writeError(w, "decision failed", err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// SubmitInvoice handles POST /invoices. In async mode the invoice is
// enqueued for the worker and the caller gets a 202; in sync mode it is
// decided inline.
func (h *Handler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	req, ok := h.decodeInvoiceRequest(w, r, tenantID)
	if !ok {
		return
	}

	if h.mode == domain.ModeAsync && h.bus != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			h.writeError(w, "failed to encode invoice", err)
			return
		}
		if err := h.bus.Publish(ctx, tenantID, domain.TopicInvoiceReceived, payload); err != nil {
			h.writeError(w, "failed to enqueue invoice", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
			"topic":  domain.TopicInvoiceReceived,
		})
		return
	}

	out, err := h.orchestrator.Decide(ctx, req.ToInvoice(), req.Tier)
	if err != nil {
		h.writeError(w, "decision failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) decodeInvoiceRequest(w http.ResponseWriter, r *http.Request, tenantID string) (*domain.InvoiceRequest, bool) {
	var req domain.InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}

	// Header tenant wins over body tenant.
	req.TenantID = tenantID

	if req.Tier == "" {
		req.Tier = domain.TierGrowth
	}
	if req.SupplierID == "" || req.InvoiceNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "supplierId and invoiceNumber are required",
		})
		return nil, false
	}
	if req.TotalAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "totalAmount must be positive",
		})
		return nil, false
	}

	return &req, true
}

// GetInvoice retrieves an invoice by ID.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	inv, err := h.repo.GetInvoice(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "invoice not found", err)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// CreatePurchaseOrder handles POST /purchase-orders.
func (h *Handler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var po domain.PurchaseOrder
	if err := json.NewDecoder(r.Body).Decode(&po); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if po.Number == "" || po.SupplierID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "number and supplierId are required",
		})
		return
	}

	if po.ID == "" {
		po.ID = uuid.New().String()
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.TenantID = tenantID

	if err := h.repo.SavePurchaseOrder(ctx, tenantID, &po); err != nil {
		h.writeError(w, "failed to save purchase order", err)
		return
	}

	writeJSON(w, http.StatusCreated, &po)
}

// CreateGoodsReceipt handles POST /goods-receipts.
func (h *Handler) CreateGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var gr domain.GoodsReceipt
	if err := json.NewDecoder(r.Body).Decode(&gr); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if gr.Number == "" || gr.SupplierID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "number and supplierId are required",
		})
		return
	}

	if gr.ID == "" {
		gr.ID = uuid.New().String()
	}
	if gr.ReceivedAt.IsZero() {
		gr.ReceivedAt = time.Now().UTC()
	}
	gr.TenantID = tenantID

	if err := h.repo.SaveGoodsReceipt(ctx, tenantID, &gr); err != nil {
		h.writeError(w, "failed to save goods receipt", err)
		return
	}

	writeJSON(w, http.StatusCreated, &gr)
}

// GetMatchResult retrieves a match result by ID.
func (h *Handler) GetMatchResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.repo.GetMatchResult(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "match result not found", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetFraudAnalysis retrieves a fraud analysis by ID.
func (h *Handler) GetFraudAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.repo.GetFraudAnalysis(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "fraud analysis not found", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetWorkflow retrieves a workflow instance with its steps.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	wf, err := h.repo.GetWorkflow(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "workflow not found", err)
		return
	}

	writeJSON(w, http.StatusOK, wf)
}

// ApprovalRequest is the request body for step approval and rejection.
type ApprovalRequest struct {
	ActorID   string `json:"actorId"`
	ActorRole string `json:"actorRole"`
	Decision  string `json:"decision"` // "approve" or "reject"
	Notes     string `json:"notes,omitempty"`
}

// ProcessApproval handles POST /workflows/{id}/steps/{stepID}/approve.
func (h *Handler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	instanceID := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	verdict := domain.Decision(req.Decision)
	if verdict != domain.DecisionApprove && verdict != domain.DecisionReject {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": `decision must be "approve" or "reject"`,
		})
		return
	}
	if req.ActorID == "" || req.ActorRole == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actorId and actorRole are required",
		})
		return
	}

	wf, err := h.workflows.ProcessApproval(ctx, tenantID, instanceID, stepID, req.ActorID, req.ActorRole, verdict, req.Notes)
	if err != nil {
		h.writeError(w, "approval failed", err)
		return
	}

	h.publishWorkflowUpdate(r, tenantID, wf)
	writeJSON(w, http.StatusOK, wf)
}

// DelegationRequest is the request body for step delegation.
type DelegationRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// DelegateApproval handles POST /workflows/{id}/steps/{stepID}/delegate.
func (h *Handler) DelegateApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	instanceID := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	var req DelegationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "to is required",
		})
		return
	}

	wf, err := h.workflows.Delegate(ctx, tenantID, instanceID, stepID, req.From, req.To, req.Reason)
	if err != nil {
		h.writeError(w, "delegation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, wf)
}

// CancelRequest is the request body for workflow cancellation.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelWorkflow handles POST /workflows/{id}/cancel.
func (h *Handler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CancelRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	wf, err := h.workflows.Cancel(ctx, tenantID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, "cancel failed", err)
		return
	}

	h.publishWorkflowUpdate(r, tenantID, wf)
	writeJSON(w, http.StatusOK, wf)
}

// PendingApprovals handles GET /approvals/pending?approver=ROLE.
func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	approver := r.URL.Query().Get("approver")
	if approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "approver query parameter is required",
		})
		return
	}

	steps, err := h.workflows.PendingApprovals(ctx, tenantID, approver)
	if err != nil {
		h.writeError(w, "failed to list pending approvals", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps": steps,
		"count": len(steps),
	})
}

// OverdueApprovals handles GET /approvals/overdue.
func (h *Handler) OverdueApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	steps, err := h.workflows.OverdueApprovals(ctx, tenantID, time.Now().UTC())
	if err != nil {
		h.writeError(w, "failed to list overdue approvals", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps": steps,
		"count": len(steps),
	})
}

// ListPolicies returns the policies currently loaded in the table.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.Loaded()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy returns the loaded policy for a tier.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	tier := chi.URLParam(r, "tier")

	p, err := h.policies.PolicyFor(tier)
	if err != nil {
		h.writeError(w, "policy not found", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// SavePolicy creates or replaces a tier policy in the database.
// Policies are saved globally so they apply to all tenants.
// Call POST /policies/reload to apply changes.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p domain.TierPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if p.Tier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tier is required",
		})
		return
	}
	if p.ModelWeight < 0 || p.IndicatorWeight < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weights must be non-negative",
		})
		return
	}
	p.Enabled = true

	if err := h.repo.SavePolicy(ctx, GlobalTenantID, &p); err != nil {
		h.writeError(w, "failed to save policy", err)
		return
	}

	slog.Info("policy saved", "tier", p.Tier)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  &p,
		"message": "Policy saved. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads the policy table from the database.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	policies, err := h.repo.ListPolicies(ctx, GlobalTenantID)
	if err != nil {
		h.writeError(w, "failed to load policies from database", err)
		return
	}

	h.policies.Reload(policies)

	slog.Info("policies reloaded from database", "count", len(policies))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(policies),
	})
}

// ListFraudRules returns the custom rules currently loaded in the rule set.
func (h *Handler) ListFraudRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.ruleSet.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreateFraudRule creates a custom fraud rule and saves it to the database.
// Rules are saved globally so they apply to all tenants.
func (h *Handler) CreateFraudRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.FraudRuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if cfg.ID == "" || cfg.Name == "" || cfg.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg.TenantID = GlobalTenantID
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	// Validate CEL expression before persisting
	if err := h.ruleSet.ValidateRule(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveFraudRule(ctx, GlobalTenantID, &cfg); err != nil {
		h.writeError(w, "failed to save fraud rule", err)
		return
	}

	slog.Info("fraud rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    &cfg,
		"message": "Rule created. Call POST /fraud-rules/reload to apply changes.",
	})
}

// ReloadFraudRules reloads all custom rules from the database into the
// rule set.
func (h *Handler) ReloadFraudRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rules, err := h.repo.ListFraudRules(ctx, GlobalTenantID)
	if err != nil {
		h.writeError(w, "failed to load fraud rules from database", err)
		return
	}

	if err := h.ruleSet.ReloadRules(rules); err != nil {
		h.writeError(w, "failed to reload fraud rules", err)
		return
	}

	slog.Info("fraud rules reloaded from database", "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "fraud rules reloaded successfully",
		"count":   len(rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// publishWorkflowUpdate notifies bus consumers about workflow state changes
// that happen outside the decision pipeline.
func (h *Handler) publishWorkflowUpdate(r *http.Request, tenantID string, wf *domain.WorkflowInstance) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(wf)
	if err != nil {
		return
	}
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish workflow update",
			"workflow_id", wf.ID,
			"error", err,
		)
	}
}

// writeError maps domain errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPolicyNotConfigured):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRoleMismatch):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrMaxDelegationDepth):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPredictionUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": msg + ": " + err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
