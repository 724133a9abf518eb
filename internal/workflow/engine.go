// Package workflow implements the tier-aware approval workflow state
// machine: PENDING -> IN_PROGRESS -> {COMPLETED, FAILED}, with CANCELLED
// reachable from the non-terminal states.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Terminal reasons written on the instance.
const (
	ReasonAutoApproved = "auto-approved"
	ReasonAutoRejected = "auto-rejected: fraud risk"
	ReasonApproved     = "all required approvals completed"
)

// PolicyLookup resolves the policy entry for a tier. A missing entry is
// ErrPolicyNotConfigured.
type PolicyLookup interface {
	PolicyFor(tier string) (*domain.TierPolicy, error)
}

// Engine drives approval workflow instances. Mutating operations serialize
// per instance ID: step transitions are not commutative, so at most one
// in-flight mutation per instance is allowed. Reads and operations on
// different instances proceed in parallel.
type Engine struct {
	repo     domain.Repository
	policies PolicyLookup

	locks sync.Map // instance ID -> *sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(repo domain.Repository, policies PolicyLookup) *Engine {
	return &Engine{repo: repo, policies: policies}
}

func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(instanceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateWorkflow builds and persists a workflow instance for an invoice,
// given its match and fraud results. Auto-reject produces a single failed
// step; auto-approve (perfect match, low risk, below the tier threshold)
// produces a zero-step completed instance; everything else gets the tier's
// approval chain for the invoice amount band.
func (e *Engine) CreateWorkflow(ctx context.Context, inv *domain.Invoice, matchRes *domain.MatchResult, fraudRes *domain.FraudAnalysisResult, tier string, previousID string) (*domain.WorkflowInstance, error) {
	pol, err := e.policies.PolicyFor(tier)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wf := &domain.WorkflowInstance{
		ID:         uuid.New().String(),
		TenantID:   inv.TenantID,
		InvoiceID:  inv.ID,
		Tier:       tier,
		PreviousID: previousID,
		Status:     domain.WorkflowPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch {
	case fraudRes.AutoReject:
		step := newStep(wf.ID, 1, domain.StepNotification, "system", now, pol.EscalationTimeout)
		step.Status = domain.StepFailed
		step.CompletedAt = &now
		wf.Steps = []*domain.WorkflowStep{step}
		wf.Status = domain.WorkflowFailed
		wf.Reason = ReasonAutoRejected
		wf.CompletedAt = &now

	case fraudRes.AutoApprove && matchRes.Status == domain.MatchPerfect && inv.TotalAmount <= pol.AutoApproveThreshold:
		wf.Status = domain.WorkflowCompleted
		wf.Reason = ReasonAutoApproved
		wf.CompletedAt = &now

	default:
		roles := pol.ChainFor(inv.TotalAmount)
		if len(roles) == 0 {
			return nil, fmt.Errorf("%w: tier %s has an empty approval chain", domain.ErrPolicyNotConfigured, tier)
		}
		for i, role := range roles {
			wf.Steps = append(wf.Steps, newStep(wf.ID, i+1, domain.StepApproval, role, now, pol.EscalationTimeout))
		}
	}

	if err := e.repo.SaveWorkflow(ctx, inv.TenantID, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return wf, nil
}

func newStep(instanceID string, order int, typ domain.StepType, role string, now time.Time, timeout time.Duration) *domain.WorkflowStep {
	return &domain.WorkflowStep{
		ID:           uuid.New().String(),
		InstanceID:   instanceID,
		StepOrder:    order,
		Type:         typ,
		ApproverRole: role,
		Status:       domain.StepPending,
		Required:     true,
		CreatedAt:    now,
		DueAt:        now.Add(timeout),
	}
}

// NextApprover returns the role of the first step still awaiting action.
// ok is false when every required step is settled and the workflow is ready
// to finalize.
func (e *Engine) NextApprover(wf *domain.WorkflowInstance) (role string, ok bool) {
	for _, s := range wf.Steps {
		if s.Required && s.Status.Open() {
			return s.ApproverRole, true
		}
	}
	return "", false
}

// CanApprove reports whether a role may act on a step. Role equality only;
// identity and permission checks live with an outside collaborator.
func (e *Engine) CanApprove(userRole string, step *domain.WorkflowStep) bool {
	return step != nil && userRole == step.ApproverRole
}

// ProcessApproval records an approve/reject decision on a step. Rejection of
// any required step is terminal for the whole instance: remaining open steps
// are skipped and the instance fails. Acting on a terminal instance or a
// settled step returns ErrInvalidTransition.
func (e *Engine) ProcessApproval(ctx context.Context, tenantID, instanceID, stepID, actorID, actorRole string, decision domain.Decision, notes string) (*domain.WorkflowInstance, error) {
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidInput, decision)
	}

	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	wf, err := e.repo.GetWorkflow(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("%w: workflow %s is %s", domain.ErrInvalidTransition, instanceID, wf.Status)
	}

	step := wf.StepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: step %s", domain.ErrNotFound, stepID)
	}
	if !step.Status.Open() {
		return nil, fmt.Errorf("%w: step %s is %s", domain.ErrInvalidTransition, stepID, step.Status)
	}
	if !e.CanApprove(actorRole, step) && (step.DelegatedTo == "" || actorID != step.DelegatedTo) {
		return nil, fmt.Errorf("%w: step requires role %s", domain.ErrRoleMismatch, step.ApproverRole)
	}

	now := time.Now().UTC()
	step.ApproverID = actorID
	step.Notes = notes
	step.CompletedAt = &now

	if decision == domain.DecisionReject {
		step.Status = domain.StepFailed
		for _, s := range wf.Steps {
			if s.Status.Open() {
				s.Status = domain.StepSkipped
			}
		}
		wf.Status = domain.WorkflowFailed
		wf.Reason = fmt.Sprintf("rejected at step %d by %s", step.StepOrder, actorID)
		wf.CompletedAt = &now
	} else {
		step.Status = domain.StepCompleted
		wf.CurrentStep = step.StepOrder
		if wf.OpenRequiredSteps() == 0 {
			wf.Status = domain.WorkflowCompleted
			wf.Reason = ReasonApproved
			wf.CompletedAt = &now
		} else {
			wf.Status = domain.WorkflowInProgress
		}
	}
	wf.UpdatedAt = now

	if err := e.repo.UpdateWorkflow(ctx, tenantID, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}

// Delegate reassigns an open step without changing its role requirement.
// Depth is capped by the policy's MaxDelegationDepth.
func (e *Engine) Delegate(ctx context.Context, tenantID, instanceID, stepID, from, to, reason string) (*domain.WorkflowInstance, error) {
	if to == "" {
		return nil, fmt.Errorf("%w: delegate target is required", domain.ErrInvalidInput)
	}

	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	wf, err := e.repo.GetWorkflow(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("%w: workflow %s is %s", domain.ErrInvalidTransition, instanceID, wf.Status)
	}

	step := wf.StepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: step %s", domain.ErrNotFound, stepID)
	}
	if !step.Status.Open() {
		return nil, fmt.Errorf("%w: step %s is %s", domain.ErrInvalidTransition, stepID, step.Status)
	}

	pol, err := e.policies.PolicyFor(wf.Tier)
	if err != nil {
		return nil, err
	}
	if step.DelegationDepth+1 > pol.MaxDelegationDepth {
		return nil, fmt.Errorf("%w: depth %d, max %d", domain.ErrMaxDelegationDepth, step.DelegationDepth+1, pol.MaxDelegationDepth)
	}

	now := time.Now().UTC()
	step.DelegatedTo = to
	step.DelegationDepth++
	if reason != "" {
		step.Notes = fmt.Sprintf("delegated by %s: %s", from, reason)
	}
	wf.UpdatedAt = now

	if err := e.repo.UpdateWorkflow(ctx, tenantID, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}

// Cancel moves a non-terminal instance to CANCELLED. Terminal instances are
// never reopened; rework spawns a fresh instance referencing this one.
func (e *Engine) Cancel(ctx context.Context, tenantID, instanceID, reason string) (*domain.WorkflowInstance, error) {
	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	wf, err := e.repo.GetWorkflow(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("%w: workflow %s is %s", domain.ErrInvalidTransition, instanceID, wf.Status)
	}

	now := time.Now().UTC()
	for _, s := range wf.Steps {
		if s.Status.Open() {
			s.Status = domain.StepSkipped
		}
	}
	wf.Status = domain.WorkflowCancelled
	wf.Reason = reason
	wf.UpdatedAt = now
	wf.CompletedAt = &now

	if err := e.repo.UpdateWorkflow(ctx, tenantID, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}

// PendingApprovals returns the open steps awaiting a role or delegate,
// oldest first. The slice is a finite snapshot, not a live view.
func (e *Engine) PendingApprovals(ctx context.Context, tenantID, approver string) ([]*domain.WorkflowStep, error) {
	steps, err := e.repo.ListOpenStepsByApprover(ctx, tenantID, approver)
	if err != nil {
		return nil, err
	}
	sortByAge(steps)
	return steps, nil
}

// OverdueApprovals returns open steps whose due time has passed now,
// oldest first.
func (e *Engine) OverdueApprovals(ctx context.Context, tenantID string, now time.Time) ([]*domain.WorkflowStep, error) {
	steps, err := e.repo.ListOpenStepsDueBefore(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	sortByAge(steps)
	return steps, nil
}

func sortByAge(steps []*domain.WorkflowStep) {
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
}
