package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/repository"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "workflow.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	table := policy.NewTable()
	table.Load(domain.DefaultPolicies())

	return NewEngine(repo, table)
}

func invoiceOf(amount float64) *domain.Invoice {
	return &domain.Invoice{
		ID:            uuid.New().String(),
		TenantID:      "tenant-001",
		SupplierID:    "sup-1",
		InvoiceNumber: "INV-1",
		TotalAmount:   amount,
	}
}

func perfectMatch() *domain.MatchResult {
	return &domain.MatchResult{Status: domain.MatchPerfect, ConfidenceScore: 1}
}

func lowRisk() *domain.FraudAnalysisResult {
	return &domain.FraudAnalysisResult{AutoApprove: true, RiskLevel: domain.RiskLow}
}

func reviewRisk() *domain.FraudAnalysisResult {
	return &domain.FraudAnalysisResult{RequiresManualReview: true, RiskLevel: domain.RiskMedium}
}

func rejectRisk() *domain.FraudAnalysisResult {
	return &domain.FraudAnalysisResult{AutoReject: true, RiskLevel: domain.RiskCritical}
}

func TestAutoApproveCompletesWithoutSteps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(500), perfectMatch(), lowRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	if wf.Status != domain.WorkflowCompleted {
		t.Errorf("expected COMPLETED, got %s", wf.Status)
	}
	if len(wf.Steps) != 0 {
		t.Errorf("expected zero steps, got %d", len(wf.Steps))
	}
	if wf.Reason != ReasonAutoApproved {
		t.Errorf("unexpected reason: %s", wf.Reason)
	}
	if wf.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestAutoApproveRequiresPerfectMatchAndThreshold(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	t.Run("amount above threshold", func(t *testing.T) {
		wf, err := e.CreateWorkflow(ctx, invoiceOf(1500), perfectMatch(), lowRisk(), domain.TierGrowth, "")
		if err != nil {
			t.Fatalf("CreateWorkflow failed: %v", err)
		}
		if wf.Status != domain.WorkflowPending || len(wf.Steps) == 0 {
			t.Errorf("expected an approval chain above the threshold, got %s with %d steps", wf.Status, len(wf.Steps))
		}
	})

	t.Run("imperfect match", func(t *testing.T) {
		m := perfectMatch()
		m.Status = domain.MatchNoReceiptFound
		wf, err := e.CreateWorkflow(ctx, invoiceOf(500), m, lowRisk(), domain.TierGrowth, "")
		if err != nil {
			t.Fatalf("CreateWorkflow failed: %v", err)
		}
		if len(wf.Steps) == 0 {
			t.Error("expected an approval chain for an imperfect match")
		}
	})
}

func TestAutoRejectFailsImmediately(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(500), perfectMatch(), rejectRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	if wf.Status != domain.WorkflowFailed {
		t.Errorf("expected FAILED, got %s", wf.Status)
	}
	if len(wf.Steps) != 1 || wf.Steps[0].Status != domain.StepFailed {
		t.Errorf("expected a single failed step, got %v", wf.Steps)
	}
	if wf.Reason != ReasonAutoRejected {
		t.Errorf("unexpected reason: %s", wf.Reason)
	}
}

func TestChainLengthFollowsAmountBands(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		amount float64
		roles  []string
	}{
		{2000, []string{domain.RoleManager}},
		{10000, []string{domain.RoleManager, domain.RoleFinance}},
		{50000, []string{domain.RoleManager, domain.RoleFinance, domain.RoleCFO}},
	}

	for _, tt := range tests {
		wf, err := e.CreateWorkflow(ctx, invoiceOf(tt.amount), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
		if err != nil {
			t.Fatalf("CreateWorkflow(%f) failed: %v", tt.amount, err)
		}
		if len(wf.Steps) != len(tt.roles) {
			t.Fatalf("amount %.0f: expected %d steps, got %d", tt.amount, len(tt.roles), len(wf.Steps))
		}
		for i, role := range tt.roles {
			s := wf.Steps[i]
			if s.ApproverRole != role {
				t.Errorf("amount %.0f step %d: expected role %s, got %s", tt.amount, i, role, s.ApproverRole)
			}
			if s.Status != domain.StepPending || !s.Required {
				t.Errorf("amount %.0f step %d: expected required pending step", tt.amount, i)
			}
			if !s.DueAt.After(s.CreatedAt) {
				t.Errorf("amount %.0f step %d: expected a due time after creation", tt.amount, i)
			}
		}
	}
}

func TestApprovalProgression(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(10000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if role, ok := e.NextApprover(wf); !ok || role != domain.RoleManager {
		t.Fatalf("expected manager first, got %s", role)
	}

	wf, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, wf.Steps[0].ID, "user-1", domain.RoleManager, domain.DecisionApprove, "ok")
	if err != nil {
		t.Fatalf("first approval failed: %v", err)
	}
	if wf.Status != domain.WorkflowInProgress {
		t.Errorf("expected IN_PROGRESS after first approval, got %s", wf.Status)
	}
	if role, ok := e.NextApprover(wf); !ok || role != domain.RoleFinance {
		t.Fatalf("expected finance next, got %s", role)
	}

	wf, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, wf.Steps[1].ID, "user-2", domain.RoleFinance, domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("second approval failed: %v", err)
	}
	if wf.Status != domain.WorkflowCompleted {
		t.Errorf("expected COMPLETED, got %s", wf.Status)
	}
	if wf.Reason != ReasonApproved {
		t.Errorf("unexpected reason: %s", wf.Reason)
	}
	if _, ok := e.NextApprover(wf); ok {
		t.Error("expected no next approver after completion")
	}
}

func TestRejectionIsTerminal(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(10000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	wf, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, wf.Steps[0].ID, "user-1", domain.RoleManager, domain.DecisionReject, "suspicious")
	if err != nil {
		t.Fatalf("rejection failed: %v", err)
	}
	if wf.Status != domain.WorkflowFailed {
		t.Errorf("expected FAILED, got %s", wf.Status)
	}
	if wf.Steps[1].Status != domain.StepSkipped {
		t.Errorf("expected remaining step skipped, got %s", wf.Steps[1].Status)
	}

	// Terminal instances never reopen.
	_, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, wf.Steps[1].ID, "user-2", domain.RoleFinance, domain.DecisionApprove, "")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRoleMismatchRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(2000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	_, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, wf.Steps[0].ID, "user-1", "intern", domain.DecisionApprove, "")
	if !errors.Is(err, domain.ErrRoleMismatch) {
		t.Errorf("expected ErrRoleMismatch, got %v", err)
	}
}

func TestInvalidDecisionRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(2000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	_, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, wf.Steps[0].ID, "user-1", domain.RoleManager, domain.Decision("maybe"), "")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDoubleApprovalRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(10000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	stepID := wf.Steps[0].ID
	if _, err := e.ProcessApproval(ctx, "tenant-001", wf.ID, stepID, "user-1", domain.RoleManager, domain.DecisionApprove, ""); err != nil {
		t.Fatalf("approval failed: %v", err)
	}

	_, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, stepID, "user-1", domain.RoleManager, domain.DecisionApprove, "")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on a settled step, got %v", err)
	}
}

func TestDelegationAllowsDelegateToAct(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(2000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	stepID := wf.Steps[0].ID

	wf, err = e.Delegate(ctx, "tenant-001", wf.ID, stepID, "user-1", "alice", "vacation")
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	if wf.Steps[0].DelegatedTo != "alice" {
		t.Fatalf("expected delegation to alice, got %q", wf.Steps[0].DelegatedTo)
	}
	// Role requirement is unchanged.
	if wf.Steps[0].ApproverRole != domain.RoleManager {
		t.Errorf("delegation must not change the role, got %s", wf.Steps[0].ApproverRole)
	}

	// The delegate can act under their own identity.
	wf, err = e.ProcessApproval(ctx, "tenant-001", wf.ID, stepID, "alice", "analyst", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("delegate approval failed: %v", err)
	}
	if wf.Status != domain.WorkflowCompleted {
		t.Errorf("expected COMPLETED, got %s", wf.Status)
	}
}

func TestDelegationDepthCapped(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(2000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	stepID := wf.Steps[0].ID

	// MaxDelegationDepth is 3 for the default policies.
	for i, to := range []string{"alice", "bob", "carol"} {
		if _, err := e.Delegate(ctx, "tenant-001", wf.ID, stepID, "prev", to, ""); err != nil {
			t.Fatalf("delegation %d failed: %v", i+1, err)
		}
	}

	_, err = e.Delegate(ctx, "tenant-001", wf.ID, stepID, "carol", "dave", "")
	if !errors.Is(err, domain.ErrMaxDelegationDepth) {
		t.Errorf("expected ErrMaxDelegationDepth, got %v", err)
	}
}

func TestCancelSkipsOpenSteps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.CreateWorkflow(ctx, invoiceOf(10000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	wf, err = e.Cancel(ctx, "tenant-001", wf.ID, "duplicate submission")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if wf.Status != domain.WorkflowCancelled {
		t.Errorf("expected CANCELLED, got %s", wf.Status)
	}
	for _, s := range wf.Steps {
		if s.Status != domain.StepSkipped {
			t.Errorf("expected skipped steps, got %s", s.Status)
		}
	}

	_, err = e.Cancel(ctx, "tenant-001", wf.ID, "again")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on a cancelled instance, got %v", err)
	}
}

func TestNewInstanceReferencesPrevious(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.CreateWorkflow(ctx, invoiceOf(10000), perfectMatch(), reviewRisk(), domain.TierGrowth, "")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if _, err := e.Cancel(ctx, "tenant-001", first.ID, "rework"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	second, err := e.CreateWorkflow(ctx, invoiceOf(10000), perfectMatch(), reviewRisk(), domain.TierGrowth, first.ID)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if second.PreviousID != first.ID {
		t.Errorf("expected back-reference to the cancelled instance, got %q", second.PreviousID)
	}
}

func TestUnknownTierFails(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CreateWorkflow(context.Background(), invoiceOf(100), perfectMatch(), reviewRisk(), "platinum", "")
	if !errors.Is(err, domain.ErrPolicyNotConfigured) {
		t.Errorf("expected ErrPolicyNotConfigured, got %v", err)
	}
}
