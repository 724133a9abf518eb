package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fraud"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/match"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/workflow"
)

func newTestPipeline(t *testing.T, eventBus domain.EventBus) (*decision.Orchestrator, *workflow.Engine, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	table := policy.NewTable()
	table.Load(domain.DefaultPolicies())

	ruleSet, err := fraud.NewRuleSet(4)
	if err != nil {
		t.Fatalf("failed to create rule set: %v", err)
	}
	t.Cleanup(func() { ruleSet.Close() })

	workflows := workflow.NewEngine(repo, table)
	hist := history.NewService(repo, cache.NewLRUCache(100))

	orch := decision.NewOrchestrator(
		repo, eventBus,
		match.NewEngine(),
		fraud.NewScorer(ruleSet),
		workflows,
		hist,
		table,
		fraud.NewBaselinePredictor(),
	)

	return orch, workflows, repo
}

func TestWorkerProcessesInvoice(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	orch, workflows, _ := newTestPipeline(t, eventBus)

	worker := NewWorker(eventBus, orch, workflows)
	if err := worker.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	ctx := context.Background()

	decided := make(chan *decision.Outcome, 1)
	_, err := eventBus.Subscribe(ctx, "tenant-001", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		var out decision.Outcome
		if err := json.Unmarshal(msg.Payload, &out); err != nil {
			return err
		}
		select {
		case decided <- &out:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	req := domain.InvoiceRequest{
		TenantID:      "tenant-001",
		Tier:          domain.TierGrowth,
		SupplierID:    "sup-1",
		InvoiceNumber: "INV-1001",
		Currency:      "USD",
		TotalAmount:   5000,
		Subtotal:      5000,
		Lines: []domain.LineItem{
			{Description: "Consulting", Quantity: 1, UnitPrice: 5000, LineTotal: 5000},
		},
	}
	payload, _ := json.Marshal(req)

	if err := eventBus.Publish(ctx, "tenant-001", domain.TopicInvoiceReceived, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case out := <-decided:
		if out.Invoice.InvoiceNumber != "INV-1001" {
			t.Errorf("decided wrong invoice: %s", out.Invoice.InvoiceNumber)
		}
		if out.Workflow == nil || len(out.Workflow.Steps) == 0 {
			t.Errorf("expected an approval workflow for a no-PO invoice")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for decision")
	}
}

func TestGlobalWorkerDrainsAnyTenant(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	orch, workflows, _ := newTestPipeline(t, eventBus)

	// No tenant list: the worker falls back to one broadcast subscription
	// that must still pick up intake published under a concrete tenant.
	worker := NewWorker(eventBus, orch, workflows)
	if err := worker.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	ctx := context.Background()

	decided := make(chan *decision.Outcome, 1)
	_, err := eventBus.Subscribe(ctx, "tenant-777", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		var out decision.Outcome
		if err := json.Unmarshal(msg.Payload, &out); err != nil {
			return err
		}
		select {
		case decided <- &out:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	req := domain.InvoiceRequest{
		TenantID:      "tenant-777",
		Tier:          domain.TierGrowth,
		SupplierID:    "sup-global",
		InvoiceNumber: "INV-7001",
		Currency:      "USD",
		TotalAmount:   3000,
		Subtotal:      3000,
		Lines: []domain.LineItem{
			{Description: "Audit services", Quantity: 1, UnitPrice: 3000, LineTotal: 3000},
		},
	}
	payload, _ := json.Marshal(req)

	if err := eventBus.Publish(ctx, "tenant-777", domain.TopicInvoiceReceived, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case out := <-decided:
		if out.Invoice.TenantID != "tenant-777" {
			t.Errorf("decision carries wrong tenant: %s", out.Invoice.TenantID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for decision from the broadcast worker")
	}
}

func TestWorkerEscalatesOverdueSteps(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	orch, workflows, repo := newTestPipeline(t, eventBus)

	ctx := context.Background()
	now := time.Now().UTC()

	wf := &domain.WorkflowInstance{
		ID: "wf-1", TenantID: "tenant-001", InvoiceID: "inv-1", Tier: domain.TierGrowth,
		Status: domain.WorkflowPending,
		Steps: []*domain.WorkflowStep{
			{
				ID: "step-1", InstanceID: "wf-1", StepOrder: 1,
				Type: domain.StepApproval, ApproverRole: domain.RoleManager,
				Status: domain.StepPending, Required: true,
				CreatedAt: now.Add(-80 * time.Hour), DueAt: now.Add(-8 * time.Hour),
			},
		},
		CreatedAt: now.Add(-80 * time.Hour),
		UpdatedAt: now.Add(-80 * time.Hour),
	}
	if err := repo.SaveWorkflow(ctx, "tenant-001", wf); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	overdue := make(chan *domain.WorkflowStep, 1)
	_, err := eventBus.Subscribe(ctx, "tenant-001", domain.TopicApprovalOverdue, func(ctx context.Context, msg *domain.Message) error {
		var step domain.WorkflowStep
		if err := json.Unmarshal(msg.Payload, &step); err != nil {
			return err
		}
		select {
		case overdue <- &step:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	worker := NewWorker(eventBus, orch, workflows)
	if err := worker.Start(Config{
		TenantIDs:          []string{"tenant-001"},
		EscalationInterval: 20 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	select {
	case step := <-overdue:
		if step.ID != "step-1" {
			t.Errorf("escalated wrong step: %s", step.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for overdue escalation")
	}
}

func TestWorkerStats(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	orch, workflows, _ := newTestPipeline(t, eventBus)

	worker := NewWorker(eventBus, orch, workflows)
	if err := worker.Start(Config{TenantIDs: []string{"tenant-001", "tenant-002"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := worker.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := worker.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats = worker.GetStats()
	if stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}
