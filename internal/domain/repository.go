// Package domain defines the core types and collaborator interfaces for
// Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// Lookup misses return ErrNotFound; callers that treat absence as a valid
// outcome (PO/receipt lookups during matching) translate it to nil.
type Repository interface {
	// Invoice operations
	SaveInvoice(ctx context.Context, tenantID string, inv *Invoice) error
	GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*Invoice, error)
	GetInvoicesBySupplier(ctx context.Context, tenantID string, supplierID string, since time.Time) ([]*Invoice, error)

	// Purchase order operations
	SavePurchaseOrder(ctx context.Context, tenantID string, po *PurchaseOrder) error
	GetPurchaseOrderByNumber(ctx context.Context, tenantID string, number string) (*PurchaseOrder, error)

	// Goods receipt operations
	SaveGoodsReceipt(ctx context.Context, tenantID string, gr *GoodsReceipt) error
	GetGoodsReceiptByNumber(ctx context.Context, tenantID string, number string) (*GoodsReceipt, error)

	// Decision artifacts
	SaveMatchResult(ctx context.Context, tenantID string, res *MatchResult) error
	GetMatchResult(ctx context.Context, tenantID string, id string) (*MatchResult, error)
	SaveFraudAnalysis(ctx context.Context, tenantID string, res *FraudAnalysisResult) error
	GetFraudAnalysis(ctx context.Context, tenantID string, id string) (*FraudAnalysisResult, error)

	// Workflow operations. SaveWorkflow persists the instance with its steps;
	// UpdateWorkflow rewrites instance state and all step rows.
	SaveWorkflow(ctx context.Context, tenantID string, wf *WorkflowInstance) error
	GetWorkflow(ctx context.Context, tenantID string, id string) (*WorkflowInstance, error)
	UpdateWorkflow(ctx context.Context, tenantID string, wf *WorkflowInstance) error
	ListOpenStepsByApprover(ctx context.Context, tenantID string, approver string) ([]*WorkflowStep, error)
	ListOpenStepsDueBefore(ctx context.Context, tenantID string, deadline time.Time) ([]*WorkflowStep, error)

	// Policy table operations
	SavePolicy(ctx context.Context, tenantID string, p *TierPolicy) error
	GetPolicy(ctx context.Context, tenantID string, tier string) (*TierPolicy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*TierPolicy, error)

	// Custom fraud rule operations
	SaveFraudRule(ctx context.Context, tenantID string, rule *FraudRuleConfig) error
	ListFraudRules(ctx context.Context, tenantID string) ([]*FraudRuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
