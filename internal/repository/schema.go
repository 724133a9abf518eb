package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    supplier_id TEXT NOT NULL,
    supplier_name TEXT,
    invoice_number TEXT NOT NULL,
    currency TEXT NOT NULL,
    total_amount REAL NOT NULL,
    subtotal REAL NOT NULL,
    tax_amount REAL NOT NULL,
    lines TEXT,
    po_number TEXT,
    receipt_number TEXT,
    bank_account TEXT,
    invoice_date TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_invoices_tenant ON invoices(tenant_id);
CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(tenant_id, supplier_id);
CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(tenant_id, invoice_number);
CREATE INDEX IF NOT EXISTS idx_invoices_date ON invoices(tenant_id, invoice_date);
`

const schemaPurchaseOrders = `
CREATE TABLE IF NOT EXISTS purchase_orders (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    number TEXT NOT NULL,
    supplier_id TEXT NOT NULL,
    total_amount REAL NOT NULL,
    lines TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, number)
);

CREATE INDEX IF NOT EXISTS idx_purchase_orders_supplier ON purchase_orders(tenant_id, supplier_id);
`

const schemaGoodsReceipts = `
CREATE TABLE IF NOT EXISTS goods_receipts (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    number TEXT NOT NULL,
    supplier_id TEXT NOT NULL,
    lines TEXT,
    received_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, number)
);

CREATE INDEX IF NOT EXISTS idx_goods_receipts_supplier ON goods_receipts(tenant_id, supplier_id);
`

const schemaMatchResults = `
CREATE TABLE IF NOT EXISTS match_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    status TEXT NOT NULL,
    confidence TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    matches TEXT,
    mismatches TEXT,
    warnings TEXT,
    suggested_actions TEXT,
    total_invoice_amount REAL NOT NULL,
    total_po_amount REAL NOT NULL,
    total_receipt_amount REAL NOT NULL,
    variance_amount REAL NOT NULL,
    variance_percentage REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_results_tenant ON match_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_match_results_invoice ON match_results(tenant_id, invoice_id);
CREATE INDEX IF NOT EXISTS idx_match_results_status ON match_results(tenant_id, status);
`

const schemaFraudAnalyses = `
CREATE TABLE IF NOT EXISTS fraud_analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    indicators TEXT,
    recommendations TEXT,
    requires_manual_review INTEGER NOT NULL DEFAULT 0,
    auto_approve INTEGER NOT NULL DEFAULT 0,
    auto_reject INTEGER NOT NULL DEFAULT 0,
    investigation_priority REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_analyses_tenant ON fraud_analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_analyses_invoice ON fraud_analyses(tenant_id, invoice_id);
CREATE INDEX IF NOT EXISTS idx_fraud_analyses_priority ON fraud_analyses(tenant_id, investigation_priority);
`

const schemaWorkflows = `
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    tier TEXT NOT NULL,
    previous_id TEXT,
    current_step INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows(tenant_id);
CREATE INDEX IF NOT EXISTS idx_workflows_invoice ON workflows(tenant_id, invoice_id);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(tenant_id, status);
`

const schemaWorkflowSteps = `
CREATE TABLE IF NOT EXISTS workflow_steps (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    step_order INTEGER NOT NULL,
    type TEXT NOT NULL,
    approver_role TEXT NOT NULL,
    approver_id TEXT,
    status TEXT NOT NULL,
    required INTEGER NOT NULL DEFAULT 1,
    condition_expr TEXT,
    delegated_to TEXT,
    delegation_depth INTEGER NOT NULL DEFAULT 0,
    notes TEXT,
    created_at TIMESTAMP NOT NULL,
    due_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_workflow_steps_instance ON workflow_steps(instance_id);
CREATE INDEX IF NOT EXISTS idx_workflow_steps_approver ON workflow_steps(tenant_id, status, approver_role);
CREATE INDEX IF NOT EXISTS idx_workflow_steps_due ON workflow_steps(tenant_id, status, due_at);
`

// schemaPolicies stores one TierPolicy per (tenant, tier) as a JSON document.
// The policy is pure configuration data; decomposing twenty scalar thresholds
// into columns buys nothing since lookups are always whole-row by tier.
const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    tenant_id TEXT NOT NULL,
    tier TEXT NOT NULL,
    config TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, tier)
);
`

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    trigger_above REAL NOT NULL DEFAULT 0,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_tenant ON fraud_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_rules_enabled ON fraud_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInvoices,
		schemaPurchaseOrders,
		schemaGoodsReceipts,
		schemaMatchResults,
		schemaFraudAnalyses,
		schemaWorkflows,
		schemaWorkflowSteps,
		schemaPolicies,
		schemaFraudRules,
	}
}
