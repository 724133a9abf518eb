// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveInvoice stores an invoice with tenant isolation.
func (r *SQLRepository) SaveInvoice(ctx context.Context, tenantID string, inv *domain.Invoice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	lines, _ := json.Marshal(inv.Lines)
	metadata, _ := json.Marshal(inv.Metadata)

	query := `
		INSERT INTO invoices (
			id, tenant_id, supplier_id, supplier_name, invoice_number,
			currency, total_amount, subtotal, tax_amount, lines,
			po_number, receipt_number, bank_account,
			invoice_date, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, tenantID, inv.SupplierID, inv.SupplierName, inv.InvoiceNumber,
		inv.Currency, inv.TotalAmount, inv.Subtotal, inv.TaxAmount, string(lines),
		inv.PONumber, inv.ReceiptNumber, inv.BankAccount,
		inv.InvoiceDate, inv.CreatedAt, string(metadata),
	)
	return err
}

const invoiceColumns = `id, tenant_id, supplier_id, supplier_name, invoice_number,
	   currency, total_amount, subtotal, tax_amount, lines,
	   po_number, receipt_number, bank_account,
	   invoice_date, created_at, metadata`

func scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	var lines, metadata string

	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.SupplierID, &inv.SupplierName, &inv.InvoiceNumber,
		&inv.Currency, &inv.TotalAmount, &inv.Subtotal, &inv.TaxAmount, &lines,
		&inv.PONumber, &inv.ReceiptNumber, &inv.BankAccount,
		&inv.InvoiceDate, &inv.CreatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	if lines != "" {
		json.Unmarshal([]byte(lines), &inv.Lines)
	}
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &inv.Metadata)
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice by ID with tenant isolation.
func (r *SQLRepository) GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ? AND id = ?`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetInvoicesBySupplier retrieves a supplier's invoices since a cutoff,
// newest first.
func (r *SQLRepository) GetInvoicesBySupplier(ctx context.Context, tenantID string, supplierID string, since time.Time) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE tenant_id = ? AND supplier_id = ? AND invoice_date >= ?
		ORDER BY invoice_date DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, supplierID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}

	return invoices, rows.Err()
}

// SavePurchaseOrder upserts a purchase order keyed by (tenant, number).
func (r *SQLRepository) SavePurchaseOrder(ctx context.Context, tenantID string, po *domain.PurchaseOrder) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	lines, _ := json.Marshal(po.Lines)

	query := `
		INSERT INTO purchase_orders (id, tenant_id, number, supplier_id, total_amount, lines, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, number) DO UPDATE SET
			supplier_id = excluded.supplier_id,
			total_amount = excluded.total_amount,
			lines = excluded.lines
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		po.ID, tenantID, po.Number, po.SupplierID, po.TotalAmount, string(lines), po.CreatedAt,
	)
	return err
}

// GetPurchaseOrderByNumber retrieves a purchase order by its number.
func (r *SQLRepository) GetPurchaseOrderByNumber(ctx context.Context, tenantID string, number string) (*domain.PurchaseOrder, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, number, supplier_id, total_amount, lines, created_at
		FROM purchase_orders
		WHERE tenant_id = ? AND number = ?
	`

	var po domain.PurchaseOrder
	var lines string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, number).Scan(
		&po.ID, &po.TenantID, &po.Number, &po.SupplierID, &po.TotalAmount, &lines, &po.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lines != "" {
		json.Unmarshal([]byte(lines), &po.Lines)
	}
	return &po, nil
}

// SaveGoodsReceipt upserts a goods receipt keyed by (tenant, number).
func (r *SQLRepository) SaveGoodsReceipt(ctx context.Context, tenantID string, gr *domain.GoodsReceipt) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	lines, _ := json.Marshal(gr.Lines)

	query := `
		INSERT INTO goods_receipts (id, tenant_id, number, supplier_id, lines, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, number) DO UPDATE SET
			supplier_id = excluded.supplier_id,
			lines = excluded.lines,
			received_at = excluded.received_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		gr.ID, tenantID, gr.Number, gr.SupplierID, string(lines), gr.ReceivedAt,
	)
	return err
}

// GetGoodsReceiptByNumber retrieves a goods receipt by its number.
func (r *SQLRepository) GetGoodsReceiptByNumber(ctx context.Context, tenantID string, number string) (*domain.GoodsReceipt, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, number, supplier_id, lines, received_at
		FROM goods_receipts
		WHERE tenant_id = ? AND number = ?
	`

	var gr domain.GoodsReceipt
	var lines string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, number).Scan(
		&gr.ID, &gr.TenantID, &gr.Number, &gr.SupplierID, &lines, &gr.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lines != "" {
		json.Unmarshal([]byte(lines), &gr.Lines)
	}
	return &gr, nil
}

// SaveMatchResult stores a three-way match result.
func (r *SQLRepository) SaveMatchResult(ctx context.Context, tenantID string, res *domain.MatchResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	matches, _ := json.Marshal(res.Matches)
	mismatches, _ := json.Marshal(res.Mismatches)
	warnings, _ := json.Marshal(res.Warnings)
	actions, _ := json.Marshal(res.SuggestedActions)

	query := `
		INSERT INTO match_results (
			id, tenant_id, invoice_id, status, confidence, confidence_score,
			matches, mismatches, warnings, suggested_actions,
			total_invoice_amount, total_po_amount, total_receipt_amount,
			variance_amount, variance_percentage, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, tenantID, res.InvoiceID, res.Status, res.Confidence, res.ConfidenceScore,
		string(matches), string(mismatches), string(warnings), string(actions),
		res.TotalInvoiceAmount, res.TotalPOAmount, res.TotalReceiptAmount,
		res.VarianceAmount, res.VariancePercentage, res.CreatedAt,
	)
	return err
}

// GetMatchResult retrieves a match result by ID.
func (r *SQLRepository) GetMatchResult(ctx context.Context, tenantID string, id string) (*domain.MatchResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, invoice_id, status, confidence, confidence_score,
			   matches, mismatches, warnings, suggested_actions,
			   total_invoice_amount, total_po_amount, total_receipt_amount,
			   variance_amount, variance_percentage, created_at
		FROM match_results
		WHERE tenant_id = ? AND id = ?
	`

	var res domain.MatchResult
	var matches, mismatches, warnings, actions string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&res.ID, &res.TenantID, &res.InvoiceID, &res.Status, &res.Confidence, &res.ConfidenceScore,
		&matches, &mismatches, &warnings, &actions,
		&res.TotalInvoiceAmount, &res.TotalPOAmount, &res.TotalReceiptAmount,
		&res.VarianceAmount, &res.VariancePercentage, &res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(matches), &res.Matches)
	json.Unmarshal([]byte(mismatches), &res.Mismatches)
	json.Unmarshal([]byte(warnings), &res.Warnings)
	json.Unmarshal([]byte(actions), &res.SuggestedActions)

	return &res, nil
}

// SaveFraudAnalysis stores a fraud analysis result.
func (r *SQLRepository) SaveFraudAnalysis(ctx context.Context, tenantID string, res *domain.FraudAnalysisResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	indicators, _ := json.Marshal(res.Indicators)
	recommendations, _ := json.Marshal(res.Recommendations)

	query := `
		INSERT INTO fraud_analyses (
			id, tenant_id, invoice_id, risk_level, risk_score, confidence,
			indicators, recommendations,
			requires_manual_review, auto_approve, auto_reject,
			investigation_priority, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, tenantID, res.InvoiceID, res.RiskLevel, res.RiskScore, res.Confidence,
		string(indicators), string(recommendations),
		boolToInt(res.RequiresManualReview), boolToInt(res.AutoApprove), boolToInt(res.AutoReject),
		res.InvestigationPriority, res.CreatedAt,
	)
	return err
}

// GetFraudAnalysis retrieves a fraud analysis by ID.
func (r *SQLRepository) GetFraudAnalysis(ctx context.Context, tenantID string, id string) (*domain.FraudAnalysisResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, invoice_id, risk_level, risk_score, confidence,
			   indicators, recommendations,
			   requires_manual_review, auto_approve, auto_reject,
			   investigation_priority, created_at
		FROM fraud_analyses
		WHERE tenant_id = ? AND id = ?
	`

	var res domain.FraudAnalysisResult
	var indicators, recommendations string
	var review, approve, reject int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&res.ID, &res.TenantID, &res.InvoiceID, &res.RiskLevel, &res.RiskScore, &res.Confidence,
		&indicators, &recommendations,
		&review, &approve, &reject,
		&res.InvestigationPriority, &res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.RequiresManualReview = review == 1
	res.AutoApprove = approve == 1
	res.AutoReject = reject == 1
	json.Unmarshal([]byte(indicators), &res.Indicators)
	json.Unmarshal([]byte(recommendations), &res.Recommendations)

	return &res, nil
}

// SavePolicy upserts a tier policy document.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, p *domain.TierPolicy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if p.Tier == "" {
		return fmt.Errorf("%w: policy tier is required", domain.ErrInvalidInput)
	}

	config, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (tenant_id, tier, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, tier) DO UPDATE SET
			config = excluded.config,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, p.Tier, string(config), boolToInt(p.Enabled), now, now,
	)
	return err
}

// GetPolicy retrieves the enabled policy for a tier.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, tier string) (*domain.TierPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT config FROM policies
		WHERE tenant_id = ? AND tier = ? AND enabled = 1
	`

	var config string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, tier).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p domain.TierPolicy
	if err := json.Unmarshal([]byte(config), &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	return &p, nil
}

// ListPolicies retrieves all enabled policies for a tenant, ordered by tier.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.TierPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT config FROM policies
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY tier
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.TierPolicy
	for rows.Next() {
		var config string
		if err := rows.Scan(&config); err != nil {
			return nil, err
		}
		var p domain.TierPolicy
		if err := json.Unmarshal([]byte(config), &p); err != nil {
			return nil, fmt.Errorf("failed to parse policy config: %w", err)
		}
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// SaveFraudRule upserts a custom fraud rule with tenant isolation.
func (r *SQLRepository) SaveFraudRule(ctx context.Context, tenantID string, rule *domain.FraudRuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_rules (
			id, tenant_id, name, description, version, expression,
			trigger_above, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			trigger_above = excluded.trigger_above,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Version, rule.Expression,
		rule.TriggerAbove, rule.Weight, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// ListFraudRules retrieves all enabled custom fraud rules for a tenant.
func (r *SQLRepository) ListFraudRules(ctx context.Context, tenantID string) ([]*domain.FraudRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, trigger_above, weight, enabled
		FROM fraud_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRuleConfig
	for rows.Next() {
		var cfg domain.FraudRuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.TriggerAbove, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		rules = append(rules, &cfg)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
