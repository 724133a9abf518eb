package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveWorkflow inserts a workflow instance with its steps in one transaction.
func (r *SQLRepository) SaveWorkflow(ctx context.Context, tenantID string, wf *domain.WorkflowInstance) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO workflows (
			id, tenant_id, invoice_id, tier, previous_id, current_step,
			status, reason, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		wf.ID, tenantID, wf.InvoiceID, wf.Tier, wf.PreviousID, wf.CurrentStep,
		wf.Status, wf.Reason, wf.CreatedAt, wf.UpdatedAt, nullableTime(wf.CompletedAt),
	)
	if err != nil {
		return err
	}

	if err := r.insertSteps(ctx, tx, tenantID, wf.Steps); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateWorkflow rewrites the instance row and all of its step rows. The
// workflow engine holds the per-instance lock across read-modify-write, so
// replacing the step set wholesale is race free.
func (r *SQLRepository) UpdateWorkflow(ctx context.Context, tenantID string, wf *domain.WorkflowInstance) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE workflows
		SET current_step = ?, status = ?, reason = ?, updated_at = ?, completed_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := tx.ExecContext(ctx, r.rebind(query),
		wf.CurrentStep, wf.Status, wf.Reason, wf.UpdatedAt, nullableTime(wf.CompletedAt),
		tenantID, wf.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	delQuery := `DELETE FROM workflow_steps WHERE tenant_id = ? AND instance_id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(delQuery), tenantID, wf.ID); err != nil {
		return err
	}

	if err := r.insertSteps(ctx, tx, tenantID, wf.Steps); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLRepository) insertSteps(ctx context.Context, tx *sql.Tx, tenantID string, steps []*domain.WorkflowStep) error {
	query := `
		INSERT INTO workflow_steps (
			id, instance_id, tenant_id, step_order, type, approver_role, approver_id,
			status, required, condition_expr, delegated_to, delegation_depth, notes,
			created_at, due_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, s := range steps {
		_, err := tx.ExecContext(ctx, r.rebind(query),
			s.ID, s.InstanceID, tenantID, s.StepOrder, s.Type, s.ApproverRole, s.ApproverID,
			s.Status, boolToInt(s.Required), s.Condition, s.DelegatedTo, s.DelegationDepth, s.Notes,
			s.CreatedAt, s.DueAt, nullableTime(s.CompletedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetWorkflow retrieves a workflow instance with its steps in order.
func (r *SQLRepository) GetWorkflow(ctx context.Context, tenantID string, id string) (*domain.WorkflowInstance, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, invoice_id, tier, previous_id, current_step,
			   status, reason, created_at, updated_at, completed_at
		FROM workflows
		WHERE tenant_id = ? AND id = ?
	`

	var wf domain.WorkflowInstance
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&wf.ID, &wf.TenantID, &wf.InvoiceID, &wf.Tier, &wf.PreviousID, &wf.CurrentStep,
		&wf.Status, &wf.Reason, &wf.CreatedAt, &wf.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		wf.CompletedAt = &t
	}

	stepQuery := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE tenant_id = ? AND instance_id = ?
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(stepQuery), tenantID, wf.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &wf, nil
}

const stepColumns = `id, instance_id, step_order, type, approver_role, approver_id,
	   status, required, condition_expr, delegated_to, delegation_depth, notes,
	   created_at, due_at, completed_at`

func scanStep(row interface{ Scan(...any) error }) (*domain.WorkflowStep, error) {
	var s domain.WorkflowStep
	var required int
	var completedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.InstanceID, &s.StepOrder, &s.Type, &s.ApproverRole, &s.ApproverID,
		&s.Status, &required, &s.Condition, &s.DelegatedTo, &s.DelegationDepth, &s.Notes,
		&s.CreatedAt, &s.DueAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Required = required == 1
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// ListOpenStepsByApprover retrieves open steps routed to a role or delegated
// to a user, oldest first.
func (r *SQLRepository) ListOpenStepsByApprover(ctx context.Context, tenantID string, approver string) ([]*domain.WorkflowStep, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE tenant_id = ?
		  AND status IN ('PENDING', 'IN_PROGRESS')
		  AND (approver_role = ? OR delegated_to = ?)
		ORDER BY created_at
	`

	return r.querySteps(ctx, r.rebind(query), tenantID, approver, approver)
}

// ListOpenStepsDueBefore retrieves open steps whose deadline has passed.
func (r *SQLRepository) ListOpenStepsDueBefore(ctx context.Context, tenantID string, deadline time.Time) ([]*domain.WorkflowStep, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE tenant_id = ?
		  AND status IN ('PENDING', 'IN_PROGRESS')
		  AND due_at < ?
		ORDER BY due_at
	`

	return r.querySteps(ctx, r.rebind(query), tenantID, deadline)
}

func (r *SQLRepository) querySteps(ctx context.Context, query string, args ...any) ([]*domain.WorkflowStep, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*domain.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
