package domain

import "time"

// WorkflowStatus is the overall state of an approval workflow instance.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "PENDING"
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowFailed     WorkflowStatus = "FAILED"
	WorkflowCancelled  WorkflowStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// StepStatus is the state of a single workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepSkipped    StepStatus = "SKIPPED"
)

// Open reports whether the step still awaits action.
func (s StepStatus) Open() bool {
	return s == StepPending || s == StepInProgress
}

// StepType classifies workflow steps.
type StepType string

const (
	StepApproval     StepType = "APPROVAL"
	StepDelegation   StepType = "DELEGATION"
	StepNotification StepType = "NOTIFICATION"
	StepConditional  StepType = "CONDITIONAL"
)

// Decision is an approver's verdict on a step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// WorkflowStep is one step in an approval chain. Steps are owned exclusively
// by their instance; the only cross-reference is the DelegatedTo back-pointer.
type WorkflowStep struct {
	ID         string `json:"id"`
	InstanceID string `json:"instanceId"`
	StepOrder  int    `json:"stepOrder"`

	Type         StepType `json:"type"`
	ApproverRole string   `json:"approverRole"`
	ApproverID   string   `json:"approverId,omitempty"`

	Status   StepStatus `json:"status"`
	Required bool       `json:"required"`

	// Optional CEL predicate over invoice/match/fraud data for CONDITIONAL steps.
	Condition string `json:"condition,omitempty"`

	DelegatedTo     string `json:"delegatedTo,omitempty"`
	DelegationDepth int    `json:"delegationDepth"`

	Notes string `json:"notes,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	DueAt       time.Time  `json:"dueAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Overdue reports whether an open step has passed its deadline.
func (s *WorkflowStep) Overdue(now time.Time) bool {
	return s.Status.Open() && now.After(s.DueAt)
}

// WorkflowInstance is the unit of approval routing and of concurrency
// control: at most one in-flight mutating operation per instance. Once the
// status is terminal the instance is never reopened - rework spawns a new
// instance referencing the old one.
type WorkflowInstance struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	InvoiceID string `json:"invoiceId"`
	Tier      string `json:"tier"`

	// PreviousID links a rework instance to the terminal one it replaces.
	PreviousID string `json:"previousId,omitempty"`

	Steps       []*WorkflowStep `json:"steps"`
	CurrentStep int             `json:"currentStep"`

	Status WorkflowStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StepByID returns the step with the given ID, or nil.
func (w *WorkflowInstance) StepByID(stepID string) *WorkflowStep {
	for _, s := range w.Steps {
		if s.ID == stepID {
			return s
		}
	}
	return nil
}

// OpenRequiredSteps counts required steps still awaiting action.
func (w *WorkflowInstance) OpenRequiredSteps() int {
	n := 0
	for _, s := range w.Steps {
		if s.Required && s.Status.Open() {
			n++
		}
	}
	return n
}
