package domain

import "errors"

// Error taxonomy for the decision engine. Nothing in the core retries
// automatically; retry policy belongs to the caller.
var (
	// ErrNotFound is returned when a referenced invoice, PO, receipt, step,
	// or workflow instance does not exist. Expected and recoverable.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when an action targets a terminal or
	// wrong-state instance/step. Surfaced to the caller, never retried.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPolicyNotConfigured is returned when a tier has no policy entry.
	// Fatal to the current request - silent defaults could mis-price risk.
	ErrPolicyNotConfigured = errors.New("no policy configured for tier")

	// ErrPredictionUnavailable is returned when the injected model capability
	// failed. The scorer never substitutes a fabricated score.
	ErrPredictionUnavailable = errors.New("fraud prediction unavailable")

	// ErrMaxDelegationDepth is returned when a delegation would exceed the
	// policy's maximum chain depth.
	ErrMaxDelegationDepth = errors.New("max delegation depth exceeded")

	// ErrRoleMismatch is returned when an actor's role does not match the
	// step's required role. Richer RBAC lives outside the engine.
	ErrRoleMismatch = errors.New("actor role does not match step role")

	// ErrInvalidInput is returned for malformed engine inputs.
	ErrInvalidInput = errors.New("invalid input")
)
