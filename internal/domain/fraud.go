package domain

import (
	"context"
	"time"
)

// FraudIndicatorType enumerates the rule-based fraud signals.
type FraudIndicatorType string

const (
	IndicatorDuplicateInvoice  FraudIndicatorType = "DUPLICATE_INVOICE"
	IndicatorAmountAnomaly     FraudIndicatorType = "AMOUNT_ANOMALY"
	IndicatorNewSupplier       FraudIndicatorType = "NEW_SUPPLIER"
	IndicatorRoundNumberBias   FraudIndicatorType = "ROUND_NUMBER_BIAS"
	IndicatorFrequencyAnomaly  FraudIndicatorType = "FREQUENCY_ANOMALY"
	IndicatorWeekendSubmission FraudIndicatorType = "WEEKEND_SUBMISSION"
	IndicatorMismatchedBank    FraudIndicatorType = "MISMATCHED_BANK_DETAILS"
	IndicatorCustomRule        FraudIndicatorType = "CUSTOM_RULE"
)

// FraudRiskLevel buckets the blended risk score.
type FraudRiskLevel string

const (
	RiskLow      FraudRiskLevel = "LOW"
	RiskMedium   FraudRiskLevel = "MEDIUM"
	RiskHigh     FraudRiskLevel = "HIGH"
	RiskCritical FraudRiskLevel = "CRITICAL"
)

// FraudIndicator is a single triggered signal with its contribution weight.
type FraudIndicator struct {
	Type        FraudIndicatorType `json:"type"`
	Description string             `json:"description"`
	Weight      float64            `json:"weight"` // [0,1]
}

// FraudAnalysisResult is the complete fraud assessment for one invoice.
// Exactly one of AutoApprove, AutoReject, RequiresManualReview is true.
// The scorer leaves ID and CreatedAt zero so identical inputs yield identical
// results; the orchestrator stamps them before persisting.
type FraudAnalysisResult struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	InvoiceID string `json:"invoiceId"`

	RiskLevel  FraudRiskLevel `json:"riskLevel"`
	RiskScore  float64        `json:"riskScore"`  // [0,1]
	Confidence float64        `json:"confidence"` // [0,1]

	Indicators      []FraudIndicator `json:"indicators,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`

	RequiresManualReview bool `json:"requiresManualReview"`
	AutoApprove          bool `json:"autoApprove"`
	AutoReject           bool `json:"autoReject"`

	// Dollar-risk-weighted rank used only for review queue ordering.
	InvestigationPriority float64 `json:"investigationPriority"`

	CreatedAt time.Time `json:"createdAt"`
}

// PredictionFeatures is the engineered feature vector handed to the model.
type PredictionFeatures struct {
	Amount            float64 `json:"amount"`
	LineCount         int     `json:"lineCount"`
	SupplierInvoices  int     `json:"supplierInvoices"`
	AmountZScore      float64 `json:"amountZScore"`
	Weekend           bool    `json:"weekend"`
	HasPOReference    bool    `json:"hasPoReference"`
	HeaderImbalance   float64 `json:"headerImbalance"` // |subtotal + tax - total|
	RecentSubmissions int64   `json:"recentSubmissions"`
}

// Prediction is the model's output for one invoice.
type Prediction struct {
	Probability float64 `json:"probability"` // fraud probability [0,1]
	Confidence  float64 `json:"confidence"`  // model confidence [0,1]
}

// FraudPredictor is the injected model capability. The scorer treats it as a
// pure oracle: a failed call propagates as ErrPredictionUnavailable, never a
// substituted score. Timeout and retry belong to the caller.
type FraudPredictor interface {
	Predict(ctx context.Context, features PredictionFeatures) (Prediction, error)
}
