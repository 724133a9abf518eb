package domain

import "time"

// MatchStatus is the outcome of a three-way match attempt.
type MatchStatus string

const (
	MatchPerfect          MatchStatus = "PERFECT_MATCH"
	MatchPartial          MatchStatus = "PARTIAL_MATCH"
	MatchPriceMismatch    MatchStatus = "PRICE_MISMATCH"
	MatchQuantityMismatch MatchStatus = "QUANTITY_MISMATCH"
	MatchNoPOFound        MatchStatus = "NO_PO_FOUND"
	MatchNoReceiptFound   MatchStatus = "NO_RECEIPT_FOUND"
	MatchNone             MatchStatus = "NO_MATCH"
)

// MatchConfidence buckets the numeric confidence score.
type MatchConfidence string

const (
	ConfidenceHigh   MatchConfidence = "HIGH"
	ConfidenceMedium MatchConfidence = "MEDIUM"
	ConfidenceLow    MatchConfidence = "LOW"
	ConfidenceNone   MatchConfidence = "NONE"
)

// LineMatch records an invoice line that reconciled against a PO line
// within tolerance.
type LineMatch struct {
	Description      string  `json:"description"`
	InvoiceQuantity  float64 `json:"invoiceQuantity"`
	POQuantity       float64 `json:"poQuantity"`
	InvoiceUnitPrice float64 `json:"invoiceUnitPrice"`
	POUnitPrice      float64 `json:"poUnitPrice"`
	PriceVariance    float64 `json:"priceVariance"`
	QuantityVariance float64 `json:"quantityVariance"`
}

// LineMismatch records an invoice line that failed to reconcile, with the
// field that broke tolerance.
type LineMismatch struct {
	Description   string  `json:"description"`
	Field         string  `json:"field"` // "price", "quantity", "line", "receipt"
	InvoiceValue  float64 `json:"invoiceValue"`
	ExpectedValue float64 `json:"expectedValue"`
	Variance      float64 `json:"variance"`
	Reason        string  `json:"reason"`
}

// MatchResult is the complete outcome of a three-way match. It is created
// fresh per match attempt and never mutated afterwards - a re-match produces
// a new result. The match engine leaves ID and CreatedAt zero; the
// orchestrator stamps them before persisting.
type MatchResult struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	InvoiceID string `json:"invoiceId"`

	Status          MatchStatus     `json:"status"`
	Confidence      MatchConfidence `json:"confidence"`
	ConfidenceScore float64         `json:"confidenceScore"` // [0,1]

	Matches    []LineMatch    `json:"matches,omitempty"`
	Mismatches []LineMismatch `json:"mismatches,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`

	SuggestedActions []string `json:"suggestedActions,omitempty"`

	TotalInvoiceAmount float64 `json:"totalInvoiceAmount"`
	TotalPOAmount      float64 `json:"totalPoAmount"`
	TotalReceiptAmount float64 `json:"totalReceiptAmount"`
	VarianceAmount     float64 `json:"varianceAmount"`
	VariancePercentage float64 `json:"variancePercentage"`

	CreatedAt time.Time `json:"createdAt"`
}

// ConfidenceFor maps a numeric confidence score to a bucket.
func ConfidenceFor(score float64) MatchConfidence {
	switch {
	case score >= 0.9:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	case score > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}
