package fraud

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Indicator weights for the built-in battery. An indicator with weight at or
// above severeWeight blocks auto-approval regardless of the blended score.
const (
	weightDuplicate      = 0.9
	weightMismatchedBank = 0.8
	weightAmountAnomaly  = 0.7
	weightFrequency      = 0.5
	weightNewSupplier    = 0.4
	weightRoundNumber    = 0.3
	weightWeekend        = 0.2

	severeWeight = 0.7
)

// Scorer combines the rule-based indicator battery, optional custom CEL
// rules, and an injected model prediction into a FraudAnalysisResult.
// Assess is deterministic given identical inputs including the oracle's
// output: no randomness, no hidden state, results are never cached here.
type Scorer struct {
	rules *RuleSet
}

// NewScorer creates a scorer. The rule set may be nil when no custom rules
// are configured.
func NewScorer(rules *RuleSet) *Scorer {
	return &Scorer{rules: rules}
}

// historyStats are aggregates over a supplier history snapshot.
type historyStats struct {
	count         int
	mean          float64
	stddev        float64
	roundFraction float64
}

// Assess scores an invoice for fraud risk. A failed predictor call
// propagates as ErrPredictionUnavailable - the scorer never substitutes a
// fabricated score. The returned result leaves ID/CreatedAt zero so that
// identical inputs produce identical values.
func (s *Scorer) Assess(ctx context.Context, inv *domain.Invoice, history *domain.SupplierHistory, policy *domain.TierPolicy, predictor domain.FraudPredictor) (*domain.FraudAnalysisResult, error) {
	if inv == nil || policy == nil {
		return nil, fmt.Errorf("%w: invoice and policy are required", domain.ErrInvalidInput)
	}
	if predictor == nil {
		return nil, fmt.Errorf("%w: no predictor injected", domain.ErrPredictionUnavailable)
	}
	if history == nil {
		history = &domain.SupplierHistory{SupplierID: inv.SupplierID}
	}

	stats := summarize(history)
	indicators := s.ruleBattery(inv, history, stats, policy)

	if s.rules != nil && s.rules.Count() > 0 {
		indicators = append(indicators, s.rules.Evaluate(ctx, activationFor(inv, history, stats))...)
	}

	features := featuresFor(inv, history, stats)
	pred, err := predictor.Predict(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPredictionUnavailable, err)
	}

	load := indicatorLoad(indicators)
	score := clamp01(policy.ModelWeight*pred.Probability + policy.IndicatorWeight*load)

	res := &domain.FraudAnalysisResult{
		TenantID:   inv.TenantID,
		InvoiceID:  inv.ID,
		RiskScore:  score,
		RiskLevel:  policy.RiskLevelFor(score),
		Indicators: indicators,

		// Model confidence tempered by how much history backs the rules.
		Confidence: clamp01(policy.ModelWeight*pred.Confidence + policy.IndicatorWeight*sampleSufficiency(stats.count, policy.MinHistorySamples)),

		InvestigationPriority: score * inv.TotalAmount,
	}

	// The three flags are mutually exclusive and exhaustive.
	switch {
	case score >= policy.AutoRejectThreshold:
		res.AutoReject = true
	case score <= policy.LowRiskThreshold && !hasSevere(indicators):
		res.AutoApprove = true
	default:
		res.RequiresManualReview = true
	}

	res.Recommendations = recommend(res)

	return res, nil
}

// ruleBattery evaluates the fixed indicators independent of any model call.
func (s *Scorer) ruleBattery(inv *domain.Invoice, history *domain.SupplierHistory, stats historyStats, policy *domain.TierPolicy) []domain.FraudIndicator {
	var out []domain.FraudIndicator

	lookback := inv.InvoiceDate.AddDate(0, 0, -policy.DuplicateLookbackDays)
	for _, h := range history.Invoices {
		if h.InvoiceNumber == inv.InvoiceNumber && h.Amount == inv.TotalAmount && h.SubmittedAt.After(lookback) {
			out = append(out, domain.FraudIndicator{
				Type:        domain.IndicatorDuplicateInvoice,
				Description: fmt.Sprintf("invoice %s for %.2f already seen on %s", inv.InvoiceNumber, inv.TotalAmount, h.SubmittedAt.Format("2006-01-02")),
				Weight:      weightDuplicate,
			})
			break
		}
	}

	if history.KnownBankAccount != "" && inv.BankAccount != "" && inv.BankAccount != history.KnownBankAccount {
		out = append(out, domain.FraudIndicator{
			Type:        domain.IndicatorMismatchedBank,
			Description: "payment account differs from the account on file for this supplier",
			Weight:      weightMismatchedBank,
		})
	}

	// Z-score needs a stable sample; skip rather than flag on thin history.
	if stats.count >= policy.MinHistorySamples && stats.stddev > 0 {
		if z := math.Abs(inv.TotalAmount-stats.mean) / stats.stddev; z >= policy.ZScoreThreshold {
			out = append(out, domain.FraudIndicator{
				Type:        domain.IndicatorAmountAnomaly,
				Description: fmt.Sprintf("amount %.2f is %.1f standard deviations from the supplier mean %.2f", inv.TotalAmount, z, stats.mean),
				Weight:      weightAmountAnomaly,
			})
		}
	}

	if policy.FrequencyThreshold > 0 && history.RecentSubmissions > policy.FrequencyThreshold {
		out = append(out, domain.FraudIndicator{
			Type:        domain.IndicatorFrequencyAnomaly,
			Description: fmt.Sprintf("%d submissions in 24h exceeds the expected cadence", history.RecentSubmissions),
			Weight:      weightFrequency,
		})
	}

	if stats.count == 0 {
		out = append(out, domain.FraudIndicator{
			Type:        domain.IndicatorNewSupplier,
			Description: "no prior invoices for this supplier",
			Weight:      weightNewSupplier,
		})
	}

	// Round totals flag only for suppliers that bill round amounts unusually
	// often; a genuinely round one-off invoice stays quiet.
	if isRound(inv.TotalAmount) && stats.count >= policy.MinHistorySamples && stats.roundFraction >= policy.RoundNumberFrequency {
		out = append(out, domain.FraudIndicator{
			Type:        domain.IndicatorRoundNumberBias,
			Description: fmt.Sprintf("%.0f%% of this supplier's invoices are round amounts", stats.roundFraction*100),
			Weight:      weightRoundNumber,
		})
	}

	if wd := inv.InvoiceDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
		out = append(out, domain.FraudIndicator{
			Type:        domain.IndicatorWeekendSubmission,
			Description: "invoice dated on a weekend",
			Weight:      weightWeekend,
		})
	}

	return out
}

// summarize computes aggregates over the history snapshot.
func summarize(history *domain.SupplierHistory) historyStats {
	n := len(history.Invoices)
	if n == 0 {
		return historyStats{}
	}

	var sum, rounds float64
	for _, h := range history.Invoices {
		sum += h.Amount
		if isRound(h.Amount) {
			rounds++
		}
	}
	mean := sum / float64(n)

	var sq float64
	for _, h := range history.Invoices {
		d := h.Amount - mean
		sq += d * d
	}

	return historyStats{
		count:         n,
		mean:          mean,
		stddev:        math.Sqrt(sq / float64(n)),
		roundFraction: rounds / float64(n),
	}
}

// featuresFor builds the engineered feature vector for the model.
func featuresFor(inv *domain.Invoice, history *domain.SupplierHistory, stats historyStats) domain.PredictionFeatures {
	var z float64
	if stats.stddev > 0 {
		z = math.Abs(inv.TotalAmount-stats.mean) / stats.stddev
	}
	wd := inv.InvoiceDate.Weekday()

	return domain.PredictionFeatures{
		Amount:            inv.TotalAmount,
		LineCount:         len(inv.Lines),
		SupplierInvoices:  stats.count,
		AmountZScore:      z,
		Weekend:           wd == time.Saturday || wd == time.Sunday,
		HasPOReference:    inv.PONumber != "",
		HeaderImbalance:   math.Abs(inv.Subtotal + inv.TaxAmount - inv.TotalAmount),
		RecentSubmissions: history.RecentSubmissions,
	}
}

// activationFor builds the CEL activation for custom rules.
func activationFor(inv *domain.Invoice, history *domain.SupplierHistory, stats historyStats) map[string]any {
	wd := inv.InvoiceDate.Weekday()
	return map[string]any{
		"inv": map[string]any{
			"id":             inv.ID,
			"invoice_number": inv.InvoiceNumber,
			"supplier_id":    inv.SupplierID,
			"amount":         inv.TotalAmount,
			"currency":       inv.Currency,
		},
		"amount":                 inv.TotalAmount,
		"subtotal":               inv.Subtotal,
		"tax":                    inv.TaxAmount,
		"currency":               inv.Currency,
		"line_count":             int64(len(inv.Lines)),
		"supplier_id":            inv.SupplierID,
		"supplier_invoice_count": int64(stats.count),
		"recent_submissions":     history.RecentSubmissions,
		"mean_amount":            stats.mean,
		"stddev_amount":          stats.stddev,
		"weekend":                wd == time.Saturday || wd == time.Sunday,
		"has_po":                 inv.PONumber != "",
	}
}

// indicatorLoad normalizes the triggered indicator weights into [0,1].
func indicatorLoad(indicators []domain.FraudIndicator) float64 {
	var sum float64
	for _, ind := range indicators {
		sum += ind.Weight
	}
	return clamp01(sum)
}

// sampleSufficiency reports how much of the minimum history sample the
// supplier has accumulated, in [0,1].
func sampleSufficiency(count, min int) float64 {
	if min <= 0 {
		return 1
	}
	return math.Min(1, float64(count)/float64(min))
}

func hasSevere(indicators []domain.FraudIndicator) bool {
	for _, ind := range indicators {
		if ind.Weight >= severeWeight {
			return true
		}
	}
	return false
}

// recommend derives queue guidance from the result. Deterministic: fixed
// order, driven only by flags and indicator types.
func recommend(res *domain.FraudAnalysisResult) []string {
	var recs []string

	if res.AutoReject {
		recs = append(recs, "reject and notify the submitter; open an investigation")
	}
	for _, ind := range res.Indicators {
		switch ind.Type {
		case domain.IndicatorDuplicateInvoice:
			recs = append(recs, "check payment history for the referenced invoice number")
		case domain.IndicatorMismatchedBank:
			recs = append(recs, "verify the bank account change with the supplier out-of-band")
		case domain.IndicatorNewSupplier:
			recs = append(recs, "complete supplier onboarding verification before payment")
		case domain.IndicatorAmountAnomaly:
			recs = append(recs, "confirm the order with the requesting department")
		}
	}
	if res.RequiresManualReview && len(recs) == 0 {
		recs = append(recs, "route to the review queue")
	}

	return recs
}

func isRound(amount float64) bool {
	return amount > 0 && math.Mod(amount, 100) == 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
