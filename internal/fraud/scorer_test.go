package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Wednesday, away from any weekend signal.
var weekday = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func scorerPolicy() *domain.TierPolicy {
	for _, p := range domain.DefaultPolicies() {
		if p.Tier == domain.TierGrowth {
			return p
		}
	}
	return nil
}

func cleanInvoice() *domain.Invoice {
	return &domain.Invoice{
		ID:            "inv-1",
		TenantID:      "tenant-001",
		SupplierID:    "sup-1",
		InvoiceNumber: "INV-100",
		Currency:      "USD",
		TotalAmount:   1001.5,
		Subtotal:      1001.5,
		PONumber:      "PO-1",
		BankAccount:   "acct-sup-1",
		InvoiceDate:   weekday,
		Lines: []domain.LineItem{
			{Description: "Services", Quantity: 1, UnitPrice: 1001.5, LineTotal: 1001.5},
		},
	}
}

// establishedHistory is ten prior invoices clustered around 1000 with a
// matching bank account on file.
func establishedHistory() *domain.SupplierHistory {
	amounts := []float64{980.5, 1020.3, 990.7, 1010.2, 1000.9, 995.1, 1005.6, 1015.4, 985.2, 1002.8}
	h := &domain.SupplierHistory{
		SupplierID:        "sup-1",
		KnownBankAccount:  "acct-sup-1",
		RecentSubmissions: 1,
	}
	for i, amt := range amounts {
		h.Invoices = append(h.Invoices, domain.HistoricalInvoice{
			InvoiceNumber: fmt.Sprintf("INV-%03d", i),
			Amount:        amt,
			SubmittedAt:   weekday.AddDate(0, 0, -(i + 1)),
		})
	}
	return h
}

func indicatorTypes(res *domain.FraudAnalysisResult) map[domain.FraudIndicatorType]bool {
	types := make(map[domain.FraudIndicatorType]bool)
	for _, ind := range res.Indicators {
		types[ind.Type] = true
	}
	return types
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, domain.PredictionFeatures) (domain.Prediction, error) {
	return domain.Prediction{}, errors.New("model endpoint down")
}

func TestCleanInvoiceAutoApproves(t *testing.T) {
	s := NewScorer(nil)

	res, err := s.Assess(context.Background(), cleanInvoice(), establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if len(res.Indicators) != 0 {
		t.Errorf("expected no indicators, got %v", res.Indicators)
	}
	if !res.AutoApprove {
		t.Errorf("expected auto-approve, got score %f level %s", res.RiskScore, res.RiskLevel)
	}
	if res.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW risk, got %s", res.RiskLevel)
	}
}

func TestDuplicateInvoiceDetected(t *testing.T) {
	s := NewScorer(nil)

	hist := establishedHistory()
	inv := cleanInvoice()
	inv.InvoiceNumber = hist.Invoices[0].InvoiceNumber
	inv.TotalAmount = hist.Invoices[0].Amount
	inv.Subtotal = inv.TotalAmount

	res, err := s.Assess(context.Background(), inv, hist, scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorDuplicateInvoice] {
		t.Fatal("expected DUPLICATE_INVOICE indicator")
	}
	if res.AutoApprove {
		t.Error("a severe indicator must block auto-approval")
	}
}

func TestDuplicateOutsideLookbackIgnored(t *testing.T) {
	s := NewScorer(nil)

	hist := establishedHistory()
	inv := cleanInvoice()
	inv.InvoiceNumber = "INV-OLD"
	inv.TotalAmount = 999.9
	inv.Subtotal = 999.9
	hist.Invoices = append(hist.Invoices, domain.HistoricalInvoice{
		InvoiceNumber: "INV-OLD",
		Amount:        999.9,
		SubmittedAt:   weekday.AddDate(0, 0, -120), // beyond the 90 day window
	})

	res, err := s.Assess(context.Background(), inv, hist, scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if indicatorTypes(res)[domain.IndicatorDuplicateInvoice] {
		t.Error("duplicates outside the lookback window must not flag")
	}
}

func TestBankAccountSwitchDetected(t *testing.T) {
	s := NewScorer(nil)

	inv := cleanInvoice()
	inv.BankAccount = "acct-unknown-999"

	res, err := s.Assess(context.Background(), inv, establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorMismatchedBank] {
		t.Fatal("expected MISMATCHED_BANK_DETAILS indicator")
	}
	if res.AutoApprove {
		t.Error("a bank switch must block auto-approval")
	}
	var recommended bool
	for _, r := range res.Recommendations {
		if r != "" {
			recommended = true
		}
	}
	if !recommended {
		t.Error("expected an out-of-band verification recommendation")
	}
}

func TestNewSupplierFlagged(t *testing.T) {
	s := NewScorer(nil)

	res, err := s.Assess(context.Background(), cleanInvoice(), nil, scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorNewSupplier] {
		t.Error("expected NEW_SUPPLIER indicator with no history")
	}
}

func TestAmountAnomalyAutoRejects(t *testing.T) {
	s := NewScorer(nil)

	inv := cleanInvoice()
	inv.TotalAmount = 50000
	inv.Subtotal = 50000

	res, err := s.Assess(context.Background(), inv, establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorAmountAnomaly] {
		t.Fatal("expected AMOUNT_ANOMALY indicator for a 50x amount")
	}
	if !res.AutoReject {
		t.Errorf("expected auto-reject, got score %f", res.RiskScore)
	}
	if res.RiskLevel != domain.RiskCritical {
		t.Errorf("expected CRITICAL risk, got %s", res.RiskLevel)
	}
}

func TestAnomalySkippedOnThinHistory(t *testing.T) {
	s := NewScorer(nil)

	hist := establishedHistory()
	hist.Invoices = hist.Invoices[:3] // below MinHistorySamples

	inv := cleanInvoice()
	inv.TotalAmount = 50000
	inv.Subtotal = 50000

	res, err := s.Assess(context.Background(), inv, hist, scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if indicatorTypes(res)[domain.IndicatorAmountAnomaly] {
		t.Error("z-score must not run on fewer samples than the policy minimum")
	}
}

func TestSubmissionBurstFlagged(t *testing.T) {
	s := NewScorer(nil)

	hist := establishedHistory()
	hist.RecentSubmissions = 15 // threshold is 10

	res, err := s.Assess(context.Background(), cleanInvoice(), hist, scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorFrequencyAnomaly] {
		t.Error("expected FREQUENCY_ANOMALY indicator")
	}
}

func TestWeekendSubmissionFlagged(t *testing.T) {
	s := NewScorer(nil)

	inv := cleanInvoice()
	inv.InvoiceDate = time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC) // Saturday

	res, err := s.Assess(context.Background(), inv, establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorWeekendSubmission] {
		t.Error("expected WEEKEND_SUBMISSION indicator")
	}
}

func TestRoundNumberBias(t *testing.T) {
	s := NewScorer(nil)

	// A supplier that always bills round thousands.
	hist := &domain.SupplierHistory{
		SupplierID:        "sup-1",
		KnownBankAccount:  "acct-sup-1",
		RecentSubmissions: 1,
	}
	for i := 0; i < 6; i++ {
		hist.Invoices = append(hist.Invoices, domain.HistoricalInvoice{
			InvoiceNumber: fmt.Sprintf("INV-%03d", i),
			Amount:        float64((i + 1) * 1000),
			SubmittedAt:   weekday.AddDate(0, 0, -(i + 1)),
		})
	}

	inv := cleanInvoice()
	inv.TotalAmount = 3000
	inv.Subtotal = 3000

	res, err := s.Assess(context.Background(), inv, hist, scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorRoundNumberBias] {
		t.Error("expected ROUND_NUMBER_BIAS for a habitually round-billing supplier")
	}
}

func TestRoundOneOffStaysQuiet(t *testing.T) {
	s := NewScorer(nil)

	inv := cleanInvoice()
	inv.TotalAmount = 1000
	inv.Subtotal = 1000

	res, err := s.Assess(context.Background(), inv, establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if indicatorTypes(res)[domain.IndicatorRoundNumberBias] {
		t.Error("a single round invoice against non-round history must not flag")
	}
}

func TestPredictorFailurePropagates(t *testing.T) {
	s := NewScorer(nil)

	_, err := s.Assess(context.Background(), cleanInvoice(), establishedHistory(), scorerPolicy(), failingPredictor{})
	if !errors.Is(err, domain.ErrPredictionUnavailable) {
		t.Fatalf("expected ErrPredictionUnavailable, got %v", err)
	}

	_, err = s.Assess(context.Background(), cleanInvoice(), establishedHistory(), scorerPolicy(), nil)
	if !errors.Is(err, domain.ErrPredictionUnavailable) {
		t.Fatalf("expected ErrPredictionUnavailable for nil predictor, got %v", err)
	}
}

func TestCustomRulesContribute(t *testing.T) {
	rs, err := NewRuleSet(4)
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	defer rs.Close()

	rs.LoadRule(&domain.FraudRuleConfig{
		ID:         "cap",
		Name:       "Amount cap",
		Expression: "amount > 500.0",
		Weight:     0.3,
		Enabled:    true,
	})

	s := NewScorer(rs)

	res, err := s.Assess(context.Background(), cleanInvoice(), establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if !indicatorTypes(res)[domain.IndicatorCustomRule] {
		t.Error("expected the custom rule to contribute an indicator")
	}
}

func TestAssessIsDeterministic(t *testing.T) {
	s := NewScorer(nil)

	a, err := s.Assess(context.Background(), cleanInvoice(), establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	b, err := s.Assess(context.Background(), cleanInvoice(), establishedHistory(), scorerPolicy(), NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if a.RiskScore != b.RiskScore || a.Confidence != b.Confidence || len(a.Indicators) != len(b.Indicators) {
		t.Error("identical inputs must produce identical analyses")
	}
	if a.ID != "" || !a.CreatedAt.IsZero() {
		t.Error("scorer must leave ID and CreatedAt for the orchestrator to stamp")
	}
}

func TestConfidenceTracksHistoryDepth(t *testing.T) {
	s := NewScorer(nil)
	ctx := context.Background()
	pol := scorerPolicy()

	established, err := s.Assess(ctx, cleanInvoice(), establishedHistory(), pol, NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	fresh, err := s.Assess(ctx, cleanInvoice(), nil, pol, NewBaselinePredictor())
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	// Ten samples against a minimum of five: both the model confidence and
	// the rule-sample term are saturated.
	if diff := established.Confidence - 1.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected full confidence with deep history, got %.4f", established.Confidence)
	}

	// No history at all: the model floor (0.5) is all that remains, and the
	// rule term contributes nothing.
	want := pol.ModelWeight * 0.5
	if diff := fresh.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected confidence %.4f for a new supplier, got %.4f", want, fresh.Confidence)
	}

	if fresh.Confidence >= established.Confidence {
		t.Errorf("confidence must grow with history: new %.4f >= established %.4f",
			fresh.Confidence, established.Confidence)
	}
}

func TestFlagsMutuallyExclusive(t *testing.T) {
	s := NewScorer(nil)

	cases := []*domain.Invoice{cleanInvoice()}

	dup := cleanInvoice()
	dup.InvoiceNumber = "INV-000"
	dup.TotalAmount = 980.5
	dup.Subtotal = 980.5
	cases = append(cases, dup)

	big := cleanInvoice()
	big.TotalAmount = 50000
	big.Subtotal = 50000
	cases = append(cases, big)

	for i, inv := range cases {
		res, err := s.Assess(context.Background(), inv, establishedHistory(), scorerPolicy(), NewBaselinePredictor())
		if err != nil {
			t.Fatalf("case %d: Assess failed: %v", i, err)
		}
		set := 0
		for _, flag := range []bool{res.AutoApprove, res.AutoReject, res.RequiresManualReview} {
			if flag {
				set++
			}
		}
		if set != 1 {
			t.Errorf("case %d: exactly one outcome flag must be set, got %d", i, set)
		}
	}
}
