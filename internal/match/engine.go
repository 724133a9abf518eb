// Package match implements the three-way matcher: invoice vs purchase order
// vs goods receipt.
package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Engine performs tolerance-based reconciliation of an invoice against its
// purchase order and goods receipt. Match is a pure function of its inputs
// plus the policy tolerances: no I/O, no state, safe for unbounded parallel
// invocation.
type Engine struct{}

// NewEngine creates a match engine.
func NewEngine() *Engine {
	return &Engine{}
}

// pair links an invoice line to a PO line.
type pair struct {
	inv int
	po  int
}

// Match reconciles an invoice against an optional purchase order and goods
// receipt. A nil po or receipt is a valid, non-fatal input: absence is a
// match signal, not an error. The result is created fresh per attempt and
// never mutated afterwards.
func (e *Engine) Match(inv *domain.Invoice, po *domain.PurchaseOrder, receipt *domain.GoodsReceipt, policy *domain.TierPolicy) *domain.MatchResult {
	res := &domain.MatchResult{
		TenantID:           inv.TenantID,
		InvoiceID:          inv.ID,
		TotalInvoiceAmount: inv.TotalAmount,
	}

	// Header imbalance is a signal, not a crash.
	if imbalance := math.Abs(inv.Subtotal + inv.TaxAmount - inv.TotalAmount); imbalance > 0.01 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("invoice header does not reconcile: subtotal %.2f + tax %.2f != total %.2f", inv.Subtotal, inv.TaxAmount, inv.TotalAmount))
	}

	if po == nil {
		res.Status = domain.MatchNoPOFound
		res.Confidence = domain.ConfidenceNone
		res.ConfidenceScore = 0
		res.VarianceAmount = inv.TotalAmount
		res.VariancePercentage = 0
		res.SuggestedActions = actionsFor(res.Status)
		return res
	}

	res.TotalPOAmount = po.TotalAmount
	res.VarianceAmount = inv.TotalAmount - po.TotalAmount
	if po.TotalAmount != 0 {
		res.VariancePercentage = res.VarianceAmount / po.TotalAmount
	}

	pairs, unmatched := pairLines(inv.Lines, po.Lines)

	var (
		priceMismatch bool
		qtyMismatch   bool
		matchedAmount float64
		totalAmount   float64
	)

	for _, line := range inv.Lines {
		totalAmount += line.LineTotal
	}

	for _, p := range pairs {
		il := inv.Lines[p.inv]
		pl := po.Lines[p.po]

		priceVar := relativeVariance(il.UnitPrice, pl.UnitPrice)
		qtyVar := relativeVariance(il.Quantity, pl.Quantity)

		switch {
		case priceVar > policy.PriceTolerance:
			priceMismatch = true
			res.Mismatches = append(res.Mismatches, domain.LineMismatch{
				Description:   il.Description,
				Field:         "price",
				InvoiceValue:  il.UnitPrice,
				ExpectedValue: pl.UnitPrice,
				Variance:      priceVar,
				Reason:        fmt.Sprintf("unit price variance %.1f%% exceeds tolerance %.1f%%", priceVar*100, policy.PriceTolerance*100),
			})
		case qtyVar > policy.QuantityTolerance:
			qtyMismatch = true
			res.Mismatches = append(res.Mismatches, domain.LineMismatch{
				Description:   il.Description,
				Field:         "quantity",
				InvoiceValue:  il.Quantity,
				ExpectedValue: pl.Quantity,
				Variance:      qtyVar,
				Reason:        fmt.Sprintf("quantity variance %.1f%% exceeds tolerance %.1f%%", qtyVar*100, policy.QuantityTolerance*100),
			})
		default:
			matchedAmount += il.LineTotal
			res.Matches = append(res.Matches, domain.LineMatch{
				Description:      il.Description,
				InvoiceQuantity:  il.Quantity,
				POQuantity:       pl.Quantity,
				InvoiceUnitPrice: il.UnitPrice,
				POUnitPrice:      pl.UnitPrice,
				PriceVariance:    priceVar,
				QuantityVariance: qtyVar,
			})
		}
	}

	for _, i := range unmatched {
		il := inv.Lines[i]
		res.Mismatches = append(res.Mismatches, domain.LineMismatch{
			Description:  il.Description,
			Field:        "line",
			InvoiceValue: il.LineTotal,
			Reason:       "no corresponding PO line",
		})
	}

	// Goods receipt: absence is secondary to PO line failures.
	lineFailure := priceMismatch || qtyMismatch || len(unmatched) > 0
	if receipt == nil {
		res.Warnings = append(res.Warnings, "no goods receipt on file")
		res.Mismatches = append(res.Mismatches, domain.LineMismatch{
			Field:  "receipt",
			Reason: "no goods receipt",
		})
	} else {
		res.TotalReceiptAmount = receiptTotal(receipt, po)
		checkReceiptQuantities(res, inv, receipt, policy)
	}

	// Amount-weighted confidence, halved when the receipt is missing.
	if totalAmount > 0 {
		res.ConfidenceScore = matchedAmount / totalAmount
	}
	if receipt == nil {
		res.ConfidenceScore *= 0.5
	}

	headerOK := headerReconciles(inv.TotalAmount, po.TotalAmount, policy.HeaderTolerance)

	switch {
	case receipt == nil && !lineFailure:
		res.Status = domain.MatchNoReceiptFound
	case priceMismatch:
		res.Status = domain.MatchPriceMismatch
	case qtyMismatch:
		res.Status = domain.MatchQuantityMismatch
	case len(unmatched) > 0 && len(res.Matches) > 0:
		res.Status = domain.MatchPartial
	case len(res.Matches) == 0:
		res.Status = domain.MatchNone
	case !headerOK:
		res.Status = domain.MatchPartial
		res.Warnings = append(res.Warnings, fmt.Sprintf("invoice total %.2f does not reconcile with PO total %.2f", inv.TotalAmount, po.TotalAmount))
	default:
		res.Status = domain.MatchPerfect
	}

	res.Confidence = domain.ConfidenceFor(res.ConfidenceScore)
	res.SuggestedActions = actionsFor(res.Status)

	return res
}

// pairLines aligns invoice lines to PO lines by normalized description key,
// falling back to positional alignment for the remainder when the line counts
// are equal. Returns pairs and unmatched invoice line indices.
func pairLines(invLines []domain.LineItem, poLines []domain.POLine) ([]pair, []int) {
	used := make([]bool, len(poLines))
	byDesc := make(map[string]int, len(poLines))
	for i, pl := range poLines {
		byDesc[normalize(pl.Description)] = i
	}

	var pairs []pair
	var unmatched []int

	for i, il := range invLines {
		if j, ok := byDesc[normalize(il.Description)]; ok && !used[j] {
			used[j] = true
			pairs = append(pairs, pair{inv: i, po: j})
			continue
		}
		unmatched = append(unmatched, i)
	}

	// Positional fallback only when the shapes agree 1:1.
	if len(unmatched) > 0 && len(invLines) == len(poLines) {
		var still []int
		for _, i := range unmatched {
			if !used[i] {
				used[i] = true
				pairs = append(pairs, pair{inv: i, po: i})
			} else {
				still = append(still, i)
			}
		}
		unmatched = still
	}

	return pairs, unmatched
}

// checkReceiptQuantities compares received quantities against invoiced ones.
// Over- and under-receipt surface as warnings plus quantity mismatches.
func checkReceiptQuantities(res *domain.MatchResult, inv *domain.Invoice, receipt *domain.GoodsReceipt, policy *domain.TierPolicy) {
	received := make(map[string]float64, len(receipt.Lines))
	for _, rl := range receipt.Lines {
		received[normalize(rl.Description)] += rl.QuantityReceived
	}

	for _, il := range inv.Lines {
		qty, ok := received[normalize(il.Description)]
		if !ok {
			continue
		}
		if v := relativeVariance(il.Quantity, qty); v > policy.QuantityTolerance {
			res.Warnings = append(res.Warnings, fmt.Sprintf("received quantity %.2f differs from invoiced %.2f for %q", qty, il.Quantity, il.Description))
		}
	}
}

// receiptTotal prices received quantities at the PO unit price.
func receiptTotal(receipt *domain.GoodsReceipt, po *domain.PurchaseOrder) float64 {
	prices := make(map[string]float64, len(po.Lines))
	for _, pl := range po.Lines {
		prices[normalize(pl.Description)] = pl.UnitPrice
	}

	var total float64
	for _, rl := range receipt.Lines {
		total += rl.QuantityReceived * prices[normalize(rl.Description)]
	}
	return total
}

// relativeVariance returns |actual - expected| / expected, guarded against a
// zero expected value.
func relativeVariance(actual, expected float64) float64 {
	if expected == 0 {
		if actual == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(actual-expected) / math.Abs(expected)
}

func headerReconciles(invTotal, poTotal, tolerance float64) bool {
	if poTotal == 0 {
		return invTotal == 0
	}
	return math.Abs(invTotal-poTotal)/math.Abs(poTotal) <= tolerance
}

func normalize(desc string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(desc))), " ")
}

// actionsFor generates deterministic follow-up actions from a match status.
func actionsFor(status domain.MatchStatus) []string {
	switch status {
	case domain.MatchNoPOFound:
		return []string{"locate or create the purchase order before approval"}
	case domain.MatchNoReceiptFound:
		return []string{"confirm goods were received and record the receipt"}
	case domain.MatchPriceMismatch:
		return []string{"request an updated PO or a credit memo from the supplier"}
	case domain.MatchQuantityMismatch:
		return []string{"verify received quantities against the PO"}
	case domain.MatchPartial:
		return []string{"review unmatched lines with the requester"}
	case domain.MatchNone:
		return []string{"route to manual review: invoice does not correspond to the PO"}
	default:
		return nil
	}
}
