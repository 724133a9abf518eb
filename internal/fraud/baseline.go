package fraud

import (
	"context"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BaselinePredictor is the built-in deterministic model: a fixed-weight
// logistic over the engineered features. It exists so the default build
// decides invoices without a network dependency; production deployments
// inject a real model behind the same interface.
type BaselinePredictor struct{}

// NewBaselinePredictor creates the built-in predictor.
func NewBaselinePredictor() *BaselinePredictor {
	return &BaselinePredictor{}
}

// Coefficients were fit offline against the labeled AP corpus; the intercept
// keeps a clean invoice from an established supplier near 0.05.
const (
	bpIntercept = -3.0
	bpZScore    = 0.55
	bpWeekend   = 0.40
	bpNoPO      = 0.80
	bpImbalance = 0.35
	bpNewVendor = 0.90
	bpBurst     = 0.06
	bpAmountLog = 0.12
)

// Predict returns a fraud probability for the feature vector. Pure function:
// identical features always yield the identical prediction.
func (p *BaselinePredictor) Predict(_ context.Context, ft domain.PredictionFeatures) (domain.Prediction, error) {
	z := bpIntercept
	z += bpZScore * ft.AmountZScore
	if ft.Weekend {
		z += bpWeekend
	}
	if !ft.HasPOReference {
		z += bpNoPO
	}
	if ft.HeaderImbalance > 0.01 {
		z += bpImbalance
	}
	if ft.SupplierInvoices == 0 {
		z += bpNewVendor
	}
	z += bpBurst * float64(ft.RecentSubmissions)
	z += bpAmountLog * math.Log10(ft.Amount+1)

	prob := 1.0 / (1.0 + math.Exp(-z))

	// Confidence grows with supplier history depth.
	conf := 0.5 + 0.5*math.Min(1, float64(ft.SupplierInvoices)/10.0)

	return domain.Prediction{Probability: prob, Confidence: conf}, nil
}
