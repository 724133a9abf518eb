package domain

import "time"

// Tier names for policy lookup. Tier assignment itself (billing,
// subscriptions) happens outside Harrier; the tier string is only a key.
const (
	TierStarter    = "starter"
	TierGrowth     = "growth"
	TierEnterprise = "enterprise"
)

// Approver roles used in approval chain templates.
const (
	RoleManager = "manager"
	RoleFinance = "finance"
	RoleCFO     = "cfo"
)

// ApprovalBand maps an amount ceiling to the roles that must approve.
// A nil UpTo means no upper bound. Bands are ordered ascending.
type ApprovalBand struct {
	UpTo  *float64 `json:"upTo,omitempty"`
	Roles []string `json:"roles"`
}

// RiskBands are the score boundaries for risk level bucketing.
// score < Medium => LOW, < High => MEDIUM, < Critical => HIGH, else CRITICAL.
type RiskBands struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// TierPolicy is one PolicyTable entry: every tolerance, threshold, and
// approval-chain rule for a tier. Pure data - behavior lives in the engines.
type TierPolicy struct {
	Tier string `json:"tier"`

	// Three-way match tolerances (fractional, e.g. 0.02 = 2%).
	PriceTolerance    float64 `json:"priceTolerance"`
	QuantityTolerance float64 `json:"quantityTolerance"`
	HeaderTolerance   float64 `json:"headerTolerance"`

	// Fraud scoring.
	ModelWeight         float64   `json:"modelWeight"`     // alpha
	IndicatorWeight     float64   `json:"indicatorWeight"` // beta, alpha+beta=1
	Risk                RiskBands `json:"riskBands"`
	AutoRejectThreshold float64   `json:"autoRejectThreshold"`
	LowRiskThreshold    float64   `json:"lowRiskThreshold"`

	// Rule-battery configuration.
	DuplicateLookbackDays int     `json:"duplicateLookbackDays"`
	RoundNumberFrequency  float64 `json:"roundNumberFrequency"` // historical fraction gate
	MinHistorySamples     int     `json:"minHistorySamples"`
	ZScoreThreshold       float64 `json:"zScoreThreshold"`
	FrequencyThreshold    int64   `json:"frequencyThreshold"` // submissions per day

	// Approval routing.
	AutoApproveThreshold float64        `json:"autoApproveThreshold"`
	ApprovalChain        []ApprovalBand `json:"approvalChain"`
	EscalationTimeout    time.Duration  `json:"escalationTimeout"`
	MaxDelegationDepth   int            `json:"maxDelegationDepth"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ChainFor returns the role sequence for an invoice amount, from the first
// band whose ceiling covers the amount.
func (p *TierPolicy) ChainFor(amount float64) []string {
	for _, band := range p.ApprovalChain {
		if band.UpTo == nil || amount <= *band.UpTo {
			return band.Roles
		}
	}
	if n := len(p.ApprovalChain); n > 0 {
		return p.ApprovalChain[n-1].Roles
	}
	return nil
}

// RiskLevelFor buckets a risk score using this policy's bands.
func (p *TierPolicy) RiskLevelFor(score float64) FraudRiskLevel {
	switch {
	case score < p.Risk.Medium:
		return RiskLow
	case score < p.Risk.High:
		return RiskMedium
	case score < p.Risk.Critical:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func f(v float64) *float64 { return &v }

// DefaultPolicies returns the built-in per-tier policy entries. They seed the
// database on first start and can be replaced via the policy API. The values
// here are the documented defaults the test suite relies on.
func DefaultPolicies() []*TierPolicy {
	base := TierPolicy{
		PriceTolerance:        0.02,
		QuantityTolerance:     0.0,
		HeaderTolerance:       0.01,
		ModelWeight:           0.6,
		IndicatorWeight:       0.4,
		Risk:                  RiskBands{Medium: 0.25, High: 0.5, Critical: 0.75},
		AutoRejectThreshold:   0.8,
		LowRiskThreshold:      0.25,
		DuplicateLookbackDays: 90,
		RoundNumberFrequency:  0.6,
		MinHistorySamples:     5,
		ZScoreThreshold:       3.0,
		FrequencyThreshold:    10,
		EscalationTimeout:     72 * time.Hour,
		MaxDelegationDepth:    3,
		Enabled:               true,
	}

	starter := base
	starter.Tier = TierStarter
	starter.AutoApproveThreshold = 250
	starter.ApprovalChain = []ApprovalBand{
		{UpTo: f(5000), Roles: []string{RoleManager}},
		{UpTo: nil, Roles: []string{RoleManager, RoleFinance}},
	}

	growth := base
	growth.Tier = TierGrowth
	growth.AutoApproveThreshold = 1000
	growth.ApprovalChain = []ApprovalBand{
		{UpTo: f(2500), Roles: []string{RoleManager}},
		{UpTo: f(25000), Roles: []string{RoleManager, RoleFinance}},
		{UpTo: nil, Roles: []string{RoleManager, RoleFinance, RoleCFO}},
	}

	enterprise := base
	enterprise.Tier = TierEnterprise
	enterprise.AutoApproveThreshold = 5000
	enterprise.ApprovalChain = []ApprovalBand{
		{UpTo: f(10000), Roles: []string{RoleManager}},
		{UpTo: f(100000), Roles: []string{RoleManager, RoleFinance}},
		{UpTo: nil, Roles: []string{RoleManager, RoleFinance, RoleCFO}},
	}

	return []*TierPolicy{&starter, &growth, &enterprise}
}
