package domain

// FraudRuleConfig defines a tenant-configurable fraud indicator expressed in
// CEL. Custom rules run alongside the built-in indicator battery; a rule
// whose expression evaluates truthy adds a CUSTOM_RULE indicator with the
// configured weight.
type FraudRuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over invoice and history variables. Must return bool,
	// int, or double; numeric results trigger when >= TriggerAbove.
	Expression string `json:"expression"`

	// TriggerAbove is the numeric trigger threshold for non-boolean
	// expressions. Zero means the default of 0.5.
	TriggerAbove float64 `json:"triggerAbove,omitempty"`

	// Weight of the indicator when triggered, [0,1].
	Weight float64 `json:"weight"`

	Enabled bool `json:"enabled"`
}
