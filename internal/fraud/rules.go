// Package fraud provides the invoice fraud risk scorer and its CEL-based
// custom indicator rules.
package fraud

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/harrier/internal/domain"
)

// RuleSet holds compiled tenant-configurable CEL indicator rules. Custom
// rules run alongside the built-in indicator battery; each rule that fires
// contributes one CUSTOM_RULE indicator.
type RuleSet struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.FraudRuleConfig
	Program cel.Program
}

// NewRuleSet creates a rule set with an environment exposing invoice and
// history variables.
func NewRuleSet(maxWorkers int) (*RuleSet, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("inv", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("subtotal", cel.DoubleType),
		cel.Variable("tax", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("line_count", cel.IntType),
		cel.Variable("supplier_id", cel.StringType),
		cel.Variable("supplier_invoice_count", cel.IntType),
		cel.Variable("recent_submissions", cel.IntType),
		cel.Variable("mean_amount", cel.DoubleType),
		cel.Variable("stddev_amount", cel.DoubleType),
		cel.Variable("weekend", cel.BoolType),
		cel.Variable("has_po", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleSet{
		env:        env,
		compiled:   make(map[string]*CompiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (rs *RuleSet) ValidateRule(cfg *domain.FraudRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	_, err := rs.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule.
func (rs *RuleSet) LoadRule(cfg *domain.FraudRuleConfig) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	compiled, err := rs.compileRule(cfg)
	if err != nil {
		return err
	}

	rs.compiled[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (rs *RuleSet) LoadRules(configs []*domain.FraudRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := rs.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears existing rules and loads new ones (hot reload).
func (rs *RuleSet) ReloadRules(configs []*domain.FraudRuleConfig) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	next := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := rs.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	rs.compiled = next
	return nil
}

// Count returns the number of loaded rules.
func (rs *RuleSet) Count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.compiled)
}

// LoadedRules returns the currently loaded rule configurations.
func (rs *RuleSet) LoadedRules() []*domain.FraudRuleConfig {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rules := make([]*domain.FraudRuleConfig, 0, len(rs.compiled))
	for _, c := range rs.compiled {
		rules = append(rules, c.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close clears the rule set.
func (rs *RuleSet) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.compiled = make(map[string]*CompiledRule)
	return nil
}

// Evaluate runs all loaded rules against the activation and returns one
// indicator per triggered rule, ordered by rule ID so results are
// deterministic regardless of evaluation order.
func (rs *RuleSet) Evaluate(ctx context.Context, activation map[string]any) []domain.FraudIndicator {
	rs.mu.RLock()
	rules := make([]*CompiledRule, 0, len(rs.compiled))
	for _, r := range rs.compiled {
		rules = append(rules, r)
	}
	rs.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	triggered := make([]bool, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, rs.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			triggered[idx] = rs.fires(r, activation)
		}(i, rule)
	}

	wg.Wait()

	var indicators []domain.FraudIndicator
	for i, rule := range rules {
		if !triggered[i] {
			continue
		}
		desc := rule.Config.Description
		if desc == "" {
			desc = rule.Config.Name
		}
		indicators = append(indicators, domain.FraudIndicator{
			Type:        domain.IndicatorCustomRule,
			Description: desc,
			Weight:      rule.Config.Weight,
		})
	}
	return indicators
}

// fires evaluates a single rule. Evaluation errors are treated as
// not-triggered: a broken custom rule must not block decisions.
func (rs *RuleSet) fires(rule *CompiledRule, activation map[string]any) bool {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return false
	}

	threshold := rule.Config.TriggerAbove
	if threshold == 0 {
		threshold = 0.5
	}
	return toScore(out) >= threshold
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (rs *RuleSet) compileRule(cfg *domain.FraudRuleConfig) (*CompiledRule, error) {
	ast, issues := rs.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := rs.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
