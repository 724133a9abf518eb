// Package policy provides the tier-keyed policy table.
package policy

import (
	"fmt"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Table holds the loaded per-tier policy entries. Pure lookup - tolerances,
// thresholds, and approval chains are data here; behavior lives in the
// engines. Supports hot-reloading from the database like the fraud rule set.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*domain.TierPolicy // key: tier
}

// NewTable creates an empty policy table.
func NewTable() *Table {
	return &Table{
		entries: make(map[string]*domain.TierPolicy),
	}
}

// Load replaces the table contents with the given entries, skipping
// disabled ones.
func (t *Table) Load(policies []*domain.TierPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*domain.TierPolicy)
	for _, p := range policies {
		if p.Enabled {
			t.entries[p.Tier] = p
		}
	}
}

// Reload clears and reloads entries (hot reload).
func (t *Table) Reload(policies []*domain.TierPolicy) {
	t.Load(policies)
}

// PolicyFor returns the entry for a tier. A missing tier is
// ErrPolicyNotConfigured - never a silent default, since defaults could
// mis-price risk and approval thresholds.
func (t *Table) PolicyFor(tier string) (*domain.TierPolicy, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.entries[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrPolicyNotConfigured, tier)
	}
	return p, nil
}

// Loaded returns the currently loaded entries.
func (t *Table) Loaded() []*domain.TierPolicy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*domain.TierPolicy, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	return out
}

// Count returns the number of loaded entries.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
