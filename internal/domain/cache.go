package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetSupplierSummary retrieves a cached supplier history summary.
	GetSupplierSummary(ctx context.Context, tenantID string, supplierID string) (*SupplierSummary, error)

	// SetSupplierSummary caches a supplier history summary.
	SetSupplierSummary(ctx context.Context, tenantID string, supplierID string, s *SupplierSummary, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for supplier submission frequency windows.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SupplierSummary holds cached aggregate statistics for a supplier,
// recomputed lazily by the history service.
type SupplierSummary struct {
	SupplierID    string  `json:"supplierId"`
	InvoiceCount  int     `json:"invoiceCount"`
	MeanAmount    float64 `json:"meanAmount"`
	StdDevAmount  float64 `json:"stdDevAmount"`
	RoundFraction float64 `json:"roundFraction"`
	LastInvoiceAt string  `json:"lastInvoiceAt,omitempty"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
