// Package history assembles supplier history snapshots for the risk scorer.
package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// submissionWindow is the counter window for the frequency signal.
const submissionWindow = 24 * time.Hour

// summaryTTL bounds how stale a cached supplier summary may get.
const summaryTTL = 10 * time.Minute

// Service builds bounded, ordered supplier history snapshots from the
// repository, with summary caching and an atomic submission counter. The
// snapshot it returns is immutable from the scorer's perspective.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Snapshot returns the supplier's history over the lookback window, newest
// first, including the bank account on file and the 24h submission count.
// The count includes the submission being processed (RecordSubmission must
// be called first).
func (s *Service) Snapshot(ctx context.Context, tenantID, supplierID string, lookbackDays int, recentSubmissions int64) (*domain.SupplierHistory, error) {
	if tenantID == "" || supplierID == "" {
		return nil, fmt.Errorf("%w: tenantID and supplierID are required", domain.ErrInvalidInput)
	}
	if lookbackDays <= 0 {
		lookbackDays = 90
	}

	since := time.Now().UTC().AddDate(0, 0, -lookbackDays)
	invoices, err := s.repo.GetInvoicesBySupplier(ctx, tenantID, supplierID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplier invoices: %w", err)
	}

	hist := &domain.SupplierHistory{
		SupplierID:        supplierID,
		RecentSubmissions: recentSubmissions,
	}

	for _, inv := range invoices {
		hist.Invoices = append(hist.Invoices, domain.HistoricalInvoice{
			InvoiceNumber: inv.InvoiceNumber,
			Amount:        inv.TotalAmount,
			SubmittedAt:   inv.CreatedAt,
		})
		// Most recent bank account on file wins; invoices come newest first.
		if hist.KnownBankAccount == "" && inv.BankAccount != "" {
			hist.KnownBankAccount = inv.BankAccount
		}
	}

	return hist, nil
}

// RecordSubmission bumps the supplier's 24h submission counter and returns
// the new count. Counter accuracy degrades to per-node with the memory
// cache; Redis keeps it global.
func (s *Service) RecordSubmission(ctx context.Context, tenantID, supplierID string) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "submissions:"+supplierID, submissionWindow)
}

// Summary returns cached aggregate statistics for a supplier, recomputing
// from the repository on a cache miss.
func (s *Service) Summary(ctx context.Context, tenantID, supplierID string, lookbackDays int) (*domain.SupplierSummary, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetSupplierSummary(ctx, tenantID, supplierID); err == nil && cached != nil {
			return cached, nil
		}
	}

	hist, err := s.Snapshot(ctx, tenantID, supplierID, lookbackDays, 0)
	if err != nil {
		return nil, err
	}

	summary := summarize(supplierID, hist)

	if s.cache != nil {
		_ = s.cache.SetSupplierSummary(ctx, tenantID, supplierID, summary, summaryTTL)
	}

	return summary, nil
}

func summarize(supplierID string, hist *domain.SupplierHistory) *domain.SupplierSummary {
	summary := &domain.SupplierSummary{
		SupplierID:   supplierID,
		InvoiceCount: len(hist.Invoices),
	}

	if len(hist.Invoices) == 0 {
		return summary
	}

	var sum, rounds float64
	var last time.Time
	for _, h := range hist.Invoices {
		sum += h.Amount
		if h.Amount > 0 && int64(h.Amount)%100 == 0 && h.Amount == float64(int64(h.Amount)) {
			rounds++
		}
		if h.SubmittedAt.After(last) {
			last = h.SubmittedAt
		}
	}
	n := float64(len(hist.Invoices))
	mean := sum / n

	var sq float64
	for _, h := range hist.Invoices {
		d := h.Amount - mean
		sq += d * d
	}

	summary.MeanAmount = mean
	summary.StdDevAmount = math.Sqrt(sq / n)
	summary.RoundFraction = rounds / n
	summary.LastInvoiceAt = last.UTC().Format(time.RFC3339)

	return summary
}
