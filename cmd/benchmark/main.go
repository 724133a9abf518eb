// Benchmark tool for load-testing Harrier with synthetic AP invoices.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//   1. Generates synthetic invoices, injecting anomalies at a known rate
//      (duplicates, round amounts, bank account switches, missing POs)
//   2. Sends each invoice to Harrier's /decide endpoint
//   3. Compares Harrier's manual-review flag with the injected labels
//   4. Calculates precision, recall, F1-score, and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticInvoice is a generated invoice with its injected anomaly label.
type SyntheticInvoice struct {
	SupplierID    string
	InvoiceNumber string
	Amount        float64
	PONumber      string
	BankAccount   string
	Anomaly       string // "" for clean invoices
}

// DecideRequest is the Harrier API request format.
type DecideRequest struct {
	Tier          string     `json:"tier"`
	SupplierID    string     `json:"supplierId"`
	InvoiceNumber string     `json:"invoiceNumber"`
	Currency      string     `json:"currency"`
	TotalAmount   float64    `json:"totalAmount"`
	Subtotal      float64    `json:"subtotal"`
	PONumber      string     `json:"poNumber,omitempty"`
	BankAccount   string     `json:"bankAccount,omitempty"`
	Lines         []LineItem `json:"lines"`
}

type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

// DecideResponse is the subset of the outcome the benchmark cares about.
type DecideResponse struct {
	Status string `json:"status"`
	Fraud  struct {
		RiskScore            float64 `json:"riskScore"`
		RiskLevel            string  `json:"riskLevel"`
		RequiresManualReview bool    `json:"requiresManualReview"`
	} `json:"fraud"`
	Match struct {
		Status string `json:"status"`
	} `json:"match"`
	DurationMs int64 `json:"durationMs"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Anomalous invoice flagged for review
	FalsePositives int64 // Clean invoice flagged for review
	TrueNegatives  int64 // Clean invoice passed
	FalseNegatives int64 // Anomalous invoice passed (missed!)

	TotalProcessed int64
	TotalAnomalous int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	count := flag.Int("count", 10000, "Number of invoices to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	anomalyRate := flag.Float64("anomaly-rate", 0.1, "Fraction of invoices given an injected anomaly")
	suppliers := flag.Int("suppliers", 50, "Number of distinct synthetic suppliers")
	tier := flag.String("tier", "growth", "Tier to decide invoices under")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible runs")
	verbose := flag.Bool("verbose", false, "Print each invoice result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        HARRIER BENCHMARK - Synthetic Invoice Load Test        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Tier:         %s\n", *tier)
	fmt.Printf("Invoices:     %d\n", *count)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Anomaly Rate: %.2f\n", *anomalyRate)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  cd harrier && go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Generate synthetic invoices
	fmt.Printf("\nGenerating %d synthetic invoices...\n", *count)
	invoices := generateInvoices(*count, *suppliers, *anomalyRate, *seed)

	anomalous := 0
	for _, inv := range invoices {
		if inv.Anomaly != "" {
			anomalous++
		}
	}
	fmt.Printf("✓ Generated %d invoices\n", len(invoices))
	fmt.Printf("  - Anomalous: %d (%.2f%%)\n", anomalous, 100*float64(anomalous)/float64(len(invoices)))
	fmt.Printf("  - Clean:     %d (%.2f%%)\n", len(invoices)-anomalous, 100*float64(len(invoices)-anomalous)/float64(len(invoices)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(invoices, *baseURL, *tenantID, *tier, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateInvoices builds the synthetic workload. Clean invoices carry
// modest weekday-looking amounts with a PO reference; anomalous invoices get
// one injected red flag each.
func generateInvoices(count, suppliers int, anomalyRate float64, seed int64) []SyntheticInvoice {
	rng := rand.New(rand.NewSource(seed))
	invoices := make([]SyntheticInvoice, 0, count)

	for i := 0; i < count; i++ {
		supplier := fmt.Sprintf("sup-%03d", rng.Intn(suppliers))
		inv := SyntheticInvoice{
			SupplierID:    supplier,
			InvoiceNumber: fmt.Sprintf("INV-%06d", i),
			Amount:        100 + rng.Float64()*900 + rng.Float64(), // non-round
			PONumber:      fmt.Sprintf("PO-%s-%d", supplier, i),
			BankAccount:   "acct-" + supplier,
		}

		if rng.Float64() < anomalyRate {
			switch rng.Intn(4) {
			case 0:
				// Duplicate of an earlier invoice number
				if len(invoices) > 0 {
					prev := invoices[rng.Intn(len(invoices))]
					inv.SupplierID = prev.SupplierID
					inv.InvoiceNumber = prev.InvoiceNumber
					inv.Amount = prev.Amount
					inv.Anomaly = "duplicate"
				}
			case 1:
				// Suspiciously round amount
				inv.Amount = float64((rng.Intn(20) + 1) * 1000)
				inv.Anomaly = "round_amount"
			case 2:
				// Bank account switch
				inv.BankAccount = fmt.Sprintf("acct-mule-%d", rng.Intn(1000))
				inv.Anomaly = "bank_switch"
			case 3:
				// No PO reference on a large invoice
				inv.PONumber = ""
				inv.Amount = 5000 + rng.Float64()*20000
				inv.Anomaly = "no_po"
			}
		}

		invoices = append(invoices, inv)
	}

	return invoices
}

func runBenchmark(invoices []SyntheticInvoice, baseURL, tenantID, tier string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan SyntheticInvoice, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for inv := range work {
				start := time.Now()
				result, err := decideInvoice(client, baseURL, tenantID, tier, inv)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", inv.InvoiceNumber, err)
					}
					continue
				}

				actual := inv.Anomaly != ""
				if actual {
					atomic.AddInt64(&metrics.TotalAnomalous, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				predicted := result.Fraud.RequiresManualReview

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Amount: $%10.2f | Anomaly: %-12s | Risk: %.2f (%s) | Match: %s\n",
						status,
						inv.InvoiceNumber,
						inv.Amount,
						orDash(inv.Anomaly),
						result.Fraud.RiskScore,
						result.Fraud.RiskLevel,
						result.Match.Status,
					)
				}
			}
		}()
	}

	for _, inv := range invoices {
		work <- inv
	}
	close(work)

	wg.Wait()
	return metrics
}

func decideInvoice(client *http.Client, baseURL, tenantID, tier string, inv SyntheticInvoice) (*DecideResponse, error) {
	req := DecideRequest{
		Tier:          tier,
		SupplierID:    inv.SupplierID,
		InvoiceNumber: inv.InvoiceNumber,
		Currency:      "USD",
		TotalAmount:   inv.Amount,
		Subtotal:      inv.Amount,
		PONumber:      inv.PONumber,
		BankAccount:   inv.BankAccount,
		Lines: []LineItem{
			{Description: "Services rendered", Quantity: 1, UnitPrice: inv.Amount, LineTotal: inv.Amount},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/decide", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DecideResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 WORKLOAD STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Anomalous:  %d\n", m.TotalAnomalous)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX (manual-review flag vs injected label)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  REVIEW       PASS")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (flagged invoices that were anomalous)\n", precision)
	fmt.Printf("   Recall:     %.4f  (anomalous invoices that were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\n⚡ PERFORMANCE\n")
	fmt.Printf("   Wall Time:        %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.1f invoices/sec\n", float64(m.TotalProcessed)/duration.Seconds())
		fmt.Printf("   Avg Latency:      %.1f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
	}
	fmt.Println()
}
