package domain

import (
	"time"
)

// Invoice represents an incoming supplier invoice to be decided.
// Field extraction from the source document happens upstream (OCR service);
// Harrier consumes the structured record only.
type Invoice struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Supplier identity
	SupplierID   string `json:"supplierId"`
	SupplierName string `json:"supplierName,omitempty"`

	// Invoice document fields
	InvoiceNumber string  `json:"invoiceNumber"`
	Currency      string  `json:"currency"`
	TotalAmount   float64 `json:"totalAmount"`
	Subtotal      float64 `json:"subtotal"`
	TaxAmount     float64 `json:"taxAmount"`

	// Line items
	Lines []LineItem `json:"lines"`

	// References to the purchase order and goods receipt, if known.
	// Empty values mean "no reference" - a lookup miss is a match signal,
	// not an error.
	PONumber      string `json:"poNumber,omitempty"`
	ReceiptNumber string `json:"receiptNumber,omitempty"`

	// Bank account the supplier asks to be paid into.
	BankAccount string `json:"bankAccount,omitempty"`

	// Temporal
	InvoiceDate time.Time `json:"invoiceDate"`
	CreatedAt   time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// LineItem is a single invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

// PurchaseOrder is the buyer-side record an invoice is matched against.
type PurchaseOrder struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Number      string    `json:"number"`
	SupplierID  string    `json:"supplierId"`
	TotalAmount float64   `json:"totalAmount"`
	Lines       []POLine  `json:"lines"`
	CreatedAt   time.Time `json:"createdAt"`
}

// POLine is an expected line on a purchase order.
type POLine struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// GoodsReceipt records what was actually received against a purchase order.
type GoodsReceipt struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenantId"`
	Number     string        `json:"number"`
	SupplierID string        `json:"supplierId"`
	Lines      []ReceiptLine `json:"lines"`
	ReceivedAt time.Time     `json:"receivedAt"`
}

// ReceiptLine is a received quantity on a goods receipt.
type ReceiptLine struct {
	Description      string  `json:"description"`
	QuantityReceived float64 `json:"quantityReceived"`
}

// SupplierHistory is a bounded snapshot of a supplier's past invoices,
// assembled by the history service. The risk scorer treats it as immutable:
// the same snapshot always produces the same analysis.
type SupplierHistory struct {
	SupplierID string `json:"supplierId"`

	// Past invoices, newest first, bounded by the policy's lookback window.
	Invoices []HistoricalInvoice `json:"invoices"`

	// Bank account on file for this supplier (empty if unknown).
	KnownBankAccount string `json:"knownBankAccount,omitempty"`

	// Submissions seen in the last 24 hours including this one.
	RecentSubmissions int64 `json:"recentSubmissions"`
}

// HistoricalInvoice is a past invoice in a supplier history snapshot.
type HistoricalInvoice struct {
	InvoiceNumber string    `json:"invoiceNumber"`
	Amount        float64   `json:"amount"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// InvoiceRequest is the API request payload for invoice submission.
type InvoiceRequest struct {
	TenantID      string                 `json:"tenantId" validate:"required"`
	Tier          string                 `json:"tier" validate:"required"`
	SupplierID    string                 `json:"supplierId" validate:"required"`
	SupplierName  string                 `json:"supplierName,omitempty"`
	InvoiceNumber string                 `json:"invoiceNumber" validate:"required"`
	Currency      string                 `json:"currency" validate:"required,len=3"`
	TotalAmount   float64                `json:"totalAmount" validate:"required,gt=0"`
	Subtotal      float64                `json:"subtotal"`
	TaxAmount     float64                `json:"taxAmount"`
	Lines         []LineItem             `json:"lines"`
	PONumber      string                 `json:"poNumber,omitempty"`
	ReceiptNumber string                 `json:"receiptNumber,omitempty"`
	BankAccount   string                 `json:"bankAccount,omitempty"`
	InvoiceDate   time.Time              `json:"invoiceDate"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ToInvoice converts a request to an Invoice domain object.
func (r *InvoiceRequest) ToInvoice() *Invoice {
	now := time.Now().UTC()
	invoiceDate := r.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = now
	}
	return &Invoice{
		TenantID:      r.TenantID,
		SupplierID:    r.SupplierID,
		SupplierName:  r.SupplierName,
		InvoiceNumber: r.InvoiceNumber,
		Currency:      r.Currency,
		TotalAmount:   r.TotalAmount,
		Subtotal:      r.Subtotal,
		TaxAmount:     r.TaxAmount,
		Lines:         r.Lines,
		PONumber:      r.PONumber,
		ReceiptNumber: r.ReceiptNumber,
		BankAccount:   r.BankAccount,
		InvoiceDate:   invoiceDate,
		CreatedAt:     now,
	}
}
