package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus represents the lifecycle state of a submission record.
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusProcessing RecordStatus = "processing"
	StatusOK         RecordStatus = "ok"
	StatusAnomaly    RecordStatus = "anomaly"
	StatusFailed     RecordStatus = "failed"
)

// AnomalyKind classifies a non-OK record. Exactly one kind applies per
// record; precedence is resolved by the classifier, not stored here.
type AnomalyKind string

const (
	AnomalyMissingInvoice   AnomalyKind = "missing_invoice"
	AnomalyMissingPO        AnomalyKind = "missing_purchase_order"
	AnomalyAmountMismatch   AnomalyKind = "amount_mismatch"
	AnomalySupplierMismatch AnomalyKind = "supplier_mismatch"
	AnomalyCurrencyMismatch AnomalyKind = "currency_mismatch"
)

// AnomalyKinds lists all kinds in classifier precedence order.
var AnomalyKinds = []AnomalyKind{
	AnomalyMissingInvoice,
	AnomalyMissingPO,
	AnomalyAmountMismatch,
	AnomalySupplierMismatch,
	AnomalyCurrencyMismatch,
}

// PurchaseOrderRef is one purchase order attached to a submission.
// Attached at submission time and immutable afterwards.
type PurchaseOrderRef struct {
	ID       string          `json:"id"`
	Supplier string          `json:"supplier"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Concept  string          `json:"concept,omitempty"`
}

// ExtractionResult holds the structured fields pulled from an invoice PDF.
type ExtractionResult struct {
	Supplier   string          `json:"supplier"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Currency   string          `json:"currency"`
	Receiver   string          `json:"receiver,omitempty"`
	Folio      string          `json:"folio,omitempty"`
	IssueDate  string          `json:"issue_date,omitempty"`
	LineItems  []LineItem      `json:"line_items,omitempty"`
}

// LineItem is a single invoice line.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// ComparisonVerdict is the overall judgement from the comparison step.
type ComparisonVerdict string

const (
	VerdictOK          ComparisonVerdict = "ok"
	VerdictDiscrepancy ComparisonVerdict = "discrepancy"
)

// DiscrepancyKind tags a single finding from the comparison step.
type DiscrepancyKind string

const (
	DiscrepancyAmount    DiscrepancyKind = "amount_mismatch"
	DiscrepancySupplier  DiscrepancyKind = "supplier_mismatch"
	DiscrepancyCurrency  DiscrepancyKind = "currency_mismatch"
	DiscrepancyLineItems DiscrepancyKind = "line_item_mismatch"
)

// Discrepancy is one finding produced by comparing an extraction against
// the attached purchase orders.
type Discrepancy struct {
	Kind   DiscrepancyKind `json:"kind"`
	Detail string          `json:"detail"`
}

// ComparisonResult is the structured discrepancy report for a record.
type ComparisonResult struct {
	Verdict         ComparisonVerdict `json:"verdict"`
	MatchedOrderIDs []string          `json:"matched_order_ids,omitempty"`
	Findings        []Discrepancy     `json:"findings,omitempty"`
	Explanation     string            `json:"explanation,omitempty"`
}

// InvoiceRecord is one invoice-plus-purchase-orders submission tracked
// through its lifecycle. Persisted state never holds Comparison without
// Extraction; AnomalyKind is set iff Status is anomaly.
type InvoiceRecord struct {
	ID             string             `json:"id"`
	Status         RecordStatus       `json:"status"`
	PurchaseOrders []PurchaseOrderRef `json:"purchase_orders"`
	InvoicePayload []byte             `json:"-"` // raw PDF bytes; nil means no invoice attached
	Extraction     *ExtractionResult  `json:"extraction,omitempty"`
	Comparison     *ComparisonResult  `json:"comparison,omitempty"`
	AnomalyKind    *AnomalyKind       `json:"anomaly_kind,omitempty"`
	ResultNote     string             `json:"result_note,omitempty"`
	AttemptCount   int                `json:"attempt_count"`
	RunAttempts    int                `json:"run_attempts"`
	CreatedAt      time.Time          `json:"created_at"`
	ProcessedAt    *time.Time         `json:"processed_at,omitempty"`
}

// HasInvoice reports whether an invoice payload was attached.
func (r *InvoiceRecord) HasInvoice() bool {
	return len(r.InvoicePayload) > 0
}

// HasPurchaseOrders reports whether any purchase order is attached.
func (r *InvoiceRecord) HasPurchaseOrders() bool {
	return len(r.PurchaseOrders) > 0
}

// OrdersTotal sums the attached purchase-order amounts.
func (r *InvoiceRecord) OrdersTotal() decimal.Decimal {
	total := decimal.Zero
	for _, po := range r.PurchaseOrders {
		total = total.Add(po.Amount)
	}
	return total
}

// RunSummary aggregates the final statuses of one run's snapshot.
// Created at run start, finalized at run end, then discarded.
type RunSummary struct {
	Total        int                 `json:"total"`
	OK           int                 `json:"ok"`
	Anomalies    int                 `json:"anomalies"`
	Failed       int                 `json:"failed"`
	ManualReview int                 `json:"manual_review"`
	ByKind       map[AnomalyKind]int `json:"by_kind"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// AnomalyRate returns the fraction of snapshot records classified as
// anomalies, 0 when the snapshot was empty.
func (s *RunSummary) AnomalyRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Anomalies) / float64(s.Total)
}

// StoreStats is a read-only aggregate over the record store, usable
// independently of a run.
type StoreStats struct {
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Pending     int     `json:"pending"`
	Anomalies   int     `json:"anomalies"`
	AnomalyRate float64 `json:"anomaly_rate"`
}
