package validator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

// Classify maps a processed record into one of the five anomaly kinds, or
// reports it clean. Pure function of the record's fields and the amount
// tolerance; same inputs always produce the same answer.
//
// Precedence is strict and first-match-wins: a record missing both invoice
// and purchase orders is reported as missing_invoice only, keeping the
// taxonomy single-valued per record.
//
// Line-item findings have no kind of their own: a comparison whose only
// discrepancy is line_item_mismatch classifies clean, because the
// taxonomy covers document-level mismatches and line-item detail surfaces
// through the comparison explanation in the report instead.
func Classify(rec *model.InvoiceRecord, tolerance decimal.Decimal) (model.AnomalyKind, bool) {
	if !rec.HasInvoice() {
		return model.AnomalyMissingInvoice, true
	}
	if !rec.HasPurchaseOrders() {
		return model.AnomalyMissingPO, true
	}
	if amountMismatch(rec, tolerance) {
		return model.AnomalyAmountMismatch, true
	}
	if supplierMismatch(rec) {
		return model.AnomalySupplierMismatch, true
	}
	if currencyMismatch(rec) {
		return model.AnomalyCurrencyMismatch, true
	}
	return "", false
}

func hasFinding(cmp *model.ComparisonResult, kind model.DiscrepancyKind) bool {
	if cmp == nil {
		return false
	}
	for _, f := range cmp.Findings {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// comparisonCleared reports whether the comparison step explicitly judged
// the record consistent. When it did, the local fallback checks are
// skipped: the comparison already searched partial order combinations the
// local checks cannot enumerate cheaply.
func comparisonCleared(cmp *model.ComparisonResult) bool {
	return cmp != nil && cmp.Verdict == model.VerdictOK
}

func amountMismatch(rec *model.InvoiceRecord, tolerance decimal.Decimal) bool {
	if rec.Extraction == nil {
		return false
	}
	if hasFinding(rec.Comparison, model.DiscrepancyAmount) {
		return true
	}
	if comparisonCleared(rec.Comparison) {
		return false
	}

	total := rec.Extraction.GrandTotal
	for _, po := range rec.PurchaseOrders {
		if po.Amount.Sub(total).Abs().LessThanOrEqual(tolerance) {
			return false
		}
	}
	return rec.OrdersTotal().Sub(total).Abs().GreaterThan(tolerance)
}

func supplierMismatch(rec *model.InvoiceRecord) bool {
	if rec.Extraction == nil {
		return false
	}
	if hasFinding(rec.Comparison, model.DiscrepancySupplier) {
		return true
	}
	if comparisonCleared(rec.Comparison) {
		return false
	}

	if rec.Extraction.Supplier == "" {
		return false
	}
	for _, po := range rec.PurchaseOrders {
		if SuppliersMatch(rec.Extraction.Supplier, po.Supplier) {
			return false
		}
	}
	return true
}

func currencyMismatch(rec *model.InvoiceRecord) bool {
	if rec.Extraction == nil {
		return false
	}
	if hasFinding(rec.Comparison, model.DiscrepancyCurrency) {
		return true
	}
	if comparisonCleared(rec.Comparison) {
		return false
	}

	invCur := strings.ToUpper(strings.TrimSpace(rec.Extraction.Currency))
	if invCur == "" {
		return false
	}
	for _, po := range rec.PurchaseOrders {
		if strings.EqualFold(strings.TrimSpace(po.Currency), invCur) {
			return false
		}
	}
	return true
}
