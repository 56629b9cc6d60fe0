package validator

import (
	"fmt"
	"strings"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

const extractionSystem = `You are an expert accounting analyst. Your only task is extracting structured data from invoice documents. You always answer with a single valid JSON object and nothing else.`

const extractionPrompt = `Analyze the attached invoice PDF and extract the fields below.

Guidance:
- supplier: the legal name of the party issuing the invoice (look for "Emisor", "Vendedor", or the letterhead).
- receiver: the party being billed (look for "Receptor", "Cliente", "Facturar a").
- grand_total: the FINAL amount payable including taxes. Do not confuse it with the subtotal. Plain number, no thousands separators.
- currency: ISO code (MXN, USD). If absent, infer from context (a Mexican address implies MXN).
- issue_date: emission date as YYYY-MM-DD.
- folio: the invoice's internal identifier.
- line_items: one entry per invoice line with description, quantity, and amount.

Respond ONLY with this JSON. Use null for anything you cannot find.

{
  "supplier": "string or null",
  "grand_total": 0.0,
  "currency": "string or null",
  "receiver": "string or null",
  "issue_date": "YYYY-MM-DD or null",
  "folio": "string or null",
  "line_items": [{"description": "string", "quantity": 0, "amount": 0.0}]
}`

const comparisonSystem = `You are an expert financial auditor. You always answer with a single valid JSON object and nothing else.`

// comparisonPrompt asks the model to discover which purchase order(s)
// justify the invoice: an exact single match, the sum of all orders, or a
// partial combination, in that order. Mirrors the matching policy the
// auditors apply by hand.
const comparisonPromptFmt = `You have an extracted invoice and a list of candidate purchase orders.
Decide which order(s), if any, justify this invoice.

INVOICE:
- Supplier: %s
- Grand total: %s
- Currency: %s

PURCHASE ORDERS (%d):
%s
Matching logic, checked in order:
1. INDIVIDUAL MATCH: one order whose amount equals the invoice total within a tolerance of %s.
2. TOTAL MATCH: the sum of ALL orders equals the invoice total within the same tolerance.
3. PARTIAL MATCH (3+ orders only): some combination of orders sums to the invoice total.

Additional validation rules:
- The supplier on the matched order(s) must reasonably correspond to the invoice supplier (ignore case, punctuation, and legal suffixes).
- Currencies must match.

Respond ONLY with this JSON:

{
  "verdict": "ok" or "discrepancy",
  "matched_order_ids": ["ids of the matching orders, empty when none"],
  "findings": [{"kind": "amount_mismatch" | "supplier_mismatch" | "currency_mismatch" | "line_item_mismatch", "detail": "short explanation"}],
  "explanation": "one short sentence"
}

Report a finding for every rule that fails; leave findings empty when the verdict is "ok". Analyze the numbers carefully before answering.`

// BuildComparisonPrompt renders the comparison prompt for an extraction
// and its candidate purchase orders.
func BuildComparisonPrompt(ex *model.ExtractionResult, orders []model.PurchaseOrderRef, tolerance string) string {
	var list strings.Builder
	for i, po := range orders {
		concept := po.Concept
		if len(concept) > 50 {
			concept = concept[:50]
		}
		fmt.Fprintf(&list, "  [%d] ID: %s | Supplier: %s | Amount: %s %s | Concept: %s\n",
			i+1, po.ID, po.Supplier, po.Amount.StringFixed(2), po.Currency, concept)
	}

	return fmt.Sprintf(comparisonPromptFmt,
		ex.Supplier,
		ex.GrandTotal.StringFixed(2),
		ex.Currency,
		len(orders),
		list.String(),
		tolerance,
	)
}
