package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

const (
	detailSheetName  = "Validation"
	summarySheetName = "Summary"

	maxNoteLen = 200

	headerColor  = "FF366092"
	okColor      = "FFE2EFDA"
	warningColor = "FFFFF2CC"
	errorColor   = "FFF8CBAD"
)

var detailHeader = []string{
	"Status",
	"Record ID",
	"Received At",
	"Has PO",
	"PO Count",
	"Has Invoice",
	"Anomaly Kind",
	"Supplier",
	"Grand Total",
	"Currency",
	"Receiver",
	"Folio",
	"Attempts",
	"Validation Result",
	"Invoice Link",
}

// Filename returns the report file name for a run finishing at ts.
func Filename(ts time.Time) string {
	return fmt.Sprintf("invoice_validation_%s.xlsx", ts.Format("20060102_150405"))
}

// Build renders the run report workbook: a detail sheet with one row per
// record and a summary sheet with run statistics. links maps record ID to
// the Drive view link of that record's uploaded invoice PDF; records
// without one render "N/A". Records are sorted by ID so the same inputs
// always produce the same workbook.
func Build(records []model.InvoiceRecord, links map[string]string, summary *model.RunSummary) ([]byte, error) {
	sorted := make([]model.InvoiceRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	f := xlsx.NewFile()

	if err := buildDetailSheet(f, sorted, links); err != nil {
		return nil, err
	}
	if err := buildSummarySheet(f, summary); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "report: write workbook")
	}
	return buf.Bytes(), nil
}

func buildDetailSheet(f *xlsx.File, records []model.InvoiceRecord, links map[string]string) error {
	sheet, err := f.AddSheet(detailSheetName)
	if err != nil {
		return eris.Wrap(err, "report: add detail sheet")
	}

	headerRow := sheet.AddRow()
	hs := headerStyle()
	for _, title := range detailHeader {
		cell := headerRow.AddCell()
		cell.SetString(title)
		cell.SetStyle(hs)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		style := rowStyle(rec.Status)
		for _, val := range detailRow(rec) {
			cell := row.AddCell()
			cell.SetString(val)
			cell.SetStyle(style)
		}

		// Link cells use a HYPERLINK formula; tealeg v2 has no native
		// hyperlink cell.
		linkCell := row.AddCell()
		linkCell.SetStyle(style)
		if link, ok := links[rec.ID]; ok && link != "" {
			linkCell.SetFormula(fmt.Sprintf("HYPERLINK(%q,%q)", link, "View Invoice"))
		} else {
			linkCell.SetString("N/A")
		}
	}

	for i := range detailHeader {
		width := 18.0
		switch detailHeader[i] {
		case "Validation Result":
			width = 60.0
		case "Invoice Link":
			width = 30.0
		}
		sheet.SetColWidth(i, i, width)
	}
	return nil
}

func detailRow(rec model.InvoiceRecord) []string {
	supplier, total, currency, receiver, folio := "N/A", "N/A", "N/A", "N/A", "N/A"
	if ex := rec.Extraction; ex != nil {
		supplier = ex.Supplier
		total = ex.GrandTotal.StringFixed(2)
		currency = ex.Currency
		receiver = ex.Receiver
		folio = ex.Folio
	}

	kind := "N/A"
	if rec.AnomalyKind != nil {
		kind = formatAnomalyKind(*rec.AnomalyKind)
	}

	note := rec.ResultNote
	if len(note) > maxNoteLen {
		note = note[:maxNoteLen] + "..."
	}

	return []string{
		statusLabel(rec.Status),
		rec.ID,
		rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		yesNo(rec.HasPurchaseOrders()),
		fmt.Sprintf("%d", len(rec.PurchaseOrders)),
		yesNo(rec.HasInvoice()),
		kind,
		supplier,
		total,
		currency,
		receiver,
		folio,
		fmt.Sprintf("%d", rec.AttemptCount),
		note,
	}
}

func buildSummarySheet(f *xlsx.File, summary *model.RunSummary) error {
	sheet, err := f.AddSheet(summarySheetName)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}

	hs := headerStyle()
	headerRow := sheet.AddRow()
	for _, title := range []string{"Metric", "Value"} {
		cell := headerRow.AddCell()
		cell.SetString(title)
		cell.SetStyle(hs)
	}

	okRate, anomalyRate := "0.0%", "0.0%"
	if summary.Total > 0 {
		okRate = fmt.Sprintf("%.1f%%", float64(summary.OK)/float64(summary.Total)*100)
		anomalyRate = fmt.Sprintf("%.1f%%", float64(summary.Anomalies)/float64(summary.Total)*100)
	}

	rows := [][2]string{
		{"Total Records", fmt.Sprintf("%d", summary.Total)},
		{"OK", fmt.Sprintf("%d", summary.OK)},
		{"Anomalies", fmt.Sprintf("%d", summary.Anomalies)},
		{"Failed", fmt.Sprintf("%d", summary.Failed)},
		{"Manual Review", fmt.Sprintf("%d", summary.ManualReview)},
		{"OK Rate", okRate},
		{"Anomaly Rate", anomalyRate},
		{"Started At", summary.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Finished At", summary.FinishedAt.UTC().Format("2006-01-02 15:04:05")},
	}

	if len(summary.ByKind) > 0 {
		rows = append(rows, [2]string{"", ""}, [2]string{"ANOMALY BREAKDOWN", ""})

		kinds := make([]model.AnomalyKind, 0, len(summary.ByKind))
		for kind := range summary.ByKind {
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, kind := range kinds {
			rows = append(rows, [2]string{formatAnomalyKind(kind), fmt.Sprintf("%d", summary.ByKind[kind])})
		}
	}

	for _, pair := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(pair[0])
		row.AddCell().SetString(pair[1])
	}

	sheet.SetColWidth(0, 0, 35)
	sheet.SetColWidth(1, 1, 20)
	return nil
}

func statusLabel(status model.RecordStatus) string {
	switch status {
	case model.StatusOK:
		return "OK"
	case model.StatusAnomaly:
		return "ANOMALY"
	case model.StatusFailed:
		return "FAILED"
	default:
		return string(status)
	}
}

func formatAnomalyKind(kind model.AnomalyKind) string {
	switch kind {
	case model.AnomalyMissingInvoice:
		return "Missing Invoice"
	case model.AnomalyMissingPO:
		return "Missing Purchase Order"
	case model.AnomalyAmountMismatch:
		return "Amount Mismatch"
	case model.AnomalySupplierMismatch:
		return "Supplier Mismatch"
	case model.AnomalyCurrencyMismatch:
		return "Currency Mismatch"
	default:
		return string(kind)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func headerStyle() *xlsx.Style {
	style := xlsx.NewStyle()
	style.Fill = *xlsx.NewFill("solid", headerColor, headerColor)
	style.Font.Bold = true
	style.Font.Color = "FFFFFFFF"
	style.Font.Size = 11
	style.Alignment = xlsx.Alignment{Horizontal: "center", Vertical: "center", WrapText: true}
	style.ApplyFill = true
	style.ApplyFont = true
	style.ApplyAlignment = true
	return style
}

func rowStyle(status model.RecordStatus) *xlsx.Style {
	color := errorColor
	switch status {
	case model.StatusOK:
		color = okColor
	case model.StatusAnomaly:
		color = warningColor
	}
	style := xlsx.NewStyle()
	style.Fill = *xlsx.NewFill("solid", color, color)
	style.ApplyFill = true
	return style
}
