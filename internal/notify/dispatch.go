package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/report"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/chat"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/drive"
)

// DispatchResult reports each delivery leg independently. A failed upload
// never blocks the chat notification, and vice versa.
type DispatchResult struct {
	ReportLink string
	DriveErr   error
	ChatErr    error
}

// OK reports whether both legs succeeded.
func (r DispatchResult) OK() bool {
	return r.DriveErr == nil && r.ChatErr == nil
}

// Dispatcher delivers the run report: Excel to Drive, summary to Chat.
// Either destination may be absent; nil clients skip that leg.
type Dispatcher struct {
	drive    drive.Client
	chat     chat.Client
	retryCfg resilience.RetryConfig
}

func NewDispatcher(dc drive.Client, cc chat.Client, retryCfg resilience.RetryConfig) *Dispatcher {
	// Delivery is idempotent enough to retry on anything short of an
	// explicit permanent failure or a canceled context.
	retryCfg.ShouldRetry = func(err error) bool {
		return !resilience.IsPermanent(err) && !errors.Is(err, context.Canceled)
	}
	return &Dispatcher{drive: dc, chat: cc, retryCfg: retryCfg}
}

// Dispatch uploads the workbook and posts the run summary. Each leg
// retries independently; both outcomes are returned, never swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, summary *model.RunSummary, workbook []byte) DispatchResult {
	res := DispatchResult{ReportLink: "N/A"}

	if d.drive != nil {
		filename := report.Filename(summary.FinishedAt)
		cfg := d.retryCfg
		cfg.OnRetry = resilience.RetryLogger("drive", "upload")
		err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
			link, err := d.drive.Upload(ctx, filename, drive.XLSXMimeType, workbook)
			if err != nil {
				return err
			}
			res.ReportLink = link
			return nil
		})
		if err != nil {
			res.DriveErr = eris.Wrap(err, "notify: upload report")
			zap.L().Error("report upload failed", zap.Error(res.DriveErr))
		}
	}

	if d.chat != nil {
		text := summaryText(summary, res.ReportLink)
		cfg := d.retryCfg
		cfg.OnRetry = resilience.RetryLogger("chat", "post")
		err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
			return d.chat.Post(ctx, text)
		})
		if err != nil {
			res.ChatErr = eris.Wrap(err, "notify: post summary")
			zap.L().Error("chat notification failed", zap.Error(res.ChatErr))
		}
	}

	return res
}

// UploadInvoices stores each record's invoice PDF in Drive and returns
// record ID to view link, feeding the report's link column. Best effort:
// a failed upload is logged and its row simply renders without a link.
// Returns an empty map when no Drive client is configured.
func (d *Dispatcher) UploadInvoices(ctx context.Context, records []model.InvoiceRecord) map[string]string {
	links := make(map[string]string, len(records))
	if d.drive == nil {
		return links
	}

	for i := range records {
		rec := &records[i]
		if !rec.HasInvoice() {
			continue
		}

		filename := fmt.Sprintf("invoice_%s.pdf", rec.ID)
		cfg := d.retryCfg
		cfg.OnRetry = resilience.RetryLogger("drive", "upload invoice")
		err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
			link, err := d.drive.Upload(ctx, filename, drive.PDFMimeType, rec.InvoicePayload)
			if err != nil {
				return err
			}
			links[rec.ID] = link
			return nil
		})
		if err != nil {
			zap.L().Warn("invoice upload failed",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
		}
	}
	return links
}

// NotifyRunError posts a run-level failure to the chat webhook so a broken
// run is never silent. Best effort only.
func (d *Dispatcher) NotifyRunError(ctx context.Context, runErr error) {
	if d.chat == nil {
		return
	}
	msg := runErr.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	text := fmt.Sprintf("*VALIDATION RUN FAILED*\n\nError: %s", msg)

	cfg := d.retryCfg
	cfg.OnRetry = resilience.RetryLogger("chat", "post error")
	if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return d.chat.Post(ctx, text)
	}); err != nil {
		zap.L().Error("could not deliver run failure notification", zap.Error(err))
	}
}

func summaryText(summary *model.RunSummary, link string) string {
	return fmt.Sprintf(
		"The *Invoices vs Purchase Orders* validation report is ready.\n\n"+
			"*Run Summary:*\n"+
			"- Total processed: *%d*\n"+
			"- OK: *%d*\n"+
			"- Anomalies: *%d*\n"+
			"- Failed: *%d*\n\n"+
			"Report link: %s",
		summary.Total, summary.OK, summary.Anomalies, summary.Failed, link,
	)
}
