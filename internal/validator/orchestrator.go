package validator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/config"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/anthropic"
)

// Outcome is the result of one Process invocation. FailReason empty means
// success; Extraction stays nil when no invoice was attached (a domain
// state, not a failure), and Comparison stays nil when the record has no
// purchase orders to compare against.
type Outcome struct {
	Extraction *model.ExtractionResult
	Comparison *model.ComparisonResult
	Attempts   int
	FailReason string
	Permanent  bool
}

// Failed reports whether the invocation ended in failure.
func (o Outcome) Failed() bool { return o.FailReason != "" }

// Orchestrator drives the two-step extraction/comparison workflow against
// the external document-understanding capability. It never mutates record
// state; the run coordinator is the sole writer.
type Orchestrator struct {
	ai        anthropic.Client
	cfg       config.AnthropicConfig
	retryCfg  resilience.RetryConfig
	tolerance decimal.Decimal
	limiter   *rate.Limiter
}

// NewOrchestrator builds an Orchestrator from configuration.
func NewOrchestrator(ai anthropic.Client, cfg config.AnthropicConfig, retry config.RetryConfig, tolerance float64) *Orchestrator {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = 1
	}
	return &Orchestrator{
		ai:        ai,
		cfg:       cfg,
		retryCfg:  resilience.FromConfig(retry.MaxAttempts, retry.InitialBackoffMs, retry.MaxBackoffMs),
		tolerance: decimal.NewFromFloat(tolerance),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Process runs extraction then comparison for a single record. The
// record's attempt budget is fresh on every invocation: a record that
// failed on a prior run starts over with zero attempts.
func (o *Orchestrator) Process(ctx context.Context, rec *model.InvoiceRecord) Outcome {
	attempts := 0
	retryCfg := o.retryCfg
	retryCfg.OnAttempt = func() { attempts++ }
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "validate")

	log := zap.L().With(zap.String("record_id", rec.ID))

	if !rec.HasInvoice() {
		log.Info("no invoice attached, skipping extraction")
		return Outcome{Attempts: attempts}
	}

	extraction, err := o.extract(ctx, retryCfg, rec)
	if err != nil {
		log.Error("extraction failed", zap.Int("attempts", attempts), zap.Error(err))
		return Outcome{
			Attempts:   attempts,
			FailReason: "extraction: " + eris.Cause(err).Error(),
			Permanent:  resilience.IsPermanent(err),
		}
	}
	log.Info("invoice data extracted",
		zap.String("supplier", extraction.Supplier),
		zap.String("total", extraction.GrandTotal.StringFixed(2)),
	)

	// Without purchase orders there is nothing to compare against; the
	// classifier turns this into a missing_purchase_order anomaly while
	// the extracted data still reaches the report.
	if !rec.HasPurchaseOrders() {
		return Outcome{Extraction: extraction, Attempts: attempts}
	}

	comparison, err := o.compare(ctx, retryCfg, extraction, rec.PurchaseOrders)
	if err != nil {
		log.Error("comparison failed", zap.Int("attempts", attempts), zap.Error(err))
		return Outcome{
			Extraction: extraction,
			Attempts:   attempts,
			FailReason: "comparison: " + eris.Cause(err).Error(),
			Permanent:  resilience.IsPermanent(err),
		}
	}
	log.Info("comparison complete",
		zap.String("verdict", string(comparison.Verdict)),
		zap.Int("findings", len(comparison.Findings)),
	)

	return Outcome{Extraction: extraction, Comparison: comparison, Attempts: attempts}
}

func (o *Orchestrator) extract(ctx context.Context, retryCfg resilience.RetryConfig, rec *model.InvoiceRecord) (*model.ExtractionResult, error) {
	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.ExtractionResult, error) {
		resp, err := o.call(ctx, anthropic.MessageRequest{
			Model:     o.cfg.Model,
			MaxTokens: o.cfg.MaxTokens,
			System:    extractionSystem,
			Messages: []anthropic.Message{{
				Role:     "user",
				Content:  extractionPrompt,
				Document: rec.InvoicePayload,
			}},
		})
		if err != nil {
			return nil, err
		}
		return ParseExtraction(resp.Text())
	})
}

func (o *Orchestrator) compare(ctx context.Context, retryCfg resilience.RetryConfig, ex *model.ExtractionResult, orders []model.PurchaseOrderRef) (*model.ComparisonResult, error) {
	prompt := BuildComparisonPrompt(ex, orders, o.tolerance.StringFixed(2))
	temp := 0.1

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.ComparisonResult, error) {
		resp, err := o.call(ctx, anthropic.MessageRequest{
			Model:       o.cfg.Model,
			MaxTokens:   o.cfg.MaxTokens,
			System:      comparisonSystem,
			Temperature: &temp,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, err
		}
		return ParseComparison(resp.Text())
	})
}

// call applies the rate limit and per-call timeout around one API request.
func (o *Orchestrator) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limit wait")
	}

	timeout := time.Duration(o.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return o.ai.CreateMessage(callCtx, req)
}
