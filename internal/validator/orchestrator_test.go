package validator

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/config"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/anthropic"
)

// scriptedClient implements anthropic.Client, replaying a fixed sequence
// of responses and errors.
type scriptedClient struct {
	t     *testing.T
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	text string
	err  error
}

func (c *scriptedClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	require.Less(c.t, c.calls, len(c.steps), "unexpected extra API call")
	step := c.steps[c.calls]
	c.calls++
	if step.err != nil {
		return nil, step.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: step.text}},
	}, nil
}

func newOrchestrator(client anthropic.Client) *Orchestrator {
	return NewOrchestrator(client, config.AnthropicConfig{
		Model:          "claude-test",
		MaxTokens:      1500,
		TimeoutSecs:    5,
		RequestsPerSec: 1000,
		RequestBurst:   1000,
	}, config.RetryConfig{
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
	}, 1.0)
}

const extractionJSON = `{"supplier":"ACME SA DE CV","grand_total":11600.00,"currency":"MXN","receiver":"GRIMA","folio":"F-1"}`

func invoiceRecord(orders ...model.PurchaseOrderRef) *model.InvoiceRecord {
	return &model.InvoiceRecord{
		ID:             "rec-1",
		InvoicePayload: []byte("%PDF-1.4 fake"),
		PurchaseOrders: orders,
	}
}

func TestOrchestrator_ExtractAndCompare(t *testing.T) {
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{text: extractionJSON},
		{text: `{"verdict":"ok","matched_order_ids":["OC-1"]}`},
	}}

	outcome := newOrchestrator(client).Process(context.Background(),
		invoiceRecord(po("OC-1", "ACME", "11600.00", "MXN")))

	require.False(t, outcome.Failed())
	require.NotNil(t, outcome.Extraction)
	assert.Equal(t, "ACME SA DE CV", outcome.Extraction.Supplier)
	require.NotNil(t, outcome.Comparison)
	assert.Equal(t, model.VerdictOK, outcome.Comparison.Verdict)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 2, client.calls)
}

func TestOrchestrator_NoInvoiceSkipsAPI(t *testing.T) {
	client := &scriptedClient{t: t}

	rec := &model.InvoiceRecord{
		ID:             "rec-1",
		PurchaseOrders: []model.PurchaseOrderRef{po("OC-1", "ACME", "100.00", "MXN")},
	}
	outcome := newOrchestrator(client).Process(context.Background(), rec)

	require.False(t, outcome.Failed())
	assert.Nil(t, outcome.Extraction)
	assert.Nil(t, outcome.Comparison)
	assert.Zero(t, client.calls)
}

func TestOrchestrator_NoOrdersSkipsComparison(t *testing.T) {
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{text: extractionJSON},
	}}

	outcome := newOrchestrator(client).Process(context.Background(), invoiceRecord())

	require.False(t, outcome.Failed())
	require.NotNil(t, outcome.Extraction)
	assert.Nil(t, outcome.Comparison)
	assert.Equal(t, 1, client.calls)
}

func TestOrchestrator_TransientErrorRetried(t *testing.T) {
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{err: resilience.NewTransientError(eris.New("overloaded"), 529)},
		{text: extractionJSON},
		{text: `{"verdict":"ok"}`},
	}}

	outcome := newOrchestrator(client).Process(context.Background(),
		invoiceRecord(po("OC-1", "ACME", "11600.00", "MXN")))

	require.False(t, outcome.Failed())
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, client.calls)
}

func TestOrchestrator_TransientExhaustsBudget(t *testing.T) {
	transient := resilience.NewTransientError(eris.New("upstream timeout"), 503)
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{err: transient}, {err: transient}, {err: transient},
	}}

	outcome := newOrchestrator(client).Process(context.Background(),
		invoiceRecord(po("OC-1", "ACME", "11600.00", "MXN")))

	require.True(t, outcome.Failed())
	assert.False(t, outcome.Permanent)
	assert.Contains(t, outcome.FailReason, "extraction")
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, client.calls)
}

func TestOrchestrator_PermanentErrorNotRetried(t *testing.T) {
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{err: resilience.NewPermanentError(eris.New("401"), "auth rejected")},
	}}

	outcome := newOrchestrator(client).Process(context.Background(),
		invoiceRecord(po("OC-1", "ACME", "11600.00", "MXN")))

	require.True(t, outcome.Failed())
	assert.True(t, outcome.Permanent)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, client.calls)
}

func TestOrchestrator_MalformedResponseIsPermanent(t *testing.T) {
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{text: "I am unable to read this document."},
	}}

	outcome := newOrchestrator(client).Process(context.Background(),
		invoiceRecord(po("OC-1", "ACME", "11600.00", "MXN")))

	require.True(t, outcome.Failed())
	assert.True(t, outcome.Permanent)
	assert.Equal(t, 1, client.calls)
}

func TestOrchestrator_ComparisonFailureKeepsExtraction(t *testing.T) {
	transient := resilience.NewTransientError(eris.New("503"), 503)
	client := &scriptedClient{t: t, steps: []scriptedStep{
		{text: extractionJSON},
		{err: transient}, {err: transient}, {err: transient},
	}}

	outcome := newOrchestrator(client).Process(context.Background(),
		invoiceRecord(po("OC-1", "ACME", "11600.00", "MXN")))

	require.True(t, outcome.Failed())
	assert.Contains(t, outcome.FailReason, "comparison")
	require.NotNil(t, outcome.Extraction)
	assert.Equal(t, 4, outcome.Attempts)
}
