package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/drive"
)

type fakeDrive struct {
	link     string
	errs     []error // consumed per call; nil entry means success
	calls    int
	names    []string
	mimes    []string
	lastName string
}

func (f *fakeDrive) Upload(_ context.Context, filename, mimeType string, _ []byte) (string, error) {
	f.lastName = filename
	f.names = append(f.names, filename)
	f.mimes = append(f.mimes, mimeType)
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return f.link, nil
}

type fakeChat struct {
	errs  []error
	calls int
	texts []string
}

func (f *fakeChat) Post(_ context.Context, text string) error {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return f.errs[idx]
	}
	f.texts = append(f.texts, text)
	return nil
}

func fastRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testSummary() *model.RunSummary {
	return &model.RunSummary{
		Total:      5,
		OK:         3,
		Anomalies:  1,
		Failed:     1,
		ByKind:     map[model.AnomalyKind]int{model.AnomalyMissingPO: 1},
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
	}
}

func TestDispatch_BothLegsSucceed(t *testing.T) {
	dc := &fakeDrive{link: "https://drive.google.com/file/d/abc/view"}
	cc := &fakeChat{}
	d := NewDispatcher(dc, cc, fastRetryConfig())

	res := d.Dispatch(context.Background(), testSummary(), []byte("xlsx"))

	assert.True(t, res.OK())
	assert.Equal(t, dc.link, res.ReportLink)
	assert.Equal(t, 1, dc.calls)
	require.Len(t, cc.texts, 1)
	assert.Contains(t, cc.texts[0], "Total processed: *5*")
	assert.Contains(t, cc.texts[0], dc.link)
	assert.Contains(t, dc.lastName, "invoice_validation_")
}

func TestDispatch_DriveFailureDoesNotBlockChat(t *testing.T) {
	boom := eris.New("quota exceeded")
	dc := &fakeDrive{errs: []error{boom, boom, boom}}
	cc := &fakeChat{}
	d := NewDispatcher(dc, cc, fastRetryConfig())

	res := d.Dispatch(context.Background(), testSummary(), []byte("xlsx"))

	assert.False(t, res.OK())
	require.Error(t, res.DriveErr)
	assert.NoError(t, res.ChatErr)
	assert.Equal(t, 3, dc.calls) // full retry budget spent
	require.Len(t, cc.texts, 1)
	assert.Contains(t, cc.texts[0], "N/A")
}

func TestDispatch_ChatFailureReported(t *testing.T) {
	boom := eris.New("webhook gone")
	dc := &fakeDrive{link: "https://drive.google.com/file/d/abc/view"}
	cc := &fakeChat{errs: []error{boom, boom, boom}}
	d := NewDispatcher(dc, cc, fastRetryConfig())

	res := d.Dispatch(context.Background(), testSummary(), []byte("xlsx"))

	assert.False(t, res.OK())
	assert.NoError(t, res.DriveErr)
	require.Error(t, res.ChatErr)
	assert.Equal(t, dc.link, res.ReportLink)
}

func TestDispatch_TransientUploadRetried(t *testing.T) {
	dc := &fakeDrive{
		link: "https://drive.google.com/file/d/abc/view",
		errs: []error{eris.New("connection reset by peer"), nil},
	}
	cc := &fakeChat{}
	d := NewDispatcher(dc, cc, fastRetryConfig())

	res := d.Dispatch(context.Background(), testSummary(), []byte("xlsx"))

	assert.True(t, res.OK())
	assert.Equal(t, 2, dc.calls)
}

func TestDispatch_NilClientsSkipLegs(t *testing.T) {
	d := NewDispatcher(nil, nil, fastRetryConfig())

	res := d.Dispatch(context.Background(), testSummary(), []byte("xlsx"))

	assert.True(t, res.OK())
	assert.Equal(t, "N/A", res.ReportLink)
}

func invoiceRecords() []model.InvoiceRecord {
	return []model.InvoiceRecord{
		{ID: "rec-1", InvoicePayload: []byte("pdf-1")},
		{ID: "rec-2"}, // no invoice attached
		{ID: "rec-3", InvoicePayload: []byte("pdf-3")},
	}
}

func TestUploadInvoices_LinksPerRecord(t *testing.T) {
	dc := &fakeDrive{link: "https://drive.google.com/file/d/inv/view"}
	d := NewDispatcher(dc, nil, fastRetryConfig())

	links := d.UploadInvoices(context.Background(), invoiceRecords())

	assert.Equal(t, 2, dc.calls)
	assert.Equal(t, []string{"invoice_rec-1.pdf", "invoice_rec-3.pdf"}, dc.names)
	assert.Equal(t, []string{drive.PDFMimeType, drive.PDFMimeType}, dc.mimes)
	assert.Equal(t, dc.link, links["rec-1"])
	assert.Equal(t, dc.link, links["rec-3"])
	_, ok := links["rec-2"]
	assert.False(t, ok)
}

func TestUploadInvoices_FailureDropsLinkOnly(t *testing.T) {
	boom := eris.New("quota exceeded")
	dc := &fakeDrive{
		link: "https://drive.google.com/file/d/inv/view",
		errs: []error{boom, boom, boom, nil},
	}
	d := NewDispatcher(dc, nil, fastRetryConfig())

	links := d.UploadInvoices(context.Background(), invoiceRecords())

	// rec-1 exhausted its retries, rec-3 still got its link.
	_, ok := links["rec-1"]
	assert.False(t, ok)
	assert.Equal(t, dc.link, links["rec-3"])
}

func TestUploadInvoices_NilDriveClient(t *testing.T) {
	d := NewDispatcher(nil, nil, fastRetryConfig())
	links := d.UploadInvoices(context.Background(), invoiceRecords())
	assert.Empty(t, links)
}

func TestNotifyRunError_Truncates(t *testing.T) {
	cc := &fakeChat{}
	d := NewDispatcher(nil, cc, fastRetryConfig())

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'e'
	}
	d.NotifyRunError(context.Background(), eris.New(string(long)))

	require.Len(t, cc.texts, 1)
	assert.Contains(t, cc.texts[0], "VALIDATION RUN FAILED")
	assert.Less(t, len(cc.texts[0]), 300)
}
