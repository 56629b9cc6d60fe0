package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, purchase_orders`).
		WithArgs("missing-rec").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing-rec")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO invoice_records`).
		WithArgs(pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg(),
			0, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.InvoiceRecord{
		PurchaseOrders: []model.PurchaseOrderRef{{
			ID:       "OC-1",
			Supplier: "ACME",
			Amount:   decimal.RequireFromString("100.00"),
			Currency: "MXN",
		}},
		InvoicePayload: []byte("pdf"),
	}
	require.NoError(t, s.Insert(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_Wins(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE invoice_records SET status = 'processing' WHERE id = \$1 AND status = 'pending'`).
		WithArgs("rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.Claim(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_Loses(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE invoice_records SET status = 'processing'`).
		WithArgs("rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.Claim(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Finish_NotProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE invoice_records`).
		WithArgs("ok", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"OK", 1, 0, pgxmock.AnyArg(), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	now := time.Now().UTC()
	err := s.Finish(context.Background(), "rec-1", FinishUpdate{
		Status:       model.StatusOK,
		Extraction:   &model.ExtractionResult{Supplier: "ACME", GrandTotal: decimal.NewFromInt(1)},
		ResultNote:   "OK",
		AttemptCount: 1,
		ProcessedAt:  &now,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Release(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE invoice_records SET status = 'pending' WHERE id = \$1 AND status = 'processing'`).
		WithArgs("rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.Release(context.Background(), "rec-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "status", "purchase_orders", "invoice_payload", "extraction",
		"comparison", "anomaly_kind", "result_note", "attempt_count",
		"run_attempts", "created_at", "processed_at",
	}).AddRow(
		"rec-1", "pending", []byte(`[{"id":"OC-1","supplier":"ACME","amount":"100","currency":"MXN"}]`),
		[]byte("pdf"), []byte(nil), []byte(nil), (*string)(nil), "", 0, 0, created, (*time.Time)(nil),
	)

	mock.ExpectQuery(`(?s)SELECT id, status, purchase_orders.*WHERE status = 'pending'`).
		WillReturnRows(rows)

	pending, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "rec-1", pending[0].ID)
	assert.Equal(t, model.StatusPending, pending[0].Status)
	require.Len(t, pending[0].PurchaseOrders, 1)
	assert.Equal(t, "OC-1", pending[0].PurchaseOrders[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(pgxmock.NewRows([]string{"total", "processed", "pending", "anomalies"}).
			AddRow(10, 8, 2, 3))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 8, stats.Processed)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 3, stats.Anomalies)
	assert.InDelta(t, 0.375, stats.AnomalyRate, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
