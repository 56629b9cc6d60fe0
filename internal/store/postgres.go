package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path record transitions.
var preparedStatements = map[string]string{
	"claim_record":   `UPDATE invoice_records SET status = 'processing' WHERE id = $1 AND status = 'pending'`,
	"release_record": `UPDATE invoice_records SET status = 'pending' WHERE id = $1 AND status = 'processing'`,
	"get_record":     pgSelectRecordSQL + ` WHERE id = $1`,
	"list_pending":   pgSelectRecordSQL + ` WHERE status = 'pending' ORDER BY created_at ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: new pool")
	}

	return &PostgresStore{pool: pool}, nil
}

const pgMigration = `
CREATE TABLE IF NOT EXISTS invoice_records (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	purchase_orders JSONB NOT NULL DEFAULT '[]',
	invoice_payload BYTEA,
	extraction      JSONB,
	comparison      JSONB,
	anomaly_kind    TEXT,
	result_note     TEXT NOT NULL DEFAULT '',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	run_attempts    INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_invoice_records_status ON invoice_records(status);
CREATE INDEX IF NOT EXISTS idx_invoice_records_created ON invoice_records(created_at, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *model.InvoiceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}

	poJSON, err := json.Marshal(rec.PurchaseOrders)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal purchase orders")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO invoice_records (id, status, purchase_orders, invoice_payload, attempt_count, run_attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, string(rec.Status), poJSON, rec.InvoicePayload,
		rec.AttemptCount, rec.RunAttempts, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert record")
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.InvoiceRecord, error) {
	row := s.pool.QueryRow(ctx, pgSelectRecordSQL+` WHERE id = $1`, id)
	rec, err := scanPgRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]model.InvoiceRecord, error) {
	rows, err := s.pool.Query(ctx,
		pgSelectRecordSQL+` WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	defer rows.Close()

	var out []model.InvoiceRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate pending")
}

func (s *PostgresStore) ListProcessedSince(ctx context.Context, since time.Time) ([]model.InvoiceRecord, error) {
	rows, err := s.pool.Query(ctx,
		pgSelectRecordSQL+` WHERE processed_at IS NOT NULL AND processed_at >= $1 ORDER BY id ASC`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processed")
	}
	defer rows.Close()

	var out []model.InvoiceRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan processed record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate processed")
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoice_records SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim record %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Finish(ctx context.Context, id string, upd FinishUpdate) error {
	extraction, comparison, kind, err := marshalOutcome(upd)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE invoice_records
		 SET status = $1, extraction = $2, comparison = $3, anomaly_kind = $4,
		     result_note = $5, attempt_count = $6, run_attempts = $7, processed_at = $8
		 WHERE id = $9 AND status = 'processing'`,
		string(upd.Status), extraction, comparison, kind,
		upd.ResultNote, upd.AttemptCount, upd.RunAttempts, upd.ProcessedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoice_records SET status = 'pending' WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: release record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.StoreStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status IN ('ok','anomaly','failed') THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'anomaly' THEN 1 ELSE 0 END), 0)
		FROM invoice_records`)

	var stats model.StoreStats
	if err := row.Scan(&stats.Total, &stats.Processed, &stats.Pending, &stats.Anomalies); err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	if stats.Processed > 0 {
		stats.AnomalyRate = float64(stats.Anomalies) / float64(stats.Processed)
	}
	return &stats, nil
}

const pgSelectRecordSQL = `SELECT id, status, purchase_orders, invoice_payload, extraction, comparison,
	anomaly_kind, result_note, attempt_count, run_attempts, created_at, processed_at
	FROM invoice_records`

func scanPgRecord(row pgx.Row) (*model.InvoiceRecord, error) {
	var (
		rec         model.InvoiceRecord
		status      string
		poJSON      []byte
		extraction  []byte
		comparison  []byte
		anomalyKind *string
		processedAt *time.Time
	)

	err := row.Scan(&rec.ID, &status, &poJSON, &rec.InvoicePayload, &extraction,
		&comparison, &anomalyKind, &rec.ResultNote, &rec.AttemptCount,
		&rec.RunAttempts, &rec.CreatedAt, &processedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Status = model.RecordStatus(status)
	if err := json.Unmarshal(poJSON, &rec.PurchaseOrders); err != nil {
		return nil, eris.Wrap(err, "unmarshal purchase orders")
	}
	if len(extraction) > 0 {
		rec.Extraction = &model.ExtractionResult{}
		if err := json.Unmarshal(extraction, rec.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	if len(comparison) > 0 {
		rec.Comparison = &model.ComparisonResult{}
		if err := json.Unmarshal(comparison, rec.Comparison); err != nil {
			return nil, eris.Wrap(err, "unmarshal comparison")
		}
	}
	if anomalyKind != nil && *anomalyKind != "" {
		kind := model.AnomalyKind(*anomalyKind)
		rec.AnomalyKind = &kind
	}
	rec.ProcessedAt = processedAt
	return &rec, nil
}
