package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoice_records (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	purchase_orders TEXT NOT NULL DEFAULT '[]',
	invoice_payload BLOB,
	extraction      TEXT,
	comparison      TEXT,
	anomaly_kind    TEXT,
	result_note     TEXT NOT NULL DEFAULT '',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	run_attempts    INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_invoice_records_status ON invoice_records(status);
CREATE INDEX IF NOT EXISTS idx_invoice_records_created ON invoice_records(created_at, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *model.InvoiceRecord) error {
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
		return eris.Wrap(err, "sqlite: marshal purchase orders")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invoice_records (id, status, purchase_orders, invoice_payload, attempt_count, run_attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Status), string(poJSON), rec.InvoicePayload,
		rec.AttemptCount, rec.RunAttempts, rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert record")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.InvoiceRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecordSQL+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]model.InvoiceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecordSQL+` WHERE status = ? ORDER BY created_at ASC`,
		string(model.StatusPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	defer rows.Close()

	var out []model.InvoiceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pending")
}

func (s *SQLiteStore) ListProcessedSince(ctx context.Context, since time.Time) ([]model.InvoiceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecordSQL+` WHERE processed_at IS NOT NULL AND processed_at >= ? ORDER BY id ASC`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processed")
	}
	defer rows.Close()

	var out []model.InvoiceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processed record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate processed")
}

func (s *SQLiteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_records SET status = ? WHERE id = ? AND status = ?`,
		string(model.StatusProcessing), id, string(model.StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) Finish(ctx context.Context, id string, upd FinishUpdate) error {
	extraction, comparison, kind, err := marshalOutcome(upd)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_records
		 SET status = ?, extraction = ?, comparison = ?, anomaly_kind = ?,
		     result_note = ?, attempt_count = ?, run_attempts = ?, processed_at = ?
		 WHERE id = ? AND status = ?`,
		string(upd.Status), extraction, comparison, kind,
		upd.ResultNote, upd.AttemptCount, upd.RunAttempts, upd.ProcessedAt,
		id, string(model.StatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_records SET status = ? WHERE id = ? AND status = ?`,
		string(model.StatusPending), id, string(model.StatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: release record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.StoreStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status IN ('ok','anomaly','failed') THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'anomaly' THEN 1 ELSE 0 END), 0)
		FROM invoice_records`)

	var stats model.StoreStats
	if err := row.Scan(&stats.Total, &stats.Processed, &stats.Pending, &stats.Anomalies); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	if stats.Processed > 0 {
		stats.AnomalyRate = float64(stats.Anomalies) / float64(stats.Processed)
	}
	return &stats, nil
}

// helpers

const selectRecordSQL = `SELECT id, status, purchase_orders, invoice_payload, extraction, comparison,
	anomaly_kind, result_note, attempt_count, run_attempts, created_at, processed_at
	FROM invoice_records`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.InvoiceRecord, error) {
	var (
		rec            model.InvoiceRecord
		status         string
		poJSON         string
		extraction     sql.NullString
		comparison     sql.NullString
		anomalyKind    sql.NullString
		processedAt    sql.NullTime
	)

	err := row.Scan(&rec.ID, &status, &poJSON, &rec.InvoicePayload, &extraction,
		&comparison, &anomalyKind, &rec.ResultNote, &rec.AttemptCount,
		&rec.RunAttempts, &rec.CreatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Status = model.RecordStatus(status)
	if err := json.Unmarshal([]byte(poJSON), &rec.PurchaseOrders); err != nil {
		return nil, eris.Wrap(err, "unmarshal purchase orders")
	}
	if extraction.Valid && extraction.String != "" {
		rec.Extraction = &model.ExtractionResult{}
		if err := json.Unmarshal([]byte(extraction.String), rec.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	if comparison.Valid && comparison.String != "" {
		rec.Comparison = &model.ComparisonResult{}
		if err := json.Unmarshal([]byte(comparison.String), rec.Comparison); err != nil {
			return nil, eris.Wrap(err, "unmarshal comparison")
		}
	}
	if anomalyKind.Valid && anomalyKind.String != "" {
		kind := model.AnomalyKind(anomalyKind.String)
		rec.AnomalyKind = &kind
	}
	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}
	return &rec, nil
}

// marshalOutcome serializes the nullable outcome fields of a FinishUpdate.
func marshalOutcome(upd FinishUpdate) (extraction, comparison, kind any, err error) {
	if upd.Extraction != nil {
		b, merr := json.Marshal(upd.Extraction)
		if merr != nil {
			return nil, nil, nil, eris.Wrap(merr, "marshal extraction")
		}
		extraction = string(b)
	}
	if upd.Comparison != nil {
		if upd.Extraction == nil {
			return nil, nil, nil, eris.New("comparison without extraction")
		}
		b, merr := json.Marshal(upd.Comparison)
		if merr != nil {
			return nil, nil, nil, eris.Wrap(merr, "marshal comparison")
		}
		comparison = string(b)
	}
	if upd.AnomalyKind != nil {
		kind = string(*upd.AnomalyKind)
	}
	return extraction, comparison, kind, nil
}
