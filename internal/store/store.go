package store

import (
	"context"
	"errors"
	"time"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// FinishUpdate carries the terminal-for-this-run outcome of a processed
// record. Applied only while the record is in processing, so a finish and
// a concurrent claim can never interleave.
type FinishUpdate struct {
	Status       model.RecordStatus
	Extraction   *model.ExtractionResult
	Comparison   *model.ComparisonResult
	AnomalyKind  *model.AnomalyKind
	ResultNote   string
	AttemptCount int
	RunAttempts  int
	ProcessedAt  *time.Time
}

// Store is the persistence interface for submission records. The run
// coordinator is the sole writer of lifecycle state; every transition is
// an atomic update keyed by record id.
type Store interface {
	// Insert persists a new submission with status pending. The record's
	// ID and CreatedAt are assigned when empty.
	Insert(ctx context.Context, rec *model.InvoiceRecord) error

	// Get returns a record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.InvoiceRecord, error)

	// ListPending returns all pending records ordered by creation time.
	// The result is the run's snapshot; later submissions are not seen.
	ListPending(ctx context.Context) ([]model.InvoiceRecord, error)

	// ListProcessedSince returns records whose processing finished at or
	// after the given instant, ordered by id. Feeds the run report.
	ListProcessedSince(ctx context.Context, since time.Time) ([]model.InvoiceRecord, error)

	// Claim transitions a record pending -> processing via compare-and-set
	// on status. Returns false when the record was not pending (already
	// claimed by another worker, or terminal).
	Claim(ctx context.Context, id string) (bool, error)

	// Finish transitions a processing record into its terminal-for-this-run
	// status and stores the outcome fields.
	Finish(ctx context.Context, id string, upd FinishUpdate) error

	// Release reverts a processing record to pending without touching its
	// results. Used on shutdown and run-level aborts.
	Release(ctx context.Context, id string) error

	// Stats returns read-only aggregate counts over all records.
	Stats(ctx context.Context) (*model.StoreStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
