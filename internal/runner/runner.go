package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/config"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/store"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/validator"
)

// ErrRunActive is returned when a trigger fires while a run is still in
// flight. The trigger is skipped, never queued.
var ErrRunActive = eris.New("a validation run is already active")

// Processor produces an outcome for one record without mutating it.
// *validator.Orchestrator is the production implementation.
type Processor interface {
	Process(ctx context.Context, rec *model.InvoiceRecord) validator.Outcome
}

// Coordinator owns the record lifecycle state machine. It snapshots
// pending records, fans them out to a bounded worker pool, persists every
// transition through the store, and aggregates the run summary after the
// last worker finishes.
type Coordinator struct {
	store         store.Store
	proc          Processor
	tolerance     decimal.Decimal
	maxRunRetries int
	concurrency   int

	active atomic.Bool
}

// NewCoordinator builds a Coordinator from configuration.
func NewCoordinator(st store.Store, proc Processor, cfg config.ValidationConfig) *Coordinator {
	concurrency := cfg.MaxConcurrentRecords
	if concurrency <= 0 {
		concurrency = 1
	}
	maxRetries := cfg.MaxRunRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Coordinator{
		store:         st,
		proc:          proc,
		tolerance:     decimal.NewFromFloat(cfg.AmountTolerance),
		maxRunRetries: maxRetries,
		concurrency:   concurrency,
	}
}

// recordResult is the terminal-for-this-run state of one snapshot record.
type recordResult struct {
	status       model.RecordStatus
	kind         *model.AnomalyKind
	failed       bool // orchestrator failure, regardless of stored status
	manualReview bool
}

// RunOnce executes one validation run over a snapshot of pending records.
// Overlapping invocations are rejected with ErrRunActive. A run-level
// failure (store unavailable, shutdown) releases every in-flight claim
// back to pending and returns the error; individual record failures never
// abort the run.
func (c *Coordinator) RunOnce(ctx context.Context) (*model.RunSummary, error) {
	if !c.active.CompareAndSwap(false, true) {
		zap.L().Warn("run trigger skipped, previous run still active")
		return nil, ErrRunActive
	}
	defer c.active.Store(false)

	startedAt := time.Now().UTC()
	log := zap.L().With(zap.Time("run_started_at", startedAt))

	snapshot, err := c.store.ListPending(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "run: snapshot pending records")
	}
	if len(snapshot) == 0 {
		log.Info("no pending records to validate")
		return &model.RunSummary{
			ByKind:     map[model.AnomalyKind]int{},
			StartedAt:  startedAt,
			FinishedAt: time.Now().UTC(),
		}, nil
	}

	// Records without an identity cannot be claimed or updated; they are
	// excluded from the run and surfaced for manual review.
	integrityExcluded := 0
	eligible := snapshot[:0]
	for _, rec := range snapshot {
		if rec.ID == "" {
			integrityExcluded++
			log.Error("record excluded from run, missing id, requires manual review")
			continue
		}
		eligible = append(eligible, rec)
	}

	log.Info("starting validation run",
		zap.Int("records", len(eligible)),
		zap.Int("concurrency", c.concurrency),
	)

	var (
		mu      sync.Mutex
		results = make(map[string]recordResult, len(eligible))
		claimed = make(map[string]bool, len(eligible))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := range eligible {
		rec := eligible[i]
		g.Go(func() error {
			ok, err := c.store.Claim(gctx, rec.ID)
			if err != nil {
				// Store-level failure aborts the whole run.
				return eris.Wrapf(err, "run: claim record %s", rec.ID)
			}
			if !ok {
				zap.L().Warn("record no longer pending, skipping", zap.String("record_id", rec.ID))
				return nil
			}

			mu.Lock()
			claimed[rec.ID] = true
			mu.Unlock()

			outcome := c.proc.Process(gctx, &rec)

			// A shutdown mid-record must not persist a terminal status;
			// the claim is released in the cleanup pass below.
			if gctx.Err() != nil {
				return gctx.Err()
			}

			res, upd := c.resolve(&rec, outcome)
			if err := c.store.Finish(gctx, rec.ID, upd); err != nil {
				return eris.Wrapf(err, "run: finish record %s", rec.ID)
			}

			mu.Lock()
			delete(claimed, rec.ID)
			results[rec.ID] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.releaseClaims(ctx, claimed)
		return nil, eris.Wrap(err, "run aborted")
	}

	summary := c.summarize(startedAt, results, integrityExcluded)
	log.Info("validation run complete",
		zap.Int("total", summary.Total),
		zap.Int("ok", summary.OK),
		zap.Int("anomalies", summary.Anomalies),
		zap.Int("failed", summary.Failed),
		zap.Int("manual_review", summary.ManualReview),
	)
	return summary, nil
}

// resolve turns an orchestrator outcome into the record's terminal status
// for this run and the matching store update.
func (c *Coordinator) resolve(rec *model.InvoiceRecord, outcome validator.Outcome) (recordResult, store.FinishUpdate) {
	now := time.Now().UTC()

	if outcome.Failed() {
		runAttempts := rec.RunAttempts + 1
		status := model.StatusPending // eligible for the next scheduled run
		manualReview := false
		if runAttempts >= c.maxRunRetries {
			status = model.StatusFailed
			manualReview = true
		}
		zap.L().Warn("record failed this run",
			zap.String("record_id", rec.ID),
			zap.String("reason", outcome.FailReason),
			zap.Int("run_attempts", runAttempts),
			zap.Bool("permanent", outcome.Permanent),
			zap.String("next_status", string(status)),
		)
		return recordResult{status: status, failed: true, manualReview: manualReview},
			store.FinishUpdate{
				Status:       status,
				Extraction:   outcome.Extraction,
				ResultNote:   outcome.FailReason,
				AttemptCount: outcome.Attempts,
				RunAttempts:  runAttempts,
				ProcessedAt:  &now,
			}
	}

	// Success: classify against the freshly extracted fields.
	enriched := *rec
	enriched.Extraction = outcome.Extraction
	enriched.Comparison = outcome.Comparison

	kind, isAnomaly := validator.Classify(&enriched, c.tolerance)
	status := model.StatusOK
	var kindPtr *model.AnomalyKind
	note := "OK"
	if isAnomaly {
		status = model.StatusAnomaly
		kindPtr = &kind
		note = string(kind)
	}
	if outcome.Comparison != nil && outcome.Comparison.Explanation != "" {
		note = outcome.Comparison.Explanation
	}

	return recordResult{status: status, kind: kindPtr},
		store.FinishUpdate{
			Status:       status,
			Extraction:   outcome.Extraction,
			Comparison:   outcome.Comparison,
			AnomalyKind:  kindPtr,
			ResultNote:   note,
			AttemptCount: outcome.Attempts,
			RunAttempts:  0, // stage succeeded, counter resets
			ProcessedAt:  &now,
		}
}

// releaseClaims reverts still-claimed records to pending so an aborted run
// never strands a record in processing. Runs on a detached context: the
// run's own context is likely already canceled.
func (c *Coordinator) releaseClaims(ctx context.Context, claimed map[string]bool) {
	if len(claimed) == 0 {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for id := range claimed {
		if err := c.store.Release(releaseCtx, id); err != nil {
			zap.L().Error("failed to release claimed record",
				zap.String("record_id", id),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("released in-flight claim", zap.String("record_id", id))
	}
}

func (c *Coordinator) summarize(startedAt time.Time, results map[string]recordResult, integrityExcluded int) *model.RunSummary {
	summary := &model.RunSummary{
		ByKind:       map[model.AnomalyKind]int{},
		ManualReview: integrityExcluded,
		StartedAt:    startedAt,
		FinishedAt:   time.Now().UTC(),
	}
	for _, res := range results {
		summary.Total++
		switch {
		case res.failed:
			summary.Failed++
			if res.manualReview {
				summary.ManualReview++
			}
		case res.kind != nil:
			summary.Anomalies++
			summary.ByKind[*res.kind]++
		default:
			summary.OK++
		}
	}
	return summary
}

// StatusOf returns the lifecycle status of a single record.
func (c *Coordinator) StatusOf(ctx context.Context, id string) (model.RecordStatus, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Stats returns the read-only aggregate over the record store.
func (c *Coordinator) Stats(ctx context.Context) (*model.StoreStats, error) {
	return c.store.Stats(ctx)
}
