package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/notify"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/report"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/runner"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/store"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/validator"
	anthropicpkg "github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/anthropic"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/chat"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/pkg/drive"
)

// engineEnv holds the initialized store, coordinator, and dispatcher
// shared by the run/schedule/serve commands.
type engineEnv struct {
	Store       store.Store
	Coordinator *runner.Coordinator
	Dispatcher  *notify.Dispatcher
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "invoices.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, the AI orchestrator, the run coordinator,
// and the report dispatcher. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (RECON_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	retryCfg := resilience.FromConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
	orch := validator.NewOrchestrator(aiClient, cfg.Anthropic, cfg.Retry, cfg.Validation.AmountTolerance)
	coord := runner.NewCoordinator(st, orch, cfg.Validation)

	// Report delivery is optional: either destination may be left
	// unconfigured and the runs still work.
	var driveClient drive.Client
	if cfg.Drive.CredentialsPath != "" && cfg.Drive.ReportFolderID != "" {
		driveClient, err = drive.NewClient(ctx, cfg.Drive.CredentialsPath, cfg.Drive.ReportFolderID)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	} else {
		zap.L().Warn("drive upload disabled, credentials or folder not configured")
	}

	var chatClient chat.Client
	if cfg.Chat.WebhookURL != "" {
		chatClient = chat.NewClient(cfg.Chat.WebhookURL)
	} else {
		zap.L().Warn("chat notifications disabled, webhook URL not configured")
	}

	dispatcher := notify.NewDispatcher(driveClient, chatClient, retryCfg)

	return &engineEnv{
		Store:       st,
		Coordinator: coord,
		Dispatcher:  dispatcher,
	}, nil
}

// executeRun performs one validation run end to end: process pending
// records, build the Excel report, and deliver it. Delivery failures are
// logged but do not fail the run.
func executeRun(ctx context.Context, env *engineEnv) error {
	started := time.Now()

	summary, err := env.Coordinator.RunOnce(ctx)
	if err != nil {
		if !eris.Is(err, runner.ErrRunActive) {
			env.Dispatcher.NotifyRunError(ctx, err)
		}
		return err
	}

	if summary.Total == 0 {
		zap.L().Info("nothing to report, skipping delivery")
		return nil
	}

	processed, err := env.Store.ListProcessedSince(ctx, summary.StartedAt)
	if err != nil {
		return eris.Wrap(err, "collect processed records for report")
	}

	invoiceLinks := env.Dispatcher.UploadInvoices(ctx, processed)

	workbook, err := report.Build(processed, invoiceLinks, summary)
	if err != nil {
		return eris.Wrap(err, "build report")
	}

	res := env.Dispatcher.Dispatch(ctx, summary, workbook)
	zap.L().Info("run finished",
		zap.Duration("duration", time.Since(started)),
		zap.Int("records", summary.Total),
		zap.String("report_link", res.ReportLink),
		zap.Bool("delivered", res.OK()),
	)
	return nil
}
