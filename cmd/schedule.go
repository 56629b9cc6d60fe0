package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/runner"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the validation once per day at the configured hour",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hour, minute, err := parseWallClock(cfg.Validation.Hour)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("scheduler started", zap.String("daily_at", cfg.Validation.Hour))

		for {
			next := nextFiring(time.Now(), hour, minute)
			zap.L().Info("next validation run scheduled", zap.Time("at", next))

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				zap.L().Info("scheduler stopped")
				return nil
			case <-timer.C:
			}

			if err := executeRun(ctx, env); err != nil {
				if eris.Is(err, runner.ErrRunActive) || ctx.Err() != nil {
					continue
				}
				// A failed run never kills the scheduler; the next firing
				// picks the records up again.
				zap.L().Error("scheduled run failed", zap.Error(err))
			}
		}
	},
}

// parseWallClock parses an "HH:MM" local wall-clock time.
func parseWallClock(s string) (hour, minute int, err error) {
	t, perr := time.Parse("15:04", s)
	if perr != nil {
		return 0, 0, eris.Wrapf(perr, "invalid validation hour %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// nextFiring returns the next occurrence of the wall-clock time strictly
// after now.
func nextFiring(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
