package app

import (
	"context"

	"sportbot/internal/config"
	logx "sportbot/pkg/logx"
)

// registerJobs puts the recurring work on the clock. The executor runs just
// after midnight when the portal has opened the new day, the weekly planner
// right at midnight, and confirmation prompts are checked on a short interval
// so deadlines are hit within minutes.
func (a *App) registerJobs(cfg *config.Config) error {
	if err := a.triggers.AddDaily("booking.periodic", cfg.Scheduling.PeriodicAt, func(ctx context.Context) error {
		_, err := a.policy.ProcessPeriodicBookingsForWeek(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := a.triggers.AddDaily("booking.executor", cfg.Scheduling.ExecutorAt, a.exec.ExecutePendingScheduledBookings); err != nil {
		return err
	}

	confirmEvery, err := config.ParseDurationField("scheduling.confirmation_every", cfg.Scheduling.ConfirmationEvery)
	if err != nil {
		return err
	}
	if err := a.triggers.AddInterval("booking.confirmations", confirmEvery, a.exec.ProcessPendingConfirmations); err != nil {
		return err
	}

	return a.triggers.AddDaily("catalog.sync", cfg.Scheduling.CatalogSyncAt, a.syncCatalog)
}

// syncCatalog refreshes the local course table from the portal's weekly
// schedule so /courses and /book work against current ids.
func (a *App) syncCatalog(ctx context.Context) error {
	client, release, err := a.sessions.AcquireClient(ctx)
	if err != nil {
		return err
	}
	defer release()

	courses, err := client.FetchCourses(ctx)
	if err != nil {
		return err
	}
	for _, c := range courses {
		if _, err := a.store.UpsertCourse(ctx, c); err != nil {
			return err
		}
	}
	a.log.Info("course catalog synced", logx.Int("courses", len(courses)))
	return nil
}
