package collectorimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
)

// ScheduleDailyBatch runs the daily batch every day at COLLECTOR_DAILY_AT in
// COLLECTOR_TIMEZONE until ctx is done. Overlapping runs are skipped.
func (c *CollectorImpl) ScheduleDailyBatch(ctx context.Context) error {
	hour, minute, err := parseDailyAt(c.Config.Collector.DailyAt)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(c.Config.Collector.Timezone)
	if err != nil {
		loc = time.Local
		c.Logger.Warn("Failed to load collector timezone, using local timezone", "timezone", c.Config.Collector.Timezone, "error", err)
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("failed to create collection scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DailyJob(
			1,
			gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)),
		),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				c.Logger.Info("Context cancelled, skipping daily collection")
				return
			}

			report, err := c.RunDailyBatch(ctx, collector.BatchRequest{})
			if errors.Is(err, collector.ErrBatchRunning) {
				c.Logger.Warn("Daily collection batch still running, skipping")
				return
			}
			if err != nil {
				c.Logger.Error("Daily collection batch failed", "error", err)
				return
			}
			if report.Status == collector.StatusFailed {
				c.Logger.Error("Every account failed in the daily collection batch", "accounts", len(report.Accounts))
			}
		}),
		gocron.WithName("daily-collection"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule daily collection: %w", err)
	}

	c.Scheduler = scheduler
	scheduler.Start()
	c.Logger.Info("Daily collection scheduled", "at", c.Config.Collector.DailyAt, "timezone", loc.String())

	go func() {
		<-ctx.Done()
		c.Logger.Info("Stopping collection scheduler")
		if err := scheduler.Shutdown(); err != nil {
			c.Logger.Error("Failed to shut down collection scheduler", "error", err)
		}
	}()

	return nil
}

func parseDailyAt(s string) (uint, uint, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid COLLECTOR_DAILY_AT %q, want HH:MM: %w", s, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}
