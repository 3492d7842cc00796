package collectorimpl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/lock"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/panjf2000/ants/v2"
)

// RunDailyBatch collects all active accounts (or the subset in
// req.AccountIDs) on a bounded worker pool. The interval throttle does not
// apply here; an account that is already being collected is reported as
// skipped. Only one batch runs at a time per process.
func (c *CollectorImpl) RunDailyBatch(ctx context.Context, req collector.BatchRequest) (*collector.BatchReport, error) {
	now := c.Clock.Now()
	target, err := c.targetDate(req.TargetDate, now)
	if err != nil {
		return nil, err
	}
	if !c.daily.start(now.UTC()) {
		return nil, collector.ErrBatchRunning
	}

	report, err := c.runBatch(ctx, req, target)
	c.daily.finish(c.Clock.Now().UTC(), report, err)
	return report, err
}

func (c *CollectorImpl) DailyStatus() collector.DailyStatus {
	return c.daily.status()
}

func (c *CollectorImpl) runBatch(ctx context.Context, req collector.BatchRequest, target time.Time) (*collector.BatchReport, error) {
	report := &collector.BatchReport{
		StartedAt:  c.Clock.Now().UTC(),
		TargetDate: target.Format(time.DateOnly),
		DryRun:     req.DryRun,
	}

	accounts, err := c.Repo.GetActiveAccounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load active accounts")
	}
	accounts = filterAccounts(accounts, req.AccountIDs)

	c.Logger.Info("Daily collection batch started",
		"accounts", len(accounts),
		"target_date", report.TargetDate,
		"dry_run", req.DryRun,
	)

	report.Accounts = c.runWithAnts(ctx, accounts, runParams{
		trigger:     domain.TriggerScheduled,
		windowDays:  c.Config.Collector.WindowDays,
		maxPosts:    c.Config.Collector.MaxPosts,
		force:       true,
		dryRun:      req.DryRun,
		insightsDay: target,
	})
	report.FinishedAt = c.Clock.Now().UTC()

	succeeded, failed, skipped := report.Counts()
	report.Status = collector.StatusCompleted
	if succeeded == 0 && failed > 0 {
		report.Status = collector.StatusFailed
	}

	c.Logger.Info("Daily collection batch finished",
		"status", report.Status,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
	)
	return report, nil
}

// targetDate resolves the day the batch collects account insights for. The
// zero value means yesterday in the collector timezone.
func (c *CollectorImpl) targetDate(requested, now time.Time) (time.Time, error) {
	local := now.In(c.location())
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	if requested.IsZero() {
		return today.AddDate(0, 0, -1), nil
	}

	day := time.Date(requested.Year(), requested.Month(), requested.Day(), 0, 0, 0, 0, time.UTC)
	if day.After(today) {
		return time.Time{}, fmt.Errorf("%w: target_date %s is in the future", collector.ErrInvalidRequest, day.Format(time.DateOnly))
	}
	if day.Before(today.AddDate(0, 0, -collector.MaxWindowDays)) {
		return time.Time{}, fmt.Errorf("%w: target_date must be within the last %d days", collector.ErrInvalidRequest, collector.MaxWindowDays)
	}
	return day, nil
}

func (c *CollectorImpl) location() *time.Location {
	loc, err := time.LoadLocation(c.Config.Collector.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *CollectorImpl) runWithAnts(ctx context.Context, accounts []domain.Account, params runParams) []collector.AccountOutcome {
	results := make([]collector.AccountOutcome, len(accounts))
	if len(accounts) == 0 {
		return results
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPool(c.Config.Collector.Workers, ants.WithPreAlloc(true))
	if err != nil {
		for i, account := range accounts {
			results[i] = failedOutcome(account, fmt.Errorf("failed to create worker pool: %w", err))
		}
		return results
	}
	defer pool.Release()

	for i, account := range accounts {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results[i] = c.batchOne(ctx, account, params)
		})
		if err != nil {
			wg.Done()
			c.Logger.Error("Failed to submit job to ants pool", "account_id", account.ID, "error", err)
			results[i] = failedOutcome(account, err)
		}
	}

	wg.Wait()
	return results
}

func (c *CollectorImpl) batchOne(ctx context.Context, account domain.Account, params runParams) collector.AccountOutcome {
	if ctx.Err() != nil {
		return failedOutcome(account, ctx.Err())
	}

	report, err := c.collectOne(ctx, account, params)
	if err != nil {
		var denied *lock.DeniedError
		if errors.As(err, &denied) && denied.Reason == lock.ReasonAlreadyRunning {
			c.Logger.Info("Account already being collected, skipping", "account_id", account.ID)
			return collector.AccountOutcome{AccountID: account.ID, Username: account.Username, Skipped: true}
		}
		return failedOutcome(account, err)
	}

	out := collector.AccountOutcome{AccountID: account.ID, Username: account.Username, Report: report}
	if !report.Succeeded() {
		out.Error = report.Error
	}
	return out
}

func failedOutcome(account domain.Account, err error) collector.AccountOutcome {
	return collector.AccountOutcome{
		AccountID: account.ID,
		Username:  account.Username,
		Error:     err.Error(),
	}
}

func filterAccounts(accounts []domain.Account, ids []string) []domain.Account {
	if len(ids) == 0 {
		return accounts
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := accounts[:0:0]
	for _, a := range accounts {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// batchTracker remembers the daily batch of this process for DailyStatus.
type batchTracker struct {
	mu          sync.Mutex
	running     bool
	startedAt   *time.Time
	completedAt *time.Time
	lastError   string
	lastSummary *collector.BatchSummary
}

func (t *batchTracker) start(at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.startedAt = &at
	return true
}

func (t *batchTracker) finish(at time.Time, report *collector.BatchReport, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.completedAt = &at
	t.lastError = ""
	switch {
	case err != nil:
		t.lastError = err.Error()
	case report.Status == collector.StatusFailed:
		t.lastError = "every account failed"
	}
	if report != nil {
		t.lastSummary = report.Summary()
	}
}

func (t *batchTracker) status() collector.DailyStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return collector.DailyStatus{
		Running:     t.running,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
		LastError:   t.lastError,
		LastSummary: t.lastSummary,
	}
}
