package collectorimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orgball2608/insta-metrics-collector/internal/aggregator"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/normalizer"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/retry"
)

type runParams struct {
	trigger     domain.RunTrigger
	windowDays  int
	maxPosts    int
	minInterval time.Duration
	force       bool
	dryRun      bool
	// since and until pin the post window instead of the sync cursor.
	since time.Time
	until time.Time
	// insightsDay is the day whose account insights are collected, zero for none.
	insightsDay time.Time
	skipProfile bool
}

type normalized struct {
	post domain.Post
	snap domain.MetricSnapshot
}

const abandonedReason = "abandoned: previous run did not finish"

// collectOne runs the whole pipeline for one account under its lock.
func (c *CollectorImpl) collectOne(ctx context.Context, account domain.Account, params runParams) (*collector.RunReport, error) {
	return c.withRun(ctx, account, params, func(ctx context.Context, run *domain.CollectionRun) error {
		return c.execute(ctx, account, params, run)
	})
}

// withRun holds the account lock around fn and records the run. Lock denials
// are returned as errors; every other failure ends up in the report. Dry runs
// leave no record behind.
func (c *CollectorImpl) withRun(ctx context.Context, account domain.Account, params runParams, fn func(context.Context, *domain.CollectionRun) error) (*collector.RunReport, error) {
	handle, err := c.Locks.TryAcquire(ctx, account.ID, params.minInterval, params.force)
	if err != nil {
		return nil, err
	}
	defer c.Locks.Release(ctx, handle)

	now := c.Clock.Now().UTC()
	since := params.since
	if since.IsZero() {
		since = c.cursor(account, now, params.windowDays)
	}
	run := domain.CollectionRun{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		Trigger:    params.trigger,
		WindowDays: params.windowDays,
		MaxPosts:   params.maxPosts,
		Since:      since,
		StartedAt:  now,
		Outcome:    domain.OutcomeRunning,
	}
	if !params.dryRun {
		c.abandonStaleRuns(ctx, account.ID, now)
		c.recordRun(ctx, run)
	}

	c.Logger.Info("Collection run started",
		"account_id", account.ID,
		"username", account.Username,
		"trigger", run.Trigger,
		"since", run.Since,
		"dry_run", params.dryRun,
	)

	runCtx, cancel := context.WithTimeout(ctx, c.Config.Collector.RunTimeout)
	defer cancel()

	runErr := fn(runCtx, &run)

	finished := c.Clock.Now().UTC()
	run.FinishedAt = &finished
	run.Outcome = outcome(&run, runErr)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// The final record lands before the lock is released so the interval
	// check of the next caller sees it.
	if !params.dryRun {
		c.recordRun(ctx, run)
	}

	logArgs := []any{
		"account_id", account.ID,
		"outcome", run.Outcome,
		"fetched", run.PostsFetched,
		"created", run.PostsCreated,
		"updated", run.PostsUpdated,
		"rejected", run.PostsRejected,
		"failed", run.PostsFailed,
		"dry_run", params.dryRun,
		"duration", finished.Sub(now).String(),
	}
	if runErr != nil {
		c.Logger.Error("Collection run finished with error", append(logArgs, "error", runErr)...)
	} else {
		c.Logger.Info("Collection run finished", logArgs...)
	}

	report := collector.NewRunReport(run)
	report.DryRun = params.dryRun
	return report, nil
}

// abandonStaleRuns closes runs a crashed process left marked running. The
// lock is held, so none of them can still be in flight.
func (c *CollectorImpl) abandonStaleRuns(ctx context.Context, accountID string, now time.Time) {
	n, err := c.Repo.AbandonRunningRuns(context.WithoutCancel(ctx), accountID, now, abandonedReason)
	if err != nil {
		c.Logger.Error("Failed to close abandoned runs", "account_id", accountID, "error", err)
		return
	}
	if n > 0 {
		c.Logger.Warn("Closed abandoned collection runs", "account_id", accountID, "runs", n)
	}
}

// cursor is max(last sync - safety overlap, now - window).
func (c *CollectorImpl) cursor(account domain.Account, now time.Time, windowDays int) time.Time {
	since := now.AddDate(0, 0, -windowDays)
	if account.LastSyncedAt != nil {
		if fromSync := account.LastSyncedAt.UTC().Add(-c.Config.Collector.SafetyOverlap); fromSync.After(since) {
			since = fromSync
		}
	}
	return since
}

func (c *CollectorImpl) execute(ctx context.Context, account domain.Account, params runParams, run *domain.CollectionRun) error {
	if !params.skipProfile {
		if err := c.collectProfile(ctx, account, run.StartedAt, params.dryRun); err != nil {
			return err
		}
	}
	if !params.insightsDay.IsZero() {
		if err := c.collectAccountInsights(ctx, account, params.insightsDay, run.StartedAt, params.dryRun); err != nil {
			return err
		}
	}

	raws, err := c.fetchPosts(ctx, account, run.Since, params.until, run.MaxPosts)
	if err != nil {
		if errors.IsAuthInvalid(err) && !params.dryRun {
			c.invalidateToken(ctx, account)
		}
		return fmt.Errorf("failed to fetch posts: %w", err)
	}
	run.PostsFetched = len(raws)

	items := make([]normalized, 0, len(raws))
	for _, raw := range raws {
		post, snap, err := normalizer.Normalize(account.ID, raw, run.StartedAt)
		if err != nil {
			run.PostsRejected++
			c.Logger.Warn("Rejected post", "account_id", account.ID, "external_id", raw.ID, "error", err)
			continue
		}
		items = append(items, normalized{post: post, snap: snap})
	}
	if params.dryRun {
		return nil
	}

	affected := []time.Time{run.StartedAt}
	if !params.insightsDay.IsZero() {
		affected = append(affected, params.insightsDay)
	}
	newestStored := false
	for i, item := range items {
		created, err := c.persist(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, collection.ErrUnavailable) {
				return fmt.Errorf("failed to persist posts: %w", err)
			}
			run.PostsFailed++
			c.Logger.Error("Failed to persist post", "account_id", account.ID, "external_id", item.post.ExternalID, "error", err)
			continue
		}
		if created {
			run.PostsCreated++
		} else {
			run.PostsUpdated++
		}
		if i == 0 {
			newestStored = true
		}
		affected = append(affected, item.post.PostedAt)
	}
	run.AffectedDays = aggregator.UniqueDays(affected)

	// A backfill window ends in the past, so it says nothing about the cursor.
	if params.until.IsZero() && (newestStored || len(items) == 0) {
		if err := c.Repo.MarkAccountSynced(ctx, account.ID, run.StartedAt); err != nil {
			return fmt.Errorf("failed to mark account synced: %w", err)
		}
	}

	return c.aggregate(ctx, account.ID, run.AffectedDays, run.StartedAt)
}

func (c *CollectorImpl) fetchPosts(ctx context.Context, account domain.Account, since, until time.Time, maxPosts int) ([]domain.RawPost, error) {
	if until.IsZero() {
		return c.Source.FetchRecentPosts(ctx, account, since, maxPosts)
	}
	return c.Source.FetchPostsBetween(ctx, account, since, until, maxPosts)
}

// collectProfile stores the profile counters. Only a rejected credential or
// an unreachable store stops the run; posts are still worth collecting
// without the counters.
func (c *CollectorImpl) collectProfile(ctx context.Context, account domain.Account, at time.Time, dryRun bool) error {
	profile, err := c.Source.FetchProfile(ctx, account)
	if err != nil {
		if errors.IsAuthInvalid(err) {
			if !dryRun {
				c.invalidateToken(ctx, account)
			}
			return fmt.Errorf("failed to fetch profile: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("Profile counters unavailable, continuing with posts", "account_id", account.ID, "error", err)
		return nil
	}
	if dryRun {
		return nil
	}

	_, err = c.Repo.AppendAccountSnapshot(ctx, domain.AccountSnapshot{
		AccountID:      account.ID,
		FollowersCount: profile.FollowersCount,
		FollowingCount: profile.FollowsCount,
		MediaCount:     profile.MediaCount,
		RecordedAt:     at,
	})
	if err != nil {
		if errors.Is(err, collection.ErrUnavailable) {
			return fmt.Errorf("failed to store account snapshot: %w", err)
		}
		c.Logger.Warn("Failed to store account snapshot, continuing with posts", "account_id", account.ID, "error", err)
	}
	return nil
}

// collectAccountInsights stores reach and follower_count of day. Missing
// insights leave no row, so the daily rollup never sees made-up zeros.
func (c *CollectorImpl) collectAccountInsights(ctx context.Context, account domain.Account, day, at time.Time, dryRun bool) error {
	metrics, err := c.Source.FetchAccountInsights(ctx, account, day)
	if err != nil {
		if errors.IsAuthInvalid(err) {
			if !dryRun {
				c.invalidateToken(ctx, account)
			}
			return fmt.Errorf("failed to fetch account insights: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("Account insights unavailable", "account_id", account.ID, "day", day.Format(time.DateOnly), "error", err)
		return nil
	}
	if len(metrics) == 0 {
		c.Logger.Debug("No account insights reported", "account_id", account.ID, "day", day.Format(time.DateOnly))
		return nil
	}
	if dryRun {
		return nil
	}

	err = c.Repo.UpsertAccountInsight(ctx, domain.AccountInsight{
		AccountID:     account.ID,
		Day:           collection.DayStart(day),
		Reach:         metrics["reach"],
		FollowerCount: metrics["follower_count"],
		RecordedAt:    at,
	})
	if err != nil {
		if errors.Is(err, collection.ErrUnavailable) {
			return fmt.Errorf("failed to store account insights: %w", err)
		}
		c.Logger.Warn("Failed to store account insights", "account_id", account.ID, "error", err)
	}
	return nil
}

// persist writes a post and its snapshot in one transaction. Only an
// unreachable store is retried.
func (c *CollectorImpl) persist(ctx context.Context, item normalized) (bool, error) {
	var created bool
	err := retry.Do(ctx, c.Logger, "persist_post", func() error {
		err := c.Repo.InTx(ctx, func(tx collection.Store) error {
			stored, isNew, err := tx.UpsertPost(ctx, item.post)
			if err != nil {
				return err
			}
			snap := item.snap
			snap.PostID = stored.ID
			if _, err := tx.AppendMetricSnapshot(ctx, snap); err != nil {
				return err
			}
			created = isNew
			return nil
		})
		if err == nil || errors.Is(err, collection.ErrUnavailable) {
			return err
		}
		return retry.Permanent(err)
	}, c.Policy)
	return created, err
}

// aggregate recomputes the affected days, their months and the month after
// each, whose growth figures depend on them.
func (c *CollectorImpl) aggregate(ctx context.Context, accountID string, days []time.Time, now time.Time) error {
	if _, err := c.Aggregator.Recompute(ctx, accountID, days); err != nil {
		return fmt.Errorf("failed to recompute daily stats: %w", err)
	}

	current := collection.MonthStart(now)
	seen := map[time.Time]bool{}
	var months []time.Time
	for _, d := range days {
		month := collection.MonthStart(d)
		for _, m := range []time.Time{month, month.AddDate(0, 1, 0)} {
			if !seen[m] && !m.After(current) {
				seen[m] = true
				months = append(months, m)
			}
		}
	}
	for _, m := range months {
		if _, err := c.Aggregator.RecomputeMonthly(ctx, accountID, m); err != nil {
			return fmt.Errorf("failed to recompute monthly stats for %s: %w", m.Format("2006-01"), err)
		}
	}
	return nil
}

func (c *CollectorImpl) invalidateToken(ctx context.Context, account domain.Account) {
	c.Logger.Warn("Instagram rejected account credential, marking token invalid", "account_id", account.ID, "username", account.Username)
	if err := c.Repo.SetAccountTokenValid(context.WithoutCancel(ctx), account.ID, false); err != nil {
		c.Logger.Error("Failed to mark token invalid", "account_id", account.ID, "error", err)
	}
}

func (c *CollectorImpl) recordRun(ctx context.Context, run domain.CollectionRun) {
	if err := c.Repo.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		c.Logger.Error("Failed to record collection run", "run_id", run.ID, "account_id", run.AccountID, "error", err)
	}
}

func outcome(run *domain.CollectionRun, err error) domain.RunOutcome {
	stored := run.PostsCreated + run.PostsUpdated
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.OutcomeCancelled
	case err == nil && run.PostsFailed == 0:
		return domain.OutcomeSuccess
	case stored > 0:
		return domain.OutcomePartial
	default:
		return domain.OutcomeFailed
	}
}
