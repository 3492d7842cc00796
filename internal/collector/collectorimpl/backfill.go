package collectorimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/normalizer"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
)

// Backfill collects the posts of a past date range. It neither reads the
// profile nor moves the sync cursor, and ignores the manual interval.
func (c *CollectorImpl) Backfill(ctx context.Context, req collector.BackfillRequest) (*collector.RunReport, error) {
	if req.MaxPosts == 0 {
		req.MaxPosts = c.Config.Collector.MaxPosts
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, fmt.Errorf("%w: start_date and end_date are required", collector.ErrInvalidRequest)
	}
	start := collection.DayStart(req.StartDate)
	until := collection.DayStart(req.EndDate).AddDate(0, 0, 1)
	if !start.Before(until) {
		return nil, fmt.Errorf("%w: start_date is after end_date", collector.ErrInvalidRequest)
	}
	if until.After(collection.DayStart(c.Clock.Now()).AddDate(0, 0, 1)) {
		return nil, fmt.Errorf("%w: end_date is in the future", collector.ErrInvalidRequest)
	}
	if req.MaxPosts < 1 || req.MaxPosts > collector.MaxBackfillPosts {
		return nil, fmt.Errorf("%w: max_posts must be between 1 and %d", collector.ErrInvalidRequest, collector.MaxBackfillPosts)
	}

	account, err := c.activeAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	return c.collectOne(ctx, account, runParams{
		trigger:     domain.TriggerBackfill,
		windowDays:  int(until.Sub(start) / (24 * time.Hour)),
		maxPosts:    req.MaxPosts,
		force:       true,
		since:       start,
		until:       until,
		skipProfile: true,
	})
}

// CollectMissingMetrics snapshots posts of the last req.DaysBack days that
// were stored without any metrics.
func (c *CollectorImpl) CollectMissingMetrics(ctx context.Context, req collector.MissingMetricsRequest) (*collector.RunReport, error) {
	if req.DaysBack == 0 {
		req.DaysBack = collector.DefaultMissingMetricsDays
	}
	if req.DaysBack < 1 || req.DaysBack > collector.MaxWindowDays {
		return nil, fmt.Errorf("%w: days_back must be between 1 and %d", collector.ErrInvalidRequest, collector.MaxWindowDays)
	}

	account, err := c.activeAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	params := runParams{
		trigger:    domain.TriggerMissingMetrics,
		windowDays: req.DaysBack,
		force:      true,
		since:      c.Clock.Now().UTC().AddDate(0, 0, -req.DaysBack),
	}
	return c.withRun(ctx, account, params, func(ctx context.Context, run *domain.CollectionRun) error {
		return c.fillMissingMetrics(ctx, account, run)
	})
}

func (c *CollectorImpl) fillMissingMetrics(ctx context.Context, account domain.Account, run *domain.CollectionRun) error {
	posts, err := c.Repo.ListPostsWithoutSnapshots(ctx, account.ID, run.Since)
	if err != nil {
		return fmt.Errorf("failed to list posts without metrics: %w", err)
	}
	run.PostsFetched = len(posts)

	for _, post := range posts {
		insights, err := c.Source.FetchPostInsights(ctx, account, post)
		if err != nil {
			switch {
			case errors.IsAuthInvalid(err):
				c.invalidateToken(ctx, account)
				return fmt.Errorf("failed to fetch post insights: %w", err)
			case errors.IsRateLimited(err), ctx.Err() != nil:
				return fmt.Errorf("failed to fetch post insights: %w", err)
			}
			run.PostsFailed++
			c.Logger.Warn("Failed to fetch post insights", "account_id", account.ID, "post_id", post.ID, "error", err)
			continue
		}

		_, snap, err := normalizer.Normalize(account.ID, domain.RawPost{
			ID:        post.ExternalID,
			MediaType: string(post.MediaType),
			Timestamp: post.PostedAt.UTC().Format(time.RFC3339),
			Insights:  insights,
		}, run.StartedAt)
		if err != nil {
			run.PostsRejected++
			c.Logger.Warn("Rejected post metrics", "account_id", account.ID, "post_id", post.ID, "error", err)
			continue
		}
		snap.PostID = post.ID

		if _, err := c.Repo.AppendMetricSnapshot(ctx, snap); err != nil {
			if errors.Is(err, collection.ErrUnavailable) {
				return fmt.Errorf("failed to store post metrics: %w", err)
			}
			run.PostsFailed++
			c.Logger.Error("Failed to store post metrics", "account_id", account.ID, "post_id", post.ID, "error", err)
			continue
		}
		run.PostsUpdated++
	}

	// Snapshots count toward the day they were recorded on.
	run.AffectedDays = []time.Time{collection.DayStart(run.StartedAt)}
	return c.aggregate(ctx, account.ID, run.AffectedDays, run.StartedAt)
}
