// Package aggregator derives daily and monthly rollups from stored snapshots.
//
// Every computation is a pure function of stored history, so recomputing the
// same day or month any number of times yields identical rows.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"go.uber.org/fx"
)

// Store is the part of the collection repository the engine reads and writes.
type Store interface {
	GetLatestAccountSnapshot(ctx context.Context, accountID string, atOrBefore time.Time) (*domain.AccountSnapshot, error)
	GetAccountInsight(ctx context.Context, accountID string, day time.Time) (*domain.AccountInsight, error)
	GetDaySnapshots(ctx context.Context, accountID string, from, to time.Time) ([]domain.PostSnapshot, error)
	ListPostsPublished(ctx context.Context, accountID string, from, to time.Time) ([]domain.Post, error)
	UpsertDailyStat(ctx context.Context, stat domain.DailyStat) error
	GetDailyStatsForMonth(ctx context.Context, accountID string, month time.Time) ([]domain.DailyStat, error)
	UpsertMonthlyStat(ctx context.Context, stat domain.MonthlyStat) error
	GetMonthlyStat(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error)
}

type Opts struct {
	fx.In

	Repo   collection.Repository
	Logger logger.Logger
}

type Engine struct {
	store  Store
	logger logger.Logger
}

func New(opts Opts) *Engine {
	return NewEngine(opts.Repo, opts.Logger)
}

func NewEngine(store Store, log logger.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: log.WithComponent("Aggregator"),
	}
}

// Recompute rebuilds the DailyStat of every given day (UTC calendar days).
func (e *Engine) Recompute(ctx context.Context, accountID string, days []time.Time) ([]domain.DailyStat, error) {
	var stats []domain.DailyStat
	for _, day := range UniqueDays(days) {
		stat, err := e.recomputeDay(ctx, accountID, day)
		if err != nil {
			return stats, fmt.Errorf("recompute %s: %w", day.Format(time.DateOnly), err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

func (e *Engine) recomputeDay(ctx context.Context, accountID string, day time.Time) (domain.DailyStat, error) {
	next := day.AddDate(0, 0, 1)

	profile, err := e.store.GetLatestAccountSnapshot(ctx, accountID, next.Add(-time.Microsecond))
	if err != nil {
		return domain.DailyStat{}, err
	}
	insight, err := e.store.GetAccountInsight(ctx, accountID, day)
	if err != nil {
		return domain.DailyStat{}, err
	}
	snaps, err := e.store.GetDaySnapshots(ctx, accountID, day, next)
	if err != nil {
		return domain.DailyStat{}, err
	}
	published, err := e.store.ListPostsPublished(ctx, accountID, day, next)
	if err != nil {
		return domain.DailyStat{}, err
	}

	stat := BuildDailyStat(accountID, day, profile, insight, snaps, published)
	if err := e.store.UpsertDailyStat(ctx, stat); err != nil {
		return domain.DailyStat{}, err
	}

	e.logger.Debug("Daily stat recomputed",
		"account_id", accountID,
		"day", day.Format(time.DateOnly),
		"posts", stat.PostsCount,
		"snapshots", len(snaps),
	)
	return stat, nil
}

// RecomputeMonthly rebuilds the MonthlyStat of month from its DailyStat rows.
// It returns nil without writing when the month has no daily rows.
func (e *Engine) RecomputeMonthly(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error) {
	month = collection.MonthStart(month)

	days, err := e.store.GetDailyStatsForMonth(ctx, accountID, month)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}
	prev, err := e.store.GetDailyStatsForMonth(ctx, accountID, month.AddDate(0, -1, 0))
	if err != nil {
		return nil, err
	}

	stat := BuildMonthlyStat(accountID, month, days, prev)
	if err := e.store.UpsertMonthlyStat(ctx, stat); err != nil {
		return nil, err
	}

	e.logger.Debug("Monthly stat recomputed",
		"account_id", accountID,
		"month", month.Format("2006-01"),
		"days_covered", stat.DaysCovered,
	)
	return &stat, nil
}

// YearOverYear compares month with the same month a year earlier. Missing
// history on either side yields zero deltas with Insufficient set.
func (e *Engine) YearOverYear(ctx context.Context, accountID string, month time.Time) (domain.YearOverYear, error) {
	month = collection.MonthStart(month)
	previousMonth := month.AddDate(-1, 0, 0)

	current, err := e.store.GetMonthlyStat(ctx, accountID, month)
	if err != nil {
		return domain.YearOverYear{}, err
	}
	previous, err := e.store.GetMonthlyStat(ctx, accountID, previousMonth)
	if err != nil {
		return domain.YearOverYear{}, err
	}

	return BuildYearOverYear(accountID, month, current, previous), nil
}

// UniqueDays truncates days to UTC midnight, drops duplicates and sorts them.
func UniqueDays(days []time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(days))
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		d = collection.DayStart(d)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
