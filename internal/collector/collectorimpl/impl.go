package collectorimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/orgball2608/insta-metrics-collector/internal/aggregator"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/instagram"
	"github.com/orgball2608/insta-metrics-collector/internal/lock"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/orgball2608/insta-metrics-collector/pkg/config"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/orgball2608/insta-metrics-collector/pkg/retry"
	"go.uber.org/fx"
)

type Locker interface {
	TryAcquire(ctx context.Context, accountID string, minInterval time.Duration, force bool) (*lock.Handle, error)
	Release(ctx context.Context, h *lock.Handle)
}

type Aggregator interface {
	Recompute(ctx context.Context, accountID string, days []time.Time) ([]domain.DailyStat, error)
	RecomputeMonthly(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error)
}

type Opts struct {
	fx.In

	Source     instagram.Source
	Repo       collection.Repository
	Locks      *lock.Manager
	Aggregator *aggregator.Engine
	Clock      clockwork.Clock
	Logger     logger.Logger
	Config     *config.Config
}

type CollectorImpl struct {
	Source     instagram.Source
	Repo       collection.Repository
	Locks      Locker
	Aggregator Aggregator
	Clock      clockwork.Clock
	Logger     logger.Logger
	Config     *config.Config
	// Policy retries writes against an unreachable store. Source calls
	// retry inside the source.
	Policy    retry.Policy
	Scheduler gocron.Scheduler

	daily batchTracker
}

func New(opts Opts) *CollectorImpl {
	return &CollectorImpl{
		Source:     opts.Source,
		Repo:       opts.Repo,
		Locks:      opts.Locks,
		Aggregator: opts.Aggregator,
		Clock:      opts.Clock,
		Logger:     opts.Logger.WithComponent("Collector"),
		Config:     opts.Config,
		Policy:     retry.FromConfig(opts.Config),
	}
}

var _ collector.Client = (*CollectorImpl)(nil)

// ManualRefresh collects one account on demand, honouring the minimum
// interval between runs unless req.Force is set. Manual runs collect no
// account insights; those belong to the daily batch.
func (c *CollectorImpl) ManualRefresh(ctx context.Context, req collector.RefreshRequest) (*collector.RunReport, error) {
	if req.WindowDays == 0 {
		req.WindowDays = c.Config.Collector.WindowDays
	}
	if req.MaxPosts == 0 {
		req.MaxPosts = c.Config.Collector.MaxPosts
	}
	if req.WindowDays < 1 || req.WindowDays > collector.MaxWindowDays {
		return nil, fmt.Errorf("%w: window_days must be between 1 and %d", collector.ErrInvalidRequest, collector.MaxWindowDays)
	}
	if req.MaxPosts < 1 || req.MaxPosts > collector.MaxPostsLimit {
		return nil, fmt.Errorf("%w: max_posts must be between 1 and %d", collector.ErrInvalidRequest, collector.MaxPostsLimit)
	}

	account, err := c.activeAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	return c.collectOne(ctx, account, runParams{
		trigger:     domain.TriggerManual,
		windowDays:  req.WindowDays,
		maxPosts:    req.MaxPosts,
		minInterval: c.Config.Collector.ManualMinInterval,
		force:       req.Force,
		dryRun:      req.DryRun,
	})
}

func (c *CollectorImpl) activeAccount(ctx context.Context, id string) (domain.Account, error) {
	account, err := c.Repo.GetAccount(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return domain.Account{}, collector.ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	if !account.Active {
		return domain.Account{}, collector.ErrAccountNotFound
	}
	return account, nil
}
