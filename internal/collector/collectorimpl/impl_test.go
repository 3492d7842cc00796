package collectorimpl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/orgball2608/insta-metrics-collector/internal/aggregator"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/instagram"
	mock_instagram "github.com/orgball2608/insta-metrics-collector/internal/instagram/mocks"
	"github.com/orgball2608/insta-metrics-collector/internal/lock"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection/collectiontest"
	"github.com/orgball2608/insta-metrics-collector/pkg/config"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/orgball2608/insta-metrics-collector/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	collector *CollectorImpl
	source    *mock_instagram.MockSource
	repo      *collectiontest.Repository
	clock     *clockwork.FakeClock
	locks     *lock.Manager
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Collector.DailyAt = "03:00"
	cfg.Collector.Timezone = "UTC"
	cfg.Collector.WindowDays = 30
	cfg.Collector.MaxPosts = 50
	cfg.Collector.ManualMinInterval = time.Minute
	cfg.Collector.RunTimeout = time.Minute
	cfg.Collector.LockTTL = 15 * time.Minute
	cfg.Collector.SafetyOverlap = time.Hour
	cfg.Collector.Workers = 3
	cfg.Collector.RetryAttempts = 2
	cfg.Collector.RetryBaseDelay = time.Millisecond
	cfg.Collector.RetryMaxDelay = 5 * time.Millisecond
	cfg.Collector.MaxRetryAfter = time.Second
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	source := mock_instagram.NewMockSource(ctrl)
	repo := collectiontest.New()
	clock := clockwork.NewFakeClockAt(now)
	log := logger.NewNop()
	locks := lock.NewManager(lock.NewMemoryStore(clock), repo, clock, cfg.Collector.LockTTL, log)

	return &harness{
		collector: &CollectorImpl{
			Source:     source,
			Repo:       repo,
			Locks:      locks,
			Aggregator: aggregator.NewEngine(repo, log),
			Clock:      clock,
			Logger:     log,
			Config:     cfg,
			Policy:     retry.FromConfig(cfg),
		},
		source: source,
		repo:   repo,
		clock:  clock,
		locks:  locks,
	}
}

func (h *harness) account(t *testing.T, username string) domain.Account {
	t.Helper()
	a, err := h.repo.UpsertAccount(context.Background(), domain.Account{
		ExternalID: "ext-" + username,
		Username:   username,
		Active:     true,
		TokenValid: true,
	})
	require.NoError(t, err)
	return a
}

func (h *harness) profileOK() {
	h.source.EXPECT().FetchProfile(gomock.Any(), gomock.Any()).
		Return(domain.RawProfile{FollowersCount: 1000, FollowsCount: 10, MediaCount: 42}, nil).
		AnyTimes()
	h.source.EXPECT().FetchAccountInsights(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).
		AnyTimes()
}

func rawPost(id, ts string) domain.RawPost {
	return domain.RawPost{
		ID:        id,
		MediaType: "IMAGE",
		Timestamp: ts,
		Insights:  map[string]int64{"likes": 10, "comments": 2, "reach": 100},
	}
}

func TestManualRefreshEndToEnd(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	valid := rawPost("p1", "2025-06-10T08:00:00+0000")
	invalid := rawPost("p2", "2025-06-09T08:00:00+0000")
	invalid.MediaType = ""

	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), 50).
		DoAndReturn(func(_ context.Context, account domain.Account, since time.Time, _ int) ([]domain.RawPost, error) {
			assert.Equal(t, acc.ID, account.ID)
			assert.True(t, since.Equal(now.AddDate(0, 0, -30)), "since = %s", since)
			return []domain.RawPost{valid, invalid}, nil
		})

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 2, report.PostsFetched)
	assert.Equal(t, 1, report.PostsCreated)
	assert.Equal(t, 1, report.PostsRejected)
	assert.Equal(t, []string{"2025-06-10"}, report.AffectedDays)

	require.Len(t, h.repo.Posts(), 1)
	require.Len(t, h.repo.Snapshots(), 1)
	assert.Equal(t, "p1", h.repo.Posts()[0].ExternalID)

	daily, err := h.repo.GetDailyStatsForMonth(ctx, acc.ID, now)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int64(1), daily[0].PostsCount)
	assert.Equal(t, int64(10), daily[0].TotalLikes)
	assert.Equal(t, int64(2), daily[0].TotalComments)
	assert.Equal(t, int64(100), daily[0].TotalReach)
	assert.Equal(t, int64(1000), daily[0].FollowersCount)
	assert.Equal(t, 12.0, daily[0].AvgEngagementRate)

	monthly, err := h.repo.GetMonthlyStat(ctx, acc.ID, now)
	require.NoError(t, err)
	require.NotNil(t, monthly)
	assert.Equal(t, int64(1), monthly.TotalPosts)

	stored, err := h.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSyncedAt)
	assert.True(t, stored.LastSyncedAt.Equal(now))

	runs := h.repo.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.OutcomeSuccess, runs[0].Outcome)
	assert.Equal(t, domain.TriggerManual, runs[0].Trigger)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestManualRefreshIsExclusive(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	entered := make(chan struct{})
	release := make(chan struct{})
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.Account, time.Time, int) ([]domain.RawPost, error) {
			close(entered)
			<-release
			return nil, nil
		}).
		Times(1)

	var (
		wg    sync.WaitGroup
		first *collector.RunReport
		err1  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, err1 = h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	}()
	<-entered

	_, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, Force: true})
	var denied *lock.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, lock.ReasonAlreadyRunning, denied.Reason)
	assert.True(t, errors.IsLockConflict(err))

	close(release)
	wg.Wait()
	require.NoError(t, err1)
	assert.Equal(t, domain.OutcomeSuccess, first.Outcome)
}

func TestManualRefreshTooSoon(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).
		Times(2)

	_, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)

	h.clock.Advance(5 * time.Second)

	_, err = h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	var denied *lock.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, lock.ReasonTooSoon, denied.Reason)
	assert.Equal(t, 55*time.Second, denied.RetryAfter)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
}

func TestManualRefreshUsesSafetyOverlap(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()
	require.NoError(t, h.repo.MarkAccountSynced(ctx, acc.ID, now.Add(-2*time.Hour)))

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), 5).
		DoAndReturn(func(_ context.Context, _ domain.Account, since time.Time, _ int) ([]domain.RawPost, error) {
			assert.True(t, since.Equal(now.Add(-3*time.Hour)), "since = %s", since)
			return nil, nil
		})

	_, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, WindowDays: 7, MaxPosts: 5})
	require.NoError(t, err)
}

func TestManualRefreshRejectsBadRequests(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	_, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, WindowDays: 91})
	assert.True(t, errors.IsValidation(err))

	_, err = h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, MaxPosts: 201})
	assert.True(t, errors.IsValidation(err))

	_, err = h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: "missing"})
	assert.ErrorIs(t, err, collector.ErrAccountNotFound)
}

func TestRunDailyBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t, testConfig())
	for _, name := range []string{"a", "b", "c"} {
		h.account(t, name)
	}
	ctx := context.Background()

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, account domain.Account, _ time.Time, _ int) ([]domain.RawPost, error) {
			if account.Username == "b" {
				return nil, fmt.Errorf("graph api: %w", instagram.ErrAuthInvalid)
			}
			return []domain.RawPost{rawPost("post-"+account.Username, "2025-06-10T01:00:00Z")}, nil
		}).
		Times(3)

	report, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, collector.StatusCompleted, report.Status)

	byName := map[string]collector.AccountOutcome{}
	for _, o := range report.Accounts {
		byName[o.Username] = o
	}
	assert.True(t, byName["a"].Succeeded())
	assert.True(t, byName["c"].Succeeded())
	assert.False(t, byName["b"].Succeeded())
	require.NotNil(t, byName["b"].Report)
	assert.Equal(t, domain.OutcomeFailed, byName["b"].Report.Outcome)
	assert.NotEmpty(t, byName["b"].Error)

	b, err := h.repo.GetAccount(ctx, byName["b"].AccountID)
	require.NoError(t, err)
	assert.False(t, b.TokenValid)
	assert.Nil(t, b.LastSyncedAt)

	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
	assert.Zero(t, skipped)
	assert.Len(t, h.repo.Posts(), 2)
}

func TestRunDailyBatchAllFailed(t *testing.T) {
	h := newHarness(t, testConfig())
	h.account(t, "a")
	h.account(t, "b")

	h.source.EXPECT().FetchProfile(gomock.Any(), gomock.Any()).
		Return(domain.RawProfile{}, instagram.ErrAuthInvalid).
		Times(2)

	report, err := h.collector.RunDailyBatch(context.Background(), collector.BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, collector.StatusFailed, report.Status)

	status := h.collector.DailyStatus()
	assert.False(t, status.Running)
	assert.Equal(t, "every account failed", status.LastError)
}

func TestRunDailyBatchWithoutAccounts(t *testing.T) {
	h := newHarness(t, testConfig())

	report, err := h.collector.RunDailyBatch(context.Background(), collector.BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, collector.StatusCompleted, report.Status)
	assert.Empty(t, report.Accounts)
}

func TestRunDailyBatchSkipsRunningAccountAndFilters(t *testing.T) {
	h := newHarness(t, testConfig())
	a := h.account(t, "a")
	b := h.account(t, "b")
	h.account(t, "c")
	ctx := context.Background()

	held, err := h.locks.TryAcquire(ctx, a.ID, 0, true)
	require.NoError(t, err)
	defer h.locks.Release(ctx, held)

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, account domain.Account, _ time.Time, _ int) ([]domain.RawPost, error) {
			assert.Equal(t, b.ID, account.ID)
			return nil, nil
		}).
		Times(1)

	report, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{AccountIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
	require.Len(t, report.Accounts, 2)

	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Zero(t, failed)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, collector.StatusCompleted, report.Status)
}

func TestCollectFailsWhenSourceIsThrottled(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &instagram.RateLimitedError{RetryAfter: time.Hour}).
		Times(1)

	report, err := h.collector.ManualRefresh(context.Background(), collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.Error, "rate limited")

	stored, err := h.repo.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.TokenValid)
}

func TestCollectTimeoutIsCancelledAndReleasesLock(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.RunTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.Account, _ time.Time, _ int) ([]domain.RawPost, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, report.Outcome)

	runs := h.repo.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.OutcomeCancelled, runs[0].Outcome)

	handle, err := h.locks.TryAcquire(ctx, acc.ID, time.Minute, false)
	require.NoError(t, err)
	h.locks.Release(ctx, handle)
}

func TestCollectPartialWhenOnePostFails(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.repo.OnUpsertPost = func(p domain.Post) error {
		if p.ExternalID == "p2" {
			return errors.New("check constraint violated")
		}
		return nil
	}

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.RawPost{
			rawPost("p1", "2025-06-10T01:00:00Z"),
			rawPost("p2", "2025-06-05T01:00:00Z"),
		}, nil)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartial, report.Outcome)
	assert.Equal(t, 1, report.PostsCreated)
	assert.Equal(t, 1, report.PostsFailed)
	assert.Len(t, h.repo.Snapshots(), 1)

	stored, err := h.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastSyncedAt)
}

func TestCollectFailsWhenStoreUnreachable(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.repo.OnUpsertPost = func(domain.Post) error {
		return fmt.Errorf("dial tcp: %w", collection.ErrUnavailable)
	}

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.RawPost{
			rawPost("p1", "2025-06-10T01:00:00Z"),
			rawPost("p2", "2025-06-09T01:00:00Z"),
		}, nil)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, report.Outcome)
	assert.Zero(t, report.PostsCreated)
	assert.Empty(t, h.repo.Posts())

	stored, err := h.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastSyncedAt)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		run  domain.CollectionRun
		err  error
		want domain.RunOutcome
	}{
		{"clean", domain.CollectionRun{PostsCreated: 2}, nil, domain.OutcomeSuccess},
		{"some posts failed", domain.CollectionRun{PostsCreated: 2, PostsFailed: 1}, nil, domain.OutcomePartial},
		{"every post failed", domain.CollectionRun{PostsFailed: 2}, nil, domain.OutcomeFailed},
		{"aggregation failed after writes", domain.CollectionRun{PostsUpdated: 1}, errors.New("boom"), domain.OutcomePartial},
		{"fetch failed", domain.CollectionRun{}, errors.New("boom"), domain.OutcomeFailed},
		{"timed out", domain.CollectionRun{PostsCreated: 1}, fmt.Errorf("fetch: %w", context.DeadlineExceeded), domain.OutcomeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := tt.run
			assert.Equal(t, tt.want, outcome(&run, tt.err))
		})
	}
}

func TestParseDailyAt(t *testing.T) {
	h, m, err := parseDailyAt("03:30")
	require.NoError(t, err)
	assert.Equal(t, uint(3), h)
	assert.Equal(t, uint(30), m)

	_, _, err = parseDailyAt("3am")
	assert.Error(t, err)
}

func TestScheduleDailyBatchStopsWithContext(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.collector.ScheduleDailyBatch(ctx))
	require.NotNil(t, h.collector.Scheduler)
	require.Len(t, h.collector.Scheduler.Jobs(), 1)
	cancel()
}

func TestCollectClosesAbandonedRuns(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	require.NoError(t, h.repo.RecordRun(ctx, domain.CollectionRun{
		ID:        "crashed",
		AccountID: acc.ID,
		Trigger:   domain.TriggerScheduled,
		StartedAt: now.Add(-6 * time.Hour),
		Outcome:   domain.OutcomeRunning,
	}))

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)

	runs := h.repo.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "crashed", runs[0].ID)
	assert.Equal(t, domain.OutcomeFailed, runs[0].Outcome)
	assert.Equal(t, abandonedReason, runs[0].Error)
	require.NotNil(t, runs[0].FinishedAt)
	assert.True(t, runs[0].FinishedAt.Equal(now))
	assert.Equal(t, report.RunID, runs[1].ID)
	assert.Equal(t, domain.OutcomeSuccess, runs[1].Outcome)
}

func TestCollectContinuesWhenAccountSnapshotIsRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.repo.OnAppendAccountSnapshot = func(domain.AccountSnapshot) error {
		return errors.New("check constraint violated")
	}

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.RawPost{rawPost("p1", "2025-06-10T01:00:00Z")}, nil)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 1, report.PostsCreated)
	assert.Empty(t, h.repo.AccountSnapshots())
}

func TestCollectStopsWhenAccountSnapshotStoreIsUnreachable(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.repo.OnAppendAccountSnapshot = func(domain.AccountSnapshot) error {
		return fmt.Errorf("dial tcp: %w", collection.ErrUnavailable)
	}

	h.profileOK()

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.Error, "failed to store account snapshot")
	assert.Empty(t, h.repo.Posts())
}

func TestManualRefreshDryRunWritesNothing(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	invalid := rawPost("p2", "2025-06-09T08:00:00+0000")
	invalid.MediaType = ""
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.RawPost{rawPost("p1", "2025-06-10T08:00:00+0000"), invalid}, nil)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 2, report.PostsFetched)
	assert.Equal(t, 1, report.PostsRejected)
	assert.Zero(t, report.PostsCreated)

	assert.Empty(t, h.repo.Posts())
	assert.Empty(t, h.repo.Snapshots())
	assert.Empty(t, h.repo.AccountSnapshots())
	assert.Empty(t, h.repo.Runs())

	stored, err := h.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastSyncedAt)

	daily, err := h.repo.GetDailyStatsForMonth(ctx, acc.ID, now)
	require.NoError(t, err)
	assert.Empty(t, daily)
}

func TestManualRefreshDryRunKeepsTokenOnAuthFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.source.EXPECT().FetchProfile(gomock.Any(), gomock.Any()).
		Return(domain.RawProfile{}, instagram.ErrAuthInvalid)

	report, err := h.collector.ManualRefresh(ctx, collector.RefreshRequest{AccountID: acc.ID, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, report.Outcome)

	stored, err := h.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.TokenValid)
}

func TestRunDailyBatchCollectsTargetDayInsights(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()
	yesterday := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

	h.source.EXPECT().FetchProfile(gomock.Any(), gomock.Any()).
		Return(domain.RawProfile{}, fmt.Errorf("graph api: %w", instagram.ErrTransient))
	h.source.EXPECT().FetchAccountInsights(gomock.Any(), gomock.Any(), yesterday).
		Return(map[string]int64{"reach": 4800, "follower_count": 1250}, nil)
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil)

	report, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09", report.TargetDate)
	require.Len(t, report.Accounts, 1)
	require.NotNil(t, report.Accounts[0].Report)
	assert.Contains(t, report.Accounts[0].Report.AffectedDays, "2025-06-09")

	insight, err := h.repo.GetAccountInsight(ctx, acc.ID, yesterday)
	require.NoError(t, err)
	require.NotNil(t, insight)
	assert.Equal(t, int64(4800), insight.Reach)

	daily, err := h.repo.GetDailyStatsForMonth(ctx, acc.ID, now)
	require.NoError(t, err)
	var found bool
	for _, d := range daily {
		if d.Day.Equal(yesterday) {
			found = true
			assert.Equal(t, int64(1250), d.FollowersCount)
			assert.Equal(t, int64(4800), d.AccountReach)
			assert.Equal(t, `["insights_api","posts_api"]`, d.DataSources)
		}
	}
	assert.True(t, found, "no daily stat for %s", yesterday)
}

func TestRunDailyBatchKeepsGoingWithoutAccountInsights(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()
	target := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	h.source.EXPECT().FetchProfile(gomock.Any(), gomock.Any()).
		Return(domain.RawProfile{FollowersCount: 900}, nil)
	h.source.EXPECT().FetchAccountInsights(gomock.Any(), gomock.Any(), target).
		Return(nil, fmt.Errorf("graph api: %w", instagram.ErrTransient))
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil)

	report, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{TargetDate: target})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", report.TargetDate)
	require.Len(t, report.Accounts, 1)
	assert.True(t, report.Accounts[0].Succeeded())

	insight, err := h.repo.GetAccountInsight(ctx, acc.ID, target)
	require.NoError(t, err)
	assert.Nil(t, insight)
}

func TestRunDailyBatchRejectsBadTargetDate(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{TargetDate: now.AddDate(0, 0, 1)})
	assert.True(t, errors.IsValidation(err))

	_, err = h.collector.RunDailyBatch(ctx, collector.BatchRequest{TargetDate: now.AddDate(0, 0, -91)})
	assert.True(t, errors.IsValidation(err))

	assert.Nil(t, h.collector.DailyStatus().StartedAt)
}

func TestRunDailyBatchDryRun(t *testing.T) {
	h := newHarness(t, testConfig())
	acc := h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.RawPost{rawPost("p1", "2025-06-10T01:00:00Z")}, nil)

	report, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	require.Len(t, report.Accounts, 1)
	assert.True(t, report.Accounts[0].Report.DryRun)
	assert.Equal(t, 1, report.Accounts[0].Report.PostsFetched)

	assert.Empty(t, h.repo.Posts())
	assert.Empty(t, h.repo.Runs())
	stored, err := h.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastSyncedAt)

	status := h.collector.DailyStatus()
	require.NotNil(t, status.LastSummary)
	assert.True(t, status.LastSummary.DryRun)
}

func TestRunDailyBatchIsExclusiveAndReportsStatus(t *testing.T) {
	h := newHarness(t, testConfig())
	h.account(t, "brand")
	ctx := context.Background()

	h.profileOK()
	entered := make(chan struct{})
	release := make(chan struct{})
	h.source.EXPECT().FetchRecentPosts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.Account, time.Time, int) ([]domain.RawPost, error) {
			close(entered)
			<-release
			return nil, nil
		}).
		Times(1)

	var (
		wg     sync.WaitGroup
		first  *collector.BatchReport
		errRun error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, errRun = h.collector.RunDailyBatch(ctx, collector.BatchRequest{})
	}()
	<-entered

	status := h.collector.DailyStatus()
	assert.True(t, status.Running)
	require.NotNil(t, status.StartedAt)
	assert.True(t, status.StartedAt.Equal(now))

	_, err := h.collector.RunDailyBatch(ctx, collector.BatchRequest{})
	assert.ErrorIs(t, err, collector.ErrBatchRunning)
	assert.True(t, errors.IsLockConflict(err))

	close(release)
	wg.Wait()
	require.NoError(t, errRun)
	assert.Equal(t, collector.StatusCompleted, first.Status)

	status = h.collector.DailyStatus()
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.CompletedAt)
	require.NotNil(t, status.LastSummary)
	assert.Equal(t, 1, status.LastSummary.Succeeded)
	assert.Equal(t, "2025-06-09", status.LastSummary.TargetDate)
}

func TestTargetDateUsesCollectorTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.Timezone = "Asia/Ho_Chi_Minh"
	h := newHarness(t, cfg)

	// 2025-06-10 20:00 UTC is already 2025-06-11 in Ho Chi Minh City.
	day, err := h.collector.targetDate(time.Time{}, time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), day)
}
