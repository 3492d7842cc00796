package collection

import (
	"context"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
)

var (
	ErrNotFound      = errors.WrapWithCode(errors.ErrNotFound, "collection_not_found", "record not found")
	ErrAlreadyExists = errors.New("record already exists")
	// ErrUnavailable means the store could not be reached at all.
	ErrUnavailable = errors.WrapWithCode(errors.ErrPersistence, "collection_unavailable", "store unavailable")
)

type Store interface {
	// UpsertAccount inserts an account or refreshes its profile fields, keyed on the external id.
	UpsertAccount(ctx context.Context, account domain.Account) (domain.Account, error)
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	GetActiveAccounts(ctx context.Context) ([]domain.Account, error)
	MarkAccountSynced(ctx context.Context, id string, at time.Time) error
	SetAccountTokenValid(ctx context.Context, id string, valid bool) error

	AppendAccountSnapshot(ctx context.Context, snap domain.AccountSnapshot) (domain.AccountSnapshot, error)
	// GetLatestAccountSnapshot returns nil when nothing was recorded at or before atOrBefore.
	GetLatestAccountSnapshot(ctx context.Context, accountID string, atOrBefore time.Time) (*domain.AccountSnapshot, error)
	UpsertAccountInsight(ctx context.Context, insight domain.AccountInsight) error
	// GetAccountInsight returns nil when the day has no insights.
	GetAccountInsight(ctx context.Context, accountID string, day time.Time) (*domain.AccountInsight, error)

	// UpsertPost stores a post once per external id. Later calls only touch
	// last_seen_at and report created=false.
	UpsertPost(ctx context.Context, post domain.Post) (domain.Post, bool, error)
	AppendMetricSnapshot(ctx context.Context, snap domain.MetricSnapshot) (domain.MetricSnapshot, error)
	// GetDaySnapshots returns, for each post of the account, its latest snapshot recorded in [from, to).
	GetDaySnapshots(ctx context.Context, accountID string, from, to time.Time) ([]domain.PostSnapshot, error)
	// ListPostsPublished returns posts of the account with posted_at in [from, to).
	ListPostsPublished(ctx context.Context, accountID string, from, to time.Time) ([]domain.Post, error)
	// ListPostsWithoutSnapshots returns posts published at or after since that
	// have no metric snapshot at all, oldest first.
	ListPostsWithoutSnapshots(ctx context.Context, accountID string, since time.Time) ([]domain.Post, error)

	UpsertDailyStat(ctx context.Context, stat domain.DailyStat) error
	GetDailyStatsForMonth(ctx context.Context, accountID string, month time.Time) ([]domain.DailyStat, error)
	UpsertMonthlyStat(ctx context.Context, stat domain.MonthlyStat) error
	// GetMonthlyStat returns nil when the month has no row.
	GetMonthlyStat(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error)

	RecordRun(ctx context.Context, run domain.CollectionRun) error
	// AbandonRunningRuns closes every run of the account still marked running
	// as failed with reason, and returns how many it closed.
	AbandonRunningRuns(ctx context.Context, accountID string, finishedAt time.Time, reason string) (int, error)
	// GetLastRun returns the most recently started run with one of the given
	// outcomes (any outcome when none given), or nil.
	GetLastRun(ctx context.Context, accountID string, outcomes ...domain.RunOutcome) (*domain.CollectionRun, error)
}

type Repository interface {
	Store
	// InTx runs fn against a transactional store. The transaction commits
	// only when fn returns nil.
	InTx(ctx context.Context, fn func(Store) error) error
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
