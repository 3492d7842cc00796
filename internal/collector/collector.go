package collector

import (
	"context"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
)

var (
	ErrAccountNotFound = errors.WrapWithCode(errors.ErrNotFound, "account_not_found", "unknown or inactive account")
	ErrInvalidRequest  = errors.WrapWithCode(errors.ErrValidation, "invalid_collection_request", "invalid collection request")
	ErrBatchRunning    = errors.WrapWithCode(errors.ErrLockConflict, "batch_running", "daily collection batch already running")
)

const (
	MaxWindowDays    = 90
	MaxPostsLimit    = 200
	MaxBackfillPosts = 1000

	DefaultMissingMetricsDays = 30
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RefreshRequest asks for one account to be collected now. Zero WindowDays
// and MaxPosts fall back to the configured defaults. A DryRun fetches and
// normalizes without writing anything.
type RefreshRequest struct {
	AccountID  string
	WindowDays int
	MaxPosts   int
	Force      bool
	DryRun     bool
}

// BatchRequest selects the accounts of a daily batch, all active ones when
// AccountIDs is empty. A zero TargetDate means yesterday in the collector
// timezone; account insights are collected for that day.
type BatchRequest struct {
	AccountIDs []string
	TargetDate time.Time
	DryRun     bool
}

// BackfillRequest collects the posts of one account published between
// StartDate and EndDate, both inclusive days.
type BackfillRequest struct {
	AccountID string
	StartDate time.Time
	EndDate   time.Time
	MaxPosts  int
}

// MissingMetricsRequest fills in metrics for posts of the last DaysBack
// days that have never been snapshotted.
type MissingMetricsRequest struct {
	AccountID string
	DaysBack  int
}

type RunReport struct {
	RunID         string            `json:"run_id"`
	AccountID     string            `json:"account_id"`
	Trigger       domain.RunTrigger `json:"trigger"`
	Outcome       domain.RunOutcome `json:"outcome"`
	Since         time.Time         `json:"since"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	PostsFetched  int               `json:"posts_fetched"`
	PostsCreated  int               `json:"posts_created"`
	PostsUpdated  int               `json:"posts_updated"`
	PostsRejected int               `json:"posts_rejected"`
	PostsFailed   int               `json:"posts_failed"`
	AffectedDays  []string          `json:"affected_days"`
	DryRun        bool              `json:"dry_run,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Succeeded reports whether the run stored what it fetched, fully or partly.
func (r *RunReport) Succeeded() bool {
	return r.Outcome == domain.OutcomeSuccess || r.Outcome == domain.OutcomePartial
}

func NewRunReport(run domain.CollectionRun) *RunReport {
	r := &RunReport{
		RunID:         run.ID,
		AccountID:     run.AccountID,
		Trigger:       run.Trigger,
		Outcome:       run.Outcome,
		Since:         run.Since,
		StartedAt:     run.StartedAt,
		PostsFetched:  run.PostsFetched,
		PostsCreated:  run.PostsCreated,
		PostsUpdated:  run.PostsUpdated,
		PostsRejected: run.PostsRejected,
		PostsFailed:   run.PostsFailed,
		AffectedDays:  make([]string, 0, len(run.AffectedDays)),
		Error:         run.Error,
	}
	if run.FinishedAt != nil {
		r.FinishedAt = *run.FinishedAt
	}
	for _, d := range run.AffectedDays {
		r.AffectedDays = append(r.AffectedDays, d.Format(time.DateOnly))
	}
	return r
}

// AccountOutcome is one account's line in a BatchReport. Skipped accounts
// were already being collected elsewhere and did not count as attempted.
type AccountOutcome struct {
	AccountID string     `json:"account_id"`
	Username  string     `json:"username"`
	Skipped   bool       `json:"skipped,omitempty"`
	Report    *RunReport `json:"report,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (o AccountOutcome) Succeeded() bool {
	return o.Report != nil && o.Report.Succeeded()
}

type BatchReport struct {
	Status     Status           `json:"status"`
	TargetDate string           `json:"target_date"`
	DryRun     bool             `json:"dry_run,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Accounts   []AccountOutcome `json:"accounts"`
}

func (b *BatchReport) Counts() (succeeded, failed, skipped int) {
	for _, a := range b.Accounts {
		switch {
		case a.Skipped:
			skipped++
		case a.Succeeded():
			succeeded++
		default:
			failed++
		}
	}
	return succeeded, failed, skipped
}

// BatchSummary is the condensed result of a finished daily batch.
type BatchSummary struct {
	Status     Status        `json:"status"`
	TargetDate string        `json:"target_date"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration_ns"`
}

func (b *BatchReport) Summary() *BatchSummary {
	succeeded, failed, skipped := b.Counts()
	return &BatchSummary{
		Status:     b.Status,
		TargetDate: b.TargetDate,
		DryRun:     b.DryRun,
		Succeeded:  succeeded,
		Failed:     failed,
		Skipped:    skipped,
		Duration:   b.FinishedAt.Sub(b.StartedAt),
	}
}

// DailyStatus describes the daily batch of this process.
type DailyStatus struct {
	Running     bool          `json:"running"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	LastSummary *BatchSummary `json:"last_summary,omitempty"`
}

// Client collects Instagram metrics for tracked accounts and keeps their
// rollups current.
type Client interface {
	// RunDailyBatch collects every requested account. One account failing
	// never stops the others. It returns ErrBatchRunning while another batch
	// of this process is in flight.
	RunDailyBatch(ctx context.Context, req BatchRequest) (*BatchReport, error)
	DailyStatus() DailyStatus
	// ManualRefresh collects one account now. It returns a *lock.DeniedError
	// when the account is already being collected or was collected too recently.
	ManualRefresh(ctx context.Context, req RefreshRequest) (*RunReport, error)
	Backfill(ctx context.Context, req BackfillRequest) (*RunReport, error)
	CollectMissingMetrics(ctx context.Context, req MissingMetricsRequest) (*RunReport, error)
	ScheduleDailyBatch(ctx context.Context) error
}
