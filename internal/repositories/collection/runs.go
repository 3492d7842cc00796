package collection

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
)

var runColumns = []string{
	"id", "account_id", "trigger", "window_days", "max_posts", "since", "started_at", "finished_at",
	"outcome", "posts_fetched", "posts_created", "posts_updated", "posts_rejected", "posts_failed",
	"affected_days", "error",
}

// RecordRun inserts the run or overwrites its mutable fields when the id exists
func (p *Pgx) RecordRun(ctx context.Context, run domain.CollectionRun) error {
	if run.AffectedDays == nil {
		run.AffectedDays = []time.Time{}
	}
	query, args, err := repositories.SqBuilder.
		Insert("collection_runs").
		Columns(runColumns...).
		Values(run.ID, run.AccountID, string(run.Trigger), run.WindowDays, run.MaxPosts, run.Since.UTC(),
			run.StartedAt.UTC(), run.FinishedAt, string(run.Outcome), run.PostsFetched, run.PostsCreated,
			run.PostsUpdated, run.PostsRejected, run.PostsFailed, run.AffectedDays, run.Error).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			outcome = EXCLUDED.outcome,
			posts_fetched = EXCLUDED.posts_fetched,
			posts_created = EXCLUDED.posts_created,
			posts_updated = EXCLUDED.posts_updated,
			posts_rejected = EXCLUDED.posts_rejected,
			posts_failed = EXCLUDED.posts_failed,
			affected_days = EXCLUDED.affected_days,
			error = EXCLUDED.error`).
		ToSql()
	if err != nil {
		return repositories.ErrBadQuery
	}

	if _, err := p.q.Exec(ctx, query, args...); err != nil {
		return storeErr("record run", err)
	}
	return nil
}

func (p *Pgx) AbandonRunningRuns(ctx context.Context, accountID string, finishedAt time.Time, reason string) (int, error) {
	query, args, err := repositories.SqBuilder.
		Update("collection_runs").
		SetMap(sq.Eq{
			"outcome":     string(domain.OutcomeFailed),
			"finished_at": finishedAt.UTC(),
			"error":       reason,
		}).
		Where(sq.Eq{"account_id": accountID, "outcome": string(domain.OutcomeRunning)}).
		ToSql()
	if err != nil {
		return 0, repositories.ErrBadQuery
	}

	tag, err := p.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, storeErr("abandon running runs", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Pgx) GetLastRun(ctx context.Context, accountID string, outcomes ...domain.RunOutcome) (*domain.CollectionRun, error) {
	b := repositories.SqBuilder.
		Select(runColumns...).
		From("collection_runs").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("started_at DESC").
		Limit(1)
	if len(outcomes) > 0 {
		values := make([]string, len(outcomes))
		for i, o := range outcomes {
			values[i] = string(o)
		}
		b = b.Where(sq.Eq{"outcome": values})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	var (
		run              domain.CollectionRun
		trigger, outcome string
	)
	err = p.q.QueryRow(ctx, query, args...).Scan(&run.ID, &run.AccountID, &trigger, &run.WindowDays,
		&run.MaxPosts, &run.Since, &run.StartedAt, &run.FinishedAt, &outcome, &run.PostsFetched,
		&run.PostsCreated, &run.PostsUpdated, &run.PostsRejected, &run.PostsFailed, &run.AffectedDays, &run.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get last run", err)
	}
	run.Trigger = domain.RunTrigger(trigger)
	run.Outcome = domain.RunOutcome(outcome)
	run.StartedAt = run.StartedAt.UTC()
	run.Since = run.Since.UTC()
	return &run, nil
}
