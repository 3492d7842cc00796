package collection

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
)

var accountColumns = []string{
	"id", "external_id", "username", "display_name", "active",
	"credential_ref", "token_valid", "last_synced_at", "created_at",
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.ExternalID, &a.Username, &a.DisplayName, &a.Active,
		&a.CredentialRef, &a.TokenValid, &a.LastSyncedAt, &a.CreatedAt)
	return a, err
}

// UpsertAccount inserts an account or refreshes its profile fields
func (p *Pgx) UpsertAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	query, args, err := repositories.SqBuilder.
		Insert("accounts").
		Columns("id", "external_id", "username", "display_name", "active", "credential_ref", "token_valid").
		Values(newID(account.ID), account.ExternalID, account.Username, account.DisplayName,
			account.Active, account.CredentialRef, account.TokenValid).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			active = EXCLUDED.active,
			credential_ref = EXCLUDED.credential_ref,
			token_valid = EXCLUDED.token_valid
			RETURNING ` + joinColumns(accountColumns)).
		ToSql()
	if err != nil {
		return domain.Account{}, repositories.ErrBadQuery
	}

	stored, err := scanAccount(p.q.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Account{}, storeErr("upsert account", err)
	}
	return stored, nil
}

// GetAccount returns ErrNotFound for an unknown id
func (p *Pgx) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Account{}, ErrNotFound
	}

	query, args, err := repositories.SqBuilder.
		Select(accountColumns...).
		From("accounts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Account{}, repositories.ErrBadQuery
	}

	a, err := scanAccount(p.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, ErrNotFound
		}
		return domain.Account{}, storeErr("get account", err)
	}
	return a, nil
}

func (p *Pgx) GetActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	query, args, err := repositories.SqBuilder.
		Select(accountColumns...).
		From("accounts").
		Where(sq.Eq{"active": true}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("get active accounts", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, storeErr("scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get active accounts", err)
	}
	return accounts, nil
}

func (p *Pgx) MarkAccountSynced(ctx context.Context, id string, at time.Time) error {
	return p.updateAccount(ctx, "mark account synced", id, sq.Eq{"last_synced_at": at.UTC()})
}

func (p *Pgx) SetAccountTokenValid(ctx context.Context, id string, valid bool) error {
	return p.updateAccount(ctx, "set token valid", id, sq.Eq{"token_valid": valid})
}

func (p *Pgx) updateAccount(ctx context.Context, op, id string, set sq.Eq) error {
	query, args, err := repositories.SqBuilder.
		Update("accounts").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return repositories.ErrBadQuery
	}

	tag, err := p.q.Exec(ctx, query, args...)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Pgx) AppendAccountSnapshot(ctx context.Context, snap domain.AccountSnapshot) (domain.AccountSnapshot, error) {
	snap.ID = newID(snap.ID)
	snap.RecordedAt = snap.RecordedAt.UTC()

	query, args, err := repositories.SqBuilder.
		Insert("account_snapshots").
		Columns("id", "account_id", "followers_count", "following_count", "media_count", "recorded_at").
		Values(snap.ID, snap.AccountID, snap.FollowersCount, snap.FollowingCount, snap.MediaCount, snap.RecordedAt).
		ToSql()
	if err != nil {
		return domain.AccountSnapshot{}, repositories.ErrBadQuery
	}

	if _, err := p.q.Exec(ctx, query, args...); err != nil {
		return domain.AccountSnapshot{}, storeErr("append account snapshot", err)
	}
	return snap, nil
}

func (p *Pgx) GetLatestAccountSnapshot(ctx context.Context, accountID string, atOrBefore time.Time) (*domain.AccountSnapshot, error) {
	query, args, err := repositories.SqBuilder.
		Select("id", "account_id", "followers_count", "following_count", "media_count", "recorded_at").
		From("account_snapshots").
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.LtOrEq{"recorded_at": atOrBefore.UTC()}).
		OrderBy("recorded_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	var s domain.AccountSnapshot
	err = p.q.QueryRow(ctx, query, args...).
		Scan(&s.ID, &s.AccountID, &s.FollowersCount, &s.FollowingCount, &s.MediaCount, &s.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get latest account snapshot", err)
	}
	s.RecordedAt = s.RecordedAt.UTC()
	return &s, nil
}

// UpsertAccountInsight replaces the insights of (account, day)
func (p *Pgx) UpsertAccountInsight(ctx context.Context, in domain.AccountInsight) error {
	query, args, err := repositories.SqBuilder.
		Insert("account_insights").
		Columns("account_id", "day", "reach", "follower_count", "recorded_at").
		Values(in.AccountID, DayStart(in.Day), in.Reach, in.FollowerCount, in.RecordedAt.UTC()).
		Suffix(`ON CONFLICT (account_id, day) DO UPDATE SET
			reach = EXCLUDED.reach,
			follower_count = EXCLUDED.follower_count,
			recorded_at = EXCLUDED.recorded_at`).
		ToSql()
	if err != nil {
		return repositories.ErrBadQuery
	}

	if _, err := p.q.Exec(ctx, query, args...); err != nil {
		return storeErr("upsert account insight", err)
	}
	return nil
}

func (p *Pgx) GetAccountInsight(ctx context.Context, accountID string, day time.Time) (*domain.AccountInsight, error) {
	query, args, err := repositories.SqBuilder.
		Select("account_id", "day", "reach", "follower_count", "recorded_at").
		From("account_insights").
		Where(sq.Eq{"account_id": accountID, "day": DayStart(day)}).
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	var in domain.AccountInsight
	err = p.q.QueryRow(ctx, query, args...).Scan(&in.AccountID, &in.Day, &in.Reach, &in.FollowerCount, &in.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get account insight", err)
	}
	in.Day = DayStart(in.Day)
	in.RecordedAt = in.RecordedAt.UTC()
	return &in, nil
}
