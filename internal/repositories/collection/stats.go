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

var dailyColumns = []string{
	"account_id", "day", "followers_count", "following_count", "media_count", "posts_count",
	"total_likes", "total_comments", "total_saves", "total_shares", "total_views", "total_reach",
	"total_profile_visits", "account_reach", "avg_engagement_rate", "media_type_distribution", "data_sources",
}

var monthlyColumns = []string{
	"account_id", "month", "days_covered", "avg_followers", "avg_following", "follower_growth",
	"growth_rate", "total_posts", "total_likes", "total_comments", "total_saves", "total_shares",
	"total_views", "total_reach", "avg_engagement_rate", "best_day", "best_day_interactions",
	"daily_trend", "media_type_totals",
}

// excludedSet builds "col = EXCLUDED.col" for every column outside the conflict key.
func excludedSet(cols []string, key ...string) string {
	skip := make(map[string]bool, len(key))
	for _, k := range key {
		skip[k] = true
	}
	var set []string
	for _, c := range cols {
		if !skip[c] {
			set = append(set, c+" = EXCLUDED."+c)
		}
	}
	set = append(set, "updated_at = now()")
	return joinColumns(set)
}

func (p *Pgx) UpsertDailyStat(ctx context.Context, s domain.DailyStat) error {
	query, args, err := repositories.SqBuilder.
		Insert("daily_stats").
		Columns(dailyColumns...).
		Values(s.AccountID, DayStart(s.Day), s.FollowersCount, s.FollowingCount, s.MediaCount, s.PostsCount,
			s.TotalLikes, s.TotalComments, s.TotalSaves, s.TotalShares, s.TotalViews, s.TotalReach,
			s.TotalProfileVisits, s.AccountReach, s.AvgEngagementRate, s.MediaTypeDistribution, s.DataSources).
		Suffix("ON CONFLICT (account_id, day) DO UPDATE SET " + excludedSet(dailyColumns, "account_id", "day")).
		ToSql()
	if err != nil {
		return repositories.ErrBadQuery
	}

	if _, err := p.q.Exec(ctx, query, args...); err != nil {
		return storeErr("upsert daily stat", err)
	}
	return nil
}

// GetDailyStatsForMonth returns the month's rows ordered by day
func (p *Pgx) GetDailyStatsForMonth(ctx context.Context, accountID string, month time.Time) ([]domain.DailyStat, error) {
	start := MonthStart(month)
	query, args, err := repositories.SqBuilder.
		Select(dailyColumns...).
		From("daily_stats").
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.GtOrEq{"day": start}).
		Where(sq.Lt{"day": start.AddDate(0, 1, 0)}).
		OrderBy("day").
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("get daily stats", err)
	}
	defer rows.Close()

	var stats []domain.DailyStat
	for rows.Next() {
		var s domain.DailyStat
		if err := rows.Scan(&s.AccountID, &s.Day, &s.FollowersCount, &s.FollowingCount, &s.MediaCount, &s.PostsCount,
			&s.TotalLikes, &s.TotalComments, &s.TotalSaves, &s.TotalShares, &s.TotalViews, &s.TotalReach,
			&s.TotalProfileVisits, &s.AccountReach, &s.AvgEngagementRate, &s.MediaTypeDistribution, &s.DataSources); err != nil {
			return nil, storeErr("scan daily stat", err)
		}
		s.Day = DayStart(s.Day)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get daily stats", err)
	}
	return stats, nil
}

func (p *Pgx) UpsertMonthlyStat(ctx context.Context, s domain.MonthlyStat) error {
	var bestDay *time.Time
	if s.BestDay != nil {
		d := DayStart(*s.BestDay)
		bestDay = &d
	}

	query, args, err := repositories.SqBuilder.
		Insert("monthly_stats").
		Columns(monthlyColumns...).
		Values(s.AccountID, MonthStart(s.Month), s.DaysCovered, s.AvgFollowers, s.AvgFollowing, s.FollowerGrowth,
			s.GrowthRate, s.TotalPosts, s.TotalLikes, s.TotalComments, s.TotalSaves, s.TotalShares,
			s.TotalViews, s.TotalReach, s.AvgEngagementRate, bestDay, s.BestDayInteractions,
			s.DailyTrend, s.MediaTypeTotals).
		Suffix("ON CONFLICT (account_id, month) DO UPDATE SET " + excludedSet(monthlyColumns, "account_id", "month")).
		ToSql()
	if err != nil {
		return repositories.ErrBadQuery
	}

	if _, err := p.q.Exec(ctx, query, args...); err != nil {
		return storeErr("upsert monthly stat", err)
	}
	return nil
}

func (p *Pgx) GetMonthlyStat(ctx context.Context, accountID string, month time.Time) (*domain.MonthlyStat, error) {
	query, args, err := repositories.SqBuilder.
		Select(monthlyColumns...).
		From("monthly_stats").
		Where(sq.Eq{"account_id": accountID, "month": MonthStart(month)}).
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	var s domain.MonthlyStat
	err = p.q.QueryRow(ctx, query, args...).Scan(&s.AccountID, &s.Month, &s.DaysCovered, &s.AvgFollowers,
		&s.AvgFollowing, &s.FollowerGrowth, &s.GrowthRate, &s.TotalPosts, &s.TotalLikes, &s.TotalComments,
		&s.TotalSaves, &s.TotalShares, &s.TotalViews, &s.TotalReach, &s.AvgEngagementRate, &s.BestDay,
		&s.BestDayInteractions, &s.DailyTrend, &s.MediaTypeTotals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get monthly stat", err)
	}
	s.Month = MonthStart(s.Month)
	return &s, nil
}
