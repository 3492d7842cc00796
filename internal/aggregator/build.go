package aggregator

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/normalizer"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/shopspring/decimal"
)

const (
	SourceBasicFields = "basic_fields"
	SourceInsightsAPI = "insights_api"
	SourcePostsAPI    = "posts_api"
)

type trendPoint struct {
	Date           string  `json:"date"`
	Followers      int64   `json:"followers"`
	Posts          int64   `json:"posts"`
	Interactions   int64   `json:"interactions"`
	Reach          int64   `json:"reach"`
	EngagementRate float64 `json:"engagement_rate"`
}

// BuildDailyStat sums the latest snapshot of each post recorded that day.
// PostsCount and the media type distribution cover posts published that day.
// Profile counters win over the follower count of the account insights.
func BuildDailyStat(accountID string, day time.Time, profile *domain.AccountSnapshot, insight *domain.AccountInsight, snaps []domain.PostSnapshot, published []domain.Post) domain.DailyStat {
	stat := domain.DailyStat{
		AccountID:  accountID,
		Day:        collection.DayStart(day),
		PostsCount: int64(len(published)),
	}

	sources := []string{}
	if profile != nil {
		stat.FollowersCount = profile.FollowersCount
		stat.FollowingCount = profile.FollowingCount
		stat.MediaCount = profile.MediaCount
		sources = append(sources, SourceBasicFields)
	}
	if insight != nil {
		stat.AccountReach = insight.Reach
		if stat.FollowersCount == 0 {
			stat.FollowersCount = insight.FollowerCount
		}
		sources = append(sources, SourceInsightsAPI)
	}
	sources = append(sources, SourcePostsAPI)

	for _, ps := range snaps {
		s := ps.Snapshot
		stat.TotalLikes += s.Likes
		stat.TotalComments += s.Comments
		stat.TotalSaves += s.Saves
		stat.TotalShares += s.Shares
		stat.TotalViews += s.Views
		stat.TotalReach += s.Reach
		stat.TotalProfileVisits += s.ProfileVisits
	}
	stat.AvgEngagementRate = normalizer.EngagementRate(stat.Interactions(), stat.TotalReach)

	distribution := map[string]int64{}
	for _, p := range published {
		distribution[string(p.MediaType)]++
	}
	stat.MediaTypeDistribution = mustJSON(distribution)
	stat.DataSources = mustJSON(sources)

	return stat
}

// BuildMonthlyStat derives a month from its daily rows; prev holds the
// previous month's daily rows and only feeds follower growth.
func BuildMonthlyStat(accountID string, month time.Time, days, prev []domain.DailyStat) domain.MonthlyStat {
	stat := domain.MonthlyStat{
		AccountID:   accountID,
		Month:       collection.MonthStart(month),
		DaysCovered: len(days),
	}

	followers := averagePositive(days, func(d domain.DailyStat) int64 { return d.FollowersCount })
	stat.AvgFollowers = round2(followers)
	stat.AvgFollowing = round2(averagePositive(days, func(d domain.DailyStat) int64 { return d.FollowingCount }))

	prevFollowers := averagePositive(prev, func(d domain.DailyStat) int64 { return d.FollowersCount })
	if prevFollowers > 0 {
		growth := decimal.NewFromFloat(followers).Sub(decimal.NewFromFloat(prevFollowers))
		stat.FollowerGrowth, _ = growth.Round(2).Float64()
		stat.GrowthRate, _ = growth.Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromFloat(prevFollowers)).Round(2).Float64()
	}

	mediaTotals := map[string]int64{}
	trend := make([]trendPoint, 0, len(days))
	var best *domain.DailyStat
	for i := range days {
		d := days[i]
		stat.TotalPosts += d.PostsCount
		stat.TotalLikes += d.TotalLikes
		stat.TotalComments += d.TotalComments
		stat.TotalSaves += d.TotalSaves
		stat.TotalShares += d.TotalShares
		stat.TotalViews += d.TotalViews
		stat.TotalReach += d.TotalReach

		if d.Interactions() > 0 && (best == nil || d.Interactions() > best.Interactions() ||
			(d.Interactions() == best.Interactions() && d.Day.Before(best.Day))) {
			best = &days[i]
		}

		var dist map[string]int64
		if err := json.Unmarshal([]byte(d.MediaTypeDistribution), &dist); err == nil {
			for k, v := range dist {
				mediaTotals[k] += v
			}
		}

		trend = append(trend, trendPoint{
			Date:           collection.DayStart(d.Day).Format(time.DateOnly),
			Followers:      d.FollowersCount,
			Posts:          d.PostsCount,
			Interactions:   d.Interactions(),
			Reach:          d.TotalReach,
			EngagementRate: d.AvgEngagementRate,
		})
	}

	interactions := stat.TotalLikes + stat.TotalComments + stat.TotalSaves + stat.TotalShares
	stat.AvgEngagementRate = normalizer.EngagementRate(interactions, stat.TotalReach)

	if best != nil {
		bestDay := collection.DayStart(best.Day)
		stat.BestDay = &bestDay
		stat.BestDayInteractions = best.Interactions()
	}

	sortTrend(trend)
	stat.DailyTrend = mustJSON(trend)
	stat.MediaTypeTotals = mustJSON(mediaTotals)
	return stat
}

// BuildYearOverYear returns percentage deltas rounded to two decimals.
func BuildYearOverYear(accountID string, month time.Time, current, previous *domain.MonthlyStat) domain.YearOverYear {
	month = collection.MonthStart(month)
	yoy := domain.YearOverYear{
		AccountID:     accountID,
		Month:         month,
		PreviousMonth: month.AddDate(-1, 0, 0),
	}
	if current == nil || previous == nil {
		yoy.Insufficient = true
		return yoy
	}

	yoy.FollowersDelta = percentChange(current.AvgFollowers, previous.AvgFollowers)
	yoy.EngagementDelta = percentChange(current.AvgEngagementRate, previous.AvgEngagementRate)
	yoy.PostsDelta = percentChange(float64(current.TotalPosts), float64(previous.TotalPosts))
	return yoy
}

func percentChange(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	v, _ := decimal.NewFromFloat(cur).Sub(decimal.NewFromFloat(prev)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(prev)).
		Round(2).
		Float64()
	return v
}

func averagePositive(days []domain.DailyStat, value func(domain.DailyStat) int64) float64 {
	var sum, n int64
	for _, d := range days {
		if v := value(d); v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	avg, _ := decimal.NewFromInt(sum).Div(decimal.NewFromInt(n)).Float64()
	return avg
}

func round2(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return v
}

func sortTrend(trend []trendPoint) {
	sort.SliceStable(trend, func(i, j int) bool { return trend[i].Date < trend[j].Date })
}

// mustJSON marshals values that cannot fail (maps with string keys, slices of plain structs).
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
