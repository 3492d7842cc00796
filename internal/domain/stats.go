package domain

import "time"

// DailyStat is unique on (AccountID, Day). Day is midnight UTC.
type DailyStat struct {
	AccountID             string
	Day                   time.Time
	FollowersCount        int64
	FollowingCount        int64
	MediaCount            int64
	PostsCount            int64
	TotalLikes            int64
	TotalComments         int64
	TotalSaves            int64
	TotalShares           int64
	TotalViews            int64
	TotalReach            int64
	TotalProfileVisits    int64
	AccountReach          int64 // account level insights, 0 when not collected
	AvgEngagementRate     float64
	MediaTypeDistribution string // JSON object
	DataSources           string // JSON array
}

func (d DailyStat) Interactions() int64 {
	return d.TotalLikes + d.TotalComments + d.TotalSaves + d.TotalShares
}

// MonthlyStat is unique on (AccountID, Month). Month is the first day of the month, UTC.
type MonthlyStat struct {
	AccountID           string
	Month               time.Time
	DaysCovered         int
	AvgFollowers        float64
	AvgFollowing        float64
	FollowerGrowth      float64
	GrowthRate          float64
	TotalPosts          int64
	TotalLikes          int64
	TotalComments       int64
	TotalSaves          int64
	TotalShares         int64
	TotalViews          int64
	TotalReach          int64
	AvgEngagementRate   float64
	BestDay             *time.Time
	BestDayInteractions int64
	DailyTrend          string // JSON array
	MediaTypeTotals     string // JSON object
}

// YearOverYear holds percentage deltas between a month and the same month a year earlier.
type YearOverYear struct {
	AccountID       string
	Month           time.Time
	PreviousMonth   time.Time
	FollowersDelta  float64
	EngagementDelta float64
	PostsDelta      float64
	// Insufficient is set when either month has no stats; all deltas are zero then.
	Insufficient bool
}
