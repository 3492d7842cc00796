package domain

import "time"

type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeCarousel MediaType = "carousel"
	MediaTypeReel     MediaType = "reel"
	MediaTypeStory    MediaType = "story"
	MediaTypeOther    MediaType = "other"
)

// Post is immutable once stored; re-collection only refreshes last_seen_at.
type Post struct {
	ID           string
	AccountID    string
	ExternalID   string // Instagram media id
	MediaType    MediaType
	Caption      string
	MediaURL     string
	ThumbnailURL string
	Permalink    string
	PostedAt     time.Time
}

// MetricSnapshot is a point-in-time reading of a post's counters.
type MetricSnapshot struct {
	ID                 string
	PostID             string
	Likes              int64
	Comments           int64
	Saves              int64
	Shares             int64
	Views              int64
	Reach              int64
	ProfileVisits      int64
	Follows            int64
	VideoViewTotalTime int64 // milliseconds
	AvgWatchTime       int64 // milliseconds
	EngagementRate     float64
	RecordedAt         time.Time
}

// Interactions is likes + comments + saves + shares.
func (m MetricSnapshot) Interactions() int64 {
	return m.Likes + m.Comments + m.Saves + m.Shares
}

// PostSnapshot pairs a post with one of its snapshots.
type PostSnapshot struct {
	Post     Post
	Snapshot MetricSnapshot
}

// RawPost is a provider record before normalization.
type RawPost struct {
	ID               string
	MediaType        string
	MediaProductType string
	Timestamp        string
	Caption          string
	MediaURL         string
	ThumbnailURL     string
	Permalink        string
	LikeCount        int64
	CommentsCount    int64
	Insights         map[string]int64
}
