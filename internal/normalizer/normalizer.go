// Package normalizer turns raw provider records into canonical posts and
// metric snapshots. It performs no I/O.
package normalizer

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/shopspring/decimal"
)

const MaxCaptionRunes = 2000

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// ValidationError reports a raw record that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid raw post: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return errors.ErrValidation
}

// Normalize validates raw and maps it to a Post and a MetricSnapshot recorded at recordedAt.
// IDs of the returned records are left empty for the repository to assign.
func Normalize(accountID string, raw domain.RawPost, recordedAt time.Time) (domain.Post, domain.MetricSnapshot, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return domain.Post{}, domain.MetricSnapshot{}, &ValidationError{Field: "id", Reason: "is missing"}
	}
	if strings.TrimSpace(raw.MediaType) == "" {
		return domain.Post{}, domain.MetricSnapshot{}, &ValidationError{Field: "media_type", Reason: "is missing"}
	}
	if strings.TrimSpace(raw.Timestamp) == "" {
		return domain.Post{}, domain.MetricSnapshot{}, &ValidationError{Field: "timestamp", Reason: "is missing"}
	}
	postedAt, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return domain.Post{}, domain.MetricSnapshot{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}

	post := domain.Post{
		AccountID:    accountID,
		ExternalID:   raw.ID,
		MediaType:    MapMediaType(raw.MediaType, raw.MediaProductType),
		Caption:      truncateRunes(raw.Caption, MaxCaptionRunes),
		MediaURL:     raw.MediaURL,
		ThumbnailURL: raw.ThumbnailURL,
		Permalink:    raw.Permalink,
		PostedAt:     postedAt,
	}

	in := raw.Insights
	snap := domain.MetricSnapshot{
		Likes:              clamp(firstOf(in, raw.LikeCount, "likes")),
		Comments:           clamp(firstOf(in, raw.CommentsCount, "comments")),
		Saves:              clamp(firstOf(in, 0, "saved", "saves")),
		Shares:             clamp(firstOf(in, 0, "shares")),
		Views:              clamp(firstOf(in, 0, "views", "plays", "video_views")),
		Reach:              clamp(firstOf(in, 0, "reach")),
		ProfileVisits:      clamp(firstOf(in, 0, "profile_visits")),
		Follows:            clamp(firstOf(in, 0, "follows")),
		VideoViewTotalTime: clamp(firstOf(in, 0, "ig_reels_video_view_total_time", "video_view_total_time")),
		AvgWatchTime:       clamp(firstOf(in, 0, "ig_reels_avg_watch_time", "avg_watch_time")),
		RecordedAt:         recordedAt.UTC(),
	}
	snap.EngagementRate = EngagementRate(snap.Interactions(), snap.Reach)

	return post, snap, nil
}

// MapMediaType maps provider media strings to the closed enum. The product
// type wins because reels and stories are reported as VIDEO or IMAGE.
func MapMediaType(mediaType, productType string) domain.MediaType {
	switch strings.ToUpper(strings.TrimSpace(productType)) {
	case "REELS":
		return domain.MediaTypeReel
	case "STORY":
		return domain.MediaTypeStory
	}
	switch strings.ToUpper(strings.TrimSpace(mediaType)) {
	case "IMAGE":
		return domain.MediaTypeImage
	case "VIDEO":
		return domain.MediaTypeVideo
	case "CAROUSEL_ALBUM", "CAROUSEL":
		return domain.MediaTypeCarousel
	case "REELS", "REEL":
		return domain.MediaTypeReel
	case "STORY":
		return domain.MediaTypeStory
	default:
		return domain.MediaTypeOther
	}
}

// EngagementRate returns interactions / reach as a percentage rounded to two
// decimals, or 0 when reach is 0.
func EngagementRate(interactions, reach int64) float64 {
	if reach <= 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(interactions).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(reach), 2).
		Float64()
	return rate
}

// ParseTimestamp accepts RFC 3339 and the Graph API "+0000" offset form and returns UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable %q", s)
}

func firstOf(m map[string]int64, fallback int64, keys ...string) int64 {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return fallback
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
