package instagram

//go:generate go run go.uber.org/mock/mockgen -source=instagram.go -destination=mocks/mock.go

import (
	"context"
	"fmt"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/retry"
)

var (
	ErrAuthInvalid = errors.WrapWithCode(errors.ErrAuthInvalid, "instagram_auth", "instagram credential rejected")
	ErrTransient   = errors.WrapWithCode(errors.ErrTransient, "instagram_transient", "instagram temporarily unavailable")
)

// RateLimitedError is returned when the provider throttles the account.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("instagram rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return errors.ErrRateLimited
}

// Retryable maps a provider error onto retry.Do. Rate limits wait at least
// the provider's hint. Errors that are neither throttling nor transient stop
// the loop.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	var limited *RateLimitedError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent(err)
	case errors.As(err, &limited):
		return retry.After(err, limited.RetryAfter)
	case errors.IsRateLimited(err), errors.IsTransient(err):
		return err
	default:
		return retry.Permanent(err)
	}
}

// Source reads posts, insights and profile counters of an account from
// Instagram. Implementations retry single requests themselves; an error
// means the request is not worth repeating right away.
type Source interface {
	// FetchRecentPosts returns posts newest first, stopping at the first post
	// older than since or after maxPosts items.
	FetchRecentPosts(ctx context.Context, account domain.Account, since time.Time, maxPosts int) ([]domain.RawPost, error)
	// FetchPostsBetween is FetchRecentPosts limited to posts published
	// before until.
	FetchPostsBetween(ctx context.Context, account domain.Account, since, until time.Time, maxPosts int) ([]domain.RawPost, error)
	FetchProfile(ctx context.Context, account domain.Account) (domain.RawProfile, error)
	// FetchAccountInsights returns the account level metrics of one UTC day.
	FetchAccountInsights(ctx context.Context, account domain.Account, day time.Time) (map[string]int64, error)
	// FetchPostInsights returns the insights of one stored post.
	FetchPostInsights(ctx context.Context, account domain.Account, post domain.Post) (map[string]int64, error)
}
