package graphapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/instagram"
	"github.com/orgball2608/insta-metrics-collector/internal/normalizer"
	"github.com/orgball2608/insta-metrics-collector/internal/ratelimit"
	"github.com/orgball2608/insta-metrics-collector/pkg/config"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/orgball2608/insta-metrics-collector/pkg/retry"
	"go.uber.org/fx"
)

const (
	profileFields = "id,username,name,followers_count,follows_count,media_count"
	mediaFields   = "id,caption,media_type,media_product_type,media_url,thumbnail_url,permalink,timestamp,like_count,comments_count"

	// Only these two account metrics are served with period=day.
	accountMetrics = "follower_count,reach"

	defaultRetryAfter = 60 * time.Second
	maxBodyBytes      = 10 << 20
	graphTimeLayout   = "2006-01-02T15:04:05-0700"
)

type Settings struct {
	BaseURL    string
	APIVersion string
	PageSize   int
	MaxPages   int
	Retry      retry.Policy
}

type Opts struct {
	fx.In

	Config  *config.Config
	Logger  logger.Logger
	Limiter ratelimit.Limiter
}

// Client reads account data from the Instagram Graph API.
type Client struct {
	httpClient *http.Client
	settings   Settings
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

var _ instagram.Source = (*Client)(nil)

func New(opts Opts) *Client {
	return NewClient(
		&http.Client{Timeout: opts.Config.Instagram.RequestTimeout},
		Settings{
			BaseURL:    opts.Config.Instagram.BaseURL,
			APIVersion: opts.Config.Instagram.APIVersion,
			PageSize:   opts.Config.Instagram.PageSize,
			MaxPages:   opts.Config.Instagram.MaxPages,
			Retry:      retry.FromConfig(opts.Config),
		},
		opts.Limiter,
		opts.Logger,
	)
}

func NewClient(httpClient *http.Client, settings Settings, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if settings.PageSize <= 0 {
		settings.PageSize = 25
	}
	if settings.MaxPages <= 0 {
		settings.MaxPages = 20
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		settings:   settings,
		limiter:    limiter,
		logger:     log.WithComponent("graphapi"),
	}
}

type profileResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	FollowersCount int64  `json:"followers_count"`
	FollowsCount   int64  `json:"follows_count"`
	MediaCount     int64  `json:"media_count"`
}

func (c *Client) FetchProfile(ctx context.Context, account domain.Account) (domain.RawProfile, error) {
	var resp profileResponse
	params := url.Values{"fields": {profileFields}}
	if err := c.get(ctx, account, c.endpoint(account.ExternalID, params), &resp); err != nil {
		return domain.RawProfile{}, err
	}
	return domain.RawProfile{
		ID:             resp.ID,
		Username:       resp.Username,
		Name:           resp.Name,
		FollowersCount: resp.FollowersCount,
		FollowsCount:   resp.FollowsCount,
		MediaCount:     resp.MediaCount,
	}, nil
}

type mediaItem struct {
	ID               string `json:"id"`
	Caption          string `json:"caption"`
	MediaType        string `json:"media_type"`
	MediaProductType string `json:"media_product_type"`
	MediaURL         string `json:"media_url"`
	ThumbnailURL     string `json:"thumbnail_url"`
	Permalink        string `json:"permalink"`
	Timestamp        string `json:"timestamp"`
	LikeCount        int64  `json:"like_count"`
	CommentsCount    int64  `json:"comments_count"`
}

type mediaPage struct {
	Data   []mediaItem `json:"data"`
	Paging struct {
		Next string `json:"next,omitempty"`
	} `json:"paging"`
}

func (c *Client) FetchRecentPosts(ctx context.Context, account domain.Account, since time.Time, maxPosts int) ([]domain.RawPost, error) {
	return c.fetchPosts(ctx, account, since, time.Time{}, maxPosts)
}

// FetchPostsBetween pages through the feed like FetchRecentPosts but passes
// over posts published at or after until without fetching their insights.
func (c *Client) FetchPostsBetween(ctx context.Context, account domain.Account, since, until time.Time, maxPosts int) ([]domain.RawPost, error) {
	return c.fetchPosts(ctx, account, since, until, maxPosts)
}

func (c *Client) fetchPosts(ctx context.Context, account domain.Account, since, until time.Time, maxPosts int) ([]domain.RawPost, error) {
	params := url.Values{
		"fields": {mediaFields},
		"limit":  {strconv.Itoa(c.settings.PageSize)},
	}
	next := c.endpoint(account.ExternalID+"/media", params)

	var posts []domain.RawPost
	for page := 0; page < c.settings.MaxPages && next != ""; page++ {
		var feed mediaPage
		if err := c.get(ctx, account, next, &feed); err != nil {
			return nil, err
		}

		for _, item := range feed.Data {
			if ts, err := time.Parse(graphTimeLayout, item.Timestamp); err == nil {
				if ts.Before(since) {
					return posts, nil
				}
				if !until.IsZero() && !ts.Before(until) {
					continue
				}
			}

			raw := domain.RawPost{
				ID:               item.ID,
				MediaType:        item.MediaType,
				MediaProductType: item.MediaProductType,
				Timestamp:        item.Timestamp,
				Caption:          item.Caption,
				MediaURL:         item.MediaURL,
				ThumbnailURL:     item.ThumbnailURL,
				Permalink:        item.Permalink,
				LikeCount:        item.LikeCount,
				CommentsCount:    item.CommentsCount,
			}
			if item.ID != "" && item.MediaType != "" {
				insights, err := c.fetchInsights(ctx, account, item)
				if err != nil {
					return nil, err
				}
				raw.Insights = insights
			}

			posts = append(posts, raw)
			if len(posts) >= maxPosts {
				return posts, nil
			}
		}

		next = feed.Paging.Next
	}

	return posts, nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value int64 `json:"value"`
		} `json:"total_value,omitempty"`
	} `json:"data"`
}

func (r insightsResponse) values() map[string]int64 {
	out := make(map[string]int64, len(r.Data))
	for _, d := range r.Data {
		switch {
		case len(d.Values) > 0:
			out[d.Name] = d.Values[0].Value
		case d.TotalValue != nil:
			out[d.Name] = d.TotalValue.Value
		}
	}
	return out
}

func insightMetrics(kind domain.MediaType) []string {
	metrics := []string{"reach", "saved", "likes", "comments", "shares", "views"}
	switch kind {
	case domain.MediaTypeReel, domain.MediaTypeVideo:
		metrics = append(metrics, "ig_reels_video_view_total_time", "ig_reels_avg_watch_time")
	case domain.MediaTypeStory:
		metrics = []string{"reach", "shares", "views", "follows", "profile_visits"}
	default:
		metrics = append(metrics, "profile_visits", "follows")
	}
	return metrics
}

func (c *Client) postInsights(ctx context.Context, account domain.Account, mediaID string, kind domain.MediaType) (map[string]int64, error) {
	params := url.Values{"metric": {strings.Join(insightMetrics(kind), ",")}}

	var resp insightsResponse
	if err := c.get(ctx, account, c.endpoint(mediaID+"/insights", params), &resp); err != nil {
		return nil, err
	}
	return resp.values(), nil
}

// fetchInsights returns nil insights when the call fails for reasons local
// to the post, so the caller keeps the counters of the media fields. Failures
// of the credential, the rate limit or the context stop the whole fetch.
func (c *Client) fetchInsights(ctx context.Context, account domain.Account, item mediaItem) (map[string]int64, error) {
	insights, err := c.postInsights(ctx, account, item.ID, normalizer.MapMediaType(item.MediaType, item.MediaProductType))
	if err != nil {
		if errors.IsAuthInvalid(err) || errors.IsRateLimited(err) || isContextErr(err) || ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("Failed to fetch post insights, keeping media counters",
			"account_id", account.ID, "post_id", item.ID, "error", err)
		return nil, nil
	}
	return insights, nil
}

func (c *Client) FetchPostInsights(ctx context.Context, account domain.Account, post domain.Post) (map[string]int64, error) {
	return c.postInsights(ctx, account, post.ExternalID, post.MediaType)
}

// FetchAccountInsights reads follower_count and reach of one UTC day. Metrics
// the API does not report for that day are left out of the result.
func (c *Client) FetchAccountInsights(ctx context.Context, account domain.Account, day time.Time) (map[string]int64, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	params := url.Values{
		"metric": {accountMetrics},
		"period": {"day"},
		"since":  {strconv.FormatInt(day.Unix(), 10)},
		"until":  {strconv.FormatInt(day.AddDate(0, 0, 1).Unix(), 10)},
	}

	var resp insightsResponse
	if err := c.get(ctx, account, c.endpoint(account.ExternalID+"/insights", params), &resp); err != nil {
		return nil, err
	}
	return resp.values(), nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	return fmt.Sprintf("%s/%s/%s?%s", c.settings.BaseURL, c.settings.APIVersion, path, params.Encode())
}

// get performs a paced GET against rawURL, retrying that single request
// under the client's policy. Paging links already carry the token.
func (c *Client) get(ctx context.Context, account domain.Account, rawURL string, out any) error {
	return retry.Do(ctx, c.logger, "graph_get", func() error {
		return instagram.Retryable(c.getOnce(ctx, account, rawURL, out))
	}, c.settings.Retry)
}

func (c *Client) getOnce(ctx context.Context, account domain.Account, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx, account.ID); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The limiter gives up early when the wait would outlast the deadline.
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse graph url: %w", err)
	}
	q := u.Query()
	if q.Get("access_token") == "" {
		q.Set("access_token", account.CredentialRef)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", instagram.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", instagram.ErrTransient, err)
	}

	if err := classify(resp, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
