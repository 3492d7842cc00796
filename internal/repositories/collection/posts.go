package collection

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories"
)

var postColumns = []string{
	"id", "account_id", "external_id", "media_type", "caption",
	"media_url", "thumbnail_url", "permalink", "posted_at",
}

var snapshotColumns = []string{
	"id", "post_id", "likes", "comments", "saves", "shares", "views", "reach",
	"profile_visits", "follows", "video_view_total_time", "avg_watch_time",
	"engagement_rate", "recorded_at",
}

func postDest(p *domain.Post, mediaType *string) []any {
	return []any{&p.ID, &p.AccountID, &p.ExternalID, mediaType, &p.Caption,
		&p.MediaURL, &p.ThumbnailURL, &p.Permalink, &p.PostedAt}
}

func snapshotDest(s *domain.MetricSnapshot) []any {
	return []any{&s.ID, &s.PostID, &s.Likes, &s.Comments, &s.Saves, &s.Shares, &s.Views, &s.Reach,
		&s.ProfileVisits, &s.Follows, &s.VideoViewTotalTime, &s.AvgWatchTime,
		&s.EngagementRate, &s.RecordedAt}
}

// UpsertPost inserts the post or, when the external id is known, only bumps last_seen_at
func (p *Pgx) UpsertPost(ctx context.Context, post domain.Post) (domain.Post, bool, error) {
	query, args, err := repositories.SqBuilder.
		Insert("posts").
		Columns("id", "account_id", "external_id", "media_type", "caption",
			"media_url", "thumbnail_url", "permalink", "posted_at", "last_seen_at").
		Values(newID(post.ID), post.AccountID, post.ExternalID, string(post.MediaType), post.Caption,
			post.MediaURL, post.ThumbnailURL, post.Permalink, post.PostedAt.UTC(), sq.Expr("now()")).
		Suffix("ON CONFLICT (external_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at RETURNING " +
			joinColumns(postColumns) + ", (xmax = 0) AS inserted").
		ToSql()
	if err != nil {
		return domain.Post{}, false, repositories.ErrBadQuery
	}

	var (
		stored    domain.Post
		mediaType string
		inserted  bool
	)
	dest := append(postDest(&stored, &mediaType), &inserted)
	if err := p.q.QueryRow(ctx, query, args...).Scan(dest...); err != nil {
		return domain.Post{}, false, storeErr("upsert post", err)
	}
	stored.MediaType = domain.MediaType(mediaType)
	stored.PostedAt = stored.PostedAt.UTC()
	return stored, inserted, nil
}

func (p *Pgx) AppendMetricSnapshot(ctx context.Context, snap domain.MetricSnapshot) (domain.MetricSnapshot, error) {
	snap.ID = newID(snap.ID)
	snap.RecordedAt = snap.RecordedAt.UTC()

	query, args, err := repositories.SqBuilder.
		Insert("metric_snapshots").
		Columns(snapshotColumns...).
		Values(snap.ID, snap.PostID, snap.Likes, snap.Comments, snap.Saves, snap.Shares, snap.Views, snap.Reach,
			snap.ProfileVisits, snap.Follows, snap.VideoViewTotalTime, snap.AvgWatchTime,
			snap.EngagementRate, snap.RecordedAt).
		ToSql()
	if err != nil {
		return domain.MetricSnapshot{}, repositories.ErrBadQuery
	}

	if _, err := p.q.Exec(ctx, query, args...); err != nil {
		return domain.MetricSnapshot{}, storeErr("append metric snapshot", err)
	}
	return snap, nil
}

func (p *Pgx) GetDaySnapshots(ctx context.Context, accountID string, from, to time.Time) ([]domain.PostSnapshot, error) {
	cols := append(prefixColumns("p", postColumns), prefixColumns("ms", snapshotColumns)...)
	query, args, err := repositories.SqBuilder.
		Select(cols...).
		Options("DISTINCT ON (ms.post_id)").
		From("metric_snapshots ms").
		Join("posts p ON p.id = ms.post_id").
		Where(sq.Eq{"p.account_id": accountID}).
		Where(sq.GtOrEq{"ms.recorded_at": from.UTC()}).
		Where(sq.Lt{"ms.recorded_at": to.UTC()}).
		OrderBy("ms.post_id", "ms.recorded_at DESC", "ms.id DESC").
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("get day snapshots", err)
	}
	defer rows.Close()

	var out []domain.PostSnapshot
	for rows.Next() {
		var (
			ps        domain.PostSnapshot
			mediaType string
		)
		dest := append(postDest(&ps.Post, &mediaType), snapshotDest(&ps.Snapshot)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("scan day snapshot", err)
		}
		ps.Post.MediaType = domain.MediaType(mediaType)
		ps.Post.PostedAt = ps.Post.PostedAt.UTC()
		ps.Snapshot.RecordedAt = ps.Snapshot.RecordedAt.UTC()
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get day snapshots", err)
	}
	return out, nil
}

func (p *Pgx) ListPostsPublished(ctx context.Context, accountID string, from, to time.Time) ([]domain.Post, error) {
	query, args, err := repositories.SqBuilder.
		Select(postColumns...).
		From("posts").
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.GtOrEq{"posted_at": from.UTC()}).
		Where(sq.Lt{"posted_at": to.UTC()}).
		OrderBy("posted_at", "external_id").
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list posts published", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			post      domain.Post
			mediaType string
		)
		if err := rows.Scan(postDest(&post, &mediaType)...); err != nil {
			return nil, storeErr("scan post", err)
		}
		post.MediaType = domain.MediaType(mediaType)
		post.PostedAt = post.PostedAt.UTC()
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list posts published", err)
	}
	return posts, nil
}

func (p *Pgx) ListPostsWithoutSnapshots(ctx context.Context, accountID string, since time.Time) ([]domain.Post, error) {
	query, args, err := repositories.SqBuilder.
		Select(prefixColumns("p", postColumns)...).
		From("posts p").
		Where(sq.Eq{"p.account_id": accountID}).
		Where(sq.GtOrEq{"p.posted_at": since.UTC()}).
		Where("NOT EXISTS (SELECT 1 FROM metric_snapshots ms WHERE ms.post_id = p.id)").
		OrderBy("p.posted_at", "p.external_id").
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list posts without snapshots", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			post      domain.Post
			mediaType string
		)
		if err := rows.Scan(postDest(&post, &mediaType)...); err != nil {
			return nil, storeErr("scan post", err)
		}
		post.MediaType = domain.MediaType(mediaType)
		post.PostedAt = post.PostedAt.UTC()
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list posts without snapshots", err)
	}
	return posts, nil
}
