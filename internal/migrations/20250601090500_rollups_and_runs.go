package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upRollupsAndRuns, downRollupsAndRuns)
}

func upRollupsAndRuns(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE daily_stats (
		account_id              UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		day                     DATE NOT NULL,
		followers_count         BIGINT NOT NULL DEFAULT 0,
		following_count         BIGINT NOT NULL DEFAULT 0,
		media_count             BIGINT NOT NULL DEFAULT 0,
		posts_count             BIGINT NOT NULL DEFAULT 0,
		total_likes             BIGINT NOT NULL DEFAULT 0,
		total_comments          BIGINT NOT NULL DEFAULT 0,
		total_saves             BIGINT NOT NULL DEFAULT 0,
		total_shares            BIGINT NOT NULL DEFAULT 0,
		total_views             BIGINT NOT NULL DEFAULT 0,
		total_reach             BIGINT NOT NULL DEFAULT 0,
		total_profile_visits    BIGINT NOT NULL DEFAULT 0,
		avg_engagement_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
		media_type_distribution TEXT NOT NULL DEFAULT '{}',
		data_sources            TEXT NOT NULL DEFAULT '[]',
		updated_at              TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		PRIMARY KEY (account_id, day)
	);

	CREATE TABLE monthly_stats (
		account_id            UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		month                 DATE NOT NULL,
		days_covered          INTEGER NOT NULL DEFAULT 0,
		avg_followers         DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_following         DOUBLE PRECISION NOT NULL DEFAULT 0,
		follower_growth       DOUBLE PRECISION NOT NULL DEFAULT 0,
		growth_rate           DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_posts           BIGINT NOT NULL DEFAULT 0,
		total_likes           BIGINT NOT NULL DEFAULT 0,
		total_comments        BIGINT NOT NULL DEFAULT 0,
		total_saves           BIGINT NOT NULL DEFAULT 0,
		total_shares          BIGINT NOT NULL DEFAULT 0,
		total_views           BIGINT NOT NULL DEFAULT 0,
		total_reach           BIGINT NOT NULL DEFAULT 0,
		avg_engagement_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
		best_day              DATE,
		best_day_interactions BIGINT NOT NULL DEFAULT 0,
		daily_trend           TEXT NOT NULL DEFAULT '[]',
		media_type_totals     TEXT NOT NULL DEFAULT '{}',
		updated_at            TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		PRIMARY KEY (account_id, month)
	);

	CREATE TABLE collection_runs (
		id             UUID PRIMARY KEY,
		account_id     UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		trigger        VARCHAR NOT NULL,
		window_days    INTEGER NOT NULL,
		max_posts      INTEGER NOT NULL,
		since          TIMESTAMP WITH TIME ZONE NOT NULL,
		started_at     TIMESTAMP WITH TIME ZONE NOT NULL,
		finished_at    TIMESTAMP WITH TIME ZONE,
		outcome        VARCHAR NOT NULL,
		posts_fetched  INTEGER NOT NULL DEFAULT 0,
		posts_created  INTEGER NOT NULL DEFAULT 0,
		posts_updated  INTEGER NOT NULL DEFAULT 0,
		posts_rejected INTEGER NOT NULL DEFAULT 0,
		posts_failed   INTEGER NOT NULL DEFAULT 0,
		affected_days  DATE[] NOT NULL DEFAULT '{}',
		error          TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX collection_runs_account_started_idx ON collection_runs (account_id, started_at DESC);
	`)
	if err != nil {
		return err
	}
	return nil
}

func downRollupsAndRuns(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	DROP TABLE collection_runs;
	DROP TABLE monthly_stats;
	DROP TABLE daily_stats;
	`)
	if err != nil {
		return err
	}
	return nil
}
