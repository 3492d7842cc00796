package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upInitCollection, downInitCollection)
}

func upInitCollection(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE accounts (
		id             UUID PRIMARY KEY,
		external_id    VARCHAR NOT NULL UNIQUE,
		username       VARCHAR NOT NULL,
		display_name   VARCHAR NOT NULL DEFAULT '',
		active         BOOLEAN NOT NULL DEFAULT TRUE,
		credential_ref VARCHAR NOT NULL DEFAULT '',
		token_valid    BOOLEAN NOT NULL DEFAULT TRUE,
		last_synced_at TIMESTAMP WITH TIME ZONE,
		created_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE account_snapshots (
		id              UUID PRIMARY KEY,
		account_id      UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		followers_count BIGINT NOT NULL DEFAULT 0,
		following_count BIGINT NOT NULL DEFAULT 0,
		media_count     BIGINT NOT NULL DEFAULT 0,
		recorded_at     TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX account_snapshots_account_recorded_idx ON account_snapshots (account_id, recorded_at DESC);

	CREATE TABLE posts (
		id            UUID PRIMARY KEY,
		account_id    UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		external_id   VARCHAR NOT NULL UNIQUE,
		media_type    VARCHAR NOT NULL,
		caption       TEXT NOT NULL DEFAULT '',
		media_url     TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		permalink     TEXT NOT NULL DEFAULT '',
		posted_at     TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		last_seen_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	CREATE INDEX posts_account_posted_idx ON posts (account_id, posted_at);

	CREATE TABLE metric_snapshots (
		id                    UUID PRIMARY KEY,
		post_id               UUID NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
		likes                 BIGINT NOT NULL DEFAULT 0,
		comments              BIGINT NOT NULL DEFAULT 0,
		saves                 BIGINT NOT NULL DEFAULT 0,
		shares                BIGINT NOT NULL DEFAULT 0,
		views                 BIGINT NOT NULL DEFAULT 0,
		reach                 BIGINT NOT NULL DEFAULT 0,
		profile_visits        BIGINT NOT NULL DEFAULT 0,
		follows               BIGINT NOT NULL DEFAULT 0,
		video_view_total_time BIGINT NOT NULL DEFAULT 0,
		avg_watch_time        BIGINT NOT NULL DEFAULT 0,
		engagement_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at           TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX metric_snapshots_post_recorded_idx ON metric_snapshots (post_id, recorded_at DESC);
	`)
	if err != nil {
		return err
	}
	return nil
}

func downInitCollection(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	DROP TABLE metric_snapshots;
	DROP TABLE posts;
	DROP TABLE account_snapshots;
	DROP TABLE accounts;
	`)
	if err != nil {
		return err
	}
	return nil
}
