package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAccountInsights, downAccountInsights)
}

func upAccountInsights(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE account_insights (
		account_id     UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		day            DATE NOT NULL,
		reach          BIGINT NOT NULL DEFAULT 0,
		follower_count BIGINT NOT NULL DEFAULT 0,
		recorded_at    TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (account_id, day)
	);

	ALTER TABLE daily_stats ADD COLUMN account_reach BIGINT NOT NULL DEFAULT 0;

	UPDATE collection_runs
	SET outcome = 'failed', finished_at = now(), error = 'abandoned: no process finished the run'
	WHERE outcome = 'running';
	CREATE UNIQUE INDEX collection_runs_one_running_idx ON collection_runs (account_id) WHERE outcome = 'running';
	`)
	if err != nil {
		return err
	}
	return nil
}

func downAccountInsights(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	DROP INDEX collection_runs_one_running_idx;
	ALTER TABLE daily_stats DROP COLUMN account_reach;
	DROP TABLE account_insights;
	`)
	if err != nil {
		return err
	}
	return nil
}
