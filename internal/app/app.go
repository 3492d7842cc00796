package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/orgball2608/insta-metrics-collector/internal/aggregator"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/collector/collectorimpl"
	"github.com/orgball2608/insta-metrics-collector/internal/instagram"
	"github.com/orgball2608/insta-metrics-collector/internal/instagram/graphapi"
	"github.com/orgball2608/insta-metrics-collector/internal/lock"
	"github.com/orgball2608/insta-metrics-collector/internal/migrations"
	"github.com/orgball2608/insta-metrics-collector/internal/ratelimit"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	repositories "github.com/orgball2608/insta-metrics-collector/internal/repositories/fx"
	"github.com/orgball2608/insta-metrics-collector/pkg/config"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/orgball2608/insta-metrics-collector/pkg/pgx"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(
		config.New,
		logger.FxOption,
		pgx.New,
		clockwork.NewRealClock,
		newLimiter,
		func(repo collection.Repository) lock.History { return repo },
	),
	repositories.Module,
	lock.Module,
	fx.Provide(
		fx.Annotate(
			graphapi.New,
			fx.As(new(instagram.Source)),
		),
		aggregator.New,
		fx.Annotate(
			collectorimpl.New,
			fx.As(new(collector.Client)),
		),
	),
	fx.Invoke(migrate),
	fx.Invoke(run),
)

func newLimiter(cfg *config.Config) ratelimit.Limiter {
	return ratelimit.NewInMemoryLimiter(cfg.Instagram.RequestsPerMinute, time.Minute, cfg.Instagram.Burst)
}

func migrate(cfg *config.Config, log logger.Logger) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := migrations.Up(ctx, db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info("Database migrations applied")
	return nil
}

func run(lc fx.Lifecycle, log logger.Logger, cfg *config.Config, client collector.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           NewRouter(client, log, cfg.App.Env),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := client.ScheduleDailyBatch(ctx); err != nil {
				return err
			}

			go func() {
				log.Info(fmt.Sprintf("Starting server on :%d", cfg.App.Port))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return server.Shutdown(stopCtx)
		},
	})
}
