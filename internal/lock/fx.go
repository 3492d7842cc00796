package lock

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/orgball2608/insta-metrics-collector/pkg/config"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

type StoreOpts struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Logger logger.Logger
	Clock  clockwork.Clock
}

// NewStore picks Redis when it is configured and falls back to the
// in-process store otherwise.
func NewStore(opts StoreOpts) Store {
	addr := opts.Config.RedisAddr()
	if addr == "" {
		opts.Logger.Warn("REDIS_HOST not set, collection locks are local to this process")
		return NewMemoryStore(opts.Clock)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Config.Redis.Password,
		DB:       opts.Config.Redis.DB,
	})

	opts.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			opts.Logger.Info("Connected to redis", "addr", addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return NewRedisStore(client)
}

type ManagerOpts struct {
	fx.In

	Store   Store
	History History
	Clock   clockwork.Clock
	Config  *config.Config
	Logger  logger.Logger
}

func New(opts ManagerOpts) *Manager {
	return NewManager(opts.Store, opts.History, opts.Clock, opts.Config.Collector.LockTTL, opts.Logger)
}

var Module = fx.Module("lock",
	fx.Provide(
		NewStore,
		New,
	),
)
