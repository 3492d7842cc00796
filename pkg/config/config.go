package config

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App struct {
		Env       string `env:"APP_ENV" env-default:"development"`
		Port      int    `env:"APP_PORT" env-default:"8080"`
		SentryUrl string `env:"SENTRY_URL"`
	}
	Postgres struct {
		Port    int    `env:"POSTGRES_PORT" env-default:"5432"`
		Host    string `env:"POSTGRES_HOST" env-default:"localhost"`
		User    string `env:"POSTGRES_USER"`
		Pass    string `env:"POSTGRES_PASS"`
		Name    string `env:"POSTGRES_NAME"`
		SslMode string `env:"POSTGRES_SSL_MODE" env-default:"disable"`
	}
	Redis struct {
		Host     string `env:"REDIS_HOST"`
		Port     int    `env:"REDIS_PORT" env-default:"6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" env-default:"0"`
	}
	Instagram struct {
		BaseURL           string        `env:"INSTAGRAM_GRAPH_BASE_URL" env-default:"https://graph.facebook.com"`
		APIVersion        string        `env:"INSTAGRAM_GRAPH_API_VERSION" env-default:"v21.0"`
		RequestTimeout    time.Duration `env:"INSTAGRAM_REQUEST_TIMEOUT" env-default:"30s"`
		RequestsPerMinute int           `env:"INSTAGRAM_REQUESTS_PER_MINUTE" env-default:"60"`
		Burst             int           `env:"INSTAGRAM_REQUEST_BURST" env-default:"5"`
		PageSize          int           `env:"INSTAGRAM_PAGE_SIZE" env-default:"25"`
		MaxPages          int           `env:"INSTAGRAM_MAX_PAGES" env-default:"20"`
	}
	Collector struct {
		DailyAt           string        `env:"COLLECTOR_DAILY_AT" env-default:"03:00"`
		Timezone          string        `env:"COLLECTOR_TIMEZONE" env-default:"Asia/Tokyo"`
		WindowDays        int           `env:"COLLECTOR_WINDOW_DAYS" env-default:"30"`
		MaxPosts          int           `env:"COLLECTOR_MAX_POSTS" env-default:"50"`
		ManualMinInterval time.Duration `env:"MANUAL_REFRESH_MIN_INTERVAL" env-default:"60s"`
		RunTimeout        time.Duration `env:"COLLECTOR_RUN_TIMEOUT" env-default:"10m"`
		LockTTL           time.Duration `env:"COLLECTOR_LOCK_TTL" env-default:"15m"`
		SafetyOverlap     time.Duration `env:"COLLECTOR_SAFETY_OVERLAP" env-default:"1h"`
		Workers           int           `env:"COLLECTOR_WORKERS" env-default:"5"`
		RetryAttempts     uint64        `env:"COLLECTOR_RETRY_ATTEMPTS" env-default:"3"`
		RetryBaseDelay    time.Duration `env:"COLLECTOR_RETRY_BASE_DELAY" env-default:"500ms"`
		RetryMaxDelay     time.Duration `env:"COLLECTOR_RETRY_MAX_DELAY" env-default:"10s"`
		MaxRetryAfter     time.Duration `env:"COLLECTOR_MAX_RETRY_AFTER" env-default:"2m"`
	}
}

var (
	once sync.Once
	cfg  *Config
)

func New() (*Config, error) {
	once.Do(func() {
		cfg = &Config{}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			help, _ := cleanenv.GetDescription(cfg, nil)
			log.Fatalf("Failed to read configuration: %v\n%v", err, help)
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that span several settings.
func (c *Config) Validate() error {
	if c.Collector.LockTTL <= c.Collector.RunTimeout {
		return fmt.Errorf("COLLECTOR_LOCK_TTL (%s) must exceed COLLECTOR_RUN_TIMEOUT (%s)",
			c.Collector.LockTTL, c.Collector.RunTimeout)
	}
	if c.Collector.WindowDays <= 0 || c.Collector.MaxPosts <= 0 {
		return errors.New("COLLECTOR_WINDOW_DAYS and COLLECTOR_MAX_POSTS must be positive")
	}
	if c.Collector.Workers <= 0 {
		return errors.New("COLLECTOR_WORKERS must be positive")
	}
	return nil
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Pass,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.Name,
		c.Postgres.SslMode,
	)
}

// RedisAddr returns host:port, or an empty string when Redis is not configured.
func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
