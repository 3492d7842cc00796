package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{}
	c.Collector.WindowDays = 30
	c.Collector.MaxPosts = 50
	c.Collector.Workers = 5
	c.Collector.RunTimeout = 10 * time.Minute
	c.Collector.LockTTL = 15 * time.Minute
	return c
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("lock ttl must exceed run timeout", func(t *testing.T) {
		c := validConfig()
		c.Collector.LockTTL = c.Collector.RunTimeout
		assert.Error(t, c.Validate())
	})

	t.Run("rejects non-positive window", func(t *testing.T) {
		c := validConfig()
		c.Collector.WindowDays = 0
		assert.Error(t, c.Validate())
	})
}

func TestDSNAndRedisAddr(t *testing.T) {
	c := validConfig()
	c.Postgres.User = "ig"
	c.Postgres.Pass = "secret"
	c.Postgres.Host = "db"
	c.Postgres.Port = 5432
	c.Postgres.Name = "metrics"
	c.Postgres.SslMode = "disable"

	assert.Equal(t, "postgres://ig:secret@db:5432/metrics?sslmode=disable", c.DSN())
	assert.Empty(t, c.RedisAddr())

	c.Redis.Host = "cache"
	c.Redis.Port = 6380
	assert.Equal(t, "cache:6380", c.RedisAddr())
}
