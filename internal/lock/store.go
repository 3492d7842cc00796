package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Store is a key-value store offering compare-and-swap with TTL.
type Store interface {
	// Acquire sets key to token if the key is absent or expired.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release deletes key only while it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)
}

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares locks between every process using the same Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

// Acquire uses SET NX PX so the lock and its expiry are set atomically
func (s *RedisStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return n == 1, nil
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryStore only serializes runs inside one process.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]memoryEntry
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clock,
		entries: make(map[string]memoryEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	s.entries[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.token != token {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}
