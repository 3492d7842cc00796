package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound requests per key (an account id).
type Limiter interface {
	// Wait blocks until a request for key may proceed or ctx is done.
	Wait(ctx context.Context, key string) error
}

// InMemoryLimiter is an implementation of Limiter stored in memory
type InMemoryLimiter struct {
	keys map[string]*rate.Limiter
	mu   sync.Mutex
	r    rate.Limit // Rate of adding tokens
	b    int        // Bucket size
}

// NewInMemoryLimiter creates a new rate limiter
// Example: NewInMemoryLimiter(60, time.Minute, 5) -> 60 requests per minute, burst of 5
func NewInMemoryLimiter(requests int, per time.Duration, burst int) *InMemoryLimiter {
	if requests <= 0 {
		requests = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &InMemoryLimiter{
		keys: make(map[string]*rate.Limiter),
		r:    rate.Every(per / time.Duration(requests)),
		b:    burst,
	}
}

func (l *InMemoryLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.keys[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.keys[key] = limiter
	}
	return limiter
}

func (l *InMemoryLimiter) Wait(ctx context.Context, key string) error {
	return l.limiter(key).Wait(ctx)
}
