package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitIsPerKey(t *testing.T) {
	l := NewInMemoryLimiter(1, time.Hour, 1)
	assert.NoError(t, l.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "a"))
	assert.NoError(t, l.Wait(ctx, "b"))
}

func TestWaitRespectsContext(t *testing.T) {
	l := NewInMemoryLimiter(1, time.Hour, 1)
	assert.NoError(t, l.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "a"))
}
