package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		MaxRetryAfter:   time.Second,
	}
}

var errBoom = errors.New("boom")

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), logger.NewNop(), "flaky", func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	}, fastPolicy())

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), logger.NewNop(), "broken", func() error {
		calls++
		return errBoom
	}, fastPolicy())

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), logger.NewNop(), "auth", func() error {
		calls++
		return Permanent(errBoom)
	}, fastPolicy())

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursAfterHint(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), logger.NewNop(), "throttled", func() error {
		calls++
		if calls == 1 {
			return After(errBoom, 40*time.Millisecond)
		}
		return nil
	}, fastPolicy())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDoStopsWhenHintExceedsCap(t *testing.T) {
	calls := 0
	err := Do(context.Background(), logger.NewNop(), "throttled", func() error {
		calls++
		return After(errBoom, time.Hour)
	}, fastPolicy())

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, logger.NewNop(), "cancelled", func() error {
		calls++
		return errBoom
	}, fastPolicy())

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
