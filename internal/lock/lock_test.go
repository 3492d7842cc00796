package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	last *domain.CollectionRun
}

func (f *fakeHistory) GetLastRun(ctx context.Context, accountID string, outcomes ...domain.RunOutcome) (*domain.CollectionRun, error) {
	return f.last, nil
}

func newTestManager(clock clockwork.Clock, history History) *Manager {
	return NewManager(NewMemoryStore(clock), history, clock, 15*time.Minute, logger.NewNop())
}

func TestTryAcquireAlreadyRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestManager(clock, &fakeHistory{})
	ctx := context.Background()

	h, err := m.TryAcquire(ctx, "acc", time.Minute, false)
	require.NoError(t, err)

	_, err = m.TryAcquire(ctx, "acc", time.Minute, true)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonAlreadyRunning, denied.Reason)
	assert.True(t, errors.IsLockConflict(err))

	other, err := m.TryAcquire(ctx, "other", time.Minute, false)
	require.NoError(t, err)
	m.Release(ctx, other)

	m.Release(ctx, h)
	m.Release(ctx, h)

	again, err := m.TryAcquire(ctx, "acc", time.Minute, false)
	require.NoError(t, err)
	m.Release(ctx, again)
}

func TestTryAcquireTooSoon(t *testing.T) {
	clock := clockwork.NewFakeClock()
	history := &fakeHistory{last: &domain.CollectionRun{
		AccountID: "acc",
		StartedAt: clock.Now(),
		Outcome:   domain.OutcomeSuccess,
	}}
	m := newTestManager(clock, history)
	ctx := context.Background()

	clock.Advance(5 * time.Second)

	_, err := m.TryAcquire(ctx, "acc", 60*time.Second, false)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonTooSoon, denied.Reason)
	assert.Equal(t, 55*time.Second, denied.RetryAfter)

	// The denied attempt must not leave the lock behind.
	h, err := m.TryAcquire(ctx, "acc", 60*time.Second, true)
	require.NoError(t, err)
	m.Release(ctx, h)

	clock.Advance(time.Minute)
	h, err = m.TryAcquire(ctx, "acc", 60*time.Second, false)
	require.NoError(t, err)
	m.Release(ctx, h)
}

func TestStaleLockExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestManager(clock, &fakeHistory{})
	ctx := context.Background()

	crashed, err := m.TryAcquire(ctx, "acc", 0, false)
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)

	h, err := m.TryAcquire(ctx, "acc", 0, false)
	require.NoError(t, err)

	// The crashed holder's late release must not free the new holder's lock.
	m.Release(ctx, crashed)
	_, err = m.TryAcquire(ctx, "acc", 0, false)
	assert.True(t, errors.IsLockConflict(err))

	m.Release(ctx, h)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	clock := clockwork.NewRealClock()
	m := newTestManager(clock, &fakeHistory{})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.TryAcquire(ctx, "acc", 0, false); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
