// Package lock provides per-account mutual exclusion for collection runs
// together with a minimum interval between successful runs.
package lock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
)

const keyPrefix = "collection:lock:"

type Reason string

const (
	ReasonAlreadyRunning Reason = "already_running"
	ReasonTooSoon        Reason = "too_soon"
)

// DeniedError is returned by TryAcquire when the run may not start.
type DeniedError struct {
	AccountID  string
	Reason     Reason
	RetryAfter time.Duration // set for ReasonTooSoon
}

func (e *DeniedError) Error() string {
	if e.Reason == ReasonTooSoon {
		return fmt.Sprintf("collection for account %s ran too recently, retry in %s", e.AccountID, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("collection for account %s is already running", e.AccountID)
}

func (e *DeniedError) Unwrap() error {
	return errors.ErrLockConflict
}

// History reports past runs; the collection repository satisfies it.
type History interface {
	GetLastRun(ctx context.Context, accountID string, outcomes ...domain.RunOutcome) (*domain.CollectionRun, error)
}

// Handle is proof of an acquired lock. Release it exactly once; extra calls are no-ops.
type Handle struct {
	AccountID  string
	AcquiredAt time.Time

	key      string
	token    string
	released atomic.Bool
}

type Manager struct {
	store   Store
	history History
	clock   clockwork.Clock
	ttl     time.Duration
	logger  logger.Logger
}

func NewManager(store Store, history History, clock clockwork.Clock, ttl time.Duration, log logger.Logger) *Manager {
	return &Manager{
		store:   store,
		history: history,
		clock:   clock,
		ttl:     ttl,
		logger:  log.WithComponent("LockManager"),
	}
}

// TryAcquire takes the account lock. Unless force is set, it also denies the
// run when the last successful or partial run started less than minInterval ago.
func (m *Manager) TryAcquire(ctx context.Context, accountID string, minInterval time.Duration, force bool) (*Handle, error) {
	h := &Handle{
		AccountID: accountID,
		key:       keyPrefix + accountID,
		token:     uuid.NewString(),
	}

	ok, err := m.store.Acquire(ctx, h.key, h.token, m.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &DeniedError{AccountID: accountID, Reason: ReasonAlreadyRunning}
	}
	h.AcquiredAt = m.clock.Now()

	if force || minInterval <= 0 {
		return h, nil
	}

	last, err := m.history.GetLastRun(ctx, accountID, domain.OutcomeSuccess, domain.OutcomePartial)
	if err != nil {
		m.Release(ctx, h)
		return nil, err
	}
	if last != nil {
		if elapsed := m.clock.Since(last.StartedAt); elapsed < minInterval {
			m.Release(ctx, h)
			return nil, &DeniedError{AccountID: accountID, Reason: ReasonTooSoon, RetryAfter: minInterval - elapsed}
		}
	}
	return h, nil
}

// Release gives the lock back. It is safe to call more than once and on every
// exit path; a lock that already expired is left alone.
func (m *Manager) Release(ctx context.Context, h *Handle) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	ok, err := m.store.Release(context.WithoutCancel(ctx), h.key, h.token)
	if err != nil {
		m.logger.Error("Failed to release collection lock", "account_id", h.AccountID, "error", err)
		return
	}
	if !ok {
		m.logger.Warn("Collection lock expired before release", "account_id", h.AccountID)
	}
}
