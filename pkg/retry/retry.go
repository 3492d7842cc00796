package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/orgball2608/insta-metrics-collector/pkg/config"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
)

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	MaxRetries          uint64
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// MaxRetryAfter caps a server supplied wait. Longer hints end the retry loop.
	MaxRetryAfter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:          3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		MaxRetryAfter:       2 * time.Minute,
	}
}

// FromConfig overrides the defaults with the COLLECTOR_RETRY_* settings.
func FromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	p.MaxRetries = cfg.Collector.RetryAttempts
	p.InitialInterval = cfg.Collector.RetryBaseDelay
	p.MaxInterval = cfg.Collector.RetryMaxDelay
	p.MaxRetryAfter = cfg.Collector.MaxRetryAfter
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type afterError struct {
	err   error
	delay time.Duration
}

func (e *afterError) Error() string { return e.err.Error() }
func (e *afterError) Unwrap() error { return e.err }

// After marks err as retryable no sooner than d.
func After(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &afterError{err: err, delay: d}
}

type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

func Do(ctx context.Context, log logger.Logger, operationName string, operation func() error, policy Policy) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.Multiplier = policy.Multiplier
	bo.RandomizationFactor = policy.RandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	hinted := &hintedBackOff{BackOff: backoff.WithMaxRetries(bo, policy.MaxRetries)}
	retryableWithContext := backoff.WithContext(hinted, ctx)

	wrapped := func() error {
		err := operation()
		var ae *afterError
		if errors.As(err, &ae) {
			if policy.MaxRetryAfter > 0 && ae.delay > policy.MaxRetryAfter {
				return backoff.Permanent(ae.err)
			}
			hinted.hint = ae.delay
			return ae.err
		}
		return err
	}

	notify := func(err error, t time.Duration) {
		log.Warn(
			"Operation failed, retrying...",
			"operation", operationName,
			"error", err,
			"next_attempt_in", t.Round(time.Millisecond).String(),
		)
	}

	return backoff.RetryNotify(wrapped, retryableWithContext, notify)
}
