package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds caller-side retries of conditional writes
type RetryPolicy struct {
	Attempts   int // retries after the first attempt
	Backoff    time.Duration
	MaxBackoff time.Duration
	Multiplier float64
}

// DefaultRetryPolicy matches the [paxos] defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   5,
		Backoff:    10 * time.Millisecond,
		MaxBackoff: time.Second,
		Multiplier: 2,
	}
}

// RetryPolicyFrom converts the [paxos] configuration section
func RetryPolicyFrom(c cfg.PaxosConfiguration) RetryPolicy {
	return RetryPolicy{
		Attempts:   c.RetryAttempts,
		Backoff:    cfg.Timeout(c.RetryBackoffMS),
		MaxBackoff: cfg.Timeout(c.RetryMaxMS),
		Multiplier: c.RetryMultiplier,
	}
}

// Retry calls fn until it succeeds, fails with anything but prepare-phase
// contention, or the policy is exhausted. Only prepare contention is retried:
// such a round proposed nothing, so running a fresh one cannot apply the
// write twice. Each new call of fn draws a fresh, higher ballot.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	delay := policy.Backoff
	for attempt := 0; ; attempt++ {
		res, err := fn(ctx)
		if err == nil || !coordinator.IsPrepareContention(err) {
			return res, err
		}
		if attempt >= policy.Attempts {
			return res, fmt.Errorf("gave up after %d attempts: %w", attempt+1, err)
		}

		// jitter spreads competing coordinators apart
		wait := delay
		if wait > 0 {
			wait += rand.N(wait/2 + 1)
		}
		log.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_delay", wait).
			Msg("CAS: contention, retrying")
		telemetry.CASRetriesTotal.Inc()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, err
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}
}
