// Package retry implements the retry policy shared by the transfer workers,
// the remote inventory fetch and the purge client: transient failures are
// retried with capped exponential backoff and jitter, everything else
// surfaces immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/edgeops/edgesync/pkg/errclass"
)

const (
	// DefaultMaxAttempts is the total attempt ceiling, first try included.
	DefaultMaxAttempts = 3

	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
)

// Policy configures retry behavior. The zero value is unusable; start from
// DefaultPolicy.
type Policy struct {
	// MaxAttempts is the total number of attempts, minimum 1.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt. The delay
	// doubles per attempt, jittered, capped at MaxDelay.
	InitialDelay time.Duration

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration

	// Clock drives the backoff sleeps. Tests inject a fake clock.
	Clock clockwork.Clock
}

// DefaultPolicy returns the policy used when the caller does not configure
// one explicitly.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
		Clock:        clockwork.NewRealClock(),
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt ceiling is reached. The error from the last attempt is returned
// unchanged so its classification survives. Cancellation is honored at the
// backoff wait; fn is never aborted mid-attempt.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errclass.IsTransient(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}
		if werr := wait(ctx, p.Clock, bo.NextBackOff()); werr != nil {
			return errclass.New("retry", "", errclass.KindCancelled, werr)
		}
	}
}

func wait(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	timer := clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
