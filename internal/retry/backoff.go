// Package retry implements the exponential backoff-with-jitter policy
// applied at the pool-checkout and connection-establishment layers (§4.9).
// Query-level retries are left to the caller since queries are not known to
// be idempotent.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/sqlstream/tds-go/internal/tdserr"
)

// Policy configures retry behaviour.
type Policy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultPolicy mirrors sane defaults for a connection-establishment retry
// loop: a handful of attempts, starting small, capped low enough to keep a
// caller's own context deadline meaningful.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Wait computes the backoff duration for attempt i (1-indexed).
func (p Policy) Wait(i int) time.Duration {
	d := float64(p.InitialBackoff) * pow(p.BackoffMultiplier, i-1)
	if max := float64(p.MaxBackoff); d > max {
		d = max
	}
	if p.Jitter {
		// uniform ±50%
		factor := 0.5 + rand.Float64()
		d *= factor
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Do runs fn up to p.MaxRetries+1 times, sleeping between attempts per
// Wait, but only retrying errors that report IsTransient(); any other error
// (or a nil error) stops the loop immediately.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var te *tdserr.Error
		if !tdserr.As(err, &te) || !te.IsTransient() {
			return err
		}

		if attempt > p.MaxRetries {
			break
		}

		select {
		case <-time.After(p.Wait(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
