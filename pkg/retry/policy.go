// Package retry provides the backoff policy applied to transient backend
// failures.
//
// The policy is a pure scheduling decision: it computes delays and
// eligibility from the attempt count and error class, and never sleeps.
// Callers own the clock, which keeps the policy deterministic under test.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/printloft/cardforge/pkg/backend"
)

// Default policy values.
const (
	DefaultBaseDelay   = 2 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Policy computes retry delays with capped exponential backoff.
//
// The delay for attempt n (0-indexed) is Base * Multiplier^n, capped at
// MaxDelay. MaxAttempts bounds the number of submission attempts per job;
// a job that fails a retryable error on its final attempt is terminal.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// Default returns the default policy.
func Default() Policy {
	return Policy{
		Base:        DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// normalized returns a copy with zero values replaced by defaults.
func (p Policy) normalized() Policy {
	d := Default()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// NextDelay returns the backoff delay after a failure on the given
// 0-indexed attempt.
func (p Policy) NextDelay(attempt int) time.Duration {
	p = p.normalized()

	delay := float64(p.Base)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether a failure on the given 0-indexed attempt is
// eligible for another pass.
//
// Only transient transport failures and poll deadline expirations qualify.
// Terminal transport errors and backend generation failures are
// deterministic rejections and never retried.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	p = p.normalized()
	if attempt >= p.MaxAttempts-1 {
		return false
	}
	return Retryable(err)
}

// Retryable classifies an error independent of the attempt budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	// A per-job poll deadline expiring is a transient condition: the backend
	// may simply have been saturated. Cancellation is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return backend.IsRetryable(err)
}
