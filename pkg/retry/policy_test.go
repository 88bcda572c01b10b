package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/printloft/cardforge/pkg/backend"
)

func TestNextDelay(t *testing.T) {
	policy := Policy{
		Base:        2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first failure", attempt: 0, want: 2 * time.Second},
		{name: "second failure doubles", attempt: 1, want: 4 * time.Second},
		{name: "third failure doubles again", attempt: 2, want: 8 * time.Second},
		{name: "fourth failure", attempt: 3, want: 16 * time.Second},
		{name: "capped at max delay", attempt: 4, want: 30 * time.Second},
		{name: "stays capped", attempt: 10, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.NextDelay(tt.attempt))
		})
	}
}

func TestNextDelayDeterministic(t *testing.T) {
	// Same inputs always produce the same schedule: no jitter.
	policy := Default()
	for attempt := 0; attempt < 6; attempt++ {
		first := policy.NextDelay(attempt)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, policy.NextDelay(attempt), "attempt %d", attempt)
		}
	}
}

func TestNextDelayZeroValueUsesDefaults(t *testing.T) {
	var policy Policy
	assert.Equal(t, DefaultBaseDelay, policy.NextDelay(0))
	assert.Equal(t, DefaultBaseDelay*2, policy.NextDelay(1))
}

func TestShouldRetry(t *testing.T) {
	transient := &backend.TransportError{Op: "submit", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
	terminal := &backend.TransportError{Op: "submit", StatusCode: 422, Retryable: false, Err: errors.New("bad template")}
	generation := &backend.GenerationError{Handle: "job-1", Reason: "OOM"}

	policy := Policy{MaxAttempts: 3}

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "transient on first attempt", err: transient, attempt: 0, want: true},
		{name: "transient on second attempt", err: transient, attempt: 1, want: true},
		{name: "transient on final attempt", err: transient, attempt: 2, want: false},
		{name: "transient beyond ceiling", err: transient, attempt: 5, want: false},
		{name: "terminal transport never retried", err: terminal, attempt: 0, want: false},
		{name: "generation failure never retried", err: generation, attempt: 0, want: false},
		{name: "poll timeout retried", err: context.DeadlineExceeded, attempt: 0, want: true},
		{name: "wrapped poll timeout retried", err: fmt.Errorf("poll: %w", context.DeadlineExceeded), attempt: 1, want: true},
		{name: "cancellation never retried", err: context.Canceled, attempt: 0, want: false},
		{name: "nil error never retried", err: nil, attempt: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestShouldRetrySingleAttempt(t *testing.T) {
	// MaxAttempts of 1 means no failure is ever retried.
	policy := Policy{MaxAttempts: 1}
	transient := &backend.TransportError{Op: "upload", Retryable: true, Err: errors.New("reset")}
	assert.False(t, policy.ShouldRetry(transient, 0))
}
