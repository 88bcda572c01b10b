package backend

import (
	"errors"
	"fmt"
)

// TransportError wraps a failed round-trip to the inference backend.
//
// Retryable distinguishes transient failures (connection refused, timeout,
// 5xx) from deterministic rejections (malformed request, unsupported asset,
// 4xx). Deterministic rejections must not be retried: resubmitting a request
// the backend has already refused wastes queue capacity and delays the batch.
type TransportError struct {
	// Op is the operation that failed ("upload", "submit", "status", "result").
	Op string

	// StatusCode is the HTTP status code, or 0 for connection-level failures.
	StatusCode int

	// Retryable indicates the failure is transient and eligible for retry.
	Retryable bool

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s: %s (http %d): %v", e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Op, kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// GenerationError indicates the backend accepted a submission and later
// reported that generation itself failed (model-side rejection). It is
// terminal: the same input will fail the same way.
type GenerationError struct {
	// Handle is the backend-assigned identifier of the failed job.
	Handle string

	// Reason is the backend-reported failure reason.
	Reason string
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("generation failed for %s", e.Handle)
	}
	return fmt.Sprintf("generation failed for %s: %s", e.Handle, e.Reason)
}

// IsRetryable returns true if err is a transient transport failure that the
// retry policy may reschedule.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// IsTerminal returns true if err is a deterministic rejection that must not
// be retried: a terminal transport error or a backend generation failure.
func IsTerminal(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return !te.Retryable
	}
	var ge *GenerationError
	return errors.As(err, &ge)
}
