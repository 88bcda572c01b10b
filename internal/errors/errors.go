// Package errors provides typed error wrappers for CLI-level failures,
// separating what went wrong (the wrapped cause) from how the failure
// should be classified for exit codes and diagnostics.
package errors

import (
	"context"
	"fmt"
)

// ExternalServiceError indicates a dependency outside this process failed
// or was unreachable.
type ExternalServiceError struct {
	Message string
	Err     error
}

// NewExternalServiceError creates an error for an unreachable or failing
// external dependency.
func NewExternalServiceError(message string) *ExternalServiceError {
	return &ExternalServiceError{Message: message}
}

// WrapExternalService wraps a cause as an external service failure.
func WrapExternalService(err error, message string) *ExternalServiceError {
	return &ExternalServiceError{Message: message, Err: err}
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// InternalError indicates a failure within this process that the user
// cannot correct by changing inputs.
type InternalError struct {
	Message   string
	Err       error
	Cancelled bool
}

// WrapInternal wraps a cause as an internal failure, noting whether the
// surrounding context was already cancelled.
func WrapInternal(ctx context.Context, err error, message string) *InternalError {
	return &InternalError{Message: message, Err: err, Cancelled: ctx.Err() != nil}
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error { return e.Err }
