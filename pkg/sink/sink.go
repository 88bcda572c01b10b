// Package sink abstracts where finished artifacts are materialized.
//
// The batch engine writes each completed generation through a Sink; the
// concrete implementations cover a local output directory and an S3 (or
// S3-compatible) bucket. Sinks are write-only by design: the orchestrator
// never reads artifacts back.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sink stores finished artifacts.
//
// Implementations must be safe for concurrent use: multiple workers write
// completed artifacts simultaneously.
type Sink interface {
	// Put stores the artifact under the given file name and returns a
	// human-readable location for the batch report.
	Put(ctx context.Context, name string, body io.Reader) (string, error)

	// Close releases resources.
	Close() error
}

// Sentinel errors for sink operations.
var (
	// ErrExists indicates the artifact name is already taken.
	ErrExists = errors.New("artifact already exists")
)

// SinkError wraps sink-specific errors with context.
type SinkError struct {
	// Op is the operation that failed (e.g., "Put").
	Op string

	// Name is the artifact name, if applicable.
	Name string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("sink %s: %s: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsS3Destination reports whether the destination is an s3:// URI.
func IsS3Destination(dest string) bool {
	return strings.HasPrefix(dest, "s3://")
}

// SplitS3Destination parses "s3://bucket/prefix" into bucket and prefix.
func SplitS3Destination(dest string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(dest, "s3://")
	if trimmed == dest {
		return "", "", fmt.Errorf("not an s3 destination: %s", dest)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("s3 destination has no bucket: %s", dest)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}
