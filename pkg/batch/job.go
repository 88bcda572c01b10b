// Package batch implements the generation run engine: the job lifecycle,
// the bounded worker pool that drives jobs through the backend, the
// coordinator that owns a run end to end, and the progress/cost reporter.
//
// Concurrency model: a fixed pool of workers drains a shared queue of
// pending jobs. Each worker owns one job at a time for the job's entire
// lifecycle, including its retries, so job fields need no locking. The
// pool size is the admission-control bound: at most that many jobs are in
// flight against the shared backend at any instant.
package batch

import (
	"errors"
	"time"

	"github.com/printloft/cardforge/pkg/manifest"
)

// JobState is the lifecycle state of a job within a run.
type JobState string

const (
	JobPending   JobState = "pending"
	JobUploading JobState = "uploading"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition can occur.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ErrCancelled marks jobs terminated by cooperative cancellation rather
// than by a backend or local failure. Cancellation still counts as failure
// for exit-code purposes.
var ErrCancelled = errors.New("cancelled")

// Job tracks one generation request through its lifecycle.
//
// Jobs are created once by the coordinator and mutated only by the single
// worker currently driving them. RemoteHandle is set while the job is
// Submitted or Polling, and retained on terminal states reached after a
// submission; it is cleared at the start of every attempt so a retry never
// reuses stale backend state.
type Job struct {
	// ID is the locally assigned identifier, stable for the run.
	ID string

	// Entry is the expanded manifest entry this job realizes.
	Entry manifest.Entry

	// State is the current lifecycle state.
	State JobState

	// RemoteHandle is the backend job identifier of the current attempt.
	RemoteHandle string

	// Attempt is the 0-indexed submission attempt currently underway (or
	// the final one, once terminal). It never exceeds the configured
	// attempt ceiling.
	Attempt int

	// LastErr is the most recent failure, retained even after eventual
	// success for diagnostics.
	LastErr error

	// ArtifactPath is the materialized artifact location once completed.
	ArtifactPath string

	// StartedAt and FinishedAt bound the job's in-flight window.
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock time the job spent in flight.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Cancelled reports whether the job was terminated by cancellation.
func (j *Job) Cancelled() bool {
	return j.State == JobFailed && errors.Is(j.LastErr, ErrCancelled)
}
