// Package output provides JSONL output for generation runs.
//
// Output is structured as typed record envelopes containing job outcomes,
// errors, and progress updates. Each line is a self-contained JSON object
// that can be parsed independently, so downstream layout tooling can tail
// a run in flight.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: cardforge.<type>.v<version>
const (
	// TypeJob identifies per-job outcome records.
	TypeJob = "cardforge.job.v1"

	// TypeError identifies error records.
	TypeError = "cardforge.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "cardforge.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "cardforge.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific payload
// in the Data field.
type Record struct {
	// Type identifies the record type (e.g., "cardforge.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this generation run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for a job reaching a terminal state.
type JobRecord struct {
	// JobID is the locally assigned job identifier.
	JobID string `json:"job_id"`

	// Name is the card name.
	Name string `json:"name"`

	// State is the terminal state ("completed" or "failed").
	State string `json:"state"`

	// RemoteHandle is the backend job identifier of the final attempt,
	// if the job was ever submitted.
	RemoteHandle string `json:"remote_handle,omitempty"`

	// Attempts is the number of submission attempts consumed (1-based).
	Attempts int `json:"attempts"`

	// Error is the terminal failure reason, if the job failed.
	Error string `json:"error,omitempty"`

	// Artifact is the materialized artifact location, if completed.
	Artifact string `json:"artifact,omitempty"`

	// Duration is the wall-clock time the job spent in flight.
	Duration time.Duration `json:"duration_ns"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// allowing partial results when some jobs fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Source is the input asset related to this error, if applicable.
	Source string `json:"source,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeValidation indicates a local precondition failure.
	ErrCodeValidation = "VALIDATION"

	// ErrCodeTransport indicates a backend transport failure.
	ErrCodeTransport = "TRANSPORT"

	// ErrCodeGeneration indicates a backend-reported generation failure.
	ErrCodeGeneration = "GENERATION"

	// ErrCodeTimeout indicates an attempt exceeded the per-job timeout.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeCancelled indicates the run was cancelled.
	ErrCodeCancelled = "CANCELLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically so long-running batches are
// observable from the JSONL stream alone.
type ProgressRecord struct {
	// Total is the batch size.
	Total int64 `json:"total"`

	// Submitted is the number of jobs handed to workers so far.
	Submitted int64 `json:"submitted"`

	// Completed is the number of jobs that produced an artifact.
	Completed int64 `json:"completed"`

	// Failed is the number of jobs in terminal failure.
	Failed int64 `json:"failed"`

	// InFlight is the number of jobs currently being driven.
	InFlight int64 `json:"in_flight"`

	// Pending is the number of jobs not yet started.
	Pending int64 `json:"pending"`

	// Cost is the running cost (completed * unit cost).
	Cost float64 `json:"cost"`

	// PerMinute is the completion throughput.
	PerMinute float64 `json:"per_minute"`

	// ETASeconds estimates the remaining run time, 0 when unknown.
	ETASeconds float64 `json:"eta_seconds,omitempty"`
}

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	// Total is the batch size including locally rejected entries.
	Total int64 `json:"total"`

	// Completed is the count of jobs that produced artifacts.
	Completed int64 `json:"completed"`

	// Failed is the count of terminally failed jobs (validation failures
	// and cancellations included).
	Failed int64 `json:"failed"`

	// Cost is the total cost (completed * unit cost).
	Cost float64 `json:"cost"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Destination is the artifact destination.
	Destination string `json:"destination,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
