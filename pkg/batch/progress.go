package batch

import (
	"sync/atomic"
	"time"
)

// Reporter maintains the run's progress and cost counters.
//
// Counters are updated exclusively by worker state transitions, one
// counter pair per transition, so the accounting identity
//
//	submitted = completed + failed + inFlight + pending
//
// holds at every update. All methods are safe for concurrent use; reads
// are projections with no effect on scheduling.
type Reporter struct {
	total    int64
	unitCost float64
	started  time.Time

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// NewReporter creates a reporter for a batch of the given size.
//
// unitCost is a configuration input, never derived: reported cost is
// exactly completed * unitCost.
func NewReporter(total int, unitCost float64) *Reporter {
	return &Reporter{
		total:    int64(total),
		unitCost: unitCost,
		started:  time.Now(),
	}
}

// JobQueued records a job entering the shared pending queue.
func (r *Reporter) JobQueued() {
	r.submitted.Add(1)
}

// JobStarted records a worker taking ownership of a queued job.
func (r *Reporter) JobStarted() {
	r.inFlight.Add(1)
}

// JobCompleted records a job producing its artifact.
func (r *Reporter) JobCompleted() {
	r.inFlight.Add(-1)
	r.completed.Add(1)
}

// JobFailed records an in-flight job reaching terminal failure.
func (r *Reporter) JobFailed() {
	r.inFlight.Add(-1)
	r.failed.Add(1)
}

// JobDropped records a queued job failed without ever starting
// (cancellation of a pending job).
func (r *Reporter) JobDropped() {
	r.failed.Add(1)
}

// Completed returns the completed count.
func (r *Reporter) Completed() int64 { return r.completed.Load() }

// Failed returns the failed count.
func (r *Reporter) Failed() int64 { return r.failed.Load() }

// InFlight returns the in-flight count.
func (r *Reporter) InFlight() int64 { return r.inFlight.Load() }

// Pending returns the count of queued jobs no worker has taken yet.
func (r *Reporter) Pending() int64 {
	return r.submitted.Load() - r.completed.Load() - r.failed.Load() - r.inFlight.Load()
}

// Cost returns the running cost: completed * unitCost.
func (r *Reporter) Cost() float64 {
	return float64(r.completed.Load()) * r.unitCost
}

// Snapshot is a consistent-enough view of the counters for display.
type Snapshot struct {
	Total     int64
	Submitted int64
	Completed int64
	Failed    int64
	InFlight  int64
	Pending   int64
	Cost      float64
	Elapsed   time.Duration

	// PerMinute is the completion throughput since the run started.
	PerMinute float64

	// ETA estimates the remaining time from current throughput;
	// zero when throughput is still unknown.
	ETA time.Duration
}

// Snapshot captures the current counters and derived projections.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Total:     r.total,
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		InFlight:  r.inFlight.Load(),
		Elapsed:   time.Since(r.started),
	}
	s.Pending = s.Submitted - s.Completed - s.Failed - s.InFlight
	s.Cost = float64(s.Completed) * r.unitCost

	if s.Elapsed > 0 && s.Completed > 0 {
		perSecond := float64(s.Completed) / s.Elapsed.Seconds()
		s.PerMinute = perSecond * 60
		remaining := r.total - s.Completed - s.Failed
		if remaining > 0 {
			s.ETA = time.Duration(float64(remaining) / perSecond * float64(time.Second))
		}
	}
	return s
}
