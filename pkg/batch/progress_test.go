package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterLifecycle(t *testing.T) {
	r := NewReporter(5, 0.012)

	for i := 0; i < 5; i++ {
		r.JobQueued()
	}
	assert.Equal(t, int64(5), r.Pending())

	r.JobStarted()
	r.JobStarted()
	assert.Equal(t, int64(2), r.InFlight())
	assert.Equal(t, int64(3), r.Pending())

	r.JobCompleted()
	r.JobFailed()
	assert.Equal(t, int64(1), r.Completed())
	assert.Equal(t, int64(1), r.Failed())
	assert.Equal(t, int64(0), r.InFlight())
	assert.Equal(t, int64(3), r.Pending())

	// Cancellation drops queued jobs straight to failed.
	r.JobDropped()
	r.JobDropped()
	r.JobDropped()
	assert.Equal(t, int64(4), r.Failed())
	assert.Equal(t, int64(0), r.Pending())
}

func TestReporterCostIsExactlyCompletedTimesUnitCost(t *testing.T) {
	unitCost := 0.0125
	r := NewReporter(10, unitCost)

	for i := 0; i < 10; i++ {
		r.JobQueued()
		r.JobStarted()
	}
	for i := 0; i < 7; i++ {
		r.JobCompleted()
	}
	for i := 0; i < 3; i++ {
		r.JobFailed()
	}

	// Cost is a pure projection of the completed counter, never an
	// accumulation that could drift.
	assert.Equal(t, float64(7)*unitCost, r.Cost())
	assert.Equal(t, float64(7)*unitCost, r.Snapshot().Cost)
}

func TestReporterInvariantUnderConcurrency(t *testing.T) {
	const jobs = 400
	r := NewReporter(jobs, 0.01)

	for i := 0; i < jobs; i++ {
		r.JobQueued()
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < jobs; i += 8 {
				r.JobStarted()
				if i%3 == 0 {
					r.JobFailed()
				} else {
					r.JobCompleted()
				}
			}
		}(w)
	}

	// Readers race the workers; the identity must hold at every sample.
	var readers sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 4; g++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := r.Snapshot()
				assert.Equal(t, s.Submitted, s.Completed+s.Failed+s.InFlight+s.Pending,
					"counter identity violated")
				assert.GreaterOrEqual(t, s.Pending, int64(0))
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	s := r.Snapshot()
	require.Equal(t, int64(jobs), s.Submitted)
	assert.Equal(t, int64(0), s.InFlight)
	assert.Equal(t, int64(0), s.Pending)
	assert.Equal(t, int64(jobs), s.Completed+s.Failed)
}

func TestSnapshotThroughput(t *testing.T) {
	r := NewReporter(10, 0)
	for i := 0; i < 4; i++ {
		r.JobQueued()
		r.JobStarted()
		r.JobCompleted()
	}

	s := r.Snapshot()
	assert.Greater(t, s.PerMinute, 0.0)
	assert.Greater(t, s.ETA, time.Duration(0))
}
