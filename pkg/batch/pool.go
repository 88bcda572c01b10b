package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/printloft/cardforge/pkg/backend"
	"github.com/printloft/cardforge/pkg/output"
	"github.com/printloft/cardforge/pkg/retry"
	"github.com/printloft/cardforge/pkg/sink"
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent workers. Each worker drives one
	// job at a time end to end, so this bounds in-flight remote jobs.
	// Default: 4.
	Workers int

	// Policy is the retry policy applied to transient failures. Its
	// schedule also paces the status poll loop.
	Policy retry.Policy

	// JobTimeout bounds a single attempt end to end, including polling.
	// Default: 10m.
	JobTimeout time.Duration

	// RateLimit caps submissions per second across all workers.
	// Zero means unlimited.
	RateLimit float64

	// GracePeriod is how long in-flight jobs may keep using the backend
	// after cancellation before their remote calls are aborted.
	// Default: 10s.
	GracePeriod time.Duration
}

// Default pool values.
const (
	DefaultWorkers     = 4
	DefaultJobTimeout  = 10 * time.Minute
	DefaultGracePeriod = 10 * time.Second
)

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:     DefaultWorkers,
		Policy:      retry.Default(),
		JobTimeout:  DefaultJobTimeout,
		GracePeriod: DefaultGracePeriod,
	}
}

// Pool drains a queue of pending jobs with bounded concurrency.
//
// Pool is safe for single use only. Create a new Pool for each run.
type Pool struct {
	client   *backend.Client
	sink     sink.Sink
	writer   output.Writer
	reporter *Reporter
	cfg      PoolConfig

	// events is the optional push-status stream; nil means timer polling.
	events *backend.EventStream

	// limiter paces submissions (nil if unlimited).
	limiter *rate.Limiter
}

// NewPool creates a worker pool.
func NewPool(client *backend.Client, artifacts sink.Sink, writer output.Writer, reporter *Reporter, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	p := &Pool{
		client:   client,
		sink:     artifacts,
		writer:   writer,
		reporter: reporter,
		cfg:      cfg,
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return p
}

// WithEvents attaches a push-status stream. The poll loop consumes events
// when available and falls back to timer polling when the stream drops.
// Returns the pool for chaining.
func (p *Pool) WithEvents(es *backend.EventStream) *Pool {
	p.events = es
	return p
}

// Run drives every job to a terminal state and returns when the queue is
// drained.
//
// Cancelling ctx stops dequeuing: queued jobs fail as cancelled without
// any remote call, and in-flight jobs may finish their current remote
// calls within the grace period before being aborted. Run never returns
// with a non-terminal job.
func (p *Pool) Run(ctx context.Context, jobs []*Job) {
	queue := make(chan *Job, len(jobs))
	for _, job := range jobs {
		p.reporter.JobQueued()
		queue <- job
	}
	close(queue)

	// Remote calls run on a context that outlives cancellation by the
	// grace period, so an in-flight generation can still be collected.
	remoteCtx, abortRemote := context.WithCancel(context.Background())
	defer abortRemote()

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(p.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			abortRemote()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, remoteCtx, queue)
		}()
	}
	wg.Wait()
	close(done)
}

// workerLoop processes jobs until the queue is empty. After cancellation
// the loop keeps draining, but only to mark the remaining jobs terminal.
func (p *Pool) workerLoop(ctx, remoteCtx context.Context, queue <-chan *Job) {
	for job := range queue {
		if ctx.Err() != nil {
			p.dropCancelled(job)
			continue
		}
		p.reporter.JobStarted()
		p.runJob(ctx, remoteCtx, job)
	}
}

// runJob drives one job through its attempts. Retries stay on this worker:
// the job is never handed back to the shared queue.
func (p *Pool) runJob(ctx, remoteCtx context.Context, job *Job) {
	job.StartedAt = time.Now()

	for {
		err := p.attempt(remoteCtx, job)
		if err == nil {
			p.finish(job, JobCompleted, nil)
			return
		}
		job.LastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			p.finish(job, JobFailed, fmt.Errorf("%w: %v", ErrCancelled, err))
			return
		}

		if !p.cfg.Policy.ShouldRetry(err, job.Attempt) {
			p.finish(job, JobFailed, err)
			return
		}

		delay := p.cfg.Policy.NextDelay(job.Attempt)
		job.Attempt++
		job.State = JobPending

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.finish(job, JobFailed, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
			return
		case <-remoteCtx.Done():
			timer.Stop()
			p.finish(job, JobFailed, fmt.Errorf("%w: %v", ErrCancelled, remoteCtx.Err()))
			return
		}
	}
}

// attempt executes one full pass: upload, submit, poll, fetch, store.
// Any stale backend state from a previous attempt is discarded up front.
func (p *Pool) attempt(ctx context.Context, job *Job) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	job.RemoteHandle = ""
	job.State = JobUploading

	src, err := os.Open(job.Entry.SourcePath)
	if err != nil {
		// Sources were validated at expansion; losing one mid-run is not
		// something a retry can fix.
		return fmt.Errorf("open source asset: %w", err)
	}
	assetRef, err := p.client.Upload(attemptCtx, filepath.Base(job.Entry.SourcePath), src)
	_ = src.Close()
	if err != nil {
		return err
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(attemptCtx); err != nil {
			return err
		}
	}

	handle, err := p.client.Submit(attemptCtx, backend.SubmitRequest{
		Template: job.Entry.Template.Raw,
		AssetRef: assetRef,
		Params:   job.Entry.Params,
	})
	if err != nil {
		return err
	}
	job.RemoteHandle = handle
	job.State = JobSubmitted

	return p.awaitArtifact(attemptCtx, job)
}

// awaitArtifact polls (or consumes push events) until the backend reports
// a terminal state, then fetches and stores the artifact on success.
func (p *Pool) awaitArtifact(ctx context.Context, job *Job) error {
	job.State = JobPolling

	var events <-chan backend.StatusEvent
	if p.events != nil {
		events = p.events.Subscribe(job.RemoteHandle)
		defer p.events.Unsubscribe(job.RemoteHandle)
	}

	poll := 0
	for {
		st, err := p.client.Status(ctx, job.RemoteHandle)
		if err != nil {
			return err
		}
		switch st.State {
		case backend.StateSucceeded:
			return p.collect(ctx, job)
		case backend.StateFailed:
			return &backend.GenerationError{Handle: job.RemoteHandle, Reason: st.Reason}
		case backend.StateNotFound:
			// The backend lost a handle it issued. A fresh submission may
			// succeed, so this is transient.
			return &backend.TransportError{Op: "status", Retryable: true,
				Err: fmt.Errorf("handle %s not found", job.RemoteHandle)}
		}

		// Queued or running: wait for a push event or the next poll tick.
		// A nil events channel blocks forever, leaving timer polling only.
		timer := time.NewTimer(p.cfg.Policy.NextDelay(poll))
		poll++
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case ev, ok := <-events:
			timer.Stop()
			if !ok {
				// Stream dropped; continue on timer polling.
				events = nil
				continue
			}
			switch ev.State {
			case backend.StateSucceeded:
				return p.collect(ctx, job)
			case backend.StateFailed:
				return &backend.GenerationError{Handle: job.RemoteHandle, Reason: ev.Reason}
			}
		case <-timer.C:
		}
	}
}

// collect fetches the finished artifact and writes it through the sink.
func (p *Pool) collect(ctx context.Context, job *Job) error {
	body, err := p.client.Result(ctx, job.RemoteHandle)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	location, err := p.sink.Put(ctx, job.Entry.ArtifactName(), body)
	if err != nil {
		return err
	}
	job.ArtifactPath = location
	return nil
}

// finish moves an in-flight job to a terminal state and emits its records.
func (p *Pool) finish(job *Job, state JobState, failure error) {
	job.FinishedAt = time.Now()
	job.State = state

	if state == JobCompleted {
		p.reporter.JobCompleted()
	} else {
		job.LastErr = failure
		p.reporter.JobFailed()
	}
	p.writeRecords(job)
}

// dropCancelled terminates a job the run was cancelled before starting.
// No remote call is ever made on its behalf.
func (p *Pool) dropCancelled(job *Job) {
	job.State = JobFailed
	job.LastErr = ErrCancelled
	p.reporter.JobDropped()
	p.writeRecords(job)
}

// writeRecords emits the terminal job record (and an error record for
// failures). Records are written on a background context so a cancelled
// run still reports every outcome.
func (p *Pool) writeRecords(job *Job) {
	ctx := context.Background()

	rec := &output.JobRecord{
		JobID:        job.ID,
		Name:         job.Entry.Name,
		State:        string(job.State),
		RemoteHandle: job.RemoteHandle,
		Attempts:     job.Attempt + 1,
		Artifact:     job.ArtifactPath,
		Duration:     job.Duration(),
	}
	if job.State == JobFailed && job.LastErr != nil {
		rec.Error = job.LastErr.Error()
	}
	_ = p.writer.WriteJob(ctx, rec)

	if job.State == JobFailed && job.LastErr != nil {
		_ = p.writer.WriteError(ctx, &output.ErrorRecord{
			Code:    errorCode(job.LastErr),
			Message: job.LastErr.Error(),
			JobID:   job.ID,
			Source:  job.Entry.SourcePath,
		})
	}
}

// errorCode maps a terminal failure to a machine-readable record code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrCancelled):
		return output.ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
	}
	var ge *backend.GenerationError
	if errors.As(err, &ge) {
		return output.ErrCodeGeneration
	}
	var te *backend.TransportError
	if errors.As(err, &te) {
		return output.ErrCodeTransport
	}
	return output.ErrCodeInternal
}
