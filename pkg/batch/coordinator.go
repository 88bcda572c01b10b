package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/printloft/cardforge/pkg/backend"
	"github.com/printloft/cardforge/pkg/manifest"
	"github.com/printloft/cardforge/pkg/output"
	"github.com/printloft/cardforge/pkg/retry"
	"github.com/printloft/cardforge/pkg/sink"
	filesink "github.com/printloft/cardforge/pkg/sink/file"
	s3sink "github.com/printloft/cardforge/pkg/sink/s3"
	"github.com/printloft/cardforge/pkg/template"
)

// DefaultProgressInterval is how often progress records are emitted.
const DefaultProgressInterval = 2 * time.Second

// RunOptions configures a generation run.
type RunOptions struct {
	// Manifest is the loaded, validated manifest with defaults applied.
	Manifest *manifest.Manifest

	// BaseDir is the manifest's directory. Relative template, source, and
	// destination paths resolve against it.
	BaseDir string

	// RunID correlates all records of this run. Empty generates one.
	RunID string

	// Writer receives the run's JSONL records. Nil discards them.
	Writer output.Writer

	// Logger receives operational logging. Nil disables it.
	Logger *zap.Logger

	// ProgressInterval overrides the progress emission cadence.
	ProgressInterval time.Duration
}

// Coordinator owns one generation run: it expands the manifest, rejects
// entries that fail local preconditions, drives the remainder through the
// worker pool, and assembles the final report.
type Coordinator struct {
	opts     RunOptions
	logger   *zap.Logger
	writer   output.Writer
	reporter *Reporter
}

// NewCoordinator creates a coordinator for a single run.
func NewCoordinator(opts RunOptions) (*Coordinator, error) {
	if opts.Manifest == nil {
		return nil, fmt.Errorf("coordinator: manifest is required")
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Writer == nil {
		opts.Writer = output.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Coordinator{opts: opts, logger: opts.Logger, writer: opts.Writer}, nil
}

// Run executes the batch and returns its report.
//
// Per-entry failures (local validation, backend failures, timeouts) are
// recorded in the report without aborting the run. Run itself returns an
// error only for run-level problems: an unloadable template library, an
// invalid backend endpoint, or an unusable destination.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	m := c.opts.Manifest
	started := time.Now()

	store, err := template.LoadDir(c.resolve(m.Templates.Dir))
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	entries, rejected := manifest.Expand(m, c.opts.BaseDir, store)
	rejections := c.recordRejections(rejected)
	c.logger.Info("manifest expanded",
		zap.Int("entries", len(entries)),
		zap.Int("rejected", len(rejected)))

	client, err := backend.New(backend.Config{
		Endpoint:       m.Backend.Endpoint,
		RequestTimeout: time.Duration(m.Backend.RequestTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	artifacts, err := c.openSink(ctx, m.Output)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	defer func() { _ = artifacts.Close() }()

	jobs := make([]*Job, len(entries))
	for i, entry := range entries {
		jobs[i] = &Job{ID: uuid.NewString(), Entry: entry, State: JobPending}
	}

	c.reporter = NewReporter(len(jobs), m.Generate.UnitCost)

	pool := NewPool(client, artifacts, c.writer, c.reporter, PoolConfig{
		Workers:     m.Generate.Concurrency,
		Policy:      c.policy(m.Generate),
		JobTimeout:  time.Duration(m.Generate.JobTimeoutSeconds) * time.Second,
		RateLimit:   m.Generate.RateLimit,
		GracePeriod: DefaultGracePeriod,
	})

	if m.Backend.EventsEnabled() {
		if es, err := backend.DialEvents(ctx, m.Backend.Endpoint); err != nil {
			c.logger.Debug("push-status channel unavailable, polling only", zap.Error(err))
		} else {
			defer func() { _ = es.Close() }()
			pool.WithEvents(es)
		}
	}

	stopProgress := c.startProgress(m.Output.ProgressEnabled())
	pool.Run(ctx, jobs)
	stopProgress()

	report := c.buildReport(jobs, rejections, started, m.Output.Destination)
	c.writeSummary(report)

	if m.Output.ReportEnabled() {
		if err := c.persistReport(report, artifacts); err != nil {
			c.logger.Warn("report not persisted", zap.Error(err))
		}
	}
	return report, nil
}

// recordRejections emits a validation error record per rejected entry.
func (c *Coordinator) recordRejections(rejected []manifest.EntryError) []Rejection {
	rejections := make([]Rejection, 0, len(rejected))
	for _, re := range rejected {
		c.logger.Warn("card rejected", zap.Int("index", re.Index), zap.Error(re.Err))
		_ = c.writer.WriteError(context.Background(), &output.ErrorRecord{
			Code:    output.ErrCodeValidation,
			Message: re.Error(),
			Source:  re.Source,
		})
		rejections = append(rejections, Rejection{
			Index:   re.Index,
			Name:    re.Name,
			Source:  re.Source,
			Message: re.Err.Error(),
		})
	}
	return rejections
}

// openSink creates the artifact sink for the configured destination.
func (c *Coordinator) openSink(ctx context.Context, out manifest.OutputConfig) (sink.Sink, error) {
	if sink.IsS3Destination(out.Destination) {
		bucket, prefix, err := sink.SplitS3Destination(out.Destination)
		if err != nil {
			return nil, err
		}
		return s3sink.New(ctx, s3sink.Config{
			Bucket:   bucket,
			Prefix:   prefix,
			Region:   out.Region,
			Endpoint: out.Endpoint,
		})
	}
	return filesink.New(filesink.Config{Dir: c.resolve(out.Destination)})
}

// policy builds the retry policy from the manifest's generate section.
func (c *Coordinator) policy(g manifest.GenerateConfig) retry.Policy {
	return retry.Policy{
		Base:        time.Duration(g.RetryBaseMillis) * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    time.Duration(g.RetryMaxMillis) * time.Millisecond,
		MaxAttempts: g.MaxAttempts,
	}
}

// startProgress launches the periodic progress emitter and returns a stop
// function that emits one final record before returning.
func (c *Coordinator) startProgress(enabled bool) func() {
	if !enabled {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(c.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.emitProgress()
			case <-done:
				c.emitProgress()
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// emitProgress writes one progress record from the current counters.
func (c *Coordinator) emitProgress() {
	s := c.reporter.Snapshot()
	_ = c.writer.WriteProgress(context.Background(), &output.ProgressRecord{
		Total:      s.Total,
		Submitted:  s.Submitted,
		Completed:  s.Completed,
		Failed:     s.Failed,
		InFlight:   s.InFlight,
		Pending:    s.Pending,
		Cost:       s.Cost,
		PerMinute:  s.PerMinute,
		ETASeconds: s.ETA.Seconds(),
	})
}

// buildReport assembles the final report from terminal jobs and the
// entries rejected during expansion.
func (c *Coordinator) buildReport(jobs []*Job, rejections []Rejection, started time.Time, destination string) *Report {
	report := &Report{
		RunID:       c.opts.RunID,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Total:       len(jobs) + len(rejections),
		Failed:      len(rejections),
		Destination: destination,
		Rejections:  rejections,
		Jobs:        make([]JobOutcome, 0, len(jobs)),
	}
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	for _, job := range jobs {
		outcome := JobOutcome{
			JobID:        job.ID,
			Name:         job.Entry.Name,
			Source:       job.Entry.SourcePath,
			Template:     job.Entry.Template.ID,
			State:        string(job.State),
			RemoteHandle: job.RemoteHandle,
			Attempts:     job.Attempt + 1,
			Artifact:     job.ArtifactPath,
			Duration:     job.Duration(),
		}
		switch {
		case job.State == JobCompleted:
			report.Completed++
		case job.Cancelled():
			report.Failed++
			report.Cancelled++
			outcome.Cancelled = true
		default:
			report.Failed++
		}
		if job.State == JobFailed && job.LastErr != nil {
			outcome.Error = job.LastErr.Error()
		}
		report.Jobs = append(report.Jobs, outcome)
	}
	report.Cost = float64(report.Completed) * c.opts.Manifest.Generate.UnitCost
	return report
}

// writeSummary emits the final summary record.
func (c *Coordinator) writeSummary(report *Report) {
	_ = c.writer.WriteSummary(context.Background(), &output.SummaryRecord{
		Total:         int64(report.Total),
		Completed:     int64(report.Completed),
		Failed:        int64(report.Failed),
		Cost:          report.Cost,
		Duration:      report.Duration,
		DurationHuman: report.Duration.Round(time.Millisecond).String(),
		Destination:   report.Destination,
	})
}

// persistReport writes report.json next to the artifacts: into the local
// destination directory, or as an object under the s3 prefix.
func (c *Coordinator) persistReport(report *Report, artifacts sink.Sink) error {
	if fs, ok := artifacts.(*filesink.Sink); ok {
		return report.WriteFile(filepath.Join(fs.Dir(), "report.json"))
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = artifacts.Put(context.Background(), "report.json", bytes.NewReader(append(data, '\n')))
	return err
}

// resolve joins a path with the manifest's directory unless absolute.
func (c *Coordinator) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.opts.BaseDir == "" {
		return path
	}
	return filepath.Join(c.opts.BaseDir, path)
}
