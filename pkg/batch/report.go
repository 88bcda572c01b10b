package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JobOutcome is the per-job slice of the final report.
type JobOutcome struct {
	JobID        string        `json:"job_id"`
	Name         string        `json:"name"`
	Source       string        `json:"source"`
	Template     string        `json:"template"`
	State        string        `json:"state"`
	RemoteHandle string        `json:"remote_handle,omitempty"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
	Cancelled    bool          `json:"cancelled,omitempty"`
	Artifact     string        `json:"artifact,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Rejection is a manifest entry that never became a job because a local
// precondition failed.
type Rejection struct {
	Index   int    `json:"index"`
	Name    string `json:"name,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

// Report is the full outcome of one generation run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	// Total counts every manifest entry, rejected ones included.
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	Cost      float64 `json:"cost"`

	Destination string       `json:"destination,omitempty"`
	Rejections  []Rejection  `json:"rejections,omitempty"`
	Jobs        []JobOutcome `json:"jobs"`
}

// Success reports whether every entry in the batch produced an artifact.
// This is the run's exit-code criterion: rejections, failures, and
// cancellations all make the run unsuccessful.
func (r *Report) Success() bool {
	return r.Total > 0 && r.Completed == r.Total
}

// WriteFile persists the report as JSON. The write goes through a temp
// file in the destination directory followed by a rename, so readers
// never observe a partial report.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
