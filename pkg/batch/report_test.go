package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSuccess(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   bool
	}{
		{name: "all completed", report: Report{Total: 3, Completed: 3}, want: true},
		{name: "one failed", report: Report{Total: 3, Completed: 2, Failed: 1}, want: false},
		{name: "rejection counts against total", report: Report{Total: 4, Completed: 3, Failed: 1}, want: false},
		{name: "cancelled run", report: Report{Total: 3, Completed: 1, Failed: 2, Cancelled: 2}, want: false},
		{name: "empty batch is not success", report: Report{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Success())
		})
	}
}

func TestReportWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	report := &Report{
		RunID:      "run-1",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Total:      2,
		Completed:  1,
		Failed:     1,
		Cost:       0.012,
		Jobs: []JobOutcome{
			{JobID: "job-1", Name: "Ada", State: "completed", Attempts: 1, Artifact: "out/ada.png"},
			{JobID: "job-2", Name: "Grace", State: "failed", Attempts: 3, Error: "simulated"},
		},
	}
	require.NoError(t, report.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Jobs, 2)
	assert.Equal(t, 0.012, decoded.Cost)

	// Atomic write leaves no temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.json", entries[0].Name())
}
