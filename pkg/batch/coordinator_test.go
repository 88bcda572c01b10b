package batch

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printloft/cardforge/internal/mockbackend"
	"github.com/printloft/cardforge/pkg/manifest"
	"github.com/printloft/cardforge/pkg/output"
)

// coordinatorFixture builds a manifest directory (templates plus assets)
// against a live backend simulator.
type coordinatorFixture struct {
	baseDir string
	outDir  string
	writer  *captureWriter
	backend *httptest.Server
}

func newCoordinatorFixture(t *testing.T, assetNames ...string) *coordinatorFixture {
	t.Helper()
	baseDir := t.TempDir()

	tplDir := filepath.Join(baseDir, "templates")
	require.NoError(t, os.MkdirAll(tplDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tplDir, "portrait-v2.json"),
		[]byte(`{"image":"{{asset}}","strength":"{{param:styleStrength}}"}`), 0o644))

	assetDir := filepath.Join(baseDir, "assets")
	require.NoError(t, os.MkdirAll(assetDir, 0o755))
	for _, name := range assetNames {
		require.NoError(t, os.WriteFile(filepath.Join(assetDir, name), []byte("pixels"), 0o644))
	}

	sim := mockbackend.New(mockbackend.Options{Latency: 30 * time.Millisecond})
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(func() {
		srv.Close()
		sim.Close()
	})

	return &coordinatorFixture{
		baseDir: baseDir,
		outDir:  filepath.Join(baseDir, "out"),
		writer:  &captureWriter{},
		backend: srv,
	}
}

func (f *coordinatorFixture) manifest(cards ...manifest.CardSpec) *manifest.Manifest {
	m := &manifest.Manifest{
		Version:   "1.0",
		Backend:   manifest.BackendConfig{Endpoint: f.backend.URL},
		Templates: manifest.TemplatesConfig{Dir: "templates"},
		Generate:  manifest.GenerateConfig{Concurrency: 2, UnitCost: 0.012, RetryBaseMillis: 1, RetryMaxMillis: 10},
		Output:    manifest.OutputConfig{Destination: "out"},
		Cards:     cards,
	}
	m.ApplyDefaults()
	return m
}

func (f *coordinatorFixture) run(t *testing.T, ctx context.Context, m *manifest.Manifest) *Report {
	t.Helper()
	coord, err := NewCoordinator(RunOptions{
		Manifest:         m,
		BaseDir:          f.baseDir,
		RunID:            "run-test",
		Writer:           f.writer,
		ProgressInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	report, err := coord.Run(ctx)
	require.NoError(t, err)
	return report
}

func TestCoordinatorAllCardsSucceed(t *testing.T) {
	f := newCoordinatorFixture(t, "ada.png", "grace.png", "hopper.png")

	m := f.manifest(
		manifest.CardSpec{Name: "Ada Lovelace", Source: "assets/ada.png", Template: "portrait-v2"},
		manifest.CardSpec{Name: "Grace Hopper", Source: "assets/grace.png", Template: "portrait-v2", Params: map[string]any{"styleStrength": 0.8}},
		manifest.CardSpec{Source: "assets/hopper.png", Template: "portrait-v2"},
	)
	report := f.run(t, context.Background(), m)

	assert.True(t, report.Success())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, float64(3)*0.012, report.Cost)
	assert.Equal(t, "run-test", report.RunID)

	// Artifacts land in the destination under sanitized names.
	assert.FileExists(t, filepath.Join(f.outDir, "ada_lovelace.png"))
	assert.FileExists(t, filepath.Join(f.outDir, "grace_hopper.png"))
	assert.FileExists(t, filepath.Join(f.outDir, "hopper.png"))

	// report.json is persisted next to the artifacts.
	assert.FileExists(t, filepath.Join(f.outDir, "report.json"))

	// Progress was emitted during the run, and exactly one summary after.
	f.writer.mu.Lock()
	defer f.writer.mu.Unlock()
	assert.NotEmpty(t, f.writer.progress)
	require.Len(t, f.writer.summaries, 1)
	assert.Equal(t, int64(3), f.writer.summaries[0].Completed)
}

func TestCoordinatorRejectsInvalidEntriesWithoutAborting(t *testing.T) {
	f := newCoordinatorFixture(t, "ada.png", "fail-dragon.png")

	m := f.manifest(
		manifest.CardSpec{Name: "Ada", Source: "assets/ada.png", Template: "portrait-v2"},
		manifest.CardSpec{Name: "Ghost", Source: "assets/ghost.png", Template: "portrait-v2"},
		manifest.CardSpec{Name: "Dragon", Source: "assets/fail-dragon.png", Template: "portrait-v2"},
	)
	report := f.run(t, context.Background(), m)

	assert.False(t, report.Success())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.Failed)

	// The missing source never produced a job; the generation failure did.
	require.Len(t, report.Rejections, 1)
	assert.Equal(t, 1, report.Rejections[0].Index)
	assert.Contains(t, report.Rejections[0].Message, "not found")
	require.Len(t, report.Jobs, 2)

	codes := f.writer.errorCodes()
	assert.Contains(t, codes, output.ErrCodeValidation)
	assert.Contains(t, codes, output.ErrCodeGeneration)
}

func TestCoordinatorGlobExpansion(t *testing.T) {
	f := newCoordinatorFixture(t, "ada.png", "grace.png", "zuse.png")

	m := f.manifest(
		manifest.CardSpec{Source: "assets/*.png", Template: "portrait-v2"},
	)
	report := f.run(t, context.Background(), m)

	assert.True(t, report.Success())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Completed)
}

func TestCoordinatorCancellation(t *testing.T) {
	f := newCoordinatorFixture(t, "a.png", "b.png", "c.png", "d.png", "e.png", "f.png")

	m := f.manifest(
		manifest.CardSpec{Source: "assets/*.png", Template: "portrait-v2"},
	)
	m.Generate.Concurrency = 2

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	report := f.run(t, ctx, m)

	assert.False(t, report.Success())
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 6, report.Completed+report.Failed)
	assert.Greater(t, report.Cancelled, 0)

	// Every job reached a terminal state despite the cancellation.
	for _, outcome := range report.Jobs {
		assert.Contains(t, []string{"completed", "failed"}, outcome.State)
	}
}

func TestCoordinatorRunErrors(t *testing.T) {
	t.Run("missing template dir", func(t *testing.T) {
		f := newCoordinatorFixture(t, "ada.png")
		m := f.manifest(manifest.CardSpec{Source: "assets/ada.png", Template: "portrait-v2"})
		m.Templates.Dir = "no-such-dir"

		coord, err := NewCoordinator(RunOptions{Manifest: m, BaseDir: f.baseDir, Writer: f.writer})
		require.NoError(t, err)
		_, err = coord.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "templates")
	})

	t.Run("nil manifest", func(t *testing.T) {
		_, err := NewCoordinator(RunOptions{})
		assert.Error(t, err)
	})
}
