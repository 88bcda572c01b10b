package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/printloft/cardforge/internal/observability"
	"github.com/printloft/cardforge/pkg/backend"
	"github.com/printloft/cardforge/pkg/batch"
	"github.com/printloft/cardforge/pkg/manifest"
	"github.com/printloft/cardforge/pkg/output"
	"github.com/printloft/cardforge/pkg/template"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a generation batch from a manifest",
	Long: `Run a card generation batch as defined in a YAML or JSON manifest.

The manifest specifies the backend connection, the workflow template
library, batch behavior, the output destination, and the cards to
produce.

Example:
  cardforge generate --job cards.yaml
  cardforge generate --job cards.yaml --output out/cards
  cardforge generate --job cards.yaml --records run.jsonl
  cardforge generate --job cards.yaml --quiet
  cardforge generate --job cards.yaml --dry-run`,
	RunE: runGenerate,
}

var (
	generateJobPath     string
	generateOutput      string
	generateRecords     string
	generateQuiet       bool
	generateDryRun      bool
	generatePlan        bool
	generateConcurrency int
	generateAttempts    int
	generateUnitCost    float64
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateJobPath, "job", "j", "", "Path to batch manifest (required)")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Override artifact destination")
	generateCmd.Flags().StringVar(&generateRecords, "records", "", "Write JSONL records to a file instead of stdout")
	generateCmd.Flags().BoolVarP(&generateQuiet, "quiet", "q", false, "Suppress progress records")
	generateCmd.Flags().BoolVar(&generateDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	generateCmd.Flags().BoolVar(&generatePlan, "plan", false, "Alias for --dry-run")
	generateCmd.Flags().IntVar(&generateConcurrency, "concurrency", 0, "Override worker count")
	generateCmd.Flags().IntVar(&generateAttempts, "max-attempts", 0, "Override submission attempt ceiling")
	generateCmd.Flags().Float64Var(&generateUnitCost, "unit-cost", -1, "Override cost per completed generation")

	_ = generateCmd.MarkFlagRequired("job")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(generateJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", generateJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	baseDir := filepath.Dir(generateJobPath)

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", generateJobPath),
		zap.String("endpoint", m.Backend.Endpoint),
		zap.Int("cards", len(m.Cards)))

	// Apply flag overrides.
	if generateOutput != "" {
		m.Output.Destination = generateOutput
	}
	if generateConcurrency > 0 {
		m.Generate.Concurrency = generateConcurrency
	}
	if generateAttempts > 0 {
		m.Generate.MaxAttempts = generateAttempts
	}
	if generateUnitCost >= 0 {
		m.Generate.UnitCost = generateUnitCost
	}
	if generateQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	if generatePlan || generateDryRun {
		return showGeneratePlan(m, baseDir)
	}

	return executeGenerate(cmd, m, baseDir)
}

// showGeneratePlan validates the manifest end to end and displays what
// would run, without touching the backend.
func showGeneratePlan(m *manifest.Manifest, baseDir string) error {
	store, err := template.LoadDir(resolveAgainst(baseDir, m.Templates.Dir))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid template library", err)
	}
	entries, rejected := manifest.Expand(m, baseDir, store)

	fmt.Println("=== Generation Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Backend:     %s\n", m.Backend.Endpoint)
	fmt.Printf("Templates:   %s (%d loaded: %s)\n", m.Templates.Dir, store.Len(), strings.Join(store.IDs(), ", "))
	fmt.Printf("Cards:       %d specs -> %d jobs\n", len(m.Cards), len(entries))
	if len(rejected) > 0 {
		fmt.Println()
		fmt.Println("Rejected entries:")
		for _, re := range rejected {
			fmt.Printf("  - %v\n", re)
		}
	}
	fmt.Println()
	fmt.Printf("Concurrency: %d\n", m.Generate.Concurrency)
	fmt.Printf("Attempts:    %d\n", m.Generate.MaxAttempts)
	if m.Generate.RateLimit > 0 {
		fmt.Printf("Rate Limit:  %.1f submits/s\n", m.Generate.RateLimit)
	}
	if m.Generate.UnitCost > 0 {
		fmt.Printf("Unit Cost:   %.4f (projected: %.4f)\n", m.Generate.UnitCost,
			m.Generate.UnitCost*float64(len(entries)))
	}
	fmt.Printf("Output:      %s\n", m.Output.Destination)
	fmt.Printf("Progress:    %v\n", m.Output.ProgressEnabled())
	fmt.Println()
	if len(rejected) > 0 {
		fmt.Println("Manifest validated with rejections. Fix the entries above or run anyway.")
	} else {
		fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	}
	return nil
}

// executeGenerate runs the batch.
func executeGenerate(cmd *cobra.Command, m *manifest.Manifest, baseDir string) error {
	ctx := cmd.Context()
	runID := uuid.New().String()

	// Reachability preflight: fail before expanding anything if the
	// backend is down.
	client, err := backend.New(backend.Config{Endpoint: m.Backend.Endpoint})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid backend endpoint", err)
	}
	if err := client.Ping(ctx); err != nil {
		observability.CLILogger.Error("Backend unreachable",
			zap.String("endpoint", m.Backend.Endpoint),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to backend", err)
	}

	writer, cleanup, err := createRecordWriter(runID)
	if err != nil {
		observability.CLILogger.Error("Failed to create record writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	coord, err := batch.NewCoordinator(batch.RunOptions{
		Manifest: m,
		BaseDir:  baseDir,
		RunID:    runID,
		Writer:   writer,
		Logger:   observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid run options", err)
	}

	observability.CLILogger.Info("Starting generation",
		zap.String("run_id", runID),
		zap.String("endpoint", m.Backend.Endpoint),
		zap.Int("concurrency", m.Generate.Concurrency))

	report, err := coord.Run(ctx)
	if err != nil {
		observability.CLILogger.Error("Generation failed",
			zap.String("run_id", runID),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Generation failed", err)
	}

	observability.CLILogger.Info("Generation finished",
		zap.String("run_id", runID),
		zap.Int("total", report.Total),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Float64("cost", report.Cost),
		zap.Duration("duration", report.Duration))

	if report.Success() {
		return nil
	}
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Generation cancelled",
			fmt.Errorf("completed=%d failed=%d cancelled=%d", report.Completed, report.Failed, report.Cancelled))
	}
	return exitError(foundry.ExitExternalServiceUnavailable, "Generation completed with failures",
		fmt.Errorf("completed=%d failed=%d", report.Completed, report.Failed))
}

// createRecordWriter builds the JSONL writer for run records: stdout by
// default, a file when --records is set. Returns the writer and a cleanup
// function.
func createRecordWriter(runID string) (output.Writer, func(), error) {
	if generateRecords == "" || generateRecords == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(generateRecords, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create records file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, runID)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

// resolveAgainst joins a relative path with the manifest directory.
func resolveAgainst(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
