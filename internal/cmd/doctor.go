package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/printloft/cardforge/internal/errors"
	"github.com/printloft/cardforge/internal/observability"
	"github.com/printloft/cardforge/pkg/backend"
)

var doctorEndpoint string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and the inference backend.

Examples:
  cardforge doctor                                  # Environment checks
  cardforge doctor --endpoint http://127.0.0.1:8188  # Include backend check`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorEndpoint, "endpoint", "", "Backend endpoint to check (defaults to configured endpoint)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	observability.CLILogger.Info("=== cardforge doctor ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 4

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir))
	checkNum++

	// Check 3: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	// Check 4: Backend reachability
	endpoint := doctorEndpoint
	if endpoint == "" && toolConfig != nil {
		endpoint = toolConfig.Backend.Endpoint
	}
	if endpoint == "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking backend... ⏭️  No endpoint configured, skipping", checkNum, totalChecks))
	} else if err := checkBackend(cmd, endpoint); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking backend... ❌ %s unreachable", checkNum, totalChecks, endpoint),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot reach backend",
			errwrap.WrapExternalService(err, "inference backend unavailable"))
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking backend... ✅ %s", checkNum, totalChecks, endpoint),
			zap.String("endpoint", endpoint))
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info("✅ All checks passed! Your cardforge installation is healthy.")
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// checkBackend pings the configured backend endpoint.
func checkBackend(cmd *cobra.Command, endpoint string) error {
	client, err := backend.New(backend.Config{Endpoint: endpoint})
	if err != nil {
		return err
	}
	return client.Ping(cmd.Context())
}
