// Package cmd implements the cardforge command-line interface.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/printloft/cardforge/internal/config"
	"github.com/printloft/cardforge/internal/observability"
)

// versionInfo holds build-time version metadata, set via SetVersionInfo
// from main's ldflags values.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	rootVerbose bool

	// toolConfig is the loaded tool-level configuration, available to all
	// commands after the persistent pre-run.
	toolConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cardforge",
	Short: "Batch card artwork generation through a GPU inference backend",
	Long: `cardforge drives batches of card artwork through an asynchronous
GPU inference backend: it uploads source assets, submits workflow
templates, polls for completion, and collects the finished artwork into
a local directory or an S3 bucket.

A batch is described by a YAML or JSON manifest pairing source assets
with workflow templates. See 'cardforge generate --help' to run one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		observability.InitCLILogger("cardforge", rootVerbose)

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		toolConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the CLI and exits the process with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	observability.SyncCLILogger()
	if err == nil {
		return
	}

	var coded *exitCodeError
	if errors.As(err, &coded) {
		os.Exit(coded.code)
	}

	// Flag parsing and other cobra-level failures.
	rootCmd.PrintErrln("Error:", err)
	os.Exit(foundry.ExitInvalidArgument)
}
