package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/printloft/cardforge/internal/mockbackend"
	"github.com/printloft/cardforge/internal/observability"
)

var (
	mockListen  string
	mockLatency time.Duration
)

var mockbackendCmd = &cobra.Command{
	Use:   "mockbackend",
	Short: "Run a local backend simulator",
	Long: `Run an in-process inference backend simulator for developing and
testing manifests without GPU infrastructure.

The simulator speaks the full backend surface: upload, submit, status,
result, and the websocket push-status channel. Asset file names drive
behavior: names containing "fail" produce failed generations, "flaky"
fail their first submission, and "slow" take 10x the latency.

Example:
  cardforge mockbackend --listen 127.0.0.1:8188 --latency 200ms`,
	RunE: runMockBackend,
}

func init() {
	rootCmd.AddCommand(mockbackendCmd)

	mockbackendCmd.Flags().StringVar(&mockListen, "listen", "127.0.0.1:8188", "Listen address")
	mockbackendCmd.Flags().DurationVar(&mockLatency, "latency", 200*time.Millisecond, "Simulated generation time per job")
}

func runMockBackend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sim := mockbackend.New(mockbackend.Options{Latency: mockLatency})
	defer sim.Close()

	srv := &http.Server{
		Addr:              mockListen,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.CLILogger.Info("Mock backend listening",
			zap.String("addr", mockListen),
			zap.Duration("latency", mockLatency))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		observability.CLILogger.Info("Shutting down mock backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Mock backend failed", err)
	}
}
