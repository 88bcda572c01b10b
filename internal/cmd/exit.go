package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/printloft/cardforge/internal/observability"
)

// exitCodeError carries a foundry exit code through cobra's error return
// path so Execute can map it to the process exit status.
type exitCodeError struct {
	code int
	msg  string
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError builds a coded error for a command to return.
func exitError(code int, msg string, err error) error {
	observability.CLILogger.Error(msg, zap.Error(err))
	return &exitCodeError{code: code, msg: msg, err: err}
}

// ExitWithCode logs the failure and terminates the process immediately.
// Use only where returning an error is not possible.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	observability.SyncCLILogger()
	os.Exit(code)
}
