// Package observability provides logging setup for the CLI.
//
// Diagnostic logging goes to stderr so stdout stays reserved for JSONL
// records; the two streams can be piped independently.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command-line diagnostics.
// It is a no-op logger until InitCLILogger runs, so early failures can
// still log without a nil check.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for interactive use: human-readable
// console output on stderr, info level by default, debug when verbose.
func InitCLILogger(appName string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isTerminal(os.Stderr) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	CLILogger = zap.New(core).Named(appName)
}

// SyncCLILogger flushes buffered log entries. Call before process exit.
func SyncCLILogger() {
	_ = CLILogger.Sync()
}

// isTerminal reports whether f is attached to a character device.
func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
