// Package logger configures the process-wide zap logger.
//
// Components receive a *zap.SugaredLogger through their constructors; the
// global here exists for main() wiring and for packages that log before
// dependency injection is complete.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance.
	Logger *zap.SugaredLogger
	// JSONOutput tracks whether structured JSON output is enabled.
	JSONOutput bool
)

func init() {
	// Safe no-op logger at package load time so early callers never panic.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. With jsonOutput the logger emits
// machine-readable JSON; otherwise it writes human-readable console lines.
// Debug lowers the level threshold to DebugLevel.
func Initialize(jsonOutput, debug bool) error {
	JSONOutput = jsonOutput

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		zapLogger, err = config.Build()
		if err != nil {
			return err
		}
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderCfg),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Named returns a child of the global logger with the given name appended.
func Named(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Sync flushes any buffered log entries. Called on shutdown.
func Sync() {
	_ = Logger.Sync()
}
