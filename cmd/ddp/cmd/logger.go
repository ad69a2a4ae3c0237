package cmd

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevel string

func setupLogger() (*zap.Logger, error) {
	return newLogger(logLevel, GetVerbose(), GetDebug())
}

// newLogger builds a production logger. The debug flag, or the verbose flag
// with the level left at info, lowers the level to debug. An unknown level
// falls back to info.
func newLogger(level string, verboseFlag, debugFlag bool) (*zap.Logger, error) {
	if debugFlag {
		level = "debug"
	} else if verboseFlag && (level == "" || level == "info") {
		level = "debug"
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.Development = debugFlag

	return config.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
