package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide structured logger. Init must be called once
// at startup; packages log through logger.Log directly.
var Log = zap.NewNop()

// Init configures the global logger. level is one of debug, info,
// warn, error; empty falls back to the KIRIMIN_LOG_LEVEL environment
// variable and then to info.
func Init(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("KIRIMIN_LOG_LEVEL")))
	}

	var zl zapcore.Level
	switch lvl {
	case "debug":
		zl = zapcore.DebugLevel
	case "warn", "warning":
		zl = zapcore.WarnLevel
	case "error":
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		// keep the nop logger rather than failing startup
		return
	}
	Log = l
}

// Sync flushes buffered log entries. Safe to defer from main.
func Sync() {
	_ = Log.Sync()
}
