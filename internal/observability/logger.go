// Package observability owns the process-wide CLI logger.
//
// Logs are written to stderr so stdout stays reserved for command output
// (tables and JSONL records).
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// CLILogger is the logger used by commands. It is a no-op logger until
// InitCLILogger is called.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for the given level and profile.
// A nil writer means stderr.
func InitCLILogger(level, profile string, w io.Writer) error {
	logger, err := NewLogger(level, profile, w)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a zap logger without touching CLILogger.
func NewLogger(level, profile string, w io.Writer) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		enc = zapcore.NewJSONEncoder(encCfg)
	case ProfileConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown logging profile %q (expected structured or console)", profile)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// Sync flushes CLILogger, ignoring the errors stderr returns on some platforms.
func Sync() {
	_ = CLILogger.Sync()
}
