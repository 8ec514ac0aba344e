// Package logging builds the zap logger shared by every component.
//
// Two rotated JSON files are written under the log directory:
// - errors.log receives Warn and above, always
// - verbose.log receives everything from Debug up, only when verbose is set

package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how much is logged.
type Config struct {
	Dir     string
	Verbose bool
	Console bool // mirror Warn+ to stderr
}

// Standard field keys.
const (
	FieldRunID     = "run_id"
	FieldSessionID = "session_id"
	FieldStage     = "stage"
	FieldAttempt   = "attempt"
)

// New creates a logger writing to rotated files under cfg.Dir.
func New(cfg Config) (*zap.Logger, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	encoder := zapcore.NewJSONEncoder(encoderConfig())

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(rotator(filepath.Join(dir, "errors.log"))), zap.WarnLevel),
	}
	if cfg.Verbose {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator(filepath.Join(dir, "verbose.log"))), zap.DebugLevel))
	}
	if cfg.Console {
		console := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(console, zapcore.Lock(os.Stderr), zap.WarnLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

func rotator(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.MessageKey = "message"
	ec.LevelKey = "level"
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}
