// Package logging builds the agent's root logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 5
	MaxAgeDays = 14
)

// Options select where logs go.
type Options struct {
	Level string
	// File is the rotating JSON log file. Empty disables file output.
	File string
	// Console writes human-readable lines here; nil disables it.
	Console io.Writer
}

// ParseLevel accepts the config spellings (DEBUG, INFO, WARN/WARNING,
// ERROR), case-insensitively.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// New returns the root logger and a func that flushes and closes it.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var cores []zapcore.Core
	var closers []io.Closer

	if opts.Console != nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.AddSync(opts.Console),
			level,
		))
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		closers = append(closers, rotator)

		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(enc),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closeFn := func() {
		_ = log.Sync()
		for _, c := range closers {
			_ = c.Close()
		}
	}
	return log, closeFn, nil
}
