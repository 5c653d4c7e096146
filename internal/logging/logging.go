// Package logging provides the zap-backed implementation of core.Logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"txcore/internal/config"
	"txcore/internal/core"
)

const callerSkipFrames = 1

// Logger adapts a zap.SugaredLogger to the key/value logging contract used
// by transactions and the service.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var _ core.Logger = (*Logger)(nil)

// New builds a logger from cfg. Format is "json" or "console" (default).
func New(cfg config.LogConfig) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if strings.TrimSpace(cfg.Level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level.SetLevel(parsed)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = level
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	built, err := zc.Build(zap.AddCallerSkip(callerSkipFrames))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{sugar: built.Sugar(), level: level}, nil
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{sugar: l.WithOptions(zap.AddCallerSkip(callerSkipFrames)).Sugar(), level: zap.NewAtomicLevelAt(l.Level())}
}

func (l *Logger) must() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return zap.NewNop().Sugar()
	}
	return l.sugar
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.must().Debugw(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.must().Infow(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.must().Warnw(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.must().Errorw(msg, args...) }

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.must().With(args...), level: l.level}
}

// SetLevel adjusts the minimum level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) { l.level.SetLevel(level) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.must().Sync() }
