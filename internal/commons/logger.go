// Package commons provides the logging facility shared by every component
// of the intercom relay: a small interface wrapping zap so call sites never
// depend on the concrete logging library directly.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the narrow logging surface every package depends on. Keeping it
// an interface (rather than a concrete *zap.SugaredLogger) lets tests supply
// a no-op or buffering implementation without pulling in zap.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type sugaredLogger struct {
	*zap.SugaredLogger
}

func (s *sugaredLogger) Sync() error { return s.SugaredLogger.Sync() }

// Options configures NewApplicationLogger.
type Options struct {
	Level      string // debug|info|warn|error
	LogFile    string // optional file sink; empty disables file rotation
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions is what the process falls back to when nothing explicit is
// set in the environment.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// NewApplicationLogger builds the process-wide Logger. Console output always
// goes to stderr; a rotated file sink is added on top when opts.LogFile is set.
func NewApplicationLogger(opts Options) (Logger, error) {
	level := parseLevel(opts.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level),
	}

	if opts.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller())
	return &sugaredLogger{zl.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewTestLogger is the no-frills logger tests construct when they need a
// real Logger rather than a mock.
func NewTestLogger() Logger {
	l, _ := NewApplicationLogger(Options{Level: "debug"})
	return l
}
