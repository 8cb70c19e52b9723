package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "rc-assistant"

type loggers struct {
	plain *zap.Logger
	// helper skips the package-level wrapper frame when reporting callers.
	helper *zap.Logger
}

// current holds the process logger. It is a no-op until Init runs so
// packages can log from tests.
var current atomic.Pointer[loggers]

func init() {
	store(zap.NewNop())
}

func store(l *zap.Logger) {
	current.Store(&loggers{plain: l, helper: l.WithOptions(zap.AddCallerSkip(1))})
}

// Init builds the process logger. format is "json" or "console"; outputPath
// is stdout, stderr or a file path opened for append.
func Init(level, format, outputPath string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch format {
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "text":
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return fmt.Errorf("invalid log format: %q", format)
	}

	var writeSyncer zapcore.WriteSyncer
	switch outputPath {
	case "stdout", "":
		writeSyncer = zapcore.Lock(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.Lock(os.Stderr)
	default:
		file, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	SetCore(zapcore.NewCore(encoder, writeSyncer, zapLevel))
	return nil
}

// SetCore installs a logger writing to core. Tests use it with an observer.
func SetCore(core zapcore.Core) {
	store(zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", serviceName)),
	))
}

// GetLogger returns the process logger for components that take a *zap.Logger.
func GetLogger() *zap.Logger {
	return current.Load().plain
}

// With returns a child logger carrying fields, e.g. a session id.
func With(fields ...zap.Field) *zap.Logger {
	return current.Load().plain.With(fields...)
}

func helper() *zap.Logger {
	return current.Load().helper
}

func Info(msg string, fields ...zap.Field) {
	helper().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	helper().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	helper().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	helper().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	helper().Fatal(msg, fields...)
}

func Sync() {
	_ = current.Load().plain.Sync()
}
