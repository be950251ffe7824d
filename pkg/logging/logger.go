// Package logging implements core.ILogger on zap, mirrored to the
// OpenTelemetry log pipeline through the otelzap bridge.
package logging

import (
	"fmt"
	"os"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const otelScopeName = "execd"

// ZapLogger adapts zap to the core.ILogger contract
type ZapLogger struct {
	zl *zap.Logger
}

// NewZapLogger builds a console logger teed into the OTel bridge. The level
// string follows zap's vocabulary (debug, info, warn, error, fatal), case
// insensitive.
func NewZapLogger(level string) (*ZapLogger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)
	bridge := otelzap.NewCore(otelScopeName,
		otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	zl := zap.New(zapcore.NewTee(console, bridge),
		zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{zl: zl}, nil
}

// kvFields pairs a variadic key-value list into zap fields. Non-string keys
// are stringified; a dangling value with no key lands under "extra".
func kvFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(kv)+1)/2)
	for len(kv) >= 2 {
		key, ok := kv[0].(string)
		if !ok {
			key = fmt.Sprint(kv[0])
		}
		fields = append(fields, zap.Any(key, kv[1]))
		kv = kv[2:]
	}
	if len(kv) == 1 {
		fields = append(fields, zap.Any("extra", kv[0]))
	}
	return fields
}

func (l *ZapLogger) Debug(msg string, kv ...interface{}) { l.zl.Debug(msg, kvFields(kv)...) }
func (l *ZapLogger) Info(msg string, kv ...interface{})  { l.zl.Info(msg, kvFields(kv)...) }
func (l *ZapLogger) Warn(msg string, kv ...interface{})  { l.zl.Warn(msg, kvFields(kv)...) }
func (l *ZapLogger) Error(msg string, kv ...interface{}) { l.zl.Error(msg, kvFields(kv)...) }
func (l *ZapLogger) Fatal(msg string, kv ...interface{}) { l.zl.Fatal(msg, kvFields(kv)...) }

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{zl: l.zl.With(zap.Any(key, value))}
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) core.ILogger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &ZapLogger{zl: l.zl.With(zf...)}
}

// Sync flushes buffered entries
func (l *ZapLogger) Sync() error {
	return l.zl.Sync()
}

// Package-level logger, replaced once the app config is loaded. Components
// receive their logger by injection; these helpers exist for code that runs
// before wiring completes.
var globalLogger core.ILogger

func init() {
	logger, err := NewZapLogger("info")
	if err != nil {
		panic(err)
	}
	globalLogger = logger
}

// SetGlobalLogger replaces the package-level logger
func SetGlobalLogger(logger core.ILogger) {
	globalLogger = logger
}

// GetGlobalLogger returns the package-level logger
func GetGlobalLogger() core.ILogger {
	return globalLogger
}

func Debug(msg string, kv ...interface{}) { globalLogger.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { globalLogger.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { globalLogger.Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { globalLogger.Error(msg, kv...) }
func Fatal(msg string, kv ...interface{}) { globalLogger.Fatal(msg, kv...) }
