package monitoring

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted by NewZapLogger.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// ZapLogger maps the three streams onto a zap SugaredLogger:
// ops → Warn, diag → Info, trace → Debug.
type ZapLogger struct {
	*zap.SugaredLogger
}

// defaultZapLevel is used when an unknown level string is provided.
const defaultZapLevel = zapcore.InfoLevel

func toZapLevel(level string) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultZapLevel
	}
}

// NewZapLogger builds a console logger writing to stderr at the given level.
// Stdout is left to command output.
func NewZapLogger(level string) *ZapLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(toZapLevel(level)),
	)
	return &ZapLogger{SugaredLogger: zap.New(core).Sugar()}
}

// NewZapLoggerFrom wraps an existing zap logger.
func NewZapLoggerFrom(l *zap.Logger) *ZapLogger {
	return &ZapLogger{SugaredLogger: l.Sugar()}
}

func (z *ZapLogger) Opsf(format string, args ...interface{})   { z.Warnf(format, args...) }
func (z *ZapLogger) Diagf(format string, args ...interface{})  { z.Infof(format, args...) }
func (z *ZapLogger) Tracef(format string, args ...interface{}) { z.Debugf(format, args...) }
