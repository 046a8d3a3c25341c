package kernel

import "go.uber.org/zap"

// Logger defines the interface for kernel logging. The kernel uses
// structured logging with key-value pairs, compatible with slog, zap,
// logrus, or any other library exposing this shape.
//
//	logger.Info("module initialized", "module", "cache", "duration_ms", 12)
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ZapLogger is the default Logger implementation, backed by a zap.Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps a *zap.Logger as a kernel Logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

// NewDevelopmentLogger returns a ZapLogger configured for local development
// (human-readable, debug level enabled).
func NewDevelopmentLogger() *ZapLogger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return NewZapLogger(l)
}

func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }
func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// noopLogger silently discards every call. Used as a safe default so
// components never need a nil check before logging.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
