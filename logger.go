package wah

import "go.uber.org/zap"

// Logger receives debug-only diagnostics from pool and bitmap Dump calls.
// It is never consulted on a hot path and never influences control flow.
type Logger interface {
	Debugf(format string, args ...any)
}

// nopLogger discards everything; it is the default for every constructor
// that accepts an optional Logger.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger { return nopLogger{} }

// zapLogger adapts a *zap.SugaredLogger to the Logger interface, for callers
// who want the diagnostics folded into their own structured logging.
type zapLogger struct{ s *zap.SugaredLogger }

// NewZapLogger wraps a zap logger for use as a pool/bitmap diagnostics sink.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		return nopLogger{}
	}
	return zapLogger{s: z.Sugar()}
}

func (l zapLogger) Debugf(format string, args ...any) {
	l.s.Debugf(format, args...)
}
