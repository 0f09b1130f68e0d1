// Package logging provides the structured logger passed into the
// long-running components of the calibration core.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the logging handle threaded through the assembler, outlier
// policy, and unprojection loop. It never lives as package-global state.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a production logger at info level.
func New(name string) *Logger {
	cfg := zap.NewProductionConfig()
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{sugar: z.Sugar().Named(name)}
}

// NewNop returns a logger that discards everything, useful for library
// callers that don't want calibration diagnostics on stderr.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Sublogger returns a child logger scoped under name.
func (l *Logger) Sublogger(name string) *Logger {
	return &Logger{sugar: l.sugar.Named(name)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
