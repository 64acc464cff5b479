// Package monitoring provides the diagnostic logger injected into the
// extraction and fitting components.
//
// Three streams are kept apart, as elsewhere in this codebase:
// ops (actionable warnings, degraded results), diag (day-to-day
// diagnostics, tuning context) and trace (per-iteration telemetry).
package monitoring

import (
	"io"
	"log"
)

// Logger is the logging collaborator passed to components at construction.
// Components log anomalies and carry on; they never panic on bad data.
type Logger interface {
	Opsf(format string, args ...interface{})
	Diagf(format string, args ...interface{})
	Tracef(format string, args ...interface{})
}

// StreamLogger writes each stream to its own io.Writer. A nil writer
// disables that stream.
type StreamLogger struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewStreamLogger creates a StreamLogger with the given prefix.
func NewStreamLogger(prefix string, ops, diag, trace io.Writer) *StreamLogger {
	return &StreamLogger{
		ops:   newLogger(prefix, ops),
		diag:  newLogger(prefix, diag),
		trace: newLogger(prefix, trace),
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (l *StreamLogger) Opsf(format string, args ...interface{}) {
	if l != nil && l.ops != nil {
		l.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (l *StreamLogger) Diagf(format string, args ...interface{}) {
	if l != nil && l.diag != nil {
		l.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (l *StreamLogger) Tracef(format string, args ...interface{}) {
	if l != nil && l.trace != nil {
		l.trace.Printf(format, args...)
	}
}

type nopLogger struct{}

func (nopLogger) Opsf(string, ...interface{})   {}
func (nopLogger) Diagf(string, ...interface{})  {}
func (nopLogger) Tracef(string, ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// DO NOT add Debugf, that's an anti-pattern. Each callsite needs to use Opsf, Diagf, or Tracef.
