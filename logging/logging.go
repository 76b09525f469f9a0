// Package logging is a thin structured-logger façade over
// github.com/rs/zerolog, used internally by the driver for the
// diagnostic side channel described in §7: recoverable errors are
// always logged here in addition to being published on the EventSink
// (they are not counted in metrics), but logging never drives control
// flow.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger scoped to one symbol, mirroring the
// per-symbol shared-nothing resource model of §5.
type Logger struct {
	base zerolog.Logger
}

// New constructs a Logger writing to w (os.Stdout if nil) with a
// component field set to "liquiditypipeline".
func New(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	base := zerolog.New(w).With().Timestamp().Str("component", "liquiditypipeline").Logger()
	return Logger{base: base}
}

// ForSymbol returns a child logger tagging every line with symbol.
func (l Logger) ForSymbol(symbol string) Logger {
	return Logger{base: l.base.With().Str("symbol", symbol).Logger()}
}

// Diagnostic logs a recoverable error at warn level with structured
// fields, matching the §7 propagation policy for drops/rejects/
// capacity errors.
func (l Logger) Diagnostic(kind, detail string, barTS time.Time, err error) {
	ev := l.base.Warn().Str("kind", kind).Str("detail", detail).Time("bar_ts", barTS)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("recoverable pipeline error")
}

// Fatal logs a strict-policy violation that halts the offending
// symbol's processing; it does not itself call os.Exit, leaving that
// decision to the host process.
func (l Logger) Fatal(symbol string, barTS time.Time, err error) {
	l.base.Error().Str("symbol", symbol).Time("bar_ts", barTS).Err(err).Msg("fatal pipeline error, symbol halted")
}

// Info logs a structured informational line, used sparingly by the
// driver for lifecycle events (startup, shutdown, flush).
func (l Logger) Info(msg string, fields map[string]any) {
	ev := l.base.Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
