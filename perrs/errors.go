// Package perrs defines the closed set of error kinds the pipeline can
// raise, per the error handling design: a fixed set of typed variants
// instead of ad-hoc error strings, so callers can branch on kind with
// errors.As.
package perrs

import (
	"fmt"
	"time"
)

// ClockSkew is raised by the aggregator or detectors when a bar arrives
// out of order under the "raise" policy.
type ClockSkew struct {
	Symbol string
	BarTS  time.Time
	LastTS time.Time
}

func (e *ClockSkew) Error() string {
	return fmt.Sprintf("clock skew on %s: bar ts %s precedes last ts %s", e.Symbol, e.BarTS, e.LastTS)
}

// FutureBar is raised by the aggregator when a bar's timestamp exceeds
// the configured clock-skew tolerance ahead of "now".
type FutureBar struct {
	Symbol string
	BarTS  time.Time
	Now    time.Time
}

func (e *FutureBar) Error() string {
	return fmt.Sprintf("future bar on %s: ts %s is ahead of now %s", e.Symbol, e.BarTS, e.Now)
}

// CapacityExceeded is raised by the registry, overlap engine or zone
// watcher when a hard cap on an unbounded collection is hit.
type CapacityExceeded struct {
	Scope string // e.g. "pool:H1", "hlz.active", "zone_watcher.active"
	Limit int
}

func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("capacity exceeded in %s (limit %d)", e.Scope, e.Limit)
}

// InvalidBar is raised by the ingress validator when a bar violates the
// OHLCV invariants.
type InvalidBar struct {
	Symbol string
	Reason string
}

func (e *InvalidBar) Error() string {
	return fmt.Sprintf("invalid bar for %s: %s", e.Symbol, e.Reason)
}

// ATRUnderflow is a logic-invariant violation: ATR should never reach
// zero after the configured floor is applied. It is never expected in
// normal operation; the one call site that can detect it panics with
// this type and the driver recovers it into a fatal diagnostic, per the
// spec's explicit carve-out for "impossible after floor; assertion".
type ATRUnderflow struct {
	Symbol string
}

func (e *ATRUnderflow) Error() string {
	return fmt.Sprintf("ATR underflow on %s despite floor (logic invariant violated)", e.Symbol)
}

// Rejected is emitted by the risk sizer on the OrderIntentSink instead of
// an OrderIntent, when sizing the signal is not possible.
type Rejected struct {
	SignalID string
	Reason   string
}

func (e *Rejected) Error() string {
	return fmt.Sprintf("order rejected for signal %s: %s", e.SignalID, e.Reason)
}

// RecalcUnsupported is raised at config validation time: the spec leaves
// out_of_order_policy=recalc formally unspecified and instructs
// implementers to either define it precisely or reject it. This pipeline
// rejects it.
type RecalcUnsupported struct{}

func (e *RecalcUnsupported) Error() string {
	return "out_of_order_policy \"recalc\" is not supported; define precise retraction semantics before using it"
}
