// Package ports defines the narrow, named interfaces the pipeline
// consumes and produces (§6): BarSource and Config on the consuming
// side, EventSink / OrderIntentSink / MetricsSink on the producing
// side. The core never depends on a concrete ingestion, broker, or
// metrics implementation — only on these interfaces — so a host
// process can swap CSV replay for a live feed, or Prometheus for a
// test double, without touching the pipeline package.
package ports

import (
	"time"

	"signalcore/bar"
	"signalcore/candidate"
	"signalcore/overlap"
	"signalcore/registry"
	"signalcore/risk"
	"signalcore/zonewatcher"
)

// BarSource yields Bars in non-decreasing ts for one symbol. The core
// never constructs one; it is supplied by a host process (CSV/Parquet
// replay, a websocket feed, ...).
type BarSource interface {
	// Next returns the next bar, or ok=false when the source is
	// exhausted. Implementations may block.
	Next() (b bar.Bar, ok bool, err error)
}

// DiagnosticEvent is emitted on the EventSink for every recoverable
// error the driver observes, per §7's propagation policy: recoverable
// errors never interrupt the stream, but are always surfaced as a
// structured event and a log line. No MetricsSink counter is
// incremented for them.
type DiagnosticEvent struct {
	Kind   string // e.g. "ClockSkew", "CapacityExceeded", "InvalidBar"
	Symbol string
	BarTS  time.Time
	Detail string
}

// Event is the tagged union of everything the driver emits to an
// EventSink, in the order defined by §5: indicator update carries no
// event of its own, so the first possible event of a bar is a closed
// HTF bar, followed by pool lifecycle, HLZ lifecycle, zone entries,
// candidate transitions, and finally signals.
type Event struct {
	Symbol       string
	BarTS        time.Time
	PoolCreated  *registry.PoolCreatedEvent
	PoolTouched  *registry.PoolTouchedEvent
	PoolExpired  *registry.PoolExpiredEvent
	HLZCreated   *overlap.HLZCreated
	HLZUpdated   *overlap.HLZUpdated
	HLZDissolved *overlap.HLZDissolved
	ZoneEntered  *zonewatcher.ZoneEnteredEvent
	CandExpired  *string // candidate id
	Signal       *candidate.Signal
	Diagnostic   *DiagnosticEvent
}

// EventSink receives the ordered event stream described above.
type EventSink interface {
	Publish(Event)
}

// OrderIntentSink receives the risk sizer's output: either a sized
// OrderIntent or a Rejected reason.
type OrderIntentSink interface {
	PublishIntent(symbol string, intent *risk.OrderIntent, rejected error)
}

// MetricsSink receives named counter/gauge/histogram updates. Field
// names mirror the metric names enumerated in §6.
type MetricsSink interface {
	IncBarsIn(symbol string)
	IncAggregatorEmitted(symbol string, tf bar.Timeframe)
	IncPoolsCreated(symbol string, tf bar.Timeframe, kind string)
	SetActivePools(symbol string, tf bar.Timeframe, n int)
	SetTouchedPools(symbol string, tf bar.Timeframe, n int)
	IncExpiredPools(symbol string, tf bar.Timeframe, n int)
	SetActiveHLZs(symbol string, n int)
	IncHLZCreated(symbol string)
	IncHLZDissolved(symbol string)
	IncZoneEntries(symbol, kind string)
	IncCandidatesSpawned(symbol string)
	IncCandidatesExpired(symbol string, n int)
	IncCandidatesReady(symbol string)
	IncSignalsEmitted(symbol string)
	IncSignalsRejected(symbol, reason string)
	ObserveStageLatency(symbol, stage string, d time.Duration)
}

// SliceSink is an in-memory EventSink + OrderIntentSink useful for
// tests and offline replay: every call appends to a slice in arrival
// order, which is exactly the order the determinism property (§8
// invariant 5) is checked against.
type SliceSink struct {
	Events  []Event
	Intents []IntentRecord
}

// IntentRecord pairs an OrderIntentSink call with its outcome.
type IntentRecord struct {
	Symbol   string
	Intent   *risk.OrderIntent
	Rejected error
}

// NewSliceSink constructs an empty SliceSink.
func NewSliceSink() *SliceSink {
	return &SliceSink{}
}

// Publish implements EventSink.
func (s *SliceSink) Publish(e Event) {
	s.Events = append(s.Events, e)
}

// PublishIntent implements OrderIntentSink.
func (s *SliceSink) PublishIntent(symbol string, intent *risk.OrderIntent, rejected error) {
	s.Intents = append(s.Intents, IntentRecord{Symbol: symbol, Intent: intent, Rejected: rejected})
}

// Reset clears both slices, letting a SliceSink be reused across
// replay runs in a determinism test.
func (s *SliceSink) Reset() {
	s.Events = nil
	s.Intents = nil
}
