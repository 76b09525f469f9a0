// Package metrics is the default MetricsSink (C15): a
// github.com/prometheus/client_golang-backed implementation publishing
// exactly the counters/gauges/histograms enumerated in spec.md §6,
// under namespace "liquiditypipeline". It follows the teacher's
// metrics.go shape directly: a package-level custom prometheus.Registry
// (never the global default registry, so a host process can mount
// several independent pipelines side by side), promauto-constructed
// vectors labeled per-symbol, and a thread-safe update surface.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"signalcore/bar"
)

const namespace = "liquiditypipeline"

var (
	// Registry is the custom prometheus registry for this pipeline's
	// metrics, kept separate from prometheus.DefaultRegisterer so a
	// host process can export several symbols' Sinks independently.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	barsInTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "bars_in_total",
			Help:      "Total base-timeframe bars fed into the pipeline",
		},
		[]string{"symbol"},
	)

	aggregatorEmittedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "emitted_total",
			Help:      "Closed higher-timeframe bars emitted by the aggregator",
		},
		[]string{"symbol", "tf"},
	)

	poolsCreatedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detectors",
			Name:      "pools_created_total",
			Help:      "Liquidity pools created by an HTF detector",
		},
		[]string{"symbol", "tf", "kind"},
	)

	registryActivePools = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_pools",
			Help:      "Currently ACTIVE pools per timeframe",
		},
		[]string{"symbol", "tf"},
	)

	registryTouchedPools = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "touched_pools",
			Help:      "Currently TOUCHED pools per timeframe",
		},
		[]string{"symbol", "tf"},
	)

	registryExpiredTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "expired_total",
			Help:      "Pools that have transitioned to EXPIRED",
		},
		[]string{"symbol", "tf"},
	)

	hlzActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hlz",
			Name:      "active",
			Help:      "Currently active High-Liquidity Zones",
		},
		[]string{"symbol"},
	)

	hlzCreatedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hlz",
			Name:      "created_total",
			Help:      "HLZs created",
		},
		[]string{"symbol"},
	)

	hlzDissolvedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hlz",
			Name:      "dissolved_total",
			Help:      "HLZs dissolved",
		},
		[]string{"symbol"},
	)

	zoneWatcherEntriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "zone_watcher",
			Name:      "entries_total",
			Help:      "Zone entry events, by zone kind (pool|hlz)",
		},
		[]string{"symbol", "kind"},
	)

	candidatesSpawnedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidates",
			Name:      "spawned_total",
			Help:      "Candidates spawned from a zone entry",
		},
		[]string{"symbol"},
	)

	candidatesExpiredTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidates",
			Name:      "expired_total",
			Help:      "Candidates that reached EXPIRED",
		},
		[]string{"symbol"},
	)

	candidatesReadyTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidates",
			Name:      "ready_total",
			Help:      "Candidates that reached READY",
		},
		[]string{"symbol"},
	)

	signalsEmittedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "emitted_total",
			Help:      "Signals sized into an OrderIntent",
		},
		[]string{"symbol"},
	)

	signalsRejectedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "rejected_total",
			Help:      "Signals rejected by the risk sizer, by reason",
		},
		[]string{"symbol", "reason"},
	)

	latencyNs = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_ns",
			Help:      "Per-stage processing latency in nanoseconds",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		},
		[]string{"symbol", "stage"},
	)
)

// Sink is the default MetricsSink implementation. It satisfies
// ports.MetricsSink structurally without this package importing ports,
// so metrics stays usable by a host process that has no other reason
// to depend on the ports package.
type Sink struct{}

// NewSink constructs the default Prometheus-backed sink.
func NewSink() Sink { return Sink{} }

func (Sink) IncBarsIn(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	barsInTotal.WithLabelValues(symbol).Inc()
}

func (Sink) IncAggregatorEmitted(symbol string, tf bar.Timeframe) {
	mu.Lock()
	defer mu.Unlock()
	aggregatorEmittedTotal.WithLabelValues(symbol, tf.String()).Inc()
}

func (Sink) IncPoolsCreated(symbol string, tf bar.Timeframe, kind string) {
	mu.Lock()
	defer mu.Unlock()
	poolsCreatedTotal.WithLabelValues(symbol, tf.String(), kind).Inc()
}

func (Sink) SetActivePools(symbol string, tf bar.Timeframe, n int) {
	mu.Lock()
	defer mu.Unlock()
	registryActivePools.WithLabelValues(symbol, tf.String()).Set(float64(n))
}

func (Sink) SetTouchedPools(symbol string, tf bar.Timeframe, n int) {
	mu.Lock()
	defer mu.Unlock()
	registryTouchedPools.WithLabelValues(symbol, tf.String()).Set(float64(n))
}

func (Sink) IncExpiredPools(symbol string, tf bar.Timeframe, n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registryExpiredTotal.WithLabelValues(symbol, tf.String()).Add(float64(n))
}

func (Sink) SetActiveHLZs(symbol string, n int) {
	mu.Lock()
	defer mu.Unlock()
	hlzActive.WithLabelValues(symbol).Set(float64(n))
}

func (Sink) IncHLZCreated(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	hlzCreatedTotal.WithLabelValues(symbol).Inc()
}

func (Sink) IncHLZDissolved(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	hlzDissolvedTotal.WithLabelValues(symbol).Inc()
}

func (Sink) IncZoneEntries(symbol, kind string) {
	mu.Lock()
	defer mu.Unlock()
	zoneWatcherEntriesTotal.WithLabelValues(symbol, kind).Inc()
}

func (Sink) IncCandidatesSpawned(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	candidatesSpawnedTotal.WithLabelValues(symbol).Inc()
}

func (Sink) IncCandidatesExpired(symbol string, n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	candidatesExpiredTotal.WithLabelValues(symbol).Add(float64(n))
}

func (Sink) IncCandidatesReady(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	candidatesReadyTotal.WithLabelValues(symbol).Inc()
}

func (Sink) IncSignalsEmitted(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	signalsEmittedTotal.WithLabelValues(symbol).Inc()
}

func (Sink) IncSignalsRejected(symbol, reason string) {
	mu.Lock()
	defer mu.Unlock()
	signalsRejectedTotal.WithLabelValues(symbol, reason).Inc()
}

func (Sink) ObserveStageLatency(symbol, stage string, d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	latencyNs.WithLabelValues(symbol, stage).Observe(float64(d.Nanoseconds()))
}

// Init registers the standard Go runtime/process collectors alongside
// the pipeline's own metrics, mirroring the teacher's Init().
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
