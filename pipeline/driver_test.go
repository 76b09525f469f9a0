package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalcore/aggregator"
	"signalcore/bar"
	"signalcore/config"
	"signalcore/logging"
	"signalcore/metrics"
	"signalcore/money"
	"signalcore/ports"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// sliceSource is a deterministic, in-memory ports.BarSource over a
// preloaded slice — the test-only substitute for a CSV/websocket feed.
type sliceSource struct {
	bars []bar.Bar
	i    int
}

func (s *sliceSource) Next() (bar.Bar, bool, error) {
	if s.i >= len(s.bars) {
		return bar.Bar{}, false, nil
	}
	b := s.bars[s.i]
	s.i++
	return b, true, nil
}

// syntheticMinuteBars builds n one-minute bars starting at epoch with a
// slow upward drift, mirroring S1's literal construction (close =
// 100 + 0.01*i, volume = 1000+i) but extended long enough to warm up
// every indicator and exercise several HTF closes.
func syntheticMinuteBars(symbol string, n int) []bar.Bar {
	bars := make([]bar.Bar, n)
	for i := 0; i < n; i++ {
		ts := epoch.Add(time.Duration(i) * time.Minute)
		close := money.FromFloat64(100 + 0.01*float64(i))
		open := close
		if i > 0 {
			open = money.FromFloat64(100 + 0.01*float64(i-1))
		}
		high := money.Max(open, close).Add(money.FromFloat64(0.02))
		low := money.Min(open, close).Sub(money.FromFloat64(0.02))
		bars[i] = bar.Bar{
			Symbol:    symbol,
			Timeframe: bar.M1,
			TS:        ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    money.FromFloat64(1000 + float64(i)),
		}
	}
	return bars
}

func newTestDriver(t *testing.T, symbol string, events ports.EventSink, intents ports.OrderIntentSink) *Driver {
	t.Helper()
	cfg := config.Default()
	d, err := New(symbol, cfg, money.FromFloat64(10000), epoch, events, intents, metrics.NewSink(), logging.New(nil))
	require.NoError(t, err)
	return d
}

func TestDriver_FeedRunsFullBarSequenceWithoutError(t *testing.T) {
	sink := ports.NewSliceSink()
	d := newTestDriver(t, "EURUSD", sink, sink)

	for _, b := range syntheticMinuteBars("EURUSD", 300) {
		require.NoError(t, d.Feed(b))
	}

	assert.NotEmpty(t, sink.Events)
	var sawClosedH1 bool
	for _, ev := range sink.Events {
		if ev.PoolCreated == nil && ev.PoolTouched == nil && ev.PoolExpired == nil &&
			ev.HLZCreated == nil && ev.HLZUpdated == nil && ev.HLZDissolved == nil &&
			ev.ZoneEntered == nil && ev.CandExpired == nil && ev.Signal == nil && ev.Diagnostic == nil {
			sawClosedH1 = true
		}
	}
	assert.True(t, sawClosedH1, "expected at least one closed-HTF-bar marker event")
}

// TestDriver_InvalidBarDiagnosticCarriesBarTimestamp exercises the
// recoverable-error path end to end: an out-of-invariant bar must
// neither halt the driver nor lose its originating timestamp in the
// reported diagnostic.
func TestDriver_InvalidBarDiagnosticCarriesBarTimestamp(t *testing.T) {
	sink := ports.NewSliceSink()
	d := newTestDriver(t, "EURUSD", sink, sink)

	bad := bar.Bar{
		Symbol: "EURUSD",
		TS:     epoch,
		Open:   money.FromFloat64(100),
		High:   money.FromFloat64(99), // high below open: invalid
		Low:    money.FromFloat64(98),
		Close:  money.FromFloat64(100),
		Volume: money.FromFloat64(10),
	}
	require.NoError(t, d.Feed(bad))

	require.Len(t, sink.Events, 1)
	ev := sink.Events[0]
	require.NotNil(t, ev.Diagnostic)
	assert.Equal(t, "InvalidBar", ev.Diagnostic.Kind)
	assert.True(t, ev.BarTS.Equal(epoch))
	assert.True(t, ev.Diagnostic.BarTS.Equal(epoch))
}

// TestDriver_ClockSkewUnderRaiseHalts checks the strict-policy branch:
// a regressed bar under out_of_order_policy=raise must stop Feed with
// an error instead of being silently dropped.
func TestDriver_ClockSkewUnderRaiseHalts(t *testing.T) {
	sink := ports.NewSliceSink()
	cfg := config.Default()
	cfg.Aggregation.OutOfOrderPolicy = aggregator.Raise
	d, err := New("EURUSD", cfg, money.FromFloat64(10000), epoch, sink, sink, metrics.NewSink(), logging.New(nil))
	require.NoError(t, err)

	first := syntheticMinuteBars("EURUSD", 2)[0]
	require.NoError(t, d.Feed(first))

	regressed := first
	regressed.TS = first.TS.Add(-time.Minute)
	require.Error(t, d.Feed(regressed))
}

// TestDriver_ReplayDeterminism is the S6 property at the Driver level:
// two fresh drivers fed the identical bar sequence and config must
// produce a bit-identical ordered event log.
func TestDriver_ReplayDeterminism(t *testing.T) {
	bars := syntheticMinuteBars("EURUSD", 500)

	runOnce := func() string {
		sink := ports.NewSliceSink()
		d := newTestDriver(t, "EURUSD", sink, sink)
		for _, b := range bars {
			require.NoError(t, d.Feed(b))
		}
		return hashEvents(sink.Events)
	}

	h1 := runOnce()
	h2 := runOnce()
	assert.Equal(t, h1, h2)
}

// TestMultiSymbolRunner_FeedsEverySymbolToCompletion checks the
// shared-nothing fan-out: two independent symbols, each with its own
// Driver and SliceSink, must both drain fully under one runner.
func TestMultiSymbolRunner_FeedsEverySymbolToCompletion(t *testing.T) {
	sinkA := ports.NewSliceSink()
	sinkB := ports.NewSliceSink()
	driverA := newTestDriver(t, "EURUSD", sinkA, sinkA)
	driverB := newTestDriver(t, "GBPUSD", sinkB, sinkB)

	feeds := []SymbolFeed{
		{Symbol: "EURUSD", Source: &sliceSource{bars: syntheticMinuteBars("EURUSD", 120)}, Driver: driverA},
		{Symbol: "GBPUSD", Source: &sliceSource{bars: syntheticMinuteBars("GBPUSD", 120)}, Driver: driverB},
	}
	runner := NewMultiSymbolRunner(feeds)
	require.NoError(t, runner.Run(context.Background()))

	assert.NotEmpty(t, sinkA.Events)
	assert.NotEmpty(t, sinkB.Events)
}

// hashEvents renders the ordered event log into a deterministic string
// form and returns its SHA-256 hex digest, mirroring §8 invariant 5's
// "determinism test via SHA-256 on the event log".
func hashEvents(events []ports.Event) string {
	h := sha256.New()
	for _, ev := range events {
		fmt.Fprintf(h, "symbol=%s ts=%d\n", ev.Symbol, ev.BarTS.UnixNano())
		if ev.PoolCreated != nil {
			p := ev.PoolCreated.Pool
			fmt.Fprintf(h, "pool_created id=%s tf=%s side=%s top=%s bottom=%s\n", p.ID, p.Timeframe, p.Side, p.Top.String(), p.Bottom.String())
		}
		if ev.PoolTouched != nil {
			fmt.Fprintf(h, "pool_touched id=%s\n", ev.PoolTouched.PoolID)
		}
		if ev.PoolExpired != nil {
			fmt.Fprintf(h, "pool_expired id=%s\n", ev.PoolExpired.PoolID)
		}
		if ev.HLZCreated != nil {
			fmt.Fprintf(h, "hlz_created id=%s top=%s bottom=%s\n", ev.HLZCreated.HLZ.ID, ev.HLZCreated.HLZ.Top.String(), ev.HLZCreated.HLZ.Bottom.String())
		}
		if ev.HLZUpdated != nil {
			fmt.Fprintf(h, "hlz_updated id=%s top=%s bottom=%s\n", ev.HLZUpdated.HLZ.ID, ev.HLZUpdated.HLZ.Top.String(), ev.HLZUpdated.HLZ.Bottom.String())
		}
		if ev.HLZDissolved != nil {
			fmt.Fprintf(h, "hlz_dissolved id=%s\n", ev.HLZDissolved.ID)
		}
		if ev.ZoneEntered != nil {
			fmt.Fprintf(h, "zone_entered id=%s side=%s price=%s\n", ev.ZoneEntered.ZoneID, ev.ZoneEntered.Side, ev.ZoneEntered.EntryPrice.String())
		}
		if ev.CandExpired != nil {
			fmt.Fprintf(h, "cand_expired id=%s\n", *ev.CandExpired)
		}
		if ev.Signal != nil {
			fmt.Fprintf(h, "signal id=%s side=%s entry=%s stop=%s\n", ev.Signal.ID, ev.Signal.Side, ev.Signal.EntryHintPrice.String(), ev.Signal.StopHintPrice.String())
		}
		if ev.Diagnostic != nil {
			fmt.Fprintf(h, "diagnostic kind=%s detail=%s\n", ev.Diagnostic.Kind, ev.Diagnostic.Detail)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
