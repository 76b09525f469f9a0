package aggregator

import (
	"errors"
	"testing"
	"time"

	"signalcore/bar"
	"signalcore/money"
	"signalcore/perrs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteBar(i int, close, volume float64) bar.Bar {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	c := money.FromFloat64(close)
	return bar.Bar{
		Symbol: "BTCUSDT", Timeframe: bar.M1, TS: ts,
		Open: c, High: c.Add(money.FromFloat64(0.01)),
		Low: c, Close: c, Volume: money.FromFloat64(volume),
	}
}

// S1 — H1 aggregation minimum.
func TestAggregator_S1_H1Minimum(t *testing.T) {
	cfg := Config{
		SourceTimeframe:  bar.M1,
		TargetTimeframes: []bar.Timeframe{bar.H1},
		BufferSize:       8,
		OutOfOrderPolicy: Drop,
		StrictOrdering:   true,
	}
	require.NoError(t, cfg.Validate())
	agg := New("BTCUSDT", cfg)

	var allClosed []ClosedBar
	for i := 0; i < 121; i++ {
		closed, err := agg.Update(minuteBar(i, 100+0.01*float64(i), 1000+float64(i)))
		require.NoError(t, err)
		allClosed = append(allClosed, closed...)
	}

	require.Len(t, allClosed, 2, "121 one-minute bars from an H1 boundary close exactly 2 H1 bars")

	first := allClosed[0].Bar
	assert.True(t, first.Open.Equal(money.FromFloat64(100.00)))
	assert.True(t, first.Close.Equal(money.FromFloat64(100.59)))
	assert.True(t, first.High.Equal(money.FromFloat64(100.60)))
	assert.True(t, first.Low.Equal(money.FromFloat64(100.00)))

	var wantVol money.Price = money.Zero
	for v := 1000; v <= 1059; v++ {
		wantVol = wantVol.Add(money.FromFloat64(float64(v)))
	}
	assert.True(t, first.Volume.Equal(wantVol), "expected %s got %s", wantVol, first.Volume)
}

func TestAggregator_59MinutesProducesNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTimeframes = []bar.Timeframe{bar.H1}
	agg := New("X", cfg)

	for i := 0; i < 59; i++ {
		closed, err := agg.Update(minuteBar(i, 100, 1000))
		require.NoError(t, err)
		assert.Empty(t, closed)
	}
}

func TestAggregator_IncompleteBucketNeverEmittedOnFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTimeframes = []bar.Timeframe{bar.H1}
	agg := New("X", cfg)
	_, err := agg.Update(minuteBar(0, 100, 1000))
	require.NoError(t, err)
	assert.Empty(t, agg.Flush())
}

func TestAggregator_OutOfOrderDropLeavesStateUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTimeframes = []bar.Timeframe{bar.H1}
	cfg.OutOfOrderPolicy = Drop
	cfg.StrictOrdering = false // allow feeding a regressed bar through to the per-tf drop path
	agg := New("X", cfg)

	_, err := agg.Update(minuteBar(70, 101, 1000)) // starts H1 bucket 1
	require.NoError(t, err)
	before := agg.History(bar.H1)

	_, err = agg.Update(minuteBar(0, 99, 1000)) // bucket 0, regressed
	require.NoError(t, err)
	after := agg.History(bar.H1)
	assert.Equal(t, before, after)
}

func TestAggregator_OutOfOrderRaisePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTimeframes = []bar.Timeframe{bar.H1}
	cfg.OutOfOrderPolicy = Raise
	cfg.StrictOrdering = false
	agg := New("X", cfg)

	_, err := agg.Update(minuteBar(70, 101, 1000))
	require.NoError(t, err)
	_, err = agg.Update(minuteBar(0, 99, 1000))
	require.Error(t, err)
	var skew *perrs.ClockSkew
	assert.True(t, errors.As(err, &skew))
}

func TestAggregator_StrictOrderingRejectsRegression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTimeframes = []bar.Timeframe{bar.M5}
	cfg.StrictOrdering = true
	agg := New("X", cfg)

	_, err := agg.Update(minuteBar(5, 100, 1000))
	require.NoError(t, err)
	_, err = agg.Update(minuteBar(0, 99, 1000))
	require.Error(t, err)
}

func TestParsePolicy_RejectsRecalc(t *testing.T) {
	_, err := ParsePolicy("recalc")
	assert.Error(t, err)
	_, err = ParsePolicy("drop")
	assert.NoError(t, err)
}

func TestAggregator_MultipleTimeframesIndependentOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTimeframes = []bar.Timeframe{bar.M5, bar.H1}
	agg := New("X", cfg)

	var sawM5, sawH1 bool
	for i := 0; i < 65; i++ {
		closed, err := agg.Update(minuteBar(i, 100, 1000))
		require.NoError(t, err)
		for _, c := range closed {
			if c.Timeframe == bar.M5 {
				sawM5 = true
			}
			if c.Timeframe == bar.H1 {
				sawH1 = true
			}
		}
	}
	assert.True(t, sawM5)
	assert.True(t, sawH1)
}
