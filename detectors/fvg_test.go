package detectors

import (
	"testing"
	"time"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func htfBar(i int, open, high, low, close, volume float64) bar.Bar {
	return bar.Bar{
		Symbol: "BTCUSDT", Timeframe: bar.H1,
		TS:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Open:   money.FromFloat64(open),
		High:   money.FromFloat64(high),
		Low:    money.FromFloat64(low),
		Close:  money.FromFloat64(close),
		Volume: money.FromFloat64(volume),
	}
}

// S2 — FVG detection.
func TestFVGDetector_S2_BullishGap(t *testing.T) {
	cfg := DefaultFVGConfig()
	cfg.MinGapATR = decimal.NewFromFloat(0.3)
	cfg.MinGapPct = money.Zero
	cfg.MinRelVol = decimal.NewFromFloat(1.2)
	d := NewFVGDetector("BTCUSDT", bar.H1, cfg)

	// Warm up the detector's own ATR/volume_sma with a few quiet bars so
	// avg_vol and atr are well defined before B1/B2/B3 arrive.
	var avgVol float64
	for i := 0; i < 20; i++ {
		avgVol = 1000 + float64(i%5)
		ev := d.Update(htfBar(i, 105, 106, 104, 105, avgVol))
		require.Nil(t, ev)
	}

	b1 := htfBar(20, 108, 110, 107, 109, 1000)
	require.Nil(t, d.Update(b1))

	b2 := htfBar(21, 110, 113, 110, 112, 3*avgVol)
	require.Nil(t, d.Update(b2))

	b3 := htfBar(22, 113, 115, 114, 114.5, 1000)
	ev := d.Update(b3)
	require.NotNil(t, ev)
	assert.Equal(t, domain.Bullish, ev.Side)
	assert.True(t, ev.Top.Equal(money.FromFloat64(114)), "top=%s", ev.Top)
	assert.True(t, ev.Bottom.Equal(money.FromFloat64(110)), "bottom=%s", ev.Bottom)
	assert.Equal(t, bar.H1, ev.Timeframe)
	assert.True(t, ev.CreatedAt.Equal(b3.TS))
	assert.True(t, ev.Strength.GreaterThan(money.Zero))
	assert.True(t, ev.Strength.LessThanOrEqual(decimal.NewFromInt(1)))
}

func TestFVGDetector_NoGapNoEvent(t *testing.T) {
	d := NewFVGDetector("X", bar.H1, DefaultFVGConfig())
	for i := 0; i < 10; i++ {
		ev := d.Update(htfBar(i, 100, 101, 99, 100, 1000))
		assert.Nil(t, ev)
	}
}

func TestFVGDetector_VolumeFilterRejects(t *testing.T) {
	cfg := DefaultFVGConfig()
	cfg.MinGapATR = decimal.NewFromFloat(0.1)
	cfg.MinRelVol = decimal.NewFromFloat(5.0) // unreachably high
	d := NewFVGDetector("X", bar.H1, cfg)

	for i := 0; i < 10; i++ {
		require.Nil(t, d.Update(htfBar(i, 105, 106, 104, 105, 1000)))
	}
	require.Nil(t, d.Update(htfBar(10, 108, 110, 107, 109, 1000)))
	require.Nil(t, d.Update(htfBar(11, 110, 113, 110, 112, 1100)))
	ev := d.Update(htfBar(12, 113, 115, 114, 114.5, 1000))
	assert.Nil(t, ev)
}
