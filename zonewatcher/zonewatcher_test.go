package zonewatcher

import (
	"testing"
	"time"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/money"
	"signalcore/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mkBar(i int, low, high, close float64) bar.Bar {
	return bar.Bar{
		Symbol: "X", Timeframe: bar.M1,
		TS:    epoch.Add(time.Duration(i) * time.Minute),
		Open:  money.FromFloat64((low + high) / 2),
		High:  money.FromFloat64(high),
		Low:   money.FromFloat64(low),
		Close: money.FromFloat64(close),
	}
}

func mkPool(top, bottom float64) registry.Pool {
	return registry.Pool{
		ID: "p1", Timeframe: bar.H1, Side: domain.Bullish,
		Top: money.FromFloat64(top), Bottom: money.FromFloat64(bottom),
		Strength: money.FromFloat64(0.8),
	}
}

func TestWatcher_EntersOnIntersection(t *testing.T) {
	w := New(Config{MaxActiveZones: 10})
	require.NoError(t, w.UpsertPool(mkPool(101, 100)))

	// Bar entirely outside the band: no entry.
	evs := w.OnBar(mkBar(0, 90, 91, 90.5))
	assert.Empty(t, evs)

	// Bar whose range intersects the band: entry.
	evs = w.OnBar(mkBar(1, 99, 100.5, 100.2))
	require.Len(t, evs, 1)
	assert.Equal(t, "p1", evs[0].ZoneID)

	// Still inside next bar: no new entry event (already inside).
	evs = w.OnBar(mkBar(2, 99.8, 100.3, 100.1))
	assert.Empty(t, evs)
}

func TestWatcher_ReentryAfterLeaving(t *testing.T) {
	w := New(Config{MaxActiveZones: 10})
	require.NoError(t, w.UpsertPool(mkPool(101, 100)))

	require.Len(t, w.OnBar(mkBar(0, 99, 100.5, 100.2)), 1)
	require.Empty(t, w.OnBar(mkBar(1, 90, 91, 90.5))) // leaves
	require.Len(t, w.OnBar(mkBar(2, 99, 100.5, 100.2)), 1, "re-entry after leaving fires again")
}

func TestWatcher_ConfirmClosureRequiresCloseInside(t *testing.T) {
	w := New(Config{MaxActiveZones: 10, ConfirmClosure: true})
	require.NoError(t, w.UpsertPool(mkPool(101, 100)))

	// Range intersects but close is outside the band.
	evs := w.OnBar(mkBar(0, 99, 100.5, 99.5))
	assert.Empty(t, evs)
}

func TestWatcher_PriceToleranceWidensBand(t *testing.T) {
	w := New(Config{MaxActiveZones: 10, PriceTolerance: money.FromFloat64(1)})
	require.NoError(t, w.UpsertPool(mkPool(101, 100)))

	// Without tolerance this bar (high=99.5) would miss the [100,101] band.
	evs := w.OnBar(mkBar(0, 98, 99.5, 99))
	require.Len(t, evs, 1)
}

func TestWatcher_BelowMinStrengthNeverEnters(t *testing.T) {
	w := New(Config{MaxActiveZones: 10, MinStrength: money.FromFloat64(0.9)})
	require.NoError(t, w.UpsertPool(mkPool(101, 100))) // strength 0.8 < 0.9
	evs := w.OnBar(mkBar(0, 99, 100.5, 100.2))
	assert.Empty(t, evs)
}

func TestWatcher_RemovePoolStopsTracking(t *testing.T) {
	w := New(Config{MaxActiveZones: 10})
	require.NoError(t, w.UpsertPool(mkPool(101, 100)))
	w.RemovePool("p1")
	assert.Equal(t, 0, w.Count())
	evs := w.OnBar(mkBar(0, 99, 100.5, 100.2))
	assert.Empty(t, evs)
}
