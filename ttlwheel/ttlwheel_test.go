package ttlwheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return epoch.Add(d) }

// S3 — TTL expiry.
func TestWheel_S3_SingleItemExpiry(t *testing.T) {
	w := New(epoch)
	require.NoError(t, w.Schedule("pool-1", at(time.Second)))
	assert.Equal(t, 1, w.Len())

	expired := w.Advance(at(time.Second + time.Microsecond))
	assert.Equal(t, []string{"pool-1"}, expired)
	assert.Equal(t, 0, w.Len())
}

func TestWheel_LateSchedulingGoesStraightToDue(t *testing.T) {
	w := New(epoch)
	require.NoError(t, w.Schedule("a", epoch)) // expires at "now" exactly -> due immediately
	expired := w.Advance(epoch)
	assert.Equal(t, []string{"a"}, expired)
}

func TestWheel_CancelPreventsExpiry(t *testing.T) {
	w := New(epoch)
	require.NoError(t, w.Schedule("a", at(5*time.Second)))
	w.Cancel("a")
	expired := w.Advance(at(10 * time.Second))
	assert.Empty(t, expired)
	assert.Equal(t, 0, w.Len())
}

func TestWheel_CascadesAcrossMinuteBoundary(t *testing.T) {
	w := New(epoch)
	require.NoError(t, w.Schedule("a", at(90*time.Second))) // lands in the minutes level
	expired := w.Advance(at(89 * time.Second))
	assert.Empty(t, expired)
	expired = w.Advance(at(91 * time.Second))
	assert.Equal(t, []string{"a"}, expired)
}

func TestWheel_CascadesAcrossHourAndDayBoundaries(t *testing.T) {
	w := New(epoch)
	require.NoError(t, w.Schedule("a", at(25*time.Hour)))
	require.NoError(t, w.Schedule("b", at(6*24*time.Hour)))

	expired := w.Advance(at(26 * time.Hour))
	assert.Equal(t, []string{"a"}, expired)
	assert.Equal(t, 1, w.Len())
}

func TestWheel_RejectsTTLBeyondSevenDays(t *testing.T) {
	w := New(epoch)
	err := w.Schedule("too-far", at(8*24*time.Hour))
	assert.Error(t, err)
}

// S4 — multi-timeframe isolation is really a registry-level property,
// but the wheel itself must at least keep independently-scheduled
// items with different expiries from affecting one another.
func TestWheel_IndependentExpiries(t *testing.T) {
	w := New(epoch)
	require.NoError(t, w.Schedule("short", at(60*time.Second)))
	require.NoError(t, w.Schedule("long", at(3600*time.Second)))

	expired := w.Advance(at(61 * time.Second))
	assert.Equal(t, []string{"short"}, expired)
	assert.Equal(t, 1, w.Len())

	expired = w.Advance(at(3601 * time.Second))
	assert.Equal(t, []string{"long"}, expired)
	assert.Equal(t, 0, w.Len())
}

func TestWheel_ManyItemsExpireExactlyOnce(t *testing.T) {
	w := New(epoch)
	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, w.Schedule(idOf(i), at(time.Duration(i%300+1)*time.Second)))
	}
	expired := w.Advance(at(400 * time.Second))
	assert.Len(t, expired, n)
	assert.Equal(t, 0, w.Len())
}

func idOf(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := []byte{letters[i%36], letters[(i/36)%36], letters[(i/1296)%36]}
	return string(b)
}
