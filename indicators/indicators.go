// Package indicators implements the incremental indicator pack (C3):
// EMA, ATR, volume SMA and a coarse trend regime classifier, updated one
// bar at a time with O(1) amortized work per bar.
package indicators

import (
	"fmt"
	"time"

	"signalcore/bar"
	"signalcore/money"
	"signalcore/perrs"
	"signalcore/ringbuffer"

	"github.com/shopspring/decimal"
)

// Regime is a coarse market-trend classification derived from EMA
// spread.
type Regime int

const (
	Neutral Regime = iota
	Bull
	Bear
)

func (r Regime) String() string {
	switch r {
	case Bull:
		return "bull"
	case Bear:
		return "bear"
	default:
		return "neutral"
	}
}

// Config holds the tunable periods and thresholds for the pack. Field
// names mirror the indicators.* options in the config tree.
type Config struct {
	EMAFastPeriod     int         `yaml:"ema_fast_period"`
	EMASlowPeriod     int         `yaml:"ema_slow_period"`
	ATRPeriod         int         `yaml:"atr_period"`
	VolumeSMAPeriod   int         `yaml:"volume_sma_period"`
	RegimeSensitivity money.Price `yaml:"regime_sensitivity"`
	ATRFloor          money.Price `yaml:"atr_floor"`
}

// DefaultConfig returns the spec's stated defaults (atr_floor=1e-5).
func DefaultConfig() Config {
	return Config{
		EMAFastPeriod:     12,
		EMASlowPeriod:     26,
		ATRPeriod:         14,
		VolumeSMAPeriod:   20,
		RegimeSensitivity: decimal.NewFromFloat(0.001),
		ATRFloor:          decimal.NewFromFloat(0.00001),
	}
}

// Validate checks that periods are positive and the floor is
// non-negative.
func (c Config) Validate() error {
	if c.EMAFastPeriod <= 0 || c.EMASlowPeriod <= 0 || c.ATRPeriod <= 0 || c.VolumeSMAPeriod <= 0 {
		return fmt.Errorf("indicators: all periods must be positive")
	}
	if c.ATRFloor.IsNegative() {
		return fmt.Errorf("indicators: atr_floor must be non-negative")
	}
	return nil
}

// Snapshot is the immutable indicator state as of a specific bar,
// computed before any decision is made on that bar.
type Snapshot struct {
	TS        time.Time
	EMAFast   money.Price
	EMASlow   money.Price
	ATR       money.Price
	VolumeSMA money.Price
	Regime    Regime
	WarmedUp  bool
}

// Pack is the incremental indicator engine for one symbol. It is a pure
// function of (previous state, bar): update(bar) is deterministic given
// identical prior state and input, and is never responsible for bar
// ordering — that is the driver's job.
type Pack struct {
	cfg Config

	emaFast      money.Price
	emaFastAlpha money.Price
	emaFastN     int

	emaSlow      money.Price
	emaSlowAlpha money.Price
	emaSlowN     int

	atrWindow *ringbuffer.Buffer[money.Price]
	volWindow *ringbuffer.Buffer[money.Price]

	havePrevClose bool
	prevClose     money.Price

	barsSeen int
}

// New constructs a Pack from cfg. cfg must already be valid; callers
// should run Config.Validate first.
func New(cfg Config) *Pack {
	two := decimal.NewFromInt(2)
	return &Pack{
		cfg:          cfg,
		emaFastAlpha: two.Div(decimal.NewFromInt(int64(cfg.EMAFastPeriod + 1))),
		emaSlowAlpha: two.Div(decimal.NewFromInt(int64(cfg.EMASlowPeriod + 1))),
		atrWindow:    ringbuffer.New[money.Price](cfg.ATRPeriod),
		volWindow:    ringbuffer.New[money.Price](cfg.VolumeSMAPeriod),
	}
}

// Update advances all indicators by exactly one bar and returns the
// post-update snapshot.
func (p *Pack) Update(b bar.Bar) Snapshot {
	p.barsSeen++

	// EMA: first close seeds both EMAs.
	if p.barsSeen == 1 {
		p.emaFast = b.Close
		p.emaSlow = b.Close
	} else {
		p.emaFast = p.emaFastAlpha.Mul(b.Close).Add(decimal.NewFromInt(1).Sub(p.emaFastAlpha).Mul(p.emaFast))
		p.emaSlow = p.emaSlowAlpha.Mul(b.Close).Add(decimal.NewFromInt(1).Sub(p.emaSlowAlpha).Mul(p.emaSlow))
	}
	p.emaFastN++
	p.emaSlowN++

	// ATR: true range against previous close, SMA over window, floored.
	var tr money.Price
	if p.havePrevClose {
		tr = b.TrueRange(p.prevClose)
	} else {
		tr = b.High.Sub(b.Low)
	}
	p.atrWindow.Push(tr)
	p.prevClose = b.Close
	p.havePrevClose = true

	atr := average(p.atrWindow)
	atr = money.Max(atr, p.cfg.ATRFloor)
	if atr.LessThanOrEqual(money.Zero) {
		// Impossible after flooring to a positive constant; assertion
		// per the spec's explicit "impossible after floor" carve-out.
		panic(&perrs.ATRUnderflow{})
	}

	// Volume SMA.
	p.volWindow.Push(b.Volume)
	volSMA := average(p.volWindow)

	regime := Neutral
	spread := p.emaFast.Sub(p.emaSlow)
	threshold := p.cfg.RegimeSensitivity.Mul(b.Close)
	if spread.GreaterThan(threshold) {
		regime = Bull
	} else if spread.LessThan(threshold.Neg()) {
		regime = Bear
	}

	warmedUp := p.emaSlowN >= p.cfg.EMASlowPeriod && p.atrWindow.Len() >= p.cfg.ATRPeriod

	return Snapshot{
		TS:        b.TS,
		EMAFast:   p.emaFast,
		EMASlow:   p.emaSlow,
		ATR:       atr,
		VolumeSMA: volSMA,
		Regime:    regime,
		WarmedUp:  warmedUp,
	}
}

func average(w *ringbuffer.Buffer[money.Price]) money.Price {
	n := w.Len()
	if n == 0 {
		return money.Zero
	}
	sum := money.Zero
	for i := 0; i < n; i++ {
		sum = sum.Add(w.At(i))
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
