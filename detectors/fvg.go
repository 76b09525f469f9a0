// Package detectors implements the HTF detectors (C5): the
// Fair-Value-Gap detector and the Pivot detector. Both run only on
// closed higher-timeframe bars and emit domain.PoolCandidateEvent.
// Each (symbol, timeframe) pair owns its own detector state, grounded
// on the same incremental-update-over-a-ring-window shape the
// indicator pack (C3) and aggregator (C4) already use.
package detectors

import (
	"fmt"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/indicators"
	"signalcore/money"
	"signalcore/ringbuffer"

	"github.com/shopspring/decimal"
)

// FVGConfig configures the Fair-Value-Gap detector for one timeframe.
type FVGConfig struct {
	MinGapATR money.Price `yaml:"min_gap_atr"`
	MinGapPct money.Price `yaml:"min_gap_pct"`
	MinRelVol money.Price `yaml:"min_rel_vol"`
	Indicator indicators.Config
}

// DefaultFVGConfig mirrors S2's thresholds.
func DefaultFVGConfig() FVGConfig {
	return FVGConfig{
		MinGapATR: decimal.NewFromFloat(0.3),
		MinGapPct: money.Zero,
		MinRelVol: decimal.NewFromFloat(1.2),
		Indicator: indicators.DefaultConfig(),
	}
}

// Validate rejects negative thresholds.
func (c FVGConfig) Validate() error {
	if c.MinGapATR.IsNegative() || c.MinGapPct.IsNegative() || c.MinRelVol.IsNegative() {
		return fmt.Errorf("detectors: fvg thresholds must be non-negative")
	}
	return nil
}

// FVGDetector slides a three-bar window B1,B2,B3 over one symbol's
// closed bars on one timeframe. It keeps its own indicator pack so
// that atr and volume_sma are computed at the HTF itself, not
// interpolated from the base timeframe.
type FVGDetector struct {
	cfg    FVGConfig
	symbol string
	tf     bar.Timeframe
	window *ringbuffer.Buffer[bar.Bar]
	ind    *indicators.Pack
}

// NewFVGDetector constructs a detector for symbol on tf. cfg must
// already be valid.
func NewFVGDetector(symbol string, tf bar.Timeframe, cfg FVGConfig) *FVGDetector {
	return &FVGDetector{
		cfg:    cfg,
		symbol: symbol,
		tf:     tf,
		window: ringbuffer.New[bar.Bar](3),
		ind:    indicators.New(cfg.Indicator),
	}
}

// Update feeds one closed HTF bar. It returns a non-nil event exactly
// when the three most recent bars (including b) qualify as an FVG.
func (d *FVGDetector) Update(b bar.Bar) *domain.PoolCandidateEvent {
	snap := d.ind.Update(b)
	d.window.Push(b)
	if d.window.Len() < 3 {
		return nil
	}

	b1, b2, b3 := d.window.At(0), d.window.At(1), d.window.At(2)

	var side domain.Side
	var top, bottom money.Price
	switch {
	case b3.Low.GreaterThan(b1.High) && b2.Close.GreaterThan(b2.Open):
		side = domain.Bullish
		bottom, top = b1.High, b3.Low
	case b3.High.LessThan(b1.Low) && b2.Close.LessThan(b2.Open):
		side = domain.Bearish
		bottom, top = b3.High, b1.Low
	default:
		return nil
	}

	gapSize := top.Sub(bottom)
	if gapSize.LessThanOrEqual(money.Zero) {
		return nil
	}
	gapPct := money.Zero
	if !b2.Close.IsZero() {
		gapPct = gapSize.Div(b2.Close)
	}

	byATR := d.cfg.MinGapATR.IsPositive() && gapSize.GreaterThanOrEqual(d.cfg.MinGapATR.Mul(snap.ATR))
	byPct := d.cfg.MinGapPct.IsPositive() && gapPct.GreaterThanOrEqual(d.cfg.MinGapPct)
	if !byATR && !byPct {
		return nil
	}

	if d.cfg.MinRelVol.IsPositive() {
		threshold := d.cfg.MinRelVol.Mul(snap.VolumeSMA)
		if b2.Volume.LessThan(threshold) {
			return nil
		}
	}

	strength := normalizedStrength(gapSize, snap.ATR)

	return &domain.PoolCandidateEvent{
		Kind:      "fvg",
		Symbol:    d.symbol,
		Side:      side,
		Top:       top,
		Bottom:    bottom,
		Timeframe: d.tf,
		CreatedAt: b3.TS,
		Strength:  strength,
	}
}

// normalizedStrength maps a raw gap size to (0,1) via gap/(gap+atr):
// monotone increasing in gap size, approaches 1 as the gap dwarfs the
// prevailing ATR, and never reaches exactly 1 or 0 for a positive gap.
func normalizedStrength(gapSize, atr money.Price) money.Price {
	if atr.LessThanOrEqual(money.Zero) {
		return decimal.NewFromInt(1)
	}
	return gapSize.Div(gapSize.Add(atr))
}
