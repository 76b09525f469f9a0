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

// PivotClass classifies a confirmed pivot by its distance, in ATR
// units, from the close that confirmed it.
type PivotClass int

const (
	Regular PivotClass = iota
	Significant
	Major
)

func (c PivotClass) String() string {
	switch c {
	case Major:
		return "major"
	case Significant:
		return "significant"
	default:
		return "regular"
	}
}

// PivotConfig configures the Pivot detector for one timeframe.
type PivotConfig struct {
	Lookback  int         `yaml:"lookback"`
	MinSigma  money.Price `yaml:"min_sigma"` // minimum ATR-distance to emit at all; 0 disables the filter
	BandATR   money.Price `yaml:"band_atr"`  // half-width of the emitted band, in ATR units
	Indicator indicators.Config
}

// DefaultPivotConfig returns lookback=5 per the spec's stated default.
func DefaultPivotConfig() PivotConfig {
	return PivotConfig{
		Lookback:  5,
		MinSigma:  money.Zero,
		BandATR:   decimal.NewFromFloat(0.05),
		Indicator: indicators.DefaultConfig(),
	}
}

// Validate checks lookback and threshold sanity.
func (c PivotConfig) Validate() error {
	if c.Lookback <= 0 {
		return fmt.Errorf("detectors: pivot lookback must be positive")
	}
	if c.MinSigma.IsNegative() || c.BandATR.IsNegative() {
		return fmt.Errorf("detectors: pivot thresholds must be non-negative")
	}
	return nil
}

// PivotDetector confirms swing highs/lows with a symmetric lookback
// window. Confirmation of the bar at the window's center is therefore
// always delayed by Lookback bars, since Lookback bars on the right
// must already be known.
type PivotDetector struct {
	cfg    PivotConfig
	symbol string
	tf     bar.Timeframe
	window *ringbuffer.Buffer[bar.Bar]
	ind    *indicators.Pack
}

// NewPivotDetector constructs a detector for symbol on tf.
func NewPivotDetector(symbol string, tf bar.Timeframe, cfg PivotConfig) *PivotDetector {
	return &PivotDetector{
		cfg:    cfg,
		symbol: symbol,
		tf:     tf,
		window: ringbuffer.New[bar.Bar](2*cfg.Lookback + 1),
		ind:    indicators.New(cfg.Indicator),
	}
}

// Update feeds one closed HTF bar and returns zero, one, or two events
// (a confirmed swing high and/or a confirmed swing low can coincide at
// the same center bar).
func (d *PivotDetector) Update(b bar.Bar) []*domain.PoolCandidateEvent {
	snap := d.ind.Update(b)
	d.window.Push(b)
	if d.window.Len() < d.window.Cap() {
		return nil
	}

	L := d.cfg.Lookback
	center := d.window.At(L)
	confirm := d.window.At(2 * L) // the newest bar, i.e. b itself

	var out []*domain.PoolCandidateEvent

	if isSwingHigh(d.window, L) {
		if ev := d.classify(center, confirm, snap.ATR, domain.Bearish); ev != nil {
			out = append(out, ev)
		}
	}
	if isSwingLow(d.window, L) {
		if ev := d.classify(center, confirm, snap.ATR, domain.Bullish); ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

func isSwingHigh(w *ringbuffer.Buffer[bar.Bar], center int) bool {
	pivot := w.At(center).High
	for j := 0; j < w.Len(); j++ {
		if j == center {
			continue
		}
		if w.At(j).High.GreaterThanOrEqual(pivot) {
			return false
		}
	}
	return true
}

func isSwingLow(w *ringbuffer.Buffer[bar.Bar], center int) bool {
	pivot := w.At(center).Low
	for j := 0; j < w.Len(); j++ {
		if j == center {
			continue
		}
		if w.At(j).Low.LessThanOrEqual(pivot) {
			return false
		}
	}
	return true
}

// classify turns a confirmed pivot into a PoolCandidateEvent, or nil
// if it fails the min_sigma filter. pivotPrice is the swing high or
// low itself; side determines which edge of center it came from.
func (d *PivotDetector) classify(center, confirm bar.Bar, atr money.Price, side domain.Side) *domain.PoolCandidateEvent {
	var pivotPrice money.Price
	if side == domain.Bearish {
		pivotPrice = center.High
	} else {
		pivotPrice = center.Low
	}

	dist := confirm.Close.Sub(pivotPrice).Abs()
	var sigma money.Price
	if atr.IsPositive() {
		sigma = dist.Div(atr)
	}

	if d.cfg.MinSigma.IsPositive() && sigma.LessThan(d.cfg.MinSigma) {
		return nil
	}

	class := Regular
	switch {
	case sigma.GreaterThan(decimal.NewFromInt(1)):
		class = Major
	case sigma.GreaterThan(decimal.NewFromFloat(0.5)):
		class = Significant
	}

	half := d.cfg.BandATR.Mul(atr)
	return &domain.PoolCandidateEvent{
		Kind:      "pivot",
		Symbol:    d.symbol,
		Side:      side,
		Top:       pivotPrice.Add(half),
		Bottom:    pivotPrice.Sub(half),
		Timeframe: d.tf,
		CreatedAt: confirm.TS,
		Strength:  classStrength(class),
	}
}

// classStrength maps the three classification tiers to a strength in
// (0,1]; major pivots carry full strength, regular ones the least.
func classStrength(c PivotClass) money.Price {
	switch c {
	case Major:
		return decimal.NewFromInt(1)
	case Significant:
		return decimal.NewFromFloat(0.67)
	default:
		return decimal.NewFromFloat(0.34)
	}
}
