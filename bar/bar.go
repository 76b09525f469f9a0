package bar

import (
	"time"

	"signalcore/money"
	"signalcore/perrs"
)

// Bar is an immutable OHLCV bar. Bars are produced externally (a
// BarSource) and never mutated once constructed.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	TS        time.Time // close time of the bar, UTC
	Open      money.Price
	High      money.Price
	Low       money.Price
	Close     money.Price
	Volume    money.Price
}

// Validate checks the OHLCV invariants: low <= min(open,close) <=
// max(open,close) <= high, volume >= 0.
func (b Bar) Validate() error {
	minOC := money.Min(b.Open, b.Close)
	maxOC := money.Max(b.Open, b.Close)
	if b.Low.GreaterThan(minOC) {
		return &perrs.InvalidBar{Symbol: b.Symbol, Reason: "low exceeds min(open,close)"}
	}
	if minOC.GreaterThan(maxOC) {
		return &perrs.InvalidBar{Symbol: b.Symbol, Reason: "min(open,close) exceeds max(open,close)"}
	}
	if maxOC.GreaterThan(b.High) {
		return &perrs.InvalidBar{Symbol: b.Symbol, Reason: "max(open,close) exceeds high"}
	}
	if b.Volume.IsNegative() {
		return &perrs.InvalidBar{Symbol: b.Symbol, Reason: "negative volume"}
	}
	return nil
}

// TrueRange computes max(high-low, |high-prevClose|, |low-prevClose|),
// the building block of ATR.
func (b Bar) TrueRange(prevClose money.Price) money.Price {
	hl := b.High.Sub(b.Low)
	hc := money.Abs(b.High.Sub(prevClose))
	lc := money.Abs(b.Low.Sub(prevClose))
	return money.Max(hl, money.Max(hc, lc))
}
