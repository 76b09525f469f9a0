// Package risk implements the position sizer (C11): it turns a
// candidate's Signal into an OrderIntent sized against account
// equity and ATR-derived stop distance, or rejects it via
// perrs.Rejected when sizing isn't possible.
package risk

import (
	"fmt"

	"signalcore/candidate"
	"signalcore/domain"
	"signalcore/indicators"
	"signalcore/money"
	"signalcore/perrs"

	"github.com/shopspring/decimal"
)

// Config holds the sizer's tunable fractions and multiples.
type Config struct {
	RiskPerTrade      money.Price `yaml:"risk_per_trade"`
	SLATRMultiple     money.Price `yaml:"sl_atr_multiple"`
	MaxPositionPct    money.Price `yaml:"max_position_pct"`
	MinPosition       money.Price `yaml:"min_position"`
	TPRR              money.Price `yaml:"tp_rr"`
	EntrySlippagePct  money.Price `yaml:"entry_slippage_pct"`
	ExitSlippagePct   money.Price `yaml:"exit_slippage_pct"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:   decimal.NewFromFloat(0.01),
		SLATRMultiple:  decimal.NewFromFloat(1.5),
		MaxPositionPct: decimal.NewFromFloat(0.25),
		MinPosition:    decimal.NewFromFloat(0.0001),
		TPRR:           decimal.NewFromFloat(2.0),
	}
}

// Validate checks structural sanity.
func (c Config) Validate() error {
	if c.RiskPerTrade.IsNegative() || c.RiskPerTrade.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk: risk_per_trade must be within [0,1]")
	}
	if c.MaxPositionPct.IsNegative() {
		return fmt.Errorf("risk: max_position_pct must be non-negative")
	}
	if c.MinPosition.IsNegative() {
		return fmt.Errorf("risk: min_position must be non-negative")
	}
	if c.TPRR.IsNegative() {
		return fmt.Errorf("risk: tp_rr must be non-negative")
	}
	return nil
}

// OrderIntent is the sizer's successful output.
type OrderIntent struct {
	SignalID   string
	Side       domain.Side
	EntryPrice money.Price
	StopPrice  money.Price
	TakeProfit money.Price
	Size       money.Price
}

// Size turns a Signal into an OrderIntent, or a *perrs.Rejected error
// when equity, ATR, or the computed size make the trade unplaceable.
func Size(sig candidate.Signal, equity money.Price, snap indicators.Snapshot, cfg Config) (*OrderIntent, error) {
	if equity.LessThanOrEqual(money.Zero) {
		return nil, &perrs.Rejected{SignalID: sig.ID, Reason: "insufficient equity"}
	}
	if snap.ATR.LessThanOrEqual(money.Zero) {
		return nil, &perrs.Rejected{SignalID: sig.ID, Reason: "zero atr"}
	}

	entry := adjustForSlippage(sig.EntryHintPrice, sig.Side, cfg.EntrySlippagePct, true)

	structuralDist := money.Abs(entry.Sub(sig.StopHintPrice))
	atrDist := cfg.SLATRMultiple.Mul(snap.ATR)
	d := money.Max(structuralDist, atrDist)
	if d.LessThanOrEqual(money.Zero) {
		return nil, &perrs.Rejected{SignalID: sig.ID, Reason: "zero stop distance"}
	}

	riskAmount := cfg.RiskPerTrade.Mul(equity)
	byRisk := riskAmount.Div(d)
	byExposure := cfg.MaxPositionPct.Mul(equity).Div(entry)
	size := money.Min(byRisk, byExposure)

	if size.LessThan(cfg.MinPosition) {
		return nil, &perrs.Rejected{SignalID: sig.ID, Reason: "size below minimum position"}
	}

	stop := stopPrice(sig.Side, entry, d)
	tp := takeProfit(sig.Side, entry, d, cfg.TPRR)

	return &OrderIntent{
		SignalID:   sig.ID,
		Side:       sig.Side,
		EntryPrice: entry,
		StopPrice:  stop,
		TakeProfit: tp,
		Size:       size,
	}, nil
}

func isLong(side domain.Side) bool { return side == domain.Bullish }

func stopPrice(side domain.Side, entry, d money.Price) money.Price {
	if isLong(side) {
		return entry.Sub(d)
	}
	return entry.Add(d)
}

func takeProfit(side domain.Side, entry, d money.Price, rr money.Price) money.Price {
	delta := rr.Mul(d)
	if isLong(side) {
		return entry.Add(delta)
	}
	return entry.Sub(delta)
}

// adjustForSlippage worsens price in the unfavorable direction: an
// entry is worsened by moving away from the favorable side, an exit
// hint by moving toward it.
func adjustForSlippage(price money.Price, side domain.Side, pct money.Price, isEntry bool) money.Price {
	if pct.IsZero() {
		return price
	}
	adj := pct.Mul(price)
	worsenUp := isLong(side) == isEntry
	if worsenUp {
		return price.Add(adj)
	}
	return price.Sub(adj)
}
