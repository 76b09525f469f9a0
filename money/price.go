// Package money provides the single fixed-point numeric type used end to
// end by the pipeline, so that summation order and repeated EMA updates
// never drift differently across machines the way binary floating point
// can.
package money

import "github.com/shopspring/decimal"

// Price is a fixed-point decimal used for every price, volume, strength
// and risk amount in the pipeline. It wraps decimal.Decimal rather than
// float64 so that arithmetic is exact base-10 and deterministic.
type Price = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// FromFloat64 converts an external float64 (e.g. from a BarSource or a
// broker response) into a Price. Use only at collaborator boundaries.
func FromFloat64(f float64) Price {
	return decimal.NewFromFloat(f)
}

// ToFloat64 converts a Price back to float64, again only for boundaries
// that must speak float64 (metrics gauges, JSON fields consumed
// downstream, etc).
func ToFloat64(p Price) float64 {
	f, _ := p.Float64()
	return f
}

// Max returns the larger of a and b.
func Max(a, b Price) Price {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Price) Price {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Abs returns the absolute value of p.
func Abs(p Price) Price {
	return p.Abs()
}

// Clamp restricts p to [lo, hi].
func Clamp(p, lo, hi Price) Price {
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}
