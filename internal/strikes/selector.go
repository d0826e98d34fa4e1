// Package strikes computes the symmetric short-strangle strike pair from
// spot, days-to-expiry and the volatility index level.
package strikes

import (
	"github.com/shopspring/decimal"
)

// Defaults for the strike distance model.
var (
	// BaseDeltaPerDay is the per-day strike distance in percent of spot.
	BaseDeltaPerDay = decimal.NewFromFloat(0.5)

	// VIX tier boundaries and multipliers. Calm markets keep the base
	// distance; elevated volatility pushes strikes wider.
	vixMidThreshold  = decimal.NewFromInt(15)
	vixHighThreshold = decimal.NewFromInt(20)
	midMultiplier    = decimal.NewFromFloat(1.1)
	highMultiplier   = decimal.NewFromFloat(1.2)

	// RoundIncrement snaps strikes to round-number levels; thin in-between
	// strikes trade poorly.
	RoundIncrement = decimal.NewFromInt(100)
)

// Pair is the selected strangle strikes.
type Pair struct {
	CallStrike    decimal.Decimal
	PutStrike     decimal.Decimal
	Distance      decimal.Decimal // raw pre-rounding distance from spot
	AdjustedDelta decimal.Decimal // per-day delta after the VIX tier
}

// Select computes spot ± (spot × adjustedDelta% × daysToExpiry), each side
// rounded to the nearest RoundIncrement.
func Select(spot decimal.Decimal, daysToExpiry int, vix decimal.Decimal) Pair {
	adjusted := BaseDeltaPerDay.Mul(tierMultiplier(vix))
	distance := spot.
		Mul(adjusted).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(daysToExpiry)))

	return Pair{
		CallStrike:    roundToIncrement(spot.Add(distance)),
		PutStrike:     roundToIncrement(spot.Sub(distance)),
		Distance:      distance,
		AdjustedDelta: adjusted,
	}
}

func tierMultiplier(vix decimal.Decimal) decimal.Decimal {
	switch {
	case vix.GreaterThan(vixHighThreshold):
		return highMultiplier
	case vix.GreaterThanOrEqual(vixMidThreshold):
		return midMultiplier
	default:
		return decimal.NewFromInt(1)
	}
}

func roundToIncrement(v decimal.Decimal) decimal.Decimal {
	return v.Div(RoundIncrement).Round(0).Mul(RoundIncrement)
}
