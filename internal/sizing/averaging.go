package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/models"
)

// AveragingConfig governs the post-entry averaging protocol for futures
// positions. Additions are sized from the *current* account balance, not the
// balance at entry.
type AveragingConfig struct {
	// TriggerLossPct: unrealized loss as percent of entry value that arms
	// an addition.
	TriggerLossPct decimal.Decimal

	// BalanceFractions sizes the 1st/2nd/3rd addition as a fraction of the
	// current account balance. Its length is the addition cap.
	BalanceFractions []decimal.Decimal

	// PostAvgStopPct: stop distance from the new average entry after each
	// addition.
	PostAvgStopPct decimal.Decimal
}

// DefaultAveraging returns the account's standard protocol: trigger at 1%
// adverse move, at most three additions at 20%/50%/50% of balance, stop
// tightened to 0.5% from the recomputed average.
func DefaultAveraging() AveragingConfig {
	return AveragingConfig{
		TriggerLossPct: decimal.NewFromInt(1),
		BalanceFractions: []decimal.Decimal{
			decimal.NewFromFloat(0.2),
			decimal.NewFromFloat(0.5),
			decimal.NewFromFloat(0.5),
		},
		PostAvgStopPct: decimal.NewFromFloat(0.5),
	}
}

// Addition is a planned averaging step.
type Addition struct {
	Lots        int
	NewAvgEntry decimal.Decimal
	NewStopLoss decimal.Decimal
}

// PlanAddition decides whether a futures position qualifies for an averaging
// addition at the current price and, if so, plans it: lot count from the
// balance fraction, recomputed average entry, and the tightened stop.
// Returns false when the position is not a futures leg, the trigger has not
// fired, the addition cap is reached, or the sized addition is zero lots.
func (c AveragingConfig) PlanAddition(pos *models.ActivePosition, currentPrice, accountBalance, marginPerLot decimal.Decimal) (Addition, bool) {
	if pos.Instrument != models.InstrumentFutures {
		return Addition{}, false
	}
	if pos.Additions >= len(c.BalanceFractions) {
		return Addition{}, false
	}
	if marginPerLot.LessThanOrEqual(decimal.Zero) || accountBalance.LessThanOrEqual(decimal.Zero) {
		return Addition{}, false
	}

	// Adverse move relative to entry value.
	var adversePct decimal.Decimal
	if pos.Direction == models.DirectionLong {
		adversePct = pos.EntryPrice.Sub(currentPrice).Div(pos.EntryPrice).Mul(hundred)
	} else {
		adversePct = currentPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)
	}
	if adversePct.LessThan(c.TriggerLossPct) {
		return Addition{}, false
	}

	deployable := accountBalance.Mul(c.BalanceFractions[pos.Additions])
	lots := int(deployable.Div(marginPerLot).IntPart())
	if lots < 1 {
		return Addition{}, false
	}

	oldQty := decimal.NewFromInt(int64(pos.Quantity()))
	addQty := decimal.NewFromInt(int64(lots * pos.LotSize))
	totalQty := oldQty.Add(addQty)
	newAvg := pos.EntryPrice.Mul(oldQty).Add(currentPrice.Mul(addQty)).Div(totalQty)

	stopDelta := newAvg.Mul(c.PostAvgStopPct).Div(hundred)
	var newStop decimal.Decimal
	if pos.Direction == models.DirectionLong {
		newStop = newAvg.Sub(stopDelta)
	} else {
		newStop = newAvg.Add(stopDelta)
	}

	return Addition{Lots: lots, NewAvgEntry: newAvg, NewStopLoss: newStop}, true
}
