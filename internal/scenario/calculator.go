// Package scenario models best/worst-case payoff for a position before
// execution: P&L at a fixed set of relative price moves, max profit, max
// loss, breakevens and risk/reward.
package scenario

import (
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/models"
)

// CanonicalMoves is the default relative price move set, in percent. 0%
// represents the current/entry price and is always evaluated.
var CanonicalMoves = []float64{0, 2, 5, 10, -2, -5, -10}

// Row is the P&L outcome at one hypothetical price move.
type Row struct {
	MovePct decimal.Decimal `json:"move_pct"`
	Price   decimal.Decimal `json:"price"`
	PnL     decimal.Decimal `json:"pnl"`
	PnLPct  decimal.Decimal `json:"pnl_pct"` // relative to position notional
}

// Result is the payoff model for a position.
type Result struct {
	MaxProfit decimal.Decimal
	MaxLoss   decimal.Decimal // reported positive
	// Breakevens: one level for futures (the entry), lower and upper for a
	// strangle.
	Breakevens []decimal.Decimal
	// RiskReward = MaxProfit / MaxLoss. Undefined (Defined=false) when
	// MaxLoss is zero; the division is never performed in that case.
	RiskReward        decimal.Decimal
	RiskRewardDefined bool
	Rows              []Row
}

// Strangle is a short strangle: short call + short put on the same
// underlying and expiry.
type Strangle struct {
	Spot        decimal.Decimal
	CallStrike  decimal.Decimal
	PutStrike   decimal.Decimal
	CallPremium decimal.Decimal
	PutPremium  decimal.Decimal
	Quantity    int
}

// Futures is a single directional futures leg.
type Futures struct {
	Direction models.Direction // LONG or SHORT
	Entry     decimal.Decimal
	StopLoss  decimal.Decimal
	Target    decimal.Decimal
	Quantity  int
}

var hundred = decimal.NewFromInt(100)

// ComputeStrangle evaluates a short strangle across the given moves
// (CanonicalMoves when movePcts is empty). Max loss is the worst outcome
// across the evaluated moves; a short strangle's theoretical loss is
// unbounded, so the move set defines the reported worst case.
func ComputeStrangle(pos Strangle, movePcts []float64) Result {
	moves := withZero(movePcts)
	qty := decimal.NewFromInt(int64(pos.Quantity))
	totalPremium := pos.CallPremium.Add(pos.PutPremium)

	maxProfit := totalPremium.Mul(qty)
	callBE := pos.CallStrike.Add(totalPremium)
	putBE := pos.PutStrike.Sub(totalPremium)

	res := Result{
		MaxProfit:  maxProfit,
		Breakevens: []decimal.Decimal{putBE, callBE},
	}

	worst := decimal.Zero
	for _, m := range moves {
		price := priceAtMove(pos.Spot, m)
		pnl := stranglePnL(pos, totalPremium, price).Mul(qty)
		res.Rows = append(res.Rows, Row{
			MovePct: decimal.NewFromFloat(m),
			Price:   price,
			PnL:     pnl,
			PnLPct:  pctOfNotional(pnl, pos.Spot, qty),
		})
		if pnl.LessThan(worst) {
			worst = pnl
		}
	}

	res.MaxLoss = worst.Neg()
	res.RiskReward, res.RiskRewardDefined = riskReward(res.MaxProfit, res.MaxLoss)
	return res
}

// stranglePnL is the per-unit payoff of the short strangle at price: the
// premium collected minus intrinsic value lost on whichever leg ends up in
// the money.
func stranglePnL(pos Strangle, totalPremium, price decimal.Decimal) decimal.Decimal {
	callIntrinsic := decimal.Max(decimal.Zero, price.Sub(pos.CallStrike))
	putIntrinsic := decimal.Max(decimal.Zero, pos.PutStrike.Sub(price))
	return totalPremium.Sub(callIntrinsic).Sub(putIntrinsic)
}

// ComputeFutures evaluates a futures leg across the given moves. Every
// outcome past the stop-loss price is reported at the stop-capped loss; the
// stop is the hard floor (LONG) or ceiling (SHORT) for reported loss.
func ComputeFutures(pos Futures, movePcts []float64) Result {
	moves := withZero(movePcts)
	qty := decimal.NewFromInt(int64(pos.Quantity))

	var maxProfit, maxLoss decimal.Decimal
	if pos.Direction == models.DirectionLong {
		maxProfit = pos.Target.Sub(pos.Entry).Mul(qty)
		maxLoss = pos.Entry.Sub(pos.StopLoss).Mul(qty)
	} else {
		maxProfit = pos.Entry.Sub(pos.Target).Mul(qty)
		maxLoss = pos.StopLoss.Sub(pos.Entry).Mul(qty)
	}

	res := Result{
		MaxProfit:  maxProfit,
		MaxLoss:    maxLoss,
		Breakevens: []decimal.Decimal{pos.Entry},
	}

	stopCap := maxLoss.Neg()
	for _, m := range moves {
		price := priceAtMove(pos.Entry, m)
		var pnl decimal.Decimal
		if pos.Direction == models.DirectionLong {
			pnl = price.Sub(pos.Entry).Mul(qty)
		} else {
			pnl = pos.Entry.Sub(price).Mul(qty)
		}
		if pnl.LessThan(stopCap) {
			pnl = stopCap
		}
		res.Rows = append(res.Rows, Row{
			MovePct: decimal.NewFromFloat(m),
			Price:   price,
			PnL:     pnl,
			PnLPct:  pctOfNotional(pnl, pos.Entry, qty),
		})
	}

	res.RiskReward, res.RiskRewardDefined = riskReward(res.MaxProfit, res.MaxLoss)
	return res
}

func riskReward(maxProfit, maxLoss decimal.Decimal) (decimal.Decimal, bool) {
	if maxLoss.IsZero() {
		return decimal.Zero, false
	}
	return maxProfit.Div(maxLoss), true
}

func priceAtMove(base decimal.Decimal, movePct float64) decimal.Decimal {
	factor := decimal.NewFromFloat(1 + movePct/100)
	return base.Mul(factor)
}

func pctOfNotional(pnl, basePrice decimal.Decimal, qty decimal.Decimal) decimal.Decimal {
	notional := basePrice.Mul(qty)
	if notional.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(notional).Mul(hundred)
}

func withZero(movePcts []float64) []float64 {
	if len(movePcts) == 0 {
		return CanonicalMoves
	}
	for _, m := range movePcts {
		if m == 0 {
			return movePcts
		}
	}
	return append([]float64{0}, movePcts...)
}
