package scenario

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/optionpilot/internal/models"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestComputeStrangle(t *testing.T) {
	res := ComputeStrangle(Strangle{
		Spot:        d(24000),
		CallStrike:  d(24500),
		PutStrike:   d(23500),
		CallPremium: d(100),
		PutPremium:  d(90),
		Quantity:    75,
	}, nil)

	// Full premium retained when both legs expire worthless.
	assert.True(t, res.MaxProfit.Equal(d(14250)), "max profit %s", res.MaxProfit)

	require.Len(t, res.Breakevens, 2)
	assert.True(t, res.Breakevens[0].Equal(d(23310)), "put breakeven %s", res.Breakevens[0])
	assert.True(t, res.Breakevens[1].Equal(d(24690)), "call breakeven %s", res.Breakevens[1])

	// The 0% row is always present and shows the full premium.
	var zeroRow *Row
	for i := range res.Rows {
		if res.Rows[i].MovePct.IsZero() {
			zeroRow = &res.Rows[i]
		}
	}
	require.NotNil(t, zeroRow)
	assert.True(t, zeroRow.PnL.Equal(d(14250)))

	// Worst evaluated move is -10%: price 21600, put 1900 ITM.
	assert.True(t, res.MaxLoss.Equal(d(128250)), "max loss %s", res.MaxLoss)
	require.True(t, res.RiskRewardDefined)
	assert.True(t, res.RiskReward.Sub(d(0.1111)).Abs().LessThan(d(0.001)))
}

func TestComputeStrangleMoveWithinStrikes(t *testing.T) {
	res := ComputeStrangle(Strangle{
		Spot:        d(24000),
		CallStrike:  d(26500),
		PutStrike:   d(21500),
		CallPremium: d(40),
		PutPremium:  d(35),
		Quantity:    75,
	}, nil)

	// Strikes sit outside every canonical move, so no row ever loses.
	for _, row := range res.Rows {
		assert.True(t, row.PnL.Equal(res.MaxProfit), "move %s pnl %s", row.MovePct, row.PnL)
	}
	assert.True(t, res.MaxLoss.IsZero())
	assert.False(t, res.RiskRewardDefined, "risk/reward must be undefined at zero max loss")
	assert.True(t, res.RiskReward.IsZero())
}

func TestComputeFuturesLong(t *testing.T) {
	res := ComputeFutures(Futures{
		Direction: models.DirectionLong,
		Entry:     d(24000),
		StopLoss:  d(23760),
		Target:    d(24480),
		Quantity:  75,
	}, nil)

	assert.True(t, res.MaxProfit.Equal(d(36000)), "max profit %s", res.MaxProfit)
	assert.True(t, res.MaxLoss.Equal(d(18000)), "max loss %s", res.MaxLoss)
	require.Len(t, res.Breakevens, 1)
	assert.True(t, res.Breakevens[0].Equal(d(24000)))
	require.True(t, res.RiskRewardDefined)
	assert.True(t, res.RiskReward.Equal(d(2)))

	// No row may report a loss past the stop, whatever the move.
	floor := res.MaxLoss.Neg()
	for _, row := range res.Rows {
		assert.True(t, row.PnL.GreaterThanOrEqual(floor), "move %s pnl %s beyond stop cap", row.MovePct, row.PnL)
	}
}

func TestComputeFuturesShortStopCap(t *testing.T) {
	res := ComputeFutures(Futures{
		Direction: models.DirectionShort,
		Entry:     d(24000),
		StopLoss:  d(24240),
		Target:    d(23520),
		Quantity:  75,
	}, nil)

	assert.True(t, res.MaxLoss.Equal(d(18000)))

	// +10% would lose 180,000 unhedged; the stop caps it.
	for _, row := range res.Rows {
		if row.MovePct.Equal(d(10)) {
			assert.True(t, row.PnL.Equal(d(-18000)), "stop cap not applied: %s", row.PnL)
		}
	}
}

func TestComputeFuturesDegenerateStop(t *testing.T) {
	res := ComputeFutures(Futures{
		Direction: models.DirectionLong,
		Entry:     d(24000),
		StopLoss:  d(24000),
		Target:    d(24480),
		Quantity:  75,
	}, nil)

	assert.True(t, res.MaxLoss.IsZero())
	assert.False(t, res.RiskRewardDefined)
	assert.True(t, res.RiskReward.IsZero())
}

func TestCanonicalMovesAlwaysIncludeZero(t *testing.T) {
	res := ComputeFutures(Futures{
		Direction: models.DirectionLong,
		Entry:     d(100),
		StopLoss:  d(99),
		Target:    d(102),
		Quantity:  1,
	}, []float64{5, -5})

	found := false
	for _, row := range res.Rows {
		if row.MovePct.IsZero() {
			found = true
		}
	}
	assert.True(t, found, "0%% row must always be present")
}
