package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/optionpilot/internal/models"
)

func futuresPosition(entry float64, additions int) *models.ActivePosition {
	return &models.ActivePosition{
		Instrument: models.InstrumentFutures,
		Direction:  models.DirectionLong,
		EntryPrice: d(entry),
		Lots:       5,
		LotSize:    75,
		Additions:  additions,
	}
}

func TestPlanAdditionTrigger(t *testing.T) {
	cfg := DefaultAveraging()
	pos := futuresPosition(24_000, 0)

	// 0.5% adverse: below the 1% trigger.
	_, ok := cfg.PlanAddition(pos, d(23_880), d(10_000_000), d(120_000))
	assert.False(t, ok)

	// Exactly 1% adverse arms the first addition at 20% of balance.
	add, ok := cfg.PlanAddition(pos, d(23_760), d(10_000_000), d(120_000))
	require.True(t, ok)
	assert.Equal(t, 16, add.Lots) // 2,000,000 / 120,000

	// New average is volume weighted between 375 old and 1200 added units.
	oldQty, addQty := d(375), d(16*75)
	want := d(24_000).Mul(oldQty).Add(d(23_760).Mul(addQty)).Div(oldQty.Add(addQty))
	assert.True(t, add.NewAvgEntry.Equal(want), "avg %s want %s", add.NewAvgEntry, want)

	// Stop tightened to 0.5% below the new average.
	wantStop := want.Sub(want.Mul(d(0.5)).Div(decimal.NewFromInt(100)))
	assert.True(t, add.NewStopLoss.Equal(wantStop), "stop %s want %s", add.NewStopLoss, wantStop)
}

func TestPlanAdditionCap(t *testing.T) {
	cfg := DefaultAveraging()

	_, ok := cfg.PlanAddition(futuresPosition(24_000, 3), d(23_000), d(10_000_000), d(120_000))
	assert.False(t, ok, "no addition past the third")
}

func TestPlanAdditionOptionsNeverAverage(t *testing.T) {
	cfg := DefaultAveraging()
	pos := futuresPosition(24_000, 0)
	pos.Instrument = models.InstrumentOptions

	_, ok := cfg.PlanAddition(pos, d(23_000), d(10_000_000), d(120_000))
	assert.False(t, ok)
}

func TestPlanAdditionShortDirection(t *testing.T) {
	cfg := DefaultAveraging()
	pos := futuresPosition(24_000, 0)
	pos.Direction = models.DirectionShort

	// Price falling is favorable for a short; no addition.
	_, ok := cfg.PlanAddition(pos, d(23_700), d(10_000_000), d(120_000))
	assert.False(t, ok)

	// Price rising 1% is the adverse side.
	add, ok := cfg.PlanAddition(pos, d(24_240), d(10_000_000), d(120_000))
	require.True(t, ok)
	assert.True(t, add.NewStopLoss.GreaterThan(add.NewAvgEntry), "short stop sits above the average")
}
