package strikes

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSelectCalmVIX(t *testing.T) {
	// VIX 14 stays on the base delta: 24000 x 0.5% x 4 = 480, rounded to
	// the nearest 100 on each side.
	pair := Select(d(24000), 4, d(14))

	assert.True(t, pair.CallStrike.Equal(d(24500)), "call %s", pair.CallStrike)
	assert.True(t, pair.PutStrike.Equal(d(23500)), "put %s", pair.PutStrike)
	assert.True(t, pair.AdjustedDelta.Equal(d(0.5)))
	assert.True(t, pair.Distance.Equal(d(480)))
}

func TestSelectVIXTiers(t *testing.T) {
	tests := []struct {
		name  string
		vix   decimal.Decimal
		delta decimal.Decimal
	}{
		{"below mid", d(14.9), d(0.5)},
		{"at mid boundary", d(15), d(0.55)},
		{"mid band", d(18), d(0.55)},
		{"at high boundary", d(20), d(0.55)},
		{"above high", d(20.1), d(0.6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := Select(d(24000), 4, tt.vix)
			assert.True(t, pair.AdjustedDelta.Equal(tt.delta),
				"vix %s: got delta %s, want %s", tt.vix, pair.AdjustedDelta, tt.delta)
		})
	}
}

func TestSelectSymmetry(t *testing.T) {
	// With spot on a round level both strikes land the same distance away.
	pair := Select(d(24000), 4, d(22))

	callDist := pair.CallStrike.Sub(d(24000))
	putDist := d(24000).Sub(pair.PutStrike)
	assert.True(t, callDist.Equal(putDist), "call %s put %s", callDist, putDist)
	assert.True(t, pair.CallStrike.Equal(d(24600)))
	assert.True(t, pair.PutStrike.Equal(d(23400)))
}

func TestSelectRoundsToIncrement(t *testing.T) {
	pair := Select(d(24037), 3, d(12))

	for _, strike := range []decimal.Decimal{pair.CallStrike, pair.PutStrike} {
		assert.True(t, strike.Mod(RoundIncrement).IsZero(), "strike %s not on a round level", strike)
	}
}
