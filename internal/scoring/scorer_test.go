package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantdesk/optionpilot/internal/models"
)

func TestClassifyBuildup(t *testing.T) {
	tests := []struct {
		oi, price float64
		want      Buildup
	}{
		{2.5, 1.2, LongBuildup},
		{2.5, -0.8, ShortBuildup},
		{-1.5, -0.8, LongUnwinding},
		{-1.5, 1.2, ShortCovering},
		{0, 1.2, FlatOI},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyBuildup(tt.oi, tt.price),
			"oi %+.1f price %+.1f", tt.oi, tt.price)
	}
}

func TestComputeBullish(t *testing.T) {
	res := Compute(ComputeInput{
		Symbol:      "NIFTY",
		OIChangePct: 3.0, // price up too: long buildup
		PriceChange: 1.1,
		PCR:         1.3,
		SectorPerf:  [3]float64{2, 3, 4},
		Momentum:    60,
		Spot:        24_100,
		MALong:      23_800,
		VolumeScore: 100,
	})

	assert.Equal(t, LongBuildup, res.Buildup)
	assert.InDelta(t, 100, res.Breakdown.OI, 0.001)
	assert.InDelta(t, 60, res.Breakdown.Sector, 0.001)
	assert.InDelta(t, 100, res.Breakdown.Technical, 0.001)
	// 0.40*100 + 0.25*60 + 0.35*100
	assert.InDelta(t, 90, res.Composite, 0.001)
	assert.Equal(t, models.DirectionLong, res.Direction)
	assert.True(t, res.Candidate())
}

func TestComputeBearish(t *testing.T) {
	res := Compute(ComputeInput{
		Symbol:      "NIFTY",
		OIChangePct: 3.0,
		PriceChange: -1.1, // short buildup
		PCR:         0.7,
		SectorPerf:  [3]float64{-2, -3, -4},
		Momentum:    35,
		Spot:        23_500,
		MALong:      24_000,
		VolumeScore: 100,
	})

	assert.Equal(t, models.DirectionShort, res.Direction)
	assert.False(t, res.Gated)
	assert.InDelta(t, 90, res.Composite, 0.001)
	assert.True(t, res.Candidate(), "strong bearish conviction is still a candidate")
}

func TestSectorGateMixedSigns(t *testing.T) {
	res := Compute(ComputeInput{
		Symbol:      "NIFTY",
		OIChangePct: 3.0,
		PriceChange: 1.1,
		PCR:         1.3,
		SectorPerf:  [3]float64{2, -1, 4}, // 1m disagrees
		Momentum:    60,
		Spot:        24_100,
		MALong:      23_800,
		VolumeScore: 100,
	})

	assert.True(t, res.Gated)
	assert.NotEmpty(t, res.GateReason)
	// Sector sub-score is exactly neutral, not partially credited.
	assert.Zero(t, res.Breakdown.Sector)
	// Gate wins regardless of the other factors.
	assert.False(t, res.Candidate())
}

func TestSectorGateZeroWindow(t *testing.T) {
	// A flat window is neither positive nor negative: gated.
	res := Compute(ComputeInput{
		SectorPerf: [3]float64{2, 0, 4},
	})
	assert.True(t, res.Gated)
}

func TestComputeBelowThresholdNotCandidate(t *testing.T) {
	res := Compute(ComputeInput{
		Symbol:      "NIFTY",
		OIChangePct: -1.0, // long unwinding: -50
		PriceChange: -0.5,
		PCR:         1.0, // +10
		SectorPerf:  [3]float64{1, 1, 1},
		Momentum:    50, // neutral band
		Spot:        24_000,
		MALong:      24_000, // neither side
		VolumeScore: 0,
	})

	assert.False(t, res.Gated)
	assert.Less(t, res.Composite, MinComposite)
	assert.False(t, res.Candidate())
}

func TestTechnicalExtremesScoreNothing(t *testing.T) {
	// Momentum 85 is exhaustion, not continuation.
	high := Compute(ComputeInput{
		SectorPerf: [3]float64{1, 1, 1},
		Momentum:   85,
	})
	assert.Zero(t, high.Breakdown.Technical)
}
