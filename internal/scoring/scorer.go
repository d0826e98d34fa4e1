// Package scoring produces a 0-100 composite score and a directional bias
// for a candidate futures trade from open-interest, sector-performance and
// technical-indicator inputs.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantdesk/optionpilot/internal/market"
	"github.com/quantdesk/optionpilot/internal/models"
)

// Factor weights. The composite is the weighted sum of the three signed
// factor scores.
const (
	WeightOI        = 0.40
	WeightSector    = 0.25
	WeightTechnical = 0.35

	// MinComposite is the minimum composite score for a symbol to be
	// emitted as a candidate.
	MinComposite = 65.0
)

// Buildup is the directional interpretation of simultaneous open-interest
// and price change.
type Buildup string

const (
	LongBuildup   Buildup = "long-buildup"
	ShortBuildup  Buildup = "short-buildup"
	LongUnwinding Buildup = "long-unwinding"
	ShortCovering Buildup = "short-covering"
	FlatOI        Buildup = "flat"
)

// Breakdown holds the signed per-factor scores, each in [-100, 100] where
// positive is bullish.
type Breakdown struct {
	OI        float64 `json:"oi"`
	Sector    float64 `json:"sector"`
	Technical float64 `json:"technical"`
}

// Inputs is the audit snapshot of everything that produced a score. It is
// persisted with the suggestion and never used for re-computation.
type Inputs struct {
	Symbol       string             `json:"symbol"`
	Buildup      Buildup            `json:"buildup"`
	OIChangePct  float64            `json:"oi_change_pct"`
	PriceChange  float64            `json:"price_change"`
	PutCallRatio float64            `json:"put_call_ratio"`
	SectorPerf   map[string]float64 `json:"sector_perf"`
	Momentum     float64            `json:"momentum"`
	MALong       float64            `json:"ma_long"`
	SpotVsMALong float64            `json:"spot_vs_ma_long"`
	VolumeScore  float64            `json:"volume_score"`
	ScoredAt     time.Time          `json:"scored_at"`
}

// Result is the scoring outcome for one symbol.
type Result struct {
	Symbol    string
	Composite float64 // 0-100
	Direction models.Direction
	Breakdown Breakdown
	Buildup   Buildup
	// Gated means the sector factor disqualified the symbol outright;
	// Composite and the other factors are reported but the symbol must not
	// become a candidate.
	Gated      bool
	GateReason string
	Inputs     Inputs
}

// Candidate reports whether the symbol cleared both the composite threshold
// and the sector gate.
func (r Result) Candidate() bool {
	return !r.Gated && r.Composite >= MinComposite
}

// Scorer scores candidate symbols from live market data.
type Scorer struct {
	source   market.DataSource
	sectorOf func(symbol string) string
	expiry   func() time.Time
}

// New creates a Scorer. sectorOf maps a symbol to its sector key for the
// sector-performance lookups; expiry supplies the contract expiry used for
// the OI query.
func New(source market.DataSource, sectorOf func(string) string, expiry func() time.Time) *Scorer {
	if sectorOf == nil {
		sectorOf = func(s string) string { return s }
	}
	return &Scorer{source: source, sectorOf: sectorOf, expiry: expiry}
}

// Score fetches the three factor inputs and computes the composite. Any
// upstream failure fails closed: no score, error returned, retried on the
// next scheduled tick by the caller.
func (s *Scorer) Score(ctx context.Context, symbol string) (Result, error) {
	oi, err := s.source.OpenInterest(ctx, symbol, s.expiry())
	if err != nil {
		return Result{}, fmt.Errorf("open interest for %s: %w", symbol, err)
	}

	sector := s.sectorOf(symbol)
	perf := make(map[string]float64, 3)
	for _, w := range []market.Window{market.WindowShort, market.WindowMedium, market.WindowLong} {
		p, err := s.source.SectorPerformance(ctx, sector, w)
		if err != nil {
			return Result{}, fmt.Errorf("sector performance %s/%s: %w", sector, w, err)
		}
		perf[string(w)], _ = p.Float64()
	}

	tech, err := s.source.TechnicalIndicators(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("technicals for %s: %w", symbol, err)
	}

	spot, err := s.source.SpotPrice(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("spot for %s: %w", symbol, err)
	}

	oiChange, _ := oi.OIChangePct.Float64()
	priceChange, _ := oi.PriceChange.Float64()
	pcr, _ := oi.PutCallRatio.Float64()
	spotF, _ := spot.Float64()
	maLong, _ := tech.MALong.Float64()

	res := Compute(ComputeInput{
		Symbol:      symbol,
		OIChangePct: oiChange,
		PriceChange: priceChange,
		PCR:         pcr,
		SectorPerf:  [3]float64{perf[string(market.WindowShort)], perf[string(market.WindowMedium)], perf[string(market.WindowLong)]},
		Momentum:    tech.Momentum,
		Spot:        spotF,
		MALong:      maLong,
		VolumeScore: tech.VolumeScore,
	})
	res.Inputs.SectorPerf = perf

	log.Debug().
		Str("symbol", symbol).
		Float64("composite", res.Composite).
		Str("direction", string(res.Direction)).
		Str("buildup", string(res.Buildup)).
		Bool("gated", res.Gated).
		Msg("🧮 Symbol scored")

	return res, nil
}

// ComputeInput is the pure-function form of the scoring inputs.
type ComputeInput struct {
	Symbol      string
	OIChangePct float64
	PriceChange float64
	PCR         float64
	SectorPerf  [3]float64 // short, medium, long windows
	Momentum    float64
	Spot        float64
	MALong      float64
	VolumeScore float64
}

// Compute derives the composite score from already-fetched inputs.
func Compute(in ComputeInput) Result {
	buildup := ClassifyBuildup(in.OIChangePct, in.PriceChange)
	oiScore := oiFactor(buildup, in.PCR)
	sectorScore, gated := sectorFactor(in.SectorPerf)
	techScore := technicalFactor(in.Momentum, in.Spot, in.MALong, in.VolumeScore)

	weighted := WeightOI*oiScore + WeightSector*sectorScore + WeightTechnical*techScore

	dir := models.DirectionNeutral
	switch {
	case weighted > 0:
		dir = models.DirectionLong
	case weighted < 0:
		dir = models.DirectionShort
	}

	composite := weighted
	if composite < 0 {
		composite = -composite
	}

	res := Result{
		Symbol:    in.Symbol,
		Composite: composite,
		Direction: dir,
		Breakdown: Breakdown{OI: oiScore, Sector: sectorScore, Technical: techScore},
		Buildup:   buildup,
		Inputs: Inputs{
			Symbol:       in.Symbol,
			Buildup:      buildup,
			OIChangePct:  in.OIChangePct,
			PriceChange:  in.PriceChange,
			PutCallRatio: in.PCR,
			Momentum:     in.Momentum,
			MALong:       in.MALong,
			SpotVsMALong: in.Spot - in.MALong,
			VolumeScore:  in.VolumeScore,
			ScoredAt:     time.Now(),
		},
	}
	if gated {
		res.Gated = true
		res.GateReason = fmt.Sprintf("sector windows disagree: 1w=%+.2f 1m=%+.2f 3m=%+.2f",
			in.SectorPerf[0], in.SectorPerf[1], in.SectorPerf[2])
	}
	return res
}

// ClassifyBuildup maps the sign of OI change combined with the sign of price
// change onto the four buildup states.
func ClassifyBuildup(oiChangePct, priceChange float64) Buildup {
	switch {
	case oiChangePct == 0:
		return FlatOI
	case oiChangePct > 0 && priceChange > 0:
		return LongBuildup
	case oiChangePct > 0 && priceChange <= 0:
		return ShortBuildup
	case oiChangePct < 0 && priceChange < 0:
		return LongUnwinding
	default: // OI falling while price rises
		return ShortCovering
	}
}

// oiFactor scores the open-interest factor in [-100, 100]. Long buildup and
// short covering feed the bullish side, short buildup and long unwinding the
// bearish side; the put/call OI ratio folds in as a sentiment tilt.
func oiFactor(buildup Buildup, pcr float64) float64 {
	score := 0.0
	switch buildup {
	case LongBuildup:
		score = 70
	case ShortCovering:
		score = 50
	case ShortBuildup:
		score = -70
	case LongUnwinding:
		score = -50
	}

	// PCR above 1.2 signals heavy put writing (bullish support); below 0.8
	// signals call-side crowding (bearish).
	switch {
	case pcr >= 1.2:
		score += 30
	case pcr >= 1.0:
		score += 10
	case pcr > 0 && pcr <= 0.8:
		score -= 30
	case pcr > 0 && pcr < 1.0:
		score -= 10
	}

	return clamp(score, -100, 100)
}

// sectorFactor requires all three windows to agree in sign. Any disagreement
// forces a neutral zero AND gates the symbol out entirely, regardless of the
// other factors.
func sectorFactor(perf [3]float64) (score float64, gated bool) {
	allPositive := perf[0] > 0 && perf[1] > 0 && perf[2] > 0
	allNegative := perf[0] < 0 && perf[1] < 0 && perf[2] < 0
	if !allPositive && !allNegative {
		return 0, true
	}

	avg := (perf[0] + perf[1] + perf[2]) / 3
	// ±5% average across windows saturates the factor.
	return clamp(avg/5*100, -100, 100), false
}

// technicalFactor combines the momentum oscillator (ideal band, not
// extremes), price position against the long moving average, and recent
// volume.
func technicalFactor(momentum, spot, maLong, volumeScore float64) float64 {
	score := 0.0

	// Ideal continuation bands: 55-70 bullish, 30-45 bearish. Extreme
	// readings argue exhaustion and score nothing.
	switch {
	case momentum >= 55 && momentum <= 70:
		score += 40
	case momentum >= 45 && momentum < 55:
		// neutral zone
	case momentum >= 30 && momentum < 45:
		score -= 40
	}

	if maLong > 0 {
		if spot > maLong {
			score += 30
		} else if spot < maLong {
			score -= 30
		}
	}

	// Volume confirms whichever side the other signals lean towards.
	vol := clamp(volumeScore/100*30, 0, 30)
	if score > 0 {
		score += vol
	} else if score < 0 {
		score -= vol
	}

	return clamp(score, -100, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
