// Package levels locates the nearest support and resistance around the
// current price from multi-horizon extrema, a volatility band and pivot
// arithmetic.
package levels

import (
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/indicators"
	"github.com/quantdesk/optionpilot/internal/market"
)

// Levels is the located pair with signed percentage distance from current
// price. Negative support distance means support sits below price.
type Levels struct {
	Support           decimal.Decimal
	Resistance        decimal.Decimal
	SupportDistPct    decimal.Decimal
	ResistanceDistPct decimal.Decimal
}

// Series groups the price history per horizon. Missing horizons simply
// contribute no candidates.
type Series struct {
	ThreeMonth   []market.PricePoint
	SixMonth     []market.PricePoint
	FiftyTwoWeek []market.PricePoint
}

const (
	bollingerPeriod  = 20
	bollingerStdDev  = 2.0
	swingPivotBars   = 3
)

// Locate returns the nearest qualifying level above (resistance) and below
// (support) the current price from the combined candidate set. A level
// exactly at the current price is excluded: a zero-distance level is not
// actionable.
func Locate(history Series, currentPrice decimal.Decimal) Levels {
	price, _ := currentPrice.Float64()
	candidates := collectCandidates(history)

	support, resistance := 0.0, 0.0
	for _, c := range candidates {
		if c <= 0 || c == price {
			continue
		}
		if c < price && c > support {
			support = c
		}
		if c > price && (resistance == 0 || c < resistance) {
			resistance = c
		}
	}

	out := Levels{
		Support:    decimal.NewFromFloat(support),
		Resistance: decimal.NewFromFloat(resistance),
	}
	if support > 0 && price > 0 {
		out.SupportDistPct = decimal.NewFromFloat((support - price) / price * 100).Round(4)
	}
	if resistance > 0 && price > 0 {
		out.ResistanceDistPct = decimal.NewFromFloat((resistance - price) / price * 100).Round(4)
	}
	return out
}

func collectCandidates(history Series) []float64 {
	var candidates []float64

	// Horizon extrema: period low is a support candidate, period high a
	// resistance candidate.
	for _, series := range [][]market.PricePoint{history.ThreeMonth, history.SixMonth, history.FiftyTwoWeek} {
		lows, highs, closes := split(series)
		if len(closes) == 0 {
			continue
		}
		candidates = append(candidates, indicators.Min(lows), indicators.Max(highs))

		// Swing pivots from the same series.
		for _, p := range indicators.PivotLows(lows, swingPivotBars, swingPivotBars) {
			candidates = append(candidates, p.Price)
		}
		for _, p := range indicators.PivotHighs(highs, swingPivotBars, swingPivotBars) {
			candidates = append(candidates, p.Price)
		}
	}

	// Volatility band edges on the shortest horizon.
	if _, _, closes := split(history.ThreeMonth); len(closes) >= bollingerPeriod {
		upper, _, lower := indicators.BollingerBands(closes, bollingerPeriod, bollingerStdDev)
		candidates = append(candidates, upper, lower)
	}

	// Classic pivot arithmetic from the latest session.
	if session := lastBar(history.ThreeMonth); session != nil {
		h, _ := session.High.Float64()
		l, _ := session.Low.Float64()
		c, _ := session.Close.Float64()
		fp := indicators.ClassicPivots(h, l, c)
		candidates = append(candidates, fp.Pivot, fp.R1, fp.R2, fp.S1, fp.S2)
	}

	return candidates
}

func split(series []market.PricePoint) (lows, highs, closes []float64) {
	for _, p := range series {
		l, _ := p.Low.Float64()
		h, _ := p.High.Float64()
		c, _ := p.Close.Float64()
		lows = append(lows, l)
		highs = append(highs, h)
		closes = append(closes, c)
	}
	return
}

func lastBar(series []market.PricePoint) *market.PricePoint {
	if len(series) == 0 {
		return nil
	}
	return &series[len(series)-1]
}
