// Package indicators holds the technical-analysis primitives used by level
// detection and signal scoring.
package indicators

import "math"

// RSI calculates Relative Strength Index
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50 // Neutral if not enough data
	}

	gains := make([]float64, 0)
	losses := make([]float64, 0)

	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	if len(gains) < period {
		return 50
	}

	// Calculate initial average gain/loss
	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])

	// Smooth with remaining data
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// EMA calculates Exponential Moving Average
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return average(prices)
	}

	multiplier := 2.0 / float64(period+1)
	ema := average(prices[:period])

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}

	return ema
}

// SMA calculates Simple Moving Average
func SMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return average(prices)
	}

	return average(prices[len(prices)-period:])
}

// Volatility calculates price volatility (standard deviation)
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	avg := average(prices)
	sumSquares := 0.0

	for _, p := range prices {
		sumSquares += (p - avg) * (p - avg)
	}

	return math.Sqrt(sumSquares / float64(len(prices)))
}

// BollingerBands calculates Bollinger Bands
func BollingerBands(prices []float64, period int, stdDev float64) (upper, middle, lower float64) {
	if len(prices) < period {
		return 0, 0, 0
	}

	middle = SMA(prices, period)

	recentPrices := prices[len(prices)-period:]
	volatility := Volatility(recentPrices)

	upper = middle + (volatility * stdDev)
	lower = middle - (volatility * stdDev)

	return upper, middle, lower
}

// Pivot is a local extremum in a price series.
type Pivot struct {
	Index int
	Price float64
}

// PivotLows finds bars strictly lower than leftBars bars to the left and
// rightBars bars to the right.
func PivotLows(lows []float64, leftBars, rightBars int) []Pivot {
	var out []Pivot
	for i := leftBars; i < len(lows)-rightBars; i++ {
		isPivot := true
		for j := 1; j <= leftBars && isPivot; j++ {
			if lows[i-j] <= lows[i] {
				isPivot = false
			}
		}
		for j := 1; j <= rightBars && isPivot; j++ {
			if lows[i+j] <= lows[i] {
				isPivot = false
			}
		}
		if isPivot {
			out = append(out, Pivot{Index: i, Price: lows[i]})
		}
	}
	return out
}

// PivotHighs finds bars strictly higher than their neighbours.
func PivotHighs(highs []float64, leftBars, rightBars int) []Pivot {
	var out []Pivot
	for i := leftBars; i < len(highs)-rightBars; i++ {
		isPivot := true
		for j := 1; j <= leftBars && isPivot; j++ {
			if highs[i-j] >= highs[i] {
				isPivot = false
			}
		}
		for j := 1; j <= rightBars && isPivot; j++ {
			if highs[i+j] >= highs[i] {
				isPivot = false
			}
		}
		if isPivot {
			out = append(out, Pivot{Index: i, Price: highs[i]})
		}
	}
	return out
}

// FloorPivots holds classic pivot-point arithmetic from the prior session.
type FloorPivots struct {
	Pivot float64
	R1    float64
	R2    float64
	S1    float64
	S2    float64
}

// ClassicPivots computes floor-trader pivot levels from the prior session's
// high, low and close.
func ClassicPivots(high, low, close float64) FloorPivots {
	p := (high + low + close) / 3
	return FloorPivots{
		Pivot: p,
		R1:    2*p - low,
		R2:    p + (high - low),
		S1:    2*p - high,
		S2:    p - (high - low),
	}
}

// Helper functions

func average(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func min(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func max(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Min exposes the slice minimum for range-position checks.
func Min(data []float64) float64 { return min(data) }

// Max exposes the slice maximum for range-position checks.
func Max(data []float64) float64 { return max(data) }
