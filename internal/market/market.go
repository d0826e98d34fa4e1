// Package market defines the market-data contract the engine consumes and a
// websocket spot feed that serves the live-price half of it.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is the explicit "feed is down" signal. Callers fail closed
// on it; it is never conflated with a transient parse or transport error.
var ErrUnavailable = errors.New("market data unavailable")

// Window identifies a sector-performance lookback horizon.
type Window string

const (
	WindowShort  Window = "1w"
	WindowMedium Window = "1m"
	WindowLong   Window = "3m"
)

// Horizon identifies a price-history lookback for level detection.
type Horizon string

const (
	Horizon3M  Horizon = "3m"
	Horizon6M  Horizon = "6m"
	Horizon52W Horizon = "52w"
)

// OpenInterest is the OI snapshot used by the scorer's buildup
// classification.
type OpenInterest struct {
	OI           decimal.Decimal
	OIChangePct  decimal.Decimal
	PriceChange  decimal.Decimal
	PutCallRatio decimal.Decimal
}

// Technicals is the indicator snapshot used by the scorer's technical factor.
type Technicals struct {
	Momentum    float64 // oscillator reading, 0-100
	MAShort     decimal.Decimal
	MALong      decimal.Decimal
	VolumeScore float64 // 0-100, recent volume vs trailing average
}

// PricePoint is one bar of history, oldest first in any returned series.
type PricePoint struct {
	Time  time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// DataSource is the market-data collaborator. Implementations live outside
// this engine (exchange scrapers, broker SDKs); the websocket feed below
// covers SpotPrice for live monitoring.
type DataSource interface {
	SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	VolatilityIndex(ctx context.Context) (decimal.Decimal, error)
	OpenInterest(ctx context.Context, symbol string, expiry time.Time) (OpenInterest, error)
	SectorPerformance(ctx context.Context, sector string, window Window) (decimal.Decimal, error)
	TechnicalIndicators(ctx context.Context, symbol string) (Technicals, error)
	PriceHistory(ctx context.Context, symbol string, horizon Horizon) ([]PricePoint, error)
}
