// Package sizing computes lot counts under the account's margin policy: only
// half the available margin is deployable on first entry, the remainder is
// reserved for the averaging protocol.
package sizing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/broker"
)

var hundred = decimal.NewFromInt(100)

// Sizer applies the margin-utilization policy.
type Sizer struct {
	// utilization is the fraction of available margin deployable on first
	// entry (0.5 by default).
	utilization decimal.Decimal

	// estMarginPct is the conservative estimated margin as a fraction of
	// notional, used only when the broker explicitly reports unavailable.
	estMarginPct decimal.Decimal
}

// New creates a Sizer with the given first-entry utilization fraction.
func New(utilization decimal.Decimal) *Sizer {
	if utilization.IsZero() {
		utilization = decimal.NewFromFloat(0.5)
	}
	return &Sizer{
		utilization:  utilization,
		estMarginPct: decimal.NewFromFloat(0.12),
	}
}

// Result is the sizing outcome.
type Result struct {
	RecommendedLots int
	MaxLots         int
	MarginRequired  decimal.Decimal
	UtilizationPct  decimal.Decimal // marginRequired / availableMargin, recomputed here
}

// Size computes lot counts from available margin and per-lot margin.
// Zero or negative available margin, or a degenerate per-lot margin, always
// yields zero lots and blocks entry; lot counts are never negative or
// fractional.
func (s *Sizer) Size(availableMargin, marginPerLot decimal.Decimal) Result {
	if availableMargin.LessThanOrEqual(decimal.Zero) || marginPerLot.LessThanOrEqual(decimal.Zero) {
		return Result{}
	}

	safeMargin := availableMargin.Mul(s.utilization)
	maxLots := int(availableMargin.Div(marginPerLot).IntPart())
	recommended := int(safeMargin.Div(marginPerLot).IntPart())

	// At least one lot when anything fits at all; never more than maxLots.
	if recommended < 1 && maxLots >= 1 {
		recommended = 1
	}
	if recommended > maxLots {
		recommended = maxLots
	}

	marginRequired := marginPerLot.Mul(decimal.NewFromInt(int64(recommended)))
	return Result{
		RecommendedLots: recommended,
		MaxLots:         maxLots,
		MarginRequired:  marginRequired,
		UtilizationPct:  marginRequired.Div(availableMargin).Mul(hundred),
	}
}

// SizeFutures sizes a directional futures entry. Alongside the margin-based
// count it computes an independent risk-based cap (the lot count whose loss
// at the fixed stop-loss percentage stays within maxRiskAmount) and binds
// to the minimum of the two. Both constraints must hold simultaneously.
func (s *Sizer) SizeFutures(availableMargin, marginPerLot, entry decimal.Decimal, lotSize int, stopLossPct, maxRiskAmount decimal.Decimal) Result {
	res := s.Size(availableMargin, marginPerLot)
	if res.RecommendedLots == 0 {
		return res
	}

	perLotRisk := entry.
		Mul(decimal.NewFromInt(int64(lotSize))).
		Mul(stopLossPct).
		Div(hundred)
	if perLotRisk.LessThanOrEqual(decimal.Zero) || maxRiskAmount.LessThanOrEqual(decimal.Zero) {
		return res
	}

	riskLots := int(maxRiskAmount.Div(perLotRisk).IntPart())
	if riskLots < res.RecommendedLots {
		log.Debug().
			Int("margin_lots", res.RecommendedLots).
			Int("risk_lots", riskLots).
			Msg("📉 Risk cap binds below margin cap")
		res.RecommendedLots = riskLots
	}

	marginRequired := marginPerLot.Mul(decimal.NewFromInt(int64(res.RecommendedLots)))
	res.MarginRequired = marginRequired
	res.UtilizationPct = marginRequired.Div(availableMargin).Mul(hundred)
	return res
}

// MarginPerLot fetches the broker's per-lot margin with a bounded timeout.
// When the broker explicitly reports unavailable the conservative estimate
// (a fixed fraction of notional) is used instead; any other failure is
// returned as-is and the caller fails closed.
func (s *Sizer) MarginPerLot(ctx context.Context, provider broker.MarginProvider, symbol string, expiry time.Time, spot decimal.Decimal, lotSize int, side broker.Side) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	m, err := provider.MarginPerLot(ctx, symbol, expiry, lotSize, side)
	if err == nil {
		return m, nil
	}
	if errors.Is(err, broker.ErrUnavailable) {
		est := spot.Mul(decimal.NewFromInt(int64(lotSize))).Mul(s.estMarginPct)
		log.Warn().
			Str("symbol", symbol).
			Str("estimated", est.StringFixed(0)).
			Msg("⚠️ Broker unavailable, using estimated margin")
		return est, nil
	}
	return decimal.Zero, fmt.Errorf("margin per lot for %s: %w", symbol, err)
}
