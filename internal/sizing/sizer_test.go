package sizing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/optionpilot/internal/broker"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSizeHalfUtilization(t *testing.T) {
	// 1.1 crore available at 1.2 lakh per lot: safe margin 55 lakh gives 45
	// recommended lots against a 91 lot hard ceiling.
	s := New(d(0.5))
	res := s.Size(d(11_000_000), d(120_000))

	assert.Equal(t, 45, res.RecommendedLots)
	assert.Equal(t, 91, res.MaxLots)
	assert.True(t, res.MarginRequired.Equal(d(5_400_000)), "margin %s", res.MarginRequired)
	assert.True(t, res.UtilizationPct.Round(1).Equal(d(49.1)), "utilization %s", res.UtilizationPct)
}

func TestSizeZeroInputs(t *testing.T) {
	s := New(d(0.5))

	for _, res := range []Result{
		s.Size(decimal.Zero, d(120_000)),
		s.Size(d(-1), d(120_000)),
		s.Size(d(11_000_000), decimal.Zero),
		s.Size(d(11_000_000), d(-5)),
	} {
		assert.Equal(t, 0, res.RecommendedLots)
		assert.Equal(t, 0, res.MaxLots)
		assert.True(t, res.MarginRequired.IsZero())
	}
}

func TestSizeMinimumOneLot(t *testing.T) {
	s := New(d(0.5))

	// Safe margin floors to zero lots but one lot fits outright.
	res := s.Size(d(100_000), d(60_000))
	assert.Equal(t, 1, res.RecommendedLots)
	assert.Equal(t, 1, res.MaxLots)

	// Nothing fits at all: the bump to one lot must not fire.
	res = s.Size(d(50_000), d(60_000))
	assert.Equal(t, 0, res.RecommendedLots)
	assert.Equal(t, 0, res.MaxLots)
}

func TestSizeRecommendedNeverExceedsMax(t *testing.T) {
	s := New(d(1))
	for _, avail := range []float64{100_000, 500_000, 1_000_000, 11_000_000} {
		res := s.Size(d(avail), d(120_000))
		assert.LessOrEqual(t, res.RecommendedLots, res.MaxLots, "avail %.0f", avail)
	}
}

func TestSizeFuturesRiskCapBinds(t *testing.T) {
	s := New(d(0.5))

	// Per-lot risk at a 1% stop on 24000 x 75 is 18,000; a 1 lakh risk
	// budget caps at 5 lots well below the 45 margin lots.
	res := s.SizeFutures(d(11_000_000), d(120_000), d(24_000), 75, d(1), d(100_000))

	assert.Equal(t, 5, res.RecommendedLots)
	assert.True(t, res.MarginRequired.Equal(d(600_000)), "margin %s", res.MarginRequired)
}

func TestSizeFuturesNoRiskBudget(t *testing.T) {
	s := New(d(0.5))

	// Zero risk budget means the margin rule alone sizes the trade.
	res := s.SizeFutures(d(11_000_000), d(120_000), d(24_000), 75, d(1), decimal.Zero)
	assert.Equal(t, 45, res.RecommendedLots)
}

type stubMargin struct {
	perLot decimal.Decimal
	err    error
}

func (s stubMargin) AvailableMargin(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s stubMargin) MarginPerLot(ctx context.Context, symbol string, expiry time.Time, quantity int, side broker.Side) (decimal.Decimal, error) {
	return s.perLot, s.err
}

func TestMarginPerLotBrokerValue(t *testing.T) {
	s := New(d(0.5))
	got, err := s.MarginPerLot(context.Background(), stubMargin{perLot: d(120_000)},
		"NIFTY", time.Now(), d(24_000), 75, broker.SideSell)

	require.NoError(t, err)
	assert.True(t, got.Equal(d(120_000)))
}

func TestMarginPerLotEstimateOnUnavailable(t *testing.T) {
	s := New(d(0.5))
	got, err := s.MarginPerLot(context.Background(), stubMargin{err: broker.ErrUnavailable},
		"NIFTY", time.Now(), d(24_000), 75, broker.SideSell)

	require.NoError(t, err)
	// 12% of notional: 24000 x 75 x 0.12.
	assert.True(t, got.Equal(d(216_000)), "estimate %s", got)
}

func TestMarginPerLotOtherErrorsFailClosed(t *testing.T) {
	s := New(d(0.5))
	boom := errors.New("bad credentials")
	_, err := s.MarginPerLot(context.Background(), stubMargin{err: boom},
		"NIFTY", time.Now(), d(24_000), 75, broker.SideSell)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
