package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Paper is a dry-run broker: a fixed margin pool, full fills on every order,
// nothing leaves the process. Margin consumed by fills is not tracked; the
// engine's own sizing is the only limit, which is the point of a paper run.
type Paper struct {
	mu        sync.Mutex
	available decimal.Decimal
	perLotPct decimal.Decimal // per-lot margin as a fraction of notional
	orders    []OrderLeg
}

// NewPaper creates a paper broker with the given margin pool.
func NewPaper(availableMargin decimal.Decimal) *Paper {
	return &Paper{
		available: availableMargin,
		perLotPct: decimal.NewFromFloat(0.12),
	}
}

// AvailableMargin returns the configured pool.
func (p *Paper) AvailableMargin(ctx context.Context, accountID string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available, nil
}

// MarginPerLot prices a lot at a fixed fraction of notional, the same rule
// real brokers approximate for short premium and futures.
func (p *Paper) MarginPerLot(ctx context.Context, symbol string, expiry time.Time, quantity int, side Side) (decimal.Decimal, error) {
	// The caller passes notional-bearing quantity; without a live quote the
	// paper rule needs a reference price, so it returns ErrUnavailable and
	// lets the sizer fall back to its own estimate.
	return decimal.Zero, ErrUnavailable
}

// PlaceOrder records the legs and fills everything.
func (p *Paper) PlaceOrder(ctx context.Context, legs []OrderLeg) (OrderResult, error) {
	p.mu.Lock()
	p.orders = append(p.orders, legs...)
	p.mu.Unlock()

	id := "paper-" + uuid.NewString()[:8]
	log.Info().Str("order", id).Int("legs", len(legs)).Msg("📄 Paper order filled")
	return OrderResult{OrderID: id, FilledLegs: len(legs), TotalLegs: len(legs)}, nil
}

// Orders returns everything placed so far.
func (p *Paper) Orders() []OrderLeg {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderLeg, len(p.orders))
	copy(out, p.orders)
	return out
}
