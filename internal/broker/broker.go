// Package broker defines the broker-side collaborator contracts: margin
// queries, order placement and the external confidence scorer. The engine
// acquires a broker connection per operation and never holds one across a
// scheduling boundary.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/models"
)

// ErrUnavailable means the broker connection is down. Margin lookups must
// return it explicitly instead of a silent zero; the sizer only falls back to
// an estimated margin on this exact error.
var ErrUnavailable = errors.New("broker unavailable")

// Side is the order side of a single leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// MarginProvider reports account margin and per-lot margin requirements.
type MarginProvider interface {
	AvailableMargin(ctx context.Context, accountID string) (decimal.Decimal, error)
	MarginPerLot(ctx context.Context, symbol string, expiry time.Time, quantity int, side Side) (decimal.Decimal, error)
}

// OrderLeg is one leg of an order. A strangle entry carries two legs, a
// futures entry one.
type OrderLeg struct {
	Symbol   string
	Expiry   time.Time
	Side     Side
	Quantity int
	// Strike and OptionType are set for option legs only.
	Strike     decimal.Decimal
	OptionType string // "CE" or "PE"
	LimitPrice decimal.Decimal
}

// OrderResult is the outcome of an order placement attempt.
type OrderResult struct {
	OrderID     string
	FilledLegs  int
	TotalLegs   int
}

// Partial reports whether some but not all legs filled. A partial multi-leg
// entry is flagged for manual reconciliation, never treated as success.
func (r OrderResult) Partial() bool {
	return r.FilledLegs > 0 && r.FilledLegs < r.TotalLegs
}

// PartialFillError carries the partially-filled result so callers can route
// it to reconciliation instead of retrying blindly.
type PartialFillError struct {
	Result OrderResult
}

func (e *PartialFillError) Error() string {
	return fmt.Sprintf("order %s partially filled: %d of %d legs",
		e.Result.OrderID, e.Result.FilledLegs, e.Result.TotalLegs)
}

// OrderExecutor places orders at the broker. Invoked only from the
// lifecycle's execute transition.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, legs []OrderLeg) (OrderResult, error)
}

// Validation is the external confidence scorer's verdict on a candidate.
type Validation struct {
	Approved   bool
	Confidence float64 // 0-100
	Rationale  string
}

// ConfidenceScorer is the external sentiment/ML validation collaborator,
// consulted only for strategies whose policy requires it.
type ConfidenceScorer interface {
	Validate(ctx context.Context, s *models.TradeSuggestion) (Validation, error)
}
