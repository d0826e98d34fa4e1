// Package exits evaluates live positions against stop-loss, target,
// day-of-week and delta rules and emits exit decisions. The monitor only
// decides; closing the position goes back through the lifecycle.
package exits

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/market"
	"github.com/quantdesk/optionpilot/internal/models"
)

// Action is the monitor's verdict for one position at one poll.
type Action string

const (
	ActionHold             Action = "HOLD"
	ActionExitTarget       Action = "EXIT_TARGET"
	ActionExitStopLoss     Action = "EXIT_STOPLOSS"
	ActionExitEODPartial   Action = "EXIT_EOD_PARTIAL"
	ActionExitEODMandatory Action = "EXIT_EOD_MANDATORY"
	ActionExitDeltaBreach  Action = "EXIT_DELTA_BREACH"
)

// Decision is the outcome of one evaluation. Advisory decisions surface a
// risk but still require the same manual confirmation as a new entry; they
// are never auto-executed.
type Decision struct {
	Action        Action
	Reason        string
	Advisory      bool
	Price         decimal.Decimal
	UnrealizedPnL decimal.Decimal
	NetDelta      decimal.Decimal // options only
}

// Config holds the day-of-week and delta rules.
type Config struct {
	// PartialExitDay exits only when unrealized profit has reached
	// PartialProfitFraction of the target profit.
	PartialExitDay        time.Weekday
	PartialProfitFraction decimal.Decimal

	// MandatoryExitDay exits unconditionally regardless of P&L.
	MandatoryExitDay time.Weekday

	// EODFrom is the exchange-local time of day (minutes from midnight) after
	// which the day-of-week rules apply during normal polling. The explicit
	// EOD check ignores this gate.
	EODFrom int

	// DeltaThreshold is the absolute net-delta bound for option positions.
	DeltaThreshold decimal.Decimal
}

// DefaultConfig mirrors the weekly-expiry rhythm: partial exits Thursday at
// half the target, mandatory square-off Friday, EOD rules from 15:00.
func DefaultConfig() Config {
	return Config{
		PartialExitDay:        time.Thursday,
		PartialProfitFraction: decimal.NewFromFloat(0.5),
		MandatoryExitDay:      time.Friday,
		EODFrom:               15 * 60,
		DeltaThreshold:        decimal.NewFromInt(300),
	}
}

// Monitor polls active positions. It reads prices and volatility from the
// market source and never mutates position records itself.
type Monitor struct {
	source market.DataSource
	cfg    Config
	now    func() time.Time
}

// New creates a Monitor. A zero-valued cfg field falls back to its default.
func New(source market.DataSource, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.PartialProfitFraction.IsZero() {
		cfg.PartialProfitFraction = def.PartialProfitFraction
	}
	if cfg.DeltaThreshold.IsZero() {
		cfg.DeltaThreshold = def.DeltaThreshold
	}
	if cfg.EODFrom == 0 {
		cfg.EODFrom = def.EODFrom
	}
	if cfg.PartialExitDay == time.Sunday && cfg.MandatoryExitDay == time.Sunday {
		cfg.PartialExitDay = def.PartialExitDay
		cfg.MandatoryExitDay = def.MandatoryExitDay
	}
	return &Monitor{source: source, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source (tests).
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Evaluate runs the full priority chain for one position: stop-loss and
// target first, unconditionally; then the day-of-week EOD rules once the EOD
// window has opened; then the advisory delta check for option positions.
func (m *Monitor) Evaluate(ctx context.Context, pos *models.ActivePosition) (Decision, error) {
	price, err := m.source.SpotPrice(ctx, pos.Symbol)
	if err != nil {
		return Decision{Action: ActionHold}, fmt.Errorf("spot price for %s: %w", pos.Symbol, err)
	}

	now := m.now()
	pnl := m.unrealized(ctx, pos, price)
	base := Decision{Action: ActionHold, Price: price, UnrealizedPnL: pnl}

	if d, hit := m.checkHardLevels(pos, price, base); hit {
		return d, nil
	}

	if minutesOfDay(now) >= m.cfg.EODFrom {
		if d, hit := m.checkEOD(pos, now, base); hit {
			return d, nil
		}
	}

	if pos.Instrument == models.InstrumentOptions {
		if d, hit := m.checkDelta(ctx, pos, price, now, base); hit {
			return d, nil
		}
	}

	return base, nil
}

// EvaluateEOD runs only the day-of-week branch, ignoring the time gate. The
// orchestrator calls it at the fixed end-of-day point so the mandatory and
// partial checks run even when continuous monitoring is paused.
func (m *Monitor) EvaluateEOD(ctx context.Context, pos *models.ActivePosition) (Decision, error) {
	price, err := m.source.SpotPrice(ctx, pos.Symbol)
	if err != nil {
		return Decision{Action: ActionHold}, fmt.Errorf("spot price for %s: %w", pos.Symbol, err)
	}

	pnl := m.unrealized(ctx, pos, price)
	base := Decision{Action: ActionHold, Price: price, UnrealizedPnL: pnl}

	if d, hit := m.checkHardLevels(pos, price, base); hit {
		return d, nil
	}
	if d, hit := m.checkEOD(pos, m.now(), base); hit {
		return d, nil
	}
	return base, nil
}

// checkHardLevels applies the unconditional stop-loss and target checks.
// Only futures carry explicit stop and target levels; strangles are governed
// by the EOD and delta rules.
func (m *Monitor) checkHardLevels(pos *models.ActivePosition, price decimal.Decimal, base Decision) (Decision, bool) {
	if pos.Instrument != models.InstrumentFutures {
		return base, false
	}

	long := pos.Direction == models.DirectionLong
	stopHit := (long && price.LessThanOrEqual(pos.StopLoss)) ||
		(!long && price.GreaterThanOrEqual(pos.StopLoss))
	if stopHit {
		base.Action = ActionExitStopLoss
		base.Reason = fmt.Sprintf("price %s breached stop %s", price.StringFixed(2), pos.StopLoss.StringFixed(2))
		return base, true
	}

	if !pos.Target.IsZero() {
		targetHit := (long && price.GreaterThanOrEqual(pos.Target)) ||
			(!long && price.LessThanOrEqual(pos.Target))
		if targetHit {
			base.Action = ActionExitTarget
			base.Reason = fmt.Sprintf("price %s reached target %s", price.StringFixed(2), pos.Target.StringFixed(2))
			return base, true
		}
	}
	return base, false
}

func (m *Monitor) checkEOD(pos *models.ActivePosition, now time.Time, base Decision) (Decision, bool) {
	switch now.Weekday() {
	case m.cfg.MandatoryExitDay:
		base.Action = ActionExitEODMandatory
		base.Reason = "mandatory end-of-day square-off"
		return base, true
	case m.cfg.PartialExitDay:
		threshold := m.targetProfit(pos).Mul(m.cfg.PartialProfitFraction)
		if threshold.IsPositive() && base.UnrealizedPnL.GreaterThanOrEqual(threshold) {
			base.Action = ActionExitEODPartial
			base.Reason = fmt.Sprintf("booked %s of %s target profit", base.UnrealizedPnL.StringFixed(2), threshold.StringFixed(2))
			return base, true
		}
	}
	return base, false
}

func (m *Monitor) checkDelta(ctx context.Context, pos *models.ActivePosition, price decimal.Decimal, now time.Time, base Decision) (Decision, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	vix, err := m.source.VolatilityIndex(ctx)
	if err != nil {
		log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("VIX unavailable, skipping delta check")
		return base, false
	}

	net := NetDelta(pos, price, vix, now)
	base.NetDelta = net
	if net.Abs().GreaterThan(m.cfg.DeltaThreshold) {
		base.Action = ActionExitDeltaBreach
		base.Advisory = true
		base.Reason = fmt.Sprintf("net delta %s beyond ±%s", net.StringFixed(0), m.cfg.DeltaThreshold.StringFixed(0))
		return base, true
	}
	return base, false
}

// targetProfit is the profit at which the position is considered a full win:
// the collected premium for a short strangle, the entry-to-target distance
// for a futures leg.
func (m *Monitor) targetProfit(pos *models.ActivePosition) decimal.Decimal {
	qty := decimal.NewFromInt(int64(pos.Quantity()))
	if pos.Instrument == models.InstrumentOptions {
		return pos.CallPremium.Add(pos.PutPremium).Mul(qty)
	}
	if pos.Target.IsZero() {
		return decimal.Zero
	}
	dist := pos.Target.Sub(pos.EntryPrice)
	if pos.Direction == models.DirectionShort {
		dist = dist.Neg()
	}
	return dist.Mul(qty)
}

// unrealized computes mark-to-intrinsic P&L. Option legs are valued at
// intrinsic only; time value still owed to the buyer is ignored, which makes
// the partial-exit check conservative.
func (m *Monitor) unrealized(ctx context.Context, pos *models.ActivePosition, price decimal.Decimal) decimal.Decimal {
	qty := decimal.NewFromInt(int64(pos.Quantity()))

	if pos.Instrument == models.InstrumentFutures {
		diff := price.Sub(pos.EntryPrice)
		if pos.Direction == models.DirectionShort {
			diff = diff.Neg()
		}
		return diff.Mul(qty)
	}

	collected := pos.CallPremium.Add(pos.PutPremium)
	callIntrinsic := decimal.Max(decimal.Zero, price.Sub(pos.CallStrike))
	putIntrinsic := decimal.Max(decimal.Zero, pos.PutStrike.Sub(price))
	return collected.Sub(callIntrinsic).Sub(putIntrinsic).Mul(qty)
}

// NetDelta approximates the position's net delta (put leg minus call leg,
// in contracts) for a short strangle using a normal-CDF delta with the
// volatility index as the implied vol proxy.
func NetDelta(pos *models.ActivePosition, spot, vix decimal.Decimal, now time.Time) decimal.Decimal {
	t := pos.Expiry.Sub(now).Hours() / 24 / 365
	if t <= 0 {
		t = 1.0 / 365 / 24 // expiry day, keep a floor to avoid a zero divisor
	}
	sigma := vixFraction(vix)
	s, _ := spot.Float64()
	callK, _ := pos.CallStrike.Float64()
	putK, _ := pos.PutStrike.Float64()
	if s <= 0 || callK <= 0 || putK <= 0 || sigma <= 0 {
		return decimal.Zero
	}

	qty := float64(pos.Quantity())
	callDelta := normCDF(d1(s, callK, sigma, t)) * qty
	putDelta := (normCDF(d1(s, putK, sigma, t)) - 1) * qty
	net := putDelta - callDelta
	return decimal.NewFromFloat(net).Round(2)
}

func d1(s, k, sigma, t float64) float64 {
	return (math.Log(s/k) + 0.5*sigma*sigma*t) / (sigma * math.Sqrt(t))
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func vixFraction(vix decimal.Decimal) float64 {
	v, _ := vix.Float64()
	return v / 100
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
