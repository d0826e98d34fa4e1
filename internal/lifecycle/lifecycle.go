// Package lifecycle owns the trade-suggestion state machine: creation with
// auto-approval, the approve/reject/execute/close transitions, and the
// expiry sweep.
//
// States: SUGGESTED → {TAKEN, REJECTED, EXPIRED}; TAKEN → ACTIVE;
// ACTIVE → {CLOSED, SUCCESSFUL, LOSS, BREAKEVEN}; any pre-ACTIVE state may
// reach CANCELLED. All of REJECTED, EXPIRED, CANCELLED and the closed
// outcomes are terminal.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/broker"
	"github.com/quantdesk/optionpilot/internal/levels"
	"github.com/quantdesk/optionpilot/internal/metrics"
	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/quantdesk/optionpilot/internal/notify"
	"github.com/quantdesk/optionpilot/internal/scenario"
	"github.com/quantdesk/optionpilot/internal/scoring"
	"github.com/quantdesk/optionpilot/internal/sizing"
	"github.com/quantdesk/optionpilot/internal/store"
)

// DefaultExpiryWindow is the fixed deadline offset from creation. It is wall
// clock time, independent of market hours.
const DefaultExpiryWindow = 24 * time.Hour

const orderTimeout = 15 * time.Second

// InvalidTransitionError reports an operation attempted from a state that
// does not allow it. The current state is always named; the error message is
// suitable for direct display.
type InvalidTransitionError struct {
	ID      string
	Op      string
	Current models.SuggestionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s suggestion %s: current status is %s", e.Op, e.ID, e.Current)
}

// ErrAccountBusy means the account already holds a TAKEN or ACTIVE
// suggestion; the one-position-per-account rule blocks a second.
var ErrAccountBusy = errors.New("account already holds an open or pending position")

// ActorAuto tags transitions performed by the auto-approval policy.
const ActorAuto = "auto"

// Lifecycle coordinates suggestion transitions against the store, the order
// executor and the notification sink. All entry-side transitions for one
// account are serialized through a per-account lock; cross-process safety
// comes from the store's compare-and-set writes.
type Lifecycle struct {
	store      store.Store
	orders     broker.OrderExecutor
	confidence broker.ConfidenceScorer // optional
	sink       notify.Sink
	metrics    *metrics.Metrics // optional
	now        func() time.Time

	expiryWindow time.Duration

	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithExpiryWindow overrides the suggestion expiry deadline offset.
func WithExpiryWindow(d time.Duration) Option {
	return func(l *Lifecycle) { l.expiryWindow = d }
}

// WithConfidenceScorer wires the external validation collaborator, consulted
// for strategies whose policy requires confirmation.
func WithConfidenceScorer(c broker.ConfidenceScorer) Option {
	return func(l *Lifecycle) { l.confidence = c }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Lifecycle) { l.metrics = m }
}

// New creates a Lifecycle.
func New(st store.Store, orders broker.OrderExecutor, sink notify.Sink, opts ...Option) *Lifecycle {
	if sink == nil {
		sink = notify.Nop{}
	}
	l := &Lifecycle{
		store:        st,
		orders:       orders,
		sink:         sink,
		now:          time.Now,
		expiryWindow: DefaultExpiryWindow,
		accountLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) accountLock(accountID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	mu, ok := l.accountLocks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		l.accountLocks[accountID] = mu
	}
	return mu
}

// CreateInput carries the component outputs a suggestion is assembled from.
type CreateInput struct {
	AccountID  string
	Strategy   models.StrategyTag
	Instrument models.InstrumentClass
	Direction  models.Direction
	Symbol     string

	Spot         decimal.Decimal
	VIX          decimal.Decimal
	Expiry       time.Time
	DaysToExpiry int

	// Option legs (strangle).
	CallStrike  decimal.Decimal
	PutStrike   decimal.Decimal
	CallPremium decimal.Decimal
	PutPremium  decimal.Decimal

	// Futures leg.
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Target     decimal.Decimal

	LotSize         int
	Sizing          sizing.Result
	MarginPerLot    decimal.Decimal
	MarginAvailable decimal.Decimal

	Score     scoring.Result
	Payoff    scenario.Result
	Levels    levels.Levels
	Rationale string
}

// Create persists a SUGGESTED record and immediately evaluates the matching
// auto-approval policy; when the policy clears, the record transitions to
// TAKEN with the "auto" actor tag, otherwise it stays SUGGESTED pending
// manual action.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (*models.TradeSuggestion, error) {
	s, err := l.assemble(in)
	if err != nil {
		return nil, err
	}

	if err := l.store.CreateSuggestion(s); err != nil {
		return nil, fmt.Errorf("persist suggestion: %w", err)
	}
	l.countCreated(s)

	log.Info().
		Str("id", s.ID).
		Str("strategy", string(s.Strategy)).
		Str("symbol", s.Symbol).
		Float64("score", in.Score.Composite).
		Msg("💡 Suggestion created")

	l.sink.Notify(notify.EventSuggestionCreated, map[string]string{
		"id":       s.ID,
		"strategy": string(s.Strategy),
		"symbol":   s.Symbol,
		"score":    fmt.Sprintf("%.1f", in.Score.Composite),
	})

	if l.tryAutoApprove(ctx, s, in.Score.Composite) {
		// Re-read so the caller sees the TAKEN record.
		return l.store.GetSuggestion(s.ID)
	}
	return s, nil
}

func (l *Lifecycle) assemble(in CreateInput) (*models.TradeSuggestion, error) {
	switch in.Instrument {
	case models.InstrumentOptions:
		if in.CallStrike.IsZero() || in.PutStrike.IsZero() {
			return nil, errors.New("options suggestion requires call and put strikes")
		}
		if !in.EntryPrice.IsZero() || !in.StopLoss.IsZero() || !in.Target.IsZero() {
			return nil, errors.New("options suggestion must not carry futures fields")
		}
	case models.InstrumentFutures:
		if in.EntryPrice.IsZero() || in.StopLoss.IsZero() {
			return nil, errors.New("futures suggestion requires entry and stop-loss")
		}
		if !in.CallStrike.IsZero() || !in.PutStrike.IsZero() {
			return nil, errors.New("futures suggestion must not carry option strikes")
		}
	default:
		return nil, fmt.Errorf("unknown instrument class %q", in.Instrument)
	}

	scenarioJSON, err := json.Marshal(in.Payoff.Rows)
	if err != nil {
		return nil, fmt.Errorf("marshal scenario table: %w", err)
	}
	inputsJSON, err := json.Marshal(in.Score.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal scoring inputs: %w", err)
	}

	now := l.now()
	s := &models.TradeSuggestion{
		ID:         uuid.NewString(),
		AccountID:  in.AccountID,
		Strategy:   in.Strategy,
		Instrument: in.Instrument,
		Direction:  in.Direction,
		Symbol:     in.Symbol,

		SpotPrice:    in.Spot,
		VIX:          in.VIX,
		Expiry:       in.Expiry,
		DaysToExpiry: in.DaysToExpiry,

		CallStrike:  in.CallStrike,
		PutStrike:   in.PutStrike,
		CallPremium: in.CallPremium,
		PutPremium:  in.PutPremium,
		EntryPrice:  in.EntryPrice,
		StopLoss:    in.StopLoss,
		Target:      in.Target,

		RecommendedLots: in.Sizing.RecommendedLots,
		LotSize:         in.LotSize,
		MarginPerLot:    in.MarginPerLot,
		MarginRequired:  in.Sizing.MarginRequired,
		MarginAvailable: in.MarginAvailable,

		MaxProfit:         in.Payoff.MaxProfit,
		MaxLoss:           in.Payoff.MaxLoss,
		RiskReward:        in.Payoff.RiskReward,
		RiskRewardDefined: in.Payoff.RiskRewardDefined,
		Support:           in.Levels.Support,
		Resistance:        in.Levels.Resistance,
		SupportDistPct:    in.Levels.SupportDistPct,
		ResistanceDistPct: in.Levels.ResistanceDistPct,
		ScenarioTable:     string(scenarioJSON),

		Status:        models.StatusSuggested,
		ExpiresAt:     now.Add(l.expiryWindow),
		Rationale:     in.Rationale,
		ScoringInputs: string(inputsJSON),
		CreatedAt:     now,
	}

	if len(in.Payoff.Breakevens) > 0 {
		s.BreakevenLower = in.Payoff.Breakevens[0]
		s.BreakevenUpper = in.Payoff.Breakevens[len(in.Payoff.Breakevens)-1]
	}

	// Utilization is always recomputed here, never trusted from upstream.
	if in.MarginAvailable.IsPositive() {
		s.UtilizationPct = s.MarginRequired.Div(in.MarginAvailable).Mul(decimal.NewFromInt(100))
	}

	return s, nil
}

// tryAutoApprove evaluates the strategy's policy and performs the SUGGESTED
// → TAKEN transition when every condition holds. The account lock plus the
// held-count check enforce the one-position rule at the transition boundary.
func (l *Lifecycle) tryAutoApprove(ctx context.Context, s *models.TradeSuggestion, composite float64) bool {
	policy, err := l.store.GetPolicy(s.Strategy)
	if err != nil {
		if !errors.Is(err, store.ErrPolicyNotFound) {
			log.Warn().Err(err).Str("id", s.ID).Msg("Policy lookup failed, leaving manual")
		}
		return false
	}
	if !policy.Enabled {
		return false
	}

	confidence := composite
	if policy.RequireConfirmation {
		if l.confidence == nil {
			log.Warn().Str("id", s.ID).Msg("Policy requires confirmation but no confidence scorer is wired, leaving manual")
			return false
		}
		v, err := l.confidence.Validate(ctx, s)
		if err != nil {
			log.Warn().Err(err).Str("id", s.ID).Msg("Confidence scorer unavailable, leaving manual")
			return false
		}
		if !v.Approved {
			log.Info().Str("id", s.ID).Str("rationale", v.Rationale).Msg("Confidence scorer declined")
			return false
		}
		confidence = v.Confidence
	}

	if confidence < policy.MinScore {
		return false
	}

	now := l.now()
	if policy.ManualOnWeekend {
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	if policy.ManualAboveVIX && s.VIX.GreaterThan(policy.VIXThreshold) {
		return false
	}

	taken, err := l.store.CountTakenToday(s.AccountID, s.Strategy, now)
	if err != nil || taken >= policy.MaxPositionsPerDay {
		return false
	}
	loss, err := l.store.RealizedLossToday(s.AccountID, s.Strategy, now)
	if err != nil || loss.GreaterThanOrEqual(policy.MaxDailyLoss) {
		return false
	}

	mu := l.accountLock(s.AccountID)
	mu.Lock()
	defer mu.Unlock()

	held, err := l.store.CountHeldByAccount(s.AccountID)
	if err != nil || held > 0 {
		return false
	}

	err = l.store.TransitionSuggestion(s.ID, models.StatusSuggested, models.StatusTaken, func(t *models.TradeSuggestion) {
		at := now
		t.TakenAt = &at
		t.TakenBy = ActorAuto
	})
	if err != nil {
		log.Warn().Err(err).Str("id", s.ID).Msg("Auto-approve transition lost")
		return false
	}

	l.countTransition(models.StatusTaken)
	log.Info().Str("id", s.ID).Float64("confidence", confidence).Msg("🤖 Auto-approved")
	l.sink.Notify(notify.EventAutoApproved, map[string]string{
		"id":         s.ID,
		"strategy":   string(s.Strategy),
		"confidence": fmt.Sprintf("%.1f", confidence),
	})
	return true
}

// Approve moves a SUGGESTED record to TAKEN on behalf of actor. Approving a
// record past its expiry deadline expires it instead.
func (l *Lifecycle) Approve(id, actor string) error {
	s, err := l.store.GetSuggestion(id)
	if err != nil {
		return err
	}
	if s.Status != models.StatusSuggested {
		return &InvalidTransitionError{ID: id, Op: "approve", Current: s.Status}
	}

	now := l.now()
	if !s.ExpiresAt.After(now) {
		// Deadline passed before anyone acted; the sweep may not have run
		// yet, but the approval must not win.
		if err := l.expire(s.ID); err != nil {
			return err
		}
		return &InvalidTransitionError{ID: id, Op: "approve", Current: models.StatusExpired}
	}

	mu := l.accountLock(s.AccountID)
	mu.Lock()
	defer mu.Unlock()

	held, err := l.store.CountHeldByAccount(s.AccountID)
	if err != nil {
		return err
	}
	if held > 0 {
		return ErrAccountBusy
	}

	err = l.transition(id, "approve", models.StatusSuggested, models.StatusTaken, func(t *models.TradeSuggestion) {
		at := now
		t.TakenAt = &at
		t.TakenBy = actor
	})
	if err != nil {
		return err
	}
	log.Info().Str("id", id).Str("actor", actor).Msg("✅ Suggestion approved")
	return nil
}

// Reject moves a SUGGESTED record to REJECTED with a display-ready reason.
func (l *Lifecycle) Reject(id, actor, reason string) error {
	err := l.transition(id, "reject", models.StatusSuggested, models.StatusRejected, func(t *models.TradeSuggestion) {
		at := l.now()
		t.RejectedAt = &at
		t.RejectReason = reason
		t.TakenBy = actor
	})
	if err != nil {
		return err
	}
	log.Info().Str("id", id).Str("actor", actor).Str("reason", reason).Msg("🚫 Suggestion rejected")
	return nil
}

// Cancel moves any pre-ACTIVE record to CANCELLED. Cancelled records are
// retained for audit, never deleted.
func (l *Lifecycle) Cancel(id, actor string) error {
	s, err := l.store.GetSuggestion(id)
	if err != nil {
		return err
	}
	if s.Status != models.StatusSuggested && s.Status != models.StatusTaken {
		return &InvalidTransitionError{ID: id, Op: "cancel", Current: s.Status}
	}
	err = l.transition(id, "cancel", s.Status, models.StatusCancelled, nil)
	if err != nil {
		return err
	}
	log.Info().Str("id", id).Str("actor", actor).Msg("🗑️ Suggestion cancelled")
	return nil
}

// Execute places the broker order for a TAKEN suggestion and, on success,
// creates the ActivePosition and moves the suggestion to ACTIVE. This is the
// only operation allowed to place an order. On any placement failure the
// suggestion remains TAKEN and the failure is surfaced to the caller; a
// partial multi-leg fill is flagged for manual reconciliation.
func (l *Lifecycle) Execute(ctx context.Context, id string) (*models.ActivePosition, error) {
	s, err := l.store.GetSuggestion(id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.StatusTaken {
		return nil, &InvalidTransitionError{ID: id, Op: "execute", Current: s.Status}
	}

	mu := l.accountLock(s.AccountID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	legs := buildLegs(s)
	result, err := l.orders.PlaceOrder(ctx, legs)
	if err != nil {
		l.sink.Notify(notify.EventOrderFailed, map[string]string{
			"id":    s.ID,
			"error": err.Error(),
		})
		log.Error().Err(err).Str("id", s.ID).Msg("🚨 Order placement failed, suggestion stays TAKEN")
		return nil, fmt.Errorf("place order for %s: %w", s.ID, err)
	}
	if result.Partial() {
		l.sink.Notify(notify.EventReconcileNeeded, map[string]string{
			"id":     s.ID,
			"order":  result.OrderID,
			"filled": fmt.Sprintf("%d/%d", result.FilledLegs, result.TotalLegs),
		})
		log.Error().Str("id", s.ID).Str("order", result.OrderID).Msg("🚨 Partial fill, manual reconciliation needed")
		return nil, &broker.PartialFillError{Result: result}
	}

	now := l.now()
	pos := &models.ActivePosition{
		ID:           uuid.NewString(),
		SuggestionID: s.ID,
		AccountID:    s.AccountID,
		OrderID:      result.OrderID,
		Strategy:     s.Strategy,
		Instrument:   s.Instrument,
		Direction:    s.Direction,
		Symbol:       s.Symbol,
		CallStrike:   s.CallStrike,
		PutStrike:    s.PutStrike,
		CallPremium:  s.CallPremium,
		PutPremium:   s.PutPremium,
		EntryPrice:   s.EntryPrice,
		StopLoss:     s.StopLoss,
		Target:       s.Target,
		Lots:         s.RecommendedLots,
		LotSize:      s.LotSize,
		Expiry:       s.Expiry,
		Open:         true,
		OpenedAt:     now,
	}
	if err := l.store.CreatePosition(pos); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	if err := l.transition(id, "execute", models.StatusTaken, models.StatusActive, nil); err != nil {
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.OpenPositions.Inc()
	}
	log.Info().Str("id", s.ID).Str("order", result.OrderID).Msg("📝 Order placed, position active")
	l.sink.Notify(notify.EventOrderPlaced, map[string]string{
		"id":     s.ID,
		"order":  result.OrderID,
		"symbol": s.Symbol,
	})
	return pos, nil
}

func buildLegs(s *models.TradeSuggestion) []broker.OrderLeg {
	qty := s.RecommendedLots * s.LotSize
	if s.Instrument == models.InstrumentOptions {
		return []broker.OrderLeg{
			{Symbol: s.Symbol, Expiry: s.Expiry, Side: broker.SideSell, Quantity: qty, Strike: s.CallStrike, OptionType: "CE", LimitPrice: s.CallPremium},
			{Symbol: s.Symbol, Expiry: s.Expiry, Side: broker.SideSell, Quantity: qty, Strike: s.PutStrike, OptionType: "PE", LimitPrice: s.PutPremium},
		}
	}
	side := broker.SideBuy
	if s.Direction == models.DirectionShort {
		side = broker.SideSell
	}
	return []broker.OrderLeg{
		{Symbol: s.Symbol, Expiry: s.Expiry, Side: side, Quantity: qty, LimitPrice: s.EntryPrice},
	}
}

// Close records the realized outcome of an ACTIVE suggestion. The outcome
// status is chosen by the caller from the sign and magnitude of realizedPnl.
func (l *Lifecycle) Close(id string, realizedPnl decimal.Decimal, outcome models.SuggestionStatus) error {
	if !outcome.IsClosedOutcome() {
		return fmt.Errorf("invalid close outcome %q", outcome)
	}

	s, err := l.store.GetSuggestion(id)
	if err != nil {
		return err
	}
	if s.Status != models.StatusActive {
		return &InvalidTransitionError{ID: id, Op: "close", Current: s.Status}
	}

	now := l.now()
	err = l.transition(id, "close", models.StatusActive, outcome, func(t *models.TradeSuggestion) {
		at := now
		t.ClosedAt = &at
		t.RealizedPnL = realizedPnl
		if t.MarginRequired.IsPositive() {
			t.ReturnOnMargin = realizedPnl.Div(t.MarginRequired).Mul(decimal.NewFromInt(100))
		}
	})
	if err != nil {
		return err
	}

	l.closeLinkedPosition(s.AccountID, id, now)

	if l.metrics != nil {
		l.metrics.OpenPositions.Dec()
	}
	log.Info().
		Str("id", id).
		Str("outcome", string(outcome)).
		Str("pnl", realizedPnl.StringFixed(2)).
		Msg("🏁 Suggestion closed")
	l.sink.Notify(notify.EventPositionClosed, map[string]string{
		"id":      id,
		"outcome": string(outcome),
		"pnl":     realizedPnl.StringFixed(2),
	})
	return nil
}

func (l *Lifecycle) closeLinkedPosition(accountID, suggestionID string, now time.Time) {
	open, err := l.store.ListOpenPositions(accountID)
	if err != nil {
		log.Warn().Err(err).Str("suggestion", suggestionID).Msg("Could not list positions to close")
		return
	}
	for i := range open {
		if open[i].SuggestionID != suggestionID {
			continue
		}
		p := open[i]
		p.Open = false
		p.ClosedAt = &now
		if err := l.store.UpdatePosition(&p); err != nil {
			log.Warn().Err(err).Str("position", p.ID).Msg("Could not mark position closed")
		}
	}
}

// SweepExpired transitions every SUGGESTED record past its deadline to
// EXPIRED. Non-SUGGESTED records are never touched. Safe to run from any
// worker at any cadence; CAS losses just mean someone acted first.
func (l *Lifecycle) SweepExpired() int {
	expired, err := l.store.ListExpiredSuggested(l.now())
	if err != nil {
		log.Warn().Err(err).Msg("Expiry sweep query failed")
		return 0
	}

	n := 0
	for _, s := range expired {
		if err := l.expire(s.ID); err != nil {
			var conflict *store.ConflictError
			if !errors.As(err, &conflict) {
				log.Warn().Err(err).Str("id", s.ID).Msg("Expiry transition failed")
			}
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("⏰ Expired stale suggestions")
	}
	return n
}

func (l *Lifecycle) expire(id string) error {
	err := l.store.TransitionSuggestion(id, models.StatusSuggested, models.StatusExpired, nil)
	if err == nil {
		l.countTransition(models.StatusExpired)
	}
	return err
}

// transition runs a CAS write and maps a lost race onto the invalid-
// transition error naming the actual current state.
func (l *Lifecycle) transition(id, op string, from, to models.SuggestionStatus, mutate func(*models.TradeSuggestion)) error {
	err := l.store.TransitionSuggestion(id, from, to, mutate)
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			return &InvalidTransitionError{ID: id, Op: op, Current: conflict.Actual}
		}
		return err
	}
	l.countTransition(to)
	return nil
}

func (l *Lifecycle) countCreated(s *models.TradeSuggestion) {
	if l.metrics != nil {
		l.metrics.SuggestionsCreated.WithLabelValues(string(s.Strategy)).Inc()
	}
}

func (l *Lifecycle) countTransition(to models.SuggestionStatus) {
	if l.metrics != nil {
		l.metrics.Transitions.WithLabelValues(string(to)).Inc()
	}
}
