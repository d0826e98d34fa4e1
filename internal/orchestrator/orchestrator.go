// Package orchestrator sequences the trading day: pre-market snapshot,
// opening capture, the entry gate and bounded entry window, continuous
// monitoring, the explicit end-of-day check, reconciliation and the learning
// pass. Every step is idempotent per day and independently retryable; a
// restart mid-day resumes at whichever steps have not run yet.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/broker"
	"github.com/quantdesk/optionpilot/internal/exits"
	"github.com/quantdesk/optionpilot/internal/levels"
	"github.com/quantdesk/optionpilot/internal/lifecycle"
	"github.com/quantdesk/optionpilot/internal/market"
	"github.com/quantdesk/optionpilot/internal/metrics"
	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/quantdesk/optionpilot/internal/notify"
	"github.com/quantdesk/optionpilot/internal/scenario"
	"github.com/quantdesk/optionpilot/internal/scoring"
	"github.com/quantdesk/optionpilot/internal/sizing"
	"github.com/quantdesk/optionpilot/internal/store"
	"github.com/quantdesk/optionpilot/internal/strikes"
)

// OptionQuoter supplies option premium quotes for strangle legs. Quotes come
// from the same external data collaborator as spot prices.
type OptionQuoter interface {
	PremiumQuote(ctx context.Context, symbol string, expiry time.Time, strike decimal.Decimal, optionType string) (decimal.Decimal, error)
}

// Config is the day schedule and strategy selection for one engine instance.
// Times are minutes from midnight in Location. One instance trades one
// strategy for one account; the one-position rule makes a second concurrent
// strategy pointless.
type Config struct {
	AccountID string
	Symbol    string
	Strategy  models.StrategyTag
	Direction func(scoring.Result) models.Direction // defaults to the scorer's direction
	LotSize   int
	Location  *time.Location

	PreMarketAt      int // pre-market snapshot
	OpeningCaptureAt int // market open
	EarlyMoveDelay   time.Duration
	EntryWindowFrom  int
	EntryWindowTo    int // hard end, no attempt starts at or after this
	EntryCadence     time.Duration
	MonitorInterval  time.Duration
	EODCheckAt       int
	ReconcileAt      int
	LearningAt       int

	// EntryGatePct is the minimum open-to-early-move magnitude, in percent,
	// for the day's entry sequence to run at all.
	EntryGatePct decimal.Decimal

	// Futures entry geometry, in percent of entry price.
	FutStopLossPct decimal.Decimal
	FutTargetPct   decimal.Decimal
	MaxRiskAmount  decimal.Decimal
}

// DefaultSchedule is the NSE cash-session rhythm: capture at 09:15, early
// move at 09:30, entries 09:30 to 11:00 every 15 minutes, EOD check 15:00,
// reconciliation 15:35, learning 16:00.
func DefaultSchedule() Config {
	return Config{
		PreMarketAt:      9 * 60,
		OpeningCaptureAt: 9*60 + 15,
		EarlyMoveDelay:   15 * time.Minute,
		EntryWindowFrom:  9*60 + 30,
		EntryWindowTo:    11 * 60,
		EntryCadence:     15 * time.Minute,
		MonitorInterval:  time.Minute,
		EODCheckAt:       15 * 60,
		ReconcileAt:      15*60 + 35,
		LearningAt:       16 * 60,
		EntryGatePct:     decimal.NewFromFloat(0.5),
		FutStopLossPct:   decimal.NewFromInt(1),
		FutTargetPct:     decimal.NewFromInt(2),
	}
}

// Learner runs the day-close learning pass.
type Learner interface {
	Run(ctx context.Context, day string) error
}

// Orchestrator drives the daily sequence. All market and broker access goes
// through the injected collaborators; the orchestrator holds no connection
// across a scheduling boundary.
type Orchestrator struct {
	cfg     Config
	store   store.Store
	source  market.DataSource
	quoter  OptionQuoter
	margin  broker.MarginProvider
	scorer  *scoring.Scorer
	sizer   *sizing.Sizer
	life    *lifecycle.Lifecycle
	monitor *exits.Monitor
	learner Learner
	sink    notify.Sink
	metrics *metrics.Metrics
	expiry  func(now time.Time) time.Time
	now     func() time.Time

	paused atomic.Bool

	mu          sync.Mutex
	day         string
	done        map[string]bool
	lastRun     map[string]time.Time
	open        decimal.Decimal // opening price, pre-persist
	prior       decimal.Decimal
	lastAttempt time.Time
	gateSkipped bool
}

// Deps bundles the orchestration collaborators.
type Deps struct {
	Store   store.Store
	Source  market.DataSource
	Quoter  OptionQuoter
	Margin  broker.MarginProvider
	Scorer  *scoring.Scorer
	Sizer   *sizing.Sizer
	Life    *lifecycle.Lifecycle
	Monitor *exits.Monitor
	Learner Learner
	Sink    notify.Sink
	Metrics *metrics.Metrics
	// Expiry maps the current time to the contract expiry in play.
	Expiry func(now time.Time) time.Time
}

// New creates an Orchestrator.
func New(cfg Config, d Deps) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if d.Sink == nil {
		d.Sink = notify.Nop{}
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   d.Store,
		source:  d.Source,
		quoter:  d.Quoter,
		margin:  d.Margin,
		scorer:  d.Scorer,
		sizer:   d.Sizer,
		life:    d.Life,
		monitor: d.Monitor,
		learner: d.Learner,
		sink:    d.Sink,
		metrics: d.Metrics,
		expiry:  d.Expiry,
		now:     time.Now,
		done:    make(map[string]bool),
		lastRun: make(map[string]time.Time),
	}
}

// WithClock overrides the time source (tests).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SetPaused flips the trading-pause switch. Monitoring of already-open
// positions continues while paused; only new entries stop.
func (o *Orchestrator) SetPaused(v bool) {
	o.paused.Store(v)
	log.Info().Bool("paused", v).Msg("⏸️ Trading pause switch")
}

// Paused reports the pause switch.
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// Run drives the schedule until ctx is cancelled. Weekends are skipped
// entirely except for position monitoring.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log.Info().Str("symbol", o.cfg.Symbol).Str("strategy", string(o.cfg.Strategy)).Msg("🚀 Orchestrator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	now := o.now().In(o.cfg.Location)
	o.rollover(now)

	o.life.SweepExpired()

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return
	}

	minute := now.Hour()*60 + now.Minute()

	o.runOnce("premarket", minute >= o.cfg.PreMarketAt, func() error {
		return o.PreMarket(ctx)
	})
	o.runOnce("opening", minute >= o.cfg.OpeningCaptureAt, func() error {
		return o.recordOpen(ctx)
	})
	o.runOnce("earlymove", minute >= o.cfg.OpeningCaptureAt && now.Sub(o.openCapturedAt(now)) >= o.cfg.EarlyMoveDelay, func() error {
		return o.CaptureOpening(ctx, now)
	})

	if minute >= o.cfg.EntryWindowFrom && minute < o.cfg.EntryWindowTo {
		o.mu.Lock()
		due := o.lastAttempt.IsZero() || now.Sub(o.lastAttempt) >= o.cfg.EntryCadence
		if due {
			o.lastAttempt = now
		}
		o.mu.Unlock()
		if due {
			if err := o.EntryAttempt(ctx, now); err != nil {
				log.Warn().Err(err).Msg("Entry attempt failed")
			}
		}
	}

	if o.dueEvery(now, o.cfg.MonitorInterval, "monitor") {
		o.MonitorOnce(ctx)
	}

	o.runOnce("eod", minute >= o.cfg.EODCheckAt, func() error {
		return o.EODCheck(ctx)
	})
	o.runOnce("reconcile", minute >= o.cfg.ReconcileAt, func() error {
		return o.Reconcile(ctx, now)
	})
	o.runOnce("learning", minute >= o.cfg.LearningAt, func() error {
		if o.learner == nil {
			return nil
		}
		return o.learner.Run(ctx, o.dayKey(now))
	})
}

func (o *Orchestrator) rollover(now time.Time) {
	day := o.dayKey(now)
	o.mu.Lock()
	defer o.mu.Unlock()
	if day == o.day {
		return
	}
	if o.day != "" {
		log.Info().Str("from", o.day).Str("to", day).Msg("📅 Day rollover")
	}
	o.day = day
	o.done = make(map[string]bool)
	o.lastRun = make(map[string]time.Time)
	o.open = decimal.Zero
	o.prior = decimal.Zero
	o.lastAttempt = time.Time{}
	o.gateSkipped = false
}

func (o *Orchestrator) dayKey(now time.Time) string {
	return now.In(o.cfg.Location).Format("2006-01-02")
}

// runOnce runs step the first time its trigger holds on the current day. A
// failed step stays pending and is retried on the next tick.
func (o *Orchestrator) runOnce(step string, trigger bool, fn func() error) {
	if !trigger {
		return
	}
	o.mu.Lock()
	if o.done[step] {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := fn(); err != nil {
		log.Warn().Err(err).Str("step", step).Msg("Step failed, will retry")
		return
	}
	o.mu.Lock()
	o.done[step] = true
	o.mu.Unlock()
}

func (o *Orchestrator) dueEvery(now time.Time, every time.Duration, key string) bool {
	if every <= 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.lastRun[key]; ok && now.Sub(last) < every {
		return false
	}
	o.lastRun[key] = now
	return true
}

func (o *Orchestrator) openCapturedAt(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(),
		o.cfg.OpeningCaptureAt/60, o.cfg.OpeningCaptureAt%60, 0, 0, o.cfg.Location)
}

// PreMarket logs a pre-open snapshot of spot and volatility. Purely
// informational; failures do not block the day.
func (o *Orchestrator) PreMarket(ctx context.Context) error {
	spot, err := o.source.SpotPrice(ctx, o.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("pre-market spot: %w", err)
	}
	vix, err := o.source.VolatilityIndex(ctx)
	if err != nil {
		return fmt.Errorf("pre-market vix: %w", err)
	}
	log.Info().
		Str("symbol", o.cfg.Symbol).
		Str("spot", spot.StringFixed(2)).
		Str("vix", vix.StringFixed(2)).
		Msg("🌅 Pre-market snapshot")
	return nil
}

// recordOpen captures the opening price and prior close in memory. The
// persisted MarketOpeningState is written once, at the early-move snapshot.
func (o *Orchestrator) recordOpen(ctx context.Context) error {
	if existing, err := o.store.GetOpeningState(o.dayKey(o.now())); err == nil && existing != nil {
		// Restart after the record was already written.
		o.mu.Lock()
		o.open = existing.OpeningPrice
		o.prior = existing.PriorClose
		o.mu.Unlock()
		return nil
	}

	spot, err := o.source.SpotPrice(ctx, o.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("opening spot: %w", err)
	}
	prior := decimal.Zero
	if history, err := o.source.PriceHistory(ctx, o.cfg.Symbol, market.Horizon3M); err == nil && len(history) > 0 {
		prior = history[len(history)-1].Close
	}

	o.mu.Lock()
	o.open = spot
	o.prior = prior
	o.mu.Unlock()

	log.Info().Str("open", spot.StringFixed(2)).Str("prior_close", prior.StringFixed(2)).Msg("🔔 Opening recorded")
	return nil
}

// CaptureOpening takes the early-move snapshot and persists the day's
// MarketOpeningState exactly once. The substantial flag is the entry gate
// for the rest of the day.
func (o *Orchestrator) CaptureOpening(ctx context.Context, now time.Time) error {
	day := o.dayKey(now)
	if existing, err := o.store.GetOpeningState(day); err == nil && existing != nil {
		return nil
	}

	o.mu.Lock()
	open, prior := o.open, o.prior
	o.mu.Unlock()
	if open.IsZero() {
		return errors.New("opening price not recorded yet")
	}

	spot, err := o.source.SpotPrice(ctx, o.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("early-move spot: %w", err)
	}

	state := &models.MarketOpeningState{
		Day:          day,
		Symbol:       o.cfg.Symbol,
		PriorClose:   prior,
		OpeningPrice: open,
		CapturedAt:   o.openCapturedAt(now),
		EarlyMoveAt:  now,
	}
	if prior.IsPositive() {
		state.GapPct = open.Sub(prior).Div(prior).Mul(decimal.NewFromInt(100))
		state.GapType = gapType(state.GapPct)
	}
	state.EarlyMovePct = spot.Sub(open).Div(open).Mul(decimal.NewFromInt(100))
	state.Substantial = state.EarlyMovePct.Abs().GreaterThan(o.cfg.EntryGatePct)

	if err := o.store.SaveOpeningState(state); err != nil {
		return fmt.Errorf("persist opening state: %w", err)
	}

	log.Info().
		Str("gap", state.GapPct.StringFixed(2)+"%").
		Str("early_move", state.EarlyMovePct.StringFixed(2)+"%").
		Bool("substantial", state.Substantial).
		Msg("📊 Opening state captured")

	if !state.Substantial {
		o.skipDay(state)
	}
	return nil
}

func gapType(gapPct decimal.Decimal) string {
	threshold := decimal.NewFromFloat(0.1)
	switch {
	case gapPct.GreaterThanOrEqual(threshold):
		return "gap-up"
	case gapPct.LessThanOrEqual(threshold.Neg()):
		return "gap-down"
	default:
		return "flat"
	}
}

// skipDay marks the entry sequence skipped. Logged and notified once, never
// retried later in the day.
func (o *Orchestrator) skipDay(state *models.MarketOpeningState) {
	o.mu.Lock()
	o.gateSkipped = true
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.EntryGateSkips.Inc()
	}
	log.Info().Str("early_move", state.EarlyMovePct.StringFixed(2)+"%").Msg("⏭️ Entry gate not cleared, skipping today")
	o.sink.Notify(notify.EventEntrySkipped, map[string]string{
		"day":        state.Day,
		"early_move": state.EarlyMovePct.StringFixed(2) + "%",
		"required":   o.cfg.EntryGatePct.StringFixed(2) + "%",
	})
}

// EntryAttempt runs one pass of the entry sequence: pause switch, entry
// gate, one-position invariant, then score, strikes or entry geometry,
// sizing, payoff, levels and finally lifecycle.Create. Each attempt
// re-validates the gate and the invariant from scratch.
func (o *Orchestrator) EntryAttempt(ctx context.Context, now time.Time) error {
	if o.Paused() {
		log.Debug().Msg("Trading paused, skipping entry attempt")
		return nil
	}

	o.mu.Lock()
	skipped := o.gateSkipped
	o.mu.Unlock()
	if skipped {
		return nil
	}

	state, err := o.store.GetOpeningState(o.dayKey(now))
	if err != nil || state == nil {
		return errors.New("no opening state captured, cannot gate entry")
	}
	if !state.Substantial {
		return nil
	}

	held, err := o.store.CountHeldByAccount(o.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("held count: %w", err)
	}
	if held > 0 {
		return nil
	}

	score, err := o.scorer.Score(ctx, o.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("score %s: %w", o.cfg.Symbol, err)
	}
	if !score.Candidate() {
		log.Info().
			Float64("composite", score.Composite).
			Bool("gated", score.Gated).
			Str("reason", score.GateReason).
			Msg("🔍 No candidate this attempt")
		return nil
	}

	s, err := o.buildAndCreate(ctx, now, score)
	if err != nil {
		return err
	}

	if s.Status == models.StatusTaken {
		if _, err := o.life.Execute(ctx, s.ID); err != nil {
			return fmt.Errorf("execute %s: %w", s.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) buildAndCreate(ctx context.Context, now time.Time, score scoring.Result) (*models.TradeSuggestion, error) {
	spot, err := o.source.SpotPrice(ctx, o.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("spot: %w", err)
	}
	vix, err := o.source.VolatilityIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("vix: %w", err)
	}

	expiry := o.expiry(now)
	dte := daysToExpiry(now, expiry)

	avail, err := o.margin.AvailableMargin(ctx, o.cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("available margin: %w", err)
	}

	lv := o.locateLevels(ctx, spot)

	in := lifecycle.CreateInput{
		AccountID:       o.cfg.AccountID,
		Strategy:        o.cfg.Strategy,
		Symbol:          o.cfg.Symbol,
		Spot:            spot,
		VIX:             vix,
		Expiry:          expiry,
		DaysToExpiry:    dte,
		LotSize:         o.cfg.LotSize,
		MarginAvailable: avail,
		Score:           score,
		Levels:          lv,
	}

	switch o.cfg.Strategy {
	case models.StrategyIndexStrangle:
		if err := o.fillStrangle(ctx, &in, spot, vix, dte, avail, expiry); err != nil {
			return nil, err
		}
	case models.StrategyDirectionalFuture:
		if err := o.fillFutures(ctx, &in, spot, score, avail, expiry); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", o.cfg.Strategy)
	}

	if in.Sizing.RecommendedLots < 1 {
		log.Info().Msg("💸 Sizing yielded zero lots, no entry")
		return nil, errors.New("sizing yielded zero lots")
	}

	return o.life.Create(ctx, in)
}

func (o *Orchestrator) fillStrangle(ctx context.Context, in *lifecycle.CreateInput, spot, vix decimal.Decimal, dte int, avail decimal.Decimal, expiry time.Time) error {
	if o.quoter == nil {
		return errors.New("no option quoter configured")
	}
	pair := strikes.Select(spot, dte, vix)

	callPrem, err := o.quoter.PremiumQuote(ctx, o.cfg.Symbol, expiry, pair.CallStrike, "CE")
	if err != nil {
		return fmt.Errorf("call premium: %w", err)
	}
	putPrem, err := o.quoter.PremiumQuote(ctx, o.cfg.Symbol, expiry, pair.PutStrike, "PE")
	if err != nil {
		return fmt.Errorf("put premium: %w", err)
	}

	perLot, err := o.sizer.MarginPerLot(ctx, o.margin, o.cfg.Symbol, expiry, spot, o.cfg.LotSize, broker.SideSell)
	if err != nil {
		return fmt.Errorf("margin per lot: %w", err)
	}
	sz := o.sizer.Size(avail, perLot)

	in.Instrument = models.InstrumentOptions
	in.Direction = models.DirectionNeutral
	in.CallStrike = pair.CallStrike
	in.PutStrike = pair.PutStrike
	in.CallPremium = callPrem
	in.PutPremium = putPrem
	in.MarginPerLot = perLot
	in.Sizing = sz
	in.Payoff = scenario.ComputeStrangle(scenario.Strangle{
		Spot:        spot,
		CallStrike:  pair.CallStrike,
		PutStrike:   pair.PutStrike,
		CallPremium: callPrem,
		PutPremium:  putPrem,
		Quantity:    sz.RecommendedLots * o.cfg.LotSize,
	}, nil)
	in.Rationale = fmt.Sprintf("short strangle %s/%s at %s DTE %d, VIX %s",
		pair.PutStrike.StringFixed(0), pair.CallStrike.StringFixed(0), spot.StringFixed(2), dte, vix.StringFixed(2))
	return nil
}

func (o *Orchestrator) fillFutures(ctx context.Context, in *lifecycle.CreateInput, spot decimal.Decimal, score scoring.Result, avail decimal.Decimal, expiry time.Time) error {
	dir := score.Direction
	if o.cfg.Direction != nil {
		dir = o.cfg.Direction(score)
	}
	if dir != models.DirectionLong && dir != models.DirectionShort {
		return errors.New("no directional conviction, futures entry skipped")
	}

	hundred := decimal.NewFromInt(100)
	stopDelta := spot.Mul(o.cfg.FutStopLossPct).Div(hundred)
	targetDelta := spot.Mul(o.cfg.FutTargetPct).Div(hundred)

	stop := spot.Sub(stopDelta)
	target := spot.Add(targetDelta)
	if dir == models.DirectionShort {
		stop = spot.Add(stopDelta)
		target = spot.Sub(targetDelta)
	}

	side := broker.SideBuy
	if dir == models.DirectionShort {
		side = broker.SideSell
	}
	perLot, err := o.sizer.MarginPerLot(ctx, o.margin, o.cfg.Symbol, expiry, spot, o.cfg.LotSize, side)
	if err != nil {
		return fmt.Errorf("margin per lot: %w", err)
	}
	sz := o.sizer.SizeFutures(avail, perLot, spot, o.cfg.LotSize, o.cfg.FutStopLossPct, o.cfg.MaxRiskAmount)

	in.Instrument = models.InstrumentFutures
	in.Direction = dir
	in.EntryPrice = spot
	in.StopLoss = stop
	in.Target = target
	in.MarginPerLot = perLot
	in.Sizing = sz
	in.Payoff = scenario.ComputeFutures(scenario.Futures{
		Direction: dir,
		Entry:     spot,
		StopLoss:  stop,
		Target:    target,
		Quantity:  sz.RecommendedLots * o.cfg.LotSize,
	}, nil)
	in.Rationale = fmt.Sprintf("%s futures at %s, stop %s, target %s, score %.1f",
		dir, spot.StringFixed(2), stop.StringFixed(2), target.StringFixed(2), score.Composite)
	return nil
}

func (o *Orchestrator) locateLevels(ctx context.Context, spot decimal.Decimal) levels.Levels {
	var series levels.Series
	if h, err := o.source.PriceHistory(ctx, o.cfg.Symbol, market.Horizon3M); err == nil {
		series.ThreeMonth = h
	}
	if h, err := o.source.PriceHistory(ctx, o.cfg.Symbol, market.Horizon6M); err == nil {
		series.SixMonth = h
	}
	if h, err := o.source.PriceHistory(ctx, o.cfg.Symbol, market.Horizon52W); err == nil {
		series.FiftyTwoWeek = h
	}
	return levels.Locate(series, spot)
}

// MonitorOnce polls every open position once: refreshes live price and
// unrealized P&L, evaluates exits, closes on actionable decisions and
// surfaces advisories. Runs even while trading is paused.
func (o *Orchestrator) MonitorOnce(ctx context.Context) {
	open, err := o.store.ListOpenPositions(o.cfg.AccountID)
	if err != nil {
		log.Warn().Err(err).Msg("Could not list open positions")
		return
	}

	for i := range open {
		pos := &open[i]
		decision, err := o.monitor.Evaluate(ctx, pos)
		if err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Msg("Exit evaluation failed")
			continue
		}

		pos.LivePrice = decision.Price
		pos.UnrealizedPnL = decision.UnrealizedPnL
		if err := o.store.UpdatePosition(pos); err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Msg("Could not refresh position marks")
		}

		o.applyDecision(ctx, pos, decision)
	}
}

// EODCheck invokes the day-of-week exit branch explicitly for every open
// position, independent of the continuous cadence.
func (o *Orchestrator) EODCheck(ctx context.Context) error {
	open, err := o.store.ListOpenPositions(o.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	for i := range open {
		pos := &open[i]
		decision, err := o.monitor.EvaluateEOD(ctx, pos)
		if err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Msg("EOD evaluation failed")
			continue
		}
		o.applyDecision(ctx, pos, decision)
	}
	return nil
}

func (o *Orchestrator) applyDecision(ctx context.Context, pos *models.ActivePosition, d exits.Decision) {
	if d.Action == exits.ActionHold {
		return
	}

	if o.metrics != nil {
		o.metrics.ExitSignals.WithLabelValues(string(d.Action)).Inc()
	}

	if d.Advisory {
		log.Warn().
			Str("position", pos.ID).
			Str("action", string(d.Action)).
			Str("reason", d.Reason).
			Msg("🚪 Advisory exit signal, awaiting confirmation")
		o.sink.Notify(notify.EventExitSignal, map[string]string{
			"position": pos.ID,
			"action":   string(d.Action),
			"reason":   d.Reason,
		})
		return
	}

	outcome := classifyOutcome(d.UnrealizedPnL)
	if err := o.life.Close(pos.SuggestionID, d.UnrealizedPnL, outcome); err != nil {
		log.Error().Err(err).Str("position", pos.ID).Msg("Exit close failed")
		return
	}
	log.Info().
		Str("position", pos.ID).
		Str("action", string(d.Action)).
		Str("pnl", d.UnrealizedPnL.StringFixed(2)).
		Msg("🚪 Position exited")
}

func classifyOutcome(pnl decimal.Decimal) models.SuggestionStatus {
	switch {
	case pnl.IsPositive():
		return models.StatusSuccessful
	case pnl.IsNegative():
		return models.StatusLoss
	default:
		return models.StatusBreakeven
	}
}

// Reconcile reads the current state of every suggestion and position for the
// day and reports it. No decisions are made here; dangling TAKEN records are
// flagged for manual follow-up.
func (o *Orchestrator) Reconcile(ctx context.Context, now time.Time) error {
	open, err := o.store.ListOpenPositions(o.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	taken, err := o.store.ListSuggestionsByStatus(models.StatusTaken)
	if err != nil {
		return fmt.Errorf("list taken: %w", err)
	}

	for _, s := range taken {
		if s.AccountID != o.cfg.AccountID {
			continue
		}
		log.Warn().Str("id", s.ID).Msg("⚠️ TAKEN suggestion with no execution by day close")
		o.sink.Notify(notify.EventReconcileNeeded, map[string]string{
			"id":     s.ID,
			"status": string(s.Status),
		})
	}

	realized := decimal.Zero
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.cfg.Location)
	closedToday, err := o.store.ListSuggestionsBetween(o.cfg.AccountID, start, start.Add(24*time.Hour))
	if err == nil {
		for _, s := range closedToday {
			if s.Status.IsClosedOutcome() {
				realized = realized.Add(s.RealizedPnL)
			}
		}
	}

	log.Info().
		Int("open_positions", len(open)).
		Str("realized_pnl", realized.StringFixed(2)).
		Msg("🧾 Day-close reconciliation")
	o.sink.Notify(notify.EventDailySummary, map[string]string{
		"day":          o.dayKey(now),
		"open":         fmt.Sprintf("%d", len(open)),
		"realized_pnl": realized.StringFixed(2),
	})
	return nil
}

func daysToExpiry(now, expiry time.Time) int {
	d := int(expiry.Sub(now).Hours() / 24)
	if d < 1 {
		d = 1
	}
	return d
}
