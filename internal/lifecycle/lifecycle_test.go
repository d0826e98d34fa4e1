package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/optionpilot/internal/broker"
	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/quantdesk/optionpilot/internal/scoring"
	"github.com/quantdesk/optionpilot/internal/sizing"
	"github.com/quantdesk/optionpilot/internal/store"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// wednesday is a fixed weekday reference so weekend overrides stay inert
// unless a test wants them.
var wednesday = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu     sync.Mutex
	placed int
	err    error
	fill   func(legs int) broker.OrderResult
}

func (f *fakeExecutor) PlaceOrder(ctx context.Context, legs []broker.OrderLeg) (broker.OrderResult, error) {
	f.mu.Lock()
	f.placed++
	f.mu.Unlock()
	if f.err != nil {
		return broker.OrderResult{}, f.err
	}
	if f.fill != nil {
		return f.fill(len(legs)), nil
	}
	return broker.OrderResult{OrderID: "ord-1", FilledLegs: len(legs), TotalLegs: len(legs)}, nil
}

func futuresInput(account string) CreateInput {
	return CreateInput{
		AccountID:    account,
		Strategy:     models.StrategyDirectionalFuture,
		Instrument:   models.InstrumentFutures,
		Direction:    models.DirectionLong,
		Symbol:       "NIFTY",
		Spot:         d(24_000),
		VIX:          d(14),
		Expiry:       wednesday.AddDate(0, 0, 2),
		DaysToExpiry: 2,
		EntryPrice:   d(24_000),
		StopLoss:     d(23_760),
		Target:       d(24_480),
		LotSize:      75,
		Sizing: sizing.Result{
			RecommendedLots: 5,
			MaxLots:         45,
			MarginRequired:  d(600_000),
		},
		MarginPerLot:    d(120_000),
		MarginAvailable: d(11_000_000),
		Score:           scoring.Result{Composite: 80},
	}
}

func strangleInput(account string) CreateInput {
	in := futuresInput(account)
	in.Strategy = models.StrategyIndexStrangle
	in.Instrument = models.InstrumentOptions
	in.Direction = models.DirectionNeutral
	in.EntryPrice, in.StopLoss, in.Target = decimal.Zero, decimal.Zero, decimal.Zero
	in.CallStrike, in.PutStrike = d(24_500), d(23_500)
	in.CallPremium, in.PutPremium = d(100), d(90)
	return in
}

func newLifecycle(t *testing.T, st store.Store, exec broker.OrderExecutor, opts ...Option) *Lifecycle {
	t.Helper()
	if exec == nil {
		exec = &fakeExecutor{}
	}
	opts = append([]Option{WithClock(func() time.Time { return wednesday })}, opts...)
	return New(st, exec, nil, opts...)
}

func enabledPolicy(strategy models.StrategyTag) *models.AutoApprovalPolicy {
	return &models.AutoApprovalPolicy{
		Strategy:           strategy,
		Enabled:            true,
		MinScore:           70,
		MaxPositionsPerDay: 5,
		MaxDailyLoss:       d(100_000),
	}
}

func TestCreateStaysSuggestedWithoutPolicy(t *testing.T) {
	st := store.NewMemStore()
	l := newLifecycle(t, st, nil)

	s, err := l.Create(context.Background(), futuresInput("acct"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuggested, s.Status)
	assert.Equal(t, wednesday.Add(DefaultExpiryWindow), s.ExpiresAt)
	assert.NotEmpty(t, s.ID)
}

func TestCreateValidatesLegExclusivity(t *testing.T) {
	st := store.NewMemStore()
	l := newLifecycle(t, st, nil)

	in := futuresInput("acct")
	in.CallStrike = d(24_500) // futures record must not carry strikes
	_, err := l.Create(context.Background(), in)
	assert.Error(t, err)

	in = strangleInput("acct")
	in.EntryPrice = d(24_000)
	_, err = l.Create(context.Background(), in)
	assert.Error(t, err)
}

func TestCreateAutoApproves(t *testing.T) {
	st := store.NewMemStore()
	require.NoError(t, st.SavePolicy(enabledPolicy(models.StrategyDirectionalFuture)))
	l := newLifecycle(t, st, nil)

	s, err := l.Create(context.Background(), futuresInput("acct"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusTaken, s.Status)
	assert.Equal(t, ActorAuto, s.TakenBy)
	require.NotNil(t, s.TakenAt)
}

func TestCreateBelowMinScoreStaysManual(t *testing.T) {
	st := store.NewMemStore()
	require.NoError(t, st.SavePolicy(enabledPolicy(models.StrategyDirectionalFuture)))
	l := newLifecycle(t, st, nil)

	in := futuresInput("acct")
	in.Score.Composite = 65
	s, err := l.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, s.Status)
}

func TestCreateWeekendOverride(t *testing.T) {
	st := store.NewMemStore()
	p := enabledPolicy(models.StrategyDirectionalFuture)
	p.ManualOnWeekend = true
	require.NoError(t, st.SavePolicy(p))

	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	l := newLifecycle(t, st, nil, WithClock(func() time.Time { return saturday }))

	s, err := l.Create(context.Background(), futuresInput("acct"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, s.Status)
}

func TestCreateVIXOverride(t *testing.T) {
	st := store.NewMemStore()
	p := enabledPolicy(models.StrategyDirectionalFuture)
	p.ManualAboveVIX = true
	p.VIXThreshold = d(20)
	require.NoError(t, st.SavePolicy(p))
	l := newLifecycle(t, st, nil)

	in := futuresInput("acct")
	in.VIX = d(22)
	s, err := l.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, s.Status)

	// At or below the threshold the override is inert.
	in = futuresInput("acct2")
	in.VIX = d(20)
	s, err = l.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTaken, s.Status)
}

type fakeConfidence struct {
	verdict broker.Validation
	err     error
}

func (f *fakeConfidence) Validate(ctx context.Context, s *models.TradeSuggestion) (broker.Validation, error) {
	return f.verdict, f.err
}

func TestCreateConfirmationRequiresScorer(t *testing.T) {
	st := store.NewMemStore()
	p := enabledPolicy(models.StrategyDirectionalFuture)
	p.RequireConfirmation = true
	require.NoError(t, st.SavePolicy(p))

	// No confidence scorer wired: the policy cannot be satisfied, the
	// record stays manual.
	l := newLifecycle(t, st, nil)
	s, err := l.Create(context.Background(), futuresInput("acct"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, s.Status)

	// With a scorer the same policy auto-approves on its verdict.
	scorer := &fakeConfidence{verdict: broker.Validation{Approved: true, Confidence: 90}}
	l = newLifecycle(t, st, nil, WithConfidenceScorer(scorer))
	s, err = l.Create(context.Background(), futuresInput("acct2"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusTaken, s.Status)

	// A declined verdict also leaves the record manual.
	scorer.verdict = broker.Validation{Approved: false, Rationale: "weak flow"}
	s, err = l.Create(context.Background(), futuresInput("acct3"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, s.Status)
}

func TestCreatePolicyIsStrategyScoped(t *testing.T) {
	st := store.NewMemStore()
	// Policy for strangles only; a futures suggestion must not use it.
	require.NoError(t, st.SavePolicy(enabledPolicy(models.StrategyIndexStrangle)))
	l := newLifecycle(t, st, nil)

	s, err := l.Create(context.Background(), futuresInput("acct"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, s.Status)
}

func TestConcurrentCreatesOnePosition(t *testing.T) {
	st := store.NewMemStore()
	require.NoError(t, st.SavePolicy(enabledPolicy(models.StrategyDirectionalFuture)))
	l := newLifecycle(t, st, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Create(context.Background(), futuresInput("acct"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	held, err := st.CountHeldByAccount("acct")
	require.NoError(t, err)
	assert.Equal(t, 1, held, "exactly one auto-approved record despite concurrent creates")
}

func seed(t *testing.T, st store.Store, status models.SuggestionStatus) *models.TradeSuggestion {
	t.Helper()
	s := &models.TradeSuggestion{
		ID:             uuid.NewString(),
		AccountID:      "acct",
		Strategy:       models.StrategyDirectionalFuture,
		Instrument:     models.InstrumentFutures,
		Direction:      models.DirectionLong,
		Symbol:         "NIFTY",
		EntryPrice:     d(24_000),
		StopLoss:       d(23_760),
		RecommendedLots: 5,
		LotSize:        75,
		MarginRequired: d(600_000),
		Status:         status,
		ExpiresAt:      wednesday.Add(DefaultExpiryWindow),
		CreatedAt:      wednesday,
	}
	require.NoError(t, st.CreateSuggestion(s))
	return s
}

func TestTransitionLegality(t *testing.T) {
	all := []models.SuggestionStatus{
		models.StatusSuggested, models.StatusTaken, models.StatusRejected,
		models.StatusExpired, models.StatusActive, models.StatusCancelled,
		models.StatusClosed, models.StatusSuccessful, models.StatusLoss,
		models.StatusBreakeven,
	}

	type op struct {
		name    string
		allowed map[models.SuggestionStatus]bool
		run     func(l *Lifecycle, id string) error
	}
	ops := []op{
		{
			name:    "approve",
			allowed: map[models.SuggestionStatus]bool{models.StatusSuggested: true},
			run:     func(l *Lifecycle, id string) error { return l.Approve(id, "alice") },
		},
		{
			name:    "reject",
			allowed: map[models.SuggestionStatus]bool{models.StatusSuggested: true},
			run:     func(l *Lifecycle, id string) error { return l.Reject(id, "alice", "no") },
		},
		{
			name:    "execute",
			allowed: map[models.SuggestionStatus]bool{models.StatusTaken: true},
			run: func(l *Lifecycle, id string) error {
				_, err := l.Execute(context.Background(), id)
				return err
			},
		},
		{
			name:    "close",
			allowed: map[models.SuggestionStatus]bool{models.StatusActive: true},
			run:     func(l *Lifecycle, id string) error { return l.Close(id, d(1000), models.StatusSuccessful) },
		},
	}

	for _, o := range ops {
		for _, status := range all {
			t.Run(o.name+"/"+string(status), func(t *testing.T) {
				st := store.NewMemStore()
				l := newLifecycle(t, st, nil)
				s := seed(t, st, status)

				err := o.run(l, s.ID)
				if o.allowed[status] {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				var invalid *InvalidTransitionError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, status, invalid.Current, "error must name the actual state")
			})
		}
	}
}

func TestApproveAfterDeadlineExpires(t *testing.T) {
	st := store.NewMemStore()
	s := seed(t, st, models.StatusSuggested)

	late := wednesday.Add(DefaultExpiryWindow + time.Hour)
	l := newLifecycle(t, st, nil, WithClock(func() time.Time { return late }))

	err := l.Approve(s.ID, "alice")
	require.Error(t, err)

	got, err := st.GetSuggestion(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)

	// And it stays expired on a second attempt.
	err = l.Approve(s.ID, "alice")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StatusExpired, invalid.Current)
}

func TestApproveBlockedWhileAccountHolds(t *testing.T) {
	st := store.NewMemStore()
	seed(t, st, models.StatusActive)
	second := seed(t, st, models.StatusSuggested)
	l := newLifecycle(t, st, nil)

	err := l.Approve(second.ID, "alice")
	assert.ErrorIs(t, err, ErrAccountBusy)
}

func TestRejectRecordsReason(t *testing.T) {
	st := store.NewMemStore()
	s := seed(t, st, models.StatusSuggested)
	l := newLifecycle(t, st, nil)

	require.NoError(t, l.Reject(s.ID, "alice", "risk too wide"))

	got, _ := st.GetSuggestion(s.ID)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, "risk too wide", got.RejectReason)
	require.NotNil(t, got.RejectedAt)
}

func TestExecuteCreatesPosition(t *testing.T) {
	st := store.NewMemStore()
	exec := &fakeExecutor{}
	l := newLifecycle(t, st, exec)
	s := seed(t, st, models.StatusTaken)

	pos, err := l.Execute(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, s.ID, pos.SuggestionID)
	assert.Equal(t, 5, pos.Lots)
	assert.True(t, pos.Open)

	got, _ := st.GetSuggestion(s.ID)
	assert.Equal(t, models.StatusActive, got.Status)

	open, _ := st.ListOpenPositions("acct")
	assert.Len(t, open, 1)
}

func TestExecuteFailureStaysTaken(t *testing.T) {
	st := store.NewMemStore()
	exec := &fakeExecutor{err: errors.New("gateway timeout")}
	l := newLifecycle(t, st, exec)
	s := seed(t, st, models.StatusTaken)

	_, err := l.Execute(context.Background(), s.ID)
	require.Error(t, err)

	got, _ := st.GetSuggestion(s.ID)
	assert.Equal(t, models.StatusTaken, got.Status, "failed placement must not advance the record")

	open, _ := st.ListOpenPositions("acct")
	assert.Empty(t, open)
}

func TestExecutePartialFillFlagged(t *testing.T) {
	st := store.NewMemStore()
	exec := &fakeExecutor{fill: func(legs int) broker.OrderResult {
		return broker.OrderResult{OrderID: "ord-2", FilledLegs: legs - 1, TotalLegs: legs}
	}}
	l := newLifecycle(t, st, exec)

	s := seed(t, st, models.StatusTaken)

	_, err := l.Execute(context.Background(), s.ID)
	var partial *broker.PartialFillError
	require.ErrorAs(t, err, &partial)

	got, _ := st.GetSuggestion(s.ID)
	assert.Equal(t, models.StatusTaken, got.Status)
}

func TestCloseComputesReturnOnMargin(t *testing.T) {
	st := store.NewMemStore()
	l := newLifecycle(t, st, nil)
	s := seed(t, st, models.StatusActive)

	require.NoError(t, l.Close(s.ID, d(60_000), models.StatusSuccessful))

	got, _ := st.GetSuggestion(s.ID)
	assert.Equal(t, models.StatusSuccessful, got.Status)
	assert.True(t, got.RealizedPnL.Equal(d(60_000)))
	// 60,000 / 600,000 = 10%.
	assert.True(t, got.ReturnOnMargin.Equal(d(10)), "rom %s", got.ReturnOnMargin)
	require.NotNil(t, got.ClosedAt)
}

func TestCloseZeroMarginSkipsReturn(t *testing.T) {
	st := store.NewMemStore()
	l := newLifecycle(t, st, nil)
	s := seed(t, st, models.StatusActive)
	require.NoError(t, st.TransitionSuggestion(s.ID, models.StatusActive, models.StatusActive, func(x *models.TradeSuggestion) {
		x.MarginRequired = decimal.Zero
	}))

	require.NoError(t, l.Close(s.ID, d(-5_000), models.StatusLoss))

	got, _ := st.GetSuggestion(s.ID)
	assert.True(t, got.ReturnOnMargin.IsZero(), "no division by zero margin")
}

func TestCloseRejectsNonOutcomeStatus(t *testing.T) {
	st := store.NewMemStore()
	l := newLifecycle(t, st, nil)
	s := seed(t, st, models.StatusActive)

	assert.Error(t, l.Close(s.ID, d(0), models.StatusTaken))
	assert.Error(t, l.Close(s.ID, d(0), models.StatusExpired))
}

func TestCloseMarksPositionClosed(t *testing.T) {
	st := store.NewMemStore()
	exec := &fakeExecutor{}
	l := newLifecycle(t, st, exec)
	s := seed(t, st, models.StatusTaken)

	_, err := l.Execute(context.Background(), s.ID)
	require.NoError(t, err)
	require.NoError(t, l.Close(s.ID, d(-2_000), models.StatusLoss))

	open, _ := st.ListOpenPositions("acct")
	assert.Empty(t, open, "linked position must be marked closed")
}

func TestSweepExpired(t *testing.T) {
	st := store.NewMemStore()
	a := seed(t, st, models.StatusSuggested)
	b := seed(t, st, models.StatusSuggested)
	taken := seed(t, st, models.StatusTaken)

	late := wednesday.Add(DefaultExpiryWindow + time.Minute)
	l := newLifecycle(t, st, nil, WithClock(func() time.Time { return late }))

	assert.Equal(t, 2, l.SweepExpired())

	for _, id := range []string{a.ID, b.ID} {
		got, _ := st.GetSuggestion(id)
		assert.Equal(t, models.StatusExpired, got.Status)
	}
	// The sweep never touches non-SUGGESTED records.
	got, _ := st.GetSuggestion(taken.ID)
	assert.Equal(t, models.StatusTaken, got.Status)

	// Idempotent: a second sweep finds nothing.
	assert.Equal(t, 0, l.SweepExpired())
}

func TestCancelPreActiveOnly(t *testing.T) {
	st := store.NewMemStore()
	l := newLifecycle(t, st, nil)

	s := seed(t, st, models.StatusSuggested)
	require.NoError(t, l.Cancel(s.ID, "alice"))
	got, _ := st.GetSuggestion(s.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)

	active := seed(t, st, models.StatusActive)
	assert.Error(t, l.Cancel(active.ID, "alice"))
}
