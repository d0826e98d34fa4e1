package learning

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/quantdesk/optionpilot/internal/store"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func closedSuggestion(id string, created, taken, closed time.Time, pnl decimal.Decimal, outcome models.SuggestionStatus) *models.TradeSuggestion {
	return &models.TradeSuggestion{
		ID:          id,
		AccountID:   "acct",
		Strategy:    models.StrategyIndexStrangle,
		Instrument:  models.InstrumentOptions,
		Status:      outcome,
		TakenAt:     &taken,
		ClosedAt:    &closed,
		RealizedPnL: pnl,
		CreatedAt:   created,
	}
}

func TestRunAggregatesDay(t *testing.T) {
	st := store.NewMemStore()
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	open := day.Add(9*time.Hour + 15*time.Minute)

	// Two wins, one loss.
	require.NoError(t, st.CreateSuggestion(closedSuggestion("a",
		open.Add(15*time.Minute), open.Add(20*time.Minute), open.Add(3*time.Hour),
		d(40_000), models.StatusSuccessful)))
	require.NoError(t, st.CreateSuggestion(closedSuggestion("b",
		open.Add(30*time.Minute), open.Add(40*time.Minute), open.Add(5*time.Hour),
		d(25_000), models.StatusSuccessful)))
	require.NoError(t, st.CreateSuggestion(closedSuggestion("c",
		open.Add(time.Hour), open.Add(70*time.Minute), open.Add(2*time.Hour),
		d(-15_000), models.StatusLoss)))

	p := New(st, "acct", time.UTC, 9*60+15)
	require.NoError(t, p.Run(context.Background(), "2026-08-26"))

	insights, err := st.ListInsights("2026-08-26")
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	byName := make(map[string]models.InsightRecord)
	for _, r := range insights {
		byName[r.Name] = r
	}

	created, ok := byName["suggestions_created"]
	require.True(t, ok)
	assert.True(t, created.Value.Equal(d(3)))

	winRate, ok := byName["win_rate"]
	require.True(t, ok)
	assert.True(t, winRate.Value.Equal(d(66.67)), "win rate %s", winRate.Value)

	pnl, ok := byName["realized_pnl"]
	require.True(t, ok)
	assert.True(t, pnl.Value.Equal(d(50_000)), "pnl %s", pnl.Value)

	// Winners entered at 20 and 40 minutes past the open.
	entry, ok := byName["winning_entry_offset"]
	require.True(t, ok)
	assert.True(t, entry.Value.Equal(d(30)), "entry offset %s", entry.Value)
}

func TestRunInFlightNotAttributed(t *testing.T) {
	st := store.NewMemStore()
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateSuggestion(&models.TradeSuggestion{
		ID:        "pending",
		AccountID: "acct",
		Strategy:  models.StrategyIndexStrangle,
		Status:    models.StatusSuggested,
		CreatedAt: day.Add(10 * time.Hour),
	}))

	p := New(st, "acct", time.UTC, 9*60+15)
	require.NoError(t, p.Run(context.Background(), "2026-08-26"))

	insights, _ := st.ListInsights("2026-08-26")
	byName := make(map[string]models.InsightRecord)
	for _, r := range insights {
		byName[r.Name] = r
	}

	created := byName["suggestions_created"]
	assert.True(t, created.Value.Equal(d(1)))
	_, hasWinRate := byName["win_rate"]
	assert.False(t, hasWinRate, "no closures means no win rate")
}

func TestRunEmptyDayWritesNothing(t *testing.T) {
	st := store.NewMemStore()
	p := New(st, "acct", time.UTC, 9*60+15)

	require.NoError(t, p.Run(context.Background(), "2026-08-26"))
	insights, _ := st.ListInsights("2026-08-26")
	assert.Empty(t, insights)
}

func TestRunRejectsBadDayKey(t *testing.T) {
	p := New(store.NewMemStore(), "acct", time.UTC, 9*60+15)
	assert.Error(t, p.Run(context.Background(), "26-08-2026"))
}
