// Package learning aggregates a finished day's suggestions and closures
// into named insight records: win rate, P&L attribution per strategy, and
// which entry and exit time offsets correlated with better outcomes. The
// records exist for manual review only; nothing here ever feeds back into
// strategy parameters.
package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/quantdesk/optionpilot/internal/store"
)

// Pass runs the day-close aggregation.
type Pass struct {
	store     store.Store
	accountID string
	location  *time.Location
	// marketOpen is minutes from midnight; entry offsets are bucketed
	// relative to it.
	marketOpen int
}

// New creates a Pass. marketOpen is the session open in minutes from
// midnight (e.g. 555 for 09:15).
func New(st store.Store, accountID string, loc *time.Location, marketOpen int) *Pass {
	if loc == nil {
		loc = time.Local
	}
	return &Pass{store: st, accountID: accountID, location: loc, marketOpen: marketOpen}
}

// Run aggregates one day, keyed YYYY-MM-DD, and persists the insight
// records. Suggestions still in flight are counted but not attributed.
func (p *Pass) Run(ctx context.Context, day string) error {
	start, err := time.ParseInLocation("2006-01-02", day, p.location)
	if err != nil {
		return fmt.Errorf("bad day key %q: %w", day, err)
	}
	end := start.Add(24 * time.Hour)

	suggestions, err := p.store.ListSuggestionsBetween(p.accountID, start, end)
	if err != nil {
		return fmt.Errorf("list suggestions for %s: %w", day, err)
	}
	if len(suggestions) == 0 {
		log.Info().Str("day", day).Msg("📚 Learning pass: nothing to learn today")
		return nil
	}

	byStrategy := make(map[models.StrategyTag]*strategyStats)
	for i := range suggestions {
		s := &suggestions[i]
		st, ok := byStrategy[s.Strategy]
		if !ok {
			st = &strategyStats{}
			byStrategy[s.Strategy] = st
		}
		st.observe(s, p.location, p.marketOpen)
	}

	var records []models.InsightRecord
	for tag, st := range byStrategy {
		records = append(records, st.insights(day, tag)...)
	}

	for i := range records {
		if err := p.store.SaveInsight(&records[i]); err != nil {
			return fmt.Errorf("save insight %q: %w", records[i].Name, err)
		}
	}

	log.Info().
		Str("day", day).
		Int("suggestions", len(suggestions)).
		Int("insights", len(records)).
		Msg("📚 Learning pass complete")
	return nil
}

type strategyStats struct {
	created int
	closed  int
	wins    int
	losses  int
	pnl     decimal.Decimal

	// Entry and exit offsets of winners and losers, in minutes. Entry is
	// relative to market open, exit to entry.
	winEntryOffsets  []int
	lossEntryOffsets []int
	winHoldMinutes   []int
	lossHoldMinutes  []int
}

func (st *strategyStats) observe(s *models.TradeSuggestion, loc *time.Location, marketOpen int) {
	st.created++
	if !s.Status.IsClosedOutcome() {
		return
	}
	st.closed++
	st.pnl = st.pnl.Add(s.RealizedPnL)

	entryOffset := -1
	if s.TakenAt != nil {
		t := s.TakenAt.In(loc)
		entryOffset = t.Hour()*60 + t.Minute() - marketOpen
	}
	hold := -1
	if s.TakenAt != nil && s.ClosedAt != nil {
		hold = int(s.ClosedAt.Sub(*s.TakenAt).Minutes())
	}

	if s.RealizedPnL.IsPositive() {
		st.wins++
		if entryOffset >= 0 {
			st.winEntryOffsets = append(st.winEntryOffsets, entryOffset)
		}
		if hold >= 0 {
			st.winHoldMinutes = append(st.winHoldMinutes, hold)
		}
		return
	}
	if s.RealizedPnL.IsNegative() {
		st.losses++
		if entryOffset >= 0 {
			st.lossEntryOffsets = append(st.lossEntryOffsets, entryOffset)
		}
		if hold >= 0 {
			st.lossHoldMinutes = append(st.lossHoldMinutes, hold)
		}
	}
}

func (st *strategyStats) insights(day string, tag models.StrategyTag) []models.InsightRecord {
	out := []models.InsightRecord{
		{
			Day: day, Strategy: tag, Name: "suggestions_created",
			Value:  decimal.NewFromInt(int64(st.created)),
			Detail: fmt.Sprintf("%d created, %d reached a closed outcome", st.created, st.closed),
		},
		{
			Day: day, Strategy: tag, Name: "realized_pnl",
			Value:  st.pnl,
			Detail: fmt.Sprintf("net realized P&L across %d closures", st.closed),
		},
	}

	if st.closed > 0 {
		winRate := decimal.NewFromInt(int64(st.wins)).
			Div(decimal.NewFromInt(int64(st.closed))).
			Mul(decimal.NewFromInt(100)).Round(2)
		out = append(out, models.InsightRecord{
			Day: day, Strategy: tag, Name: "win_rate",
			Value:  winRate,
			Detail: fmt.Sprintf("%d wins, %d losses, %d breakeven", st.wins, st.losses, st.closed-st.wins-st.losses),
		})
	}

	if v, ok := meanMinutes(st.winEntryOffsets); ok {
		out = append(out, models.InsightRecord{
			Day: day, Strategy: tag, Name: "winning_entry_offset",
			Value:  v,
			Detail: "mean entry offset from market open, minutes, winning trades",
		})
	}
	if v, ok := meanMinutes(st.lossEntryOffsets); ok {
		out = append(out, models.InsightRecord{
			Day: day, Strategy: tag, Name: "losing_entry_offset",
			Value:  v,
			Detail: "mean entry offset from market open, minutes, losing trades",
		})
	}
	if v, ok := meanMinutes(st.winHoldMinutes); ok {
		out = append(out, models.InsightRecord{
			Day: day, Strategy: tag, Name: "winning_hold_minutes",
			Value:  v,
			Detail: "mean holding time, minutes, winning trades",
		})
	}
	if v, ok := meanMinutes(st.lossHoldMinutes); ok {
		out = append(out, models.InsightRecord{
			Day: day, Strategy: tag, Name: "losing_hold_minutes",
			Value:  v,
			Detail: "mean holding time, minutes, losing trades",
		})
	}
	return out
}

func meanMinutes(vals []int) (decimal.Decimal, bool) {
	if len(vals) == 0 {
		return decimal.Zero, false
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return decimal.NewFromInt(int64(sum)).
		Div(decimal.NewFromInt(int64(len(vals)))).
		Round(1), true
}
