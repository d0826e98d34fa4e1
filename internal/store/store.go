// Package store persists trade suggestions, policies, positions and day
// records. Two implementations exist: a gorm-backed store (SQLite or
// PostgreSQL, chosen by connection string) and an in-memory store used in
// tests. Both give read-after-write consistency per record id and atomic
// compare-and-set semantics for status transitions.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrPolicyNotFound is returned when no auto-approval policy exists for
	// a strategy tag.
	ErrPolicyNotFound = errors.New("no auto-approval policy for strategy")
)

// ConflictError is returned when a compare-and-set transition loses the race:
// the record's status was no longer the expected source state.
type ConflictError struct {
	ID       string
	Expected models.SuggestionStatus
	Actual   models.SuggestionStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("suggestion %s is %s, expected %s", e.ID, e.Actual, e.Expected)
}

// Store is the persistence contract for the decision engine.
type Store interface {
	// Suggestions.
	CreateSuggestion(s *models.TradeSuggestion) error
	GetSuggestion(id string) (*models.TradeSuggestion, error)

	// TransitionSuggestion atomically moves a suggestion from one status to
	// another, applying mutate to the loaded record before the write. The
	// write only succeeds when the stored status still equals from; otherwise
	// a *ConflictError carrying the actual status is returned.
	TransitionSuggestion(id string, from, to models.SuggestionStatus, mutate func(*models.TradeSuggestion)) error

	ListSuggestionsByStatus(status models.SuggestionStatus) ([]models.TradeSuggestion, error)
	ListSuggestionsBetween(accountID string, from, to time.Time) ([]models.TradeSuggestion, error)
	ListExpiredSuggested(now time.Time) ([]models.TradeSuggestion, error)

	// Account-scoped aggregates used by approval limits and the one-position
	// invariant.
	CountHeldByAccount(accountID string) (int, error) // TAKEN or ACTIVE
	CountTakenToday(accountID string, strategy models.StrategyTag, day time.Time) (int, error)
	RealizedLossToday(accountID string, strategy models.StrategyTag, day time.Time) (decimal.Decimal, error)

	// Policies.
	GetPolicy(strategy models.StrategyTag) (*models.AutoApprovalPolicy, error)
	SavePolicy(p *models.AutoApprovalPolicy) error

	// Positions.
	CreatePosition(p *models.ActivePosition) error
	GetPosition(id string) (*models.ActivePosition, error)
	ListOpenPositions(accountID string) ([]models.ActivePosition, error)
	UpdatePosition(p *models.ActivePosition) error

	// Day records.
	SaveOpeningState(s *models.MarketOpeningState) error
	GetOpeningState(day string) (*models.MarketOpeningState, error)

	// Learning.
	SaveInsight(r *models.InsightRecord) error
	ListInsights(day string) ([]models.InsightRecord, error)
}
