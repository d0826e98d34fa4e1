// Package models defines the persisted record shapes shared across the engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentClass distinguishes option pairs from single futures legs.
type InstrumentClass string

const (
	InstrumentOptions InstrumentClass = "OPTIONS"
	InstrumentFutures InstrumentClass = "FUTURES"
)

// Direction is the directional bias of a suggestion.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// StrategyTag is the closed set of strategies the engine trades.
type StrategyTag string

const (
	StrategyIndexStrangle     StrategyTag = "index-strangle"
	StrategyDirectionalFuture StrategyTag = "directional-futures"
)

// SuggestionStatus is the lifecycle state of a trade suggestion.
type SuggestionStatus string

const (
	StatusSuggested  SuggestionStatus = "SUGGESTED"
	StatusTaken      SuggestionStatus = "TAKEN"
	StatusRejected   SuggestionStatus = "REJECTED"
	StatusExpired    SuggestionStatus = "EXPIRED"
	StatusActive     SuggestionStatus = "ACTIVE"
	StatusCancelled  SuggestionStatus = "CANCELLED"
	StatusClosed     SuggestionStatus = "CLOSED"
	StatusSuccessful SuggestionStatus = "SUCCESSFUL"
	StatusLoss       SuggestionStatus = "LOSS"
	StatusBreakeven  SuggestionStatus = "BREAKEVEN"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s SuggestionStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCancelled,
		StatusClosed, StatusSuccessful, StatusLoss, StatusBreakeven:
		return true
	}
	return false
}

// IsClosedOutcome reports whether s is one of the post-ACTIVE outcome states.
func (s SuggestionStatus) IsClosedOutcome() bool {
	switch s {
	case StatusClosed, StatusSuccessful, StatusLoss, StatusBreakeven:
		return true
	}
	return false
}

// TradeSuggestion is the unit of work of the engine. Exactly one of the
// option leg fields or the futures leg fields is populated, keyed by
// InstrumentClass. Once a terminal status is reached the record is immutable.
type TradeSuggestion struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index"`

	Strategy   StrategyTag     `gorm:"index"`
	Instrument InstrumentClass
	Direction  Direction
	Symbol     string `gorm:"index"`

	// Market snapshot at creation.
	SpotPrice    decimal.Decimal `gorm:"type:decimal(18,4)"`
	VIX          decimal.Decimal `gorm:"type:decimal(10,4)"`
	Expiry       time.Time
	DaysToExpiry int

	// Option legs (index-strangle).
	CallStrike  decimal.Decimal `gorm:"type:decimal(18,4)"`
	PutStrike   decimal.Decimal `gorm:"type:decimal(18,4)"`
	CallPremium decimal.Decimal `gorm:"type:decimal(18,4)"`
	PutPremium  decimal.Decimal `gorm:"type:decimal(18,4)"`

	// Futures leg (directional-futures).
	EntryPrice decimal.Decimal `gorm:"type:decimal(18,4)"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(18,4)"`
	Target     decimal.Decimal `gorm:"type:decimal(18,4)"`

	// Sizing.
	RecommendedLots int
	LotSize         int
	MarginPerLot    decimal.Decimal `gorm:"type:decimal(18,2)"`
	MarginRequired  decimal.Decimal `gorm:"type:decimal(18,2)"`
	MarginAvailable decimal.Decimal `gorm:"type:decimal(18,2)"`
	UtilizationPct  decimal.Decimal `gorm:"type:decimal(10,4)"`

	// Risk outputs, immutable once computed.
	MaxProfit         decimal.Decimal `gorm:"type:decimal(18,2)"`
	MaxLoss           decimal.Decimal `gorm:"type:decimal(18,2)"`
	BreakevenLower    decimal.Decimal `gorm:"type:decimal(18,4)"`
	BreakevenUpper    decimal.Decimal `gorm:"type:decimal(18,4)"`
	RiskReward        decimal.Decimal `gorm:"type:decimal(10,4)"`
	RiskRewardDefined bool
	Support           decimal.Decimal `gorm:"type:decimal(18,4)"`
	Resistance        decimal.Decimal `gorm:"type:decimal(18,4)"`
	SupportDistPct    decimal.Decimal `gorm:"type:decimal(10,4)"`
	ResistanceDistPct decimal.Decimal `gorm:"type:decimal(10,4)"`
	ScenarioTable     string // JSON rows of P&L at the canonical price moves

	// Lifecycle.
	Status         SuggestionStatus `gorm:"index"`
	ExpiresAt      time.Time        // fixed offset from CreatedAt, ignores market hours
	TakenAt        *time.Time
	TakenBy        string // "auto" or the approving actor
	RejectedAt     *time.Time
	RejectReason   string
	ClosedAt       *time.Time
	RealizedPnL    decimal.Decimal `gorm:"type:decimal(18,2)"`
	ReturnOnMargin decimal.Decimal `gorm:"type:decimal(10,4)"`
	Rationale      string
	ScoringInputs  string // JSON audit snapshot of the inputs that produced this

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoApprovalPolicy holds per-strategy auto-approval rules. A policy never
// applies across strategy tags.
type AutoApprovalPolicy struct {
	Strategy            StrategyTag `gorm:"primaryKey"`
	Enabled             bool
	MinScore            float64
	MaxPositionsPerDay  int
	MaxDailyLoss        decimal.Decimal `gorm:"type:decimal(18,2)"`
	ManualOnWeekend     bool
	ManualAboveVIX      bool
	VIXThreshold        decimal.Decimal `gorm:"type:decimal(10,4)"`
	RequireConfirmation bool // route through the external confidence scorer
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ActivePosition is the live position created when a suggestion is executed.
type ActivePosition struct {
	ID           string `gorm:"primaryKey"`
	SuggestionID string `gorm:"index"`
	AccountID    string `gorm:"index"`
	OrderID      string

	Strategy   StrategyTag
	Instrument InstrumentClass
	Direction  Direction
	Symbol     string

	CallStrike  decimal.Decimal `gorm:"type:decimal(18,4)"`
	PutStrike   decimal.Decimal `gorm:"type:decimal(18,4)"`
	CallPremium decimal.Decimal `gorm:"type:decimal(18,4)"`
	PutPremium  decimal.Decimal `gorm:"type:decimal(18,4)"`

	EntryPrice decimal.Decimal `gorm:"type:decimal(18,4)"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(18,4)"`
	Target     decimal.Decimal `gorm:"type:decimal(18,4)"`

	Lots    int
	LotSize int
	Expiry  time.Time

	// Averaging protocol state (futures only).
	Additions int

	LivePrice     decimal.Decimal `gorm:"type:decimal(18,4)"`
	UnrealizedPnL decimal.Decimal `gorm:"type:decimal(18,2)"`

	Open      bool `gorm:"index"`
	OpenedAt  time.Time
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Quantity returns the total contract quantity of the position.
func (p *ActivePosition) Quantity() int {
	return p.Lots * p.LotSize
}

// MarketOpeningState captures one trading day's open. Written once, never
// mutated after capture.
type MarketOpeningState struct {
	Day           string `gorm:"primaryKey"` // YYYY-MM-DD in exchange time
	Symbol        string
	PriorClose    decimal.Decimal `gorm:"type:decimal(18,4)"`
	OpeningPrice  decimal.Decimal `gorm:"type:decimal(18,4)"`
	GapPct        decimal.Decimal `gorm:"type:decimal(10,4)"`
	GapType       string          // "gap-up", "gap-down", "flat"
	EarlyMovePct  decimal.Decimal `gorm:"type:decimal(10,4)"` // open -> first-window move
	Substantial   bool            // entry gate flag
	CapturedAt    time.Time
	EarlyMoveAt   time.Time
	CreatedAt     time.Time
}

// InsightRecord is a named observation from the day-close learning pass.
// Insights are stored for manual review and never feed back into strategy
// parameters automatically.
type InsightRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Day       string `gorm:"index"` // YYYY-MM-DD
	Name      string
	Strategy  StrategyTag
	Detail    string
	Value     decimal.Decimal `gorm:"type:decimal(18,4)"`
	CreatedAt time.Time
}
