package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantdesk/optionpilot/internal/models"
)

// GormStore is the production Store backed by SQLite or PostgreSQL.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the database at path. A postgres:// or postgresql://
// prefix selects PostgreSQL, anything else is treated as a SQLite file path.
func Open(path string) (*GormStore, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		db, err = gorm.Open(postgres.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Store connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("💾 Store initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&models.TradeSuggestion{},
		&models.AutoApprovalPolicy{},
		&models.ActivePosition{},
		&models.MarketOpeningState{},
		&models.InsightRecord{},
	); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

func (g *GormStore) CreateSuggestion(s *models.TradeSuggestion) error {
	return g.db.Create(s).Error
}

func (g *GormStore) GetSuggestion(id string) (*models.TradeSuggestion, error) {
	var s models.TradeSuggestion
	err := g.db.First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &s, err
}

// TransitionSuggestion implements compare-and-set through a conditional
// UPDATE: the WHERE clause re-checks the source status and a zero
// RowsAffected means another writer got there first.
func (g *GormStore) TransitionSuggestion(id string, from, to models.SuggestionStatus, mutate func(*models.TradeSuggestion)) error {
	s, err := g.GetSuggestion(id)
	if err != nil {
		return err
	}
	if s.Status != from {
		return &ConflictError{ID: id, Expected: from, Actual: s.Status}
	}

	s.Status = to
	if mutate != nil {
		mutate(s)
	}
	s.Status = to // mutate must not override the transition target

	res := g.db.Model(&models.TradeSuggestion{}).
		Where("id = ? AND status = ?", id, from).
		Select("*").Omit("created_at").
		Updates(s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		cur, err := g.GetSuggestion(id)
		if err != nil {
			return err
		}
		return &ConflictError{ID: id, Expected: from, Actual: cur.Status}
	}
	return nil
}

func (g *GormStore) ListSuggestionsByStatus(status models.SuggestionStatus) ([]models.TradeSuggestion, error) {
	var out []models.TradeSuggestion
	err := g.db.Where("status = ?", status).Order("created_at").Find(&out).Error
	return out, err
}

func (g *GormStore) ListSuggestionsBetween(accountID string, from, to time.Time) ([]models.TradeSuggestion, error) {
	var out []models.TradeSuggestion
	err := g.db.Where("account_id = ? AND created_at >= ? AND created_at < ?", accountID, from, to).
		Order("created_at").Find(&out).Error
	return out, err
}

func (g *GormStore) ListExpiredSuggested(now time.Time) ([]models.TradeSuggestion, error) {
	var out []models.TradeSuggestion
	err := g.db.Where("status = ? AND expires_at <= ?", models.StatusSuggested, now).Find(&out).Error
	return out, err
}

func (g *GormStore) CountHeldByAccount(accountID string) (int, error) {
	var n int64
	err := g.db.Model(&models.TradeSuggestion{}).
		Where("account_id = ? AND status IN ?", accountID,
			[]models.SuggestionStatus{models.StatusTaken, models.StatusActive}).
		Count(&n).Error
	return int(n), err
}

func (g *GormStore) CountTakenToday(accountID string, strategy models.StrategyTag, day time.Time) (int, error) {
	start, end := dayBounds(day)
	var n int64
	err := g.db.Model(&models.TradeSuggestion{}).
		Where("account_id = ? AND strategy = ? AND taken_at >= ? AND taken_at < ?",
			accountID, strategy, start, end).
		Count(&n).Error
	return int(n), err
}

func (g *GormStore) RealizedLossToday(accountID string, strategy models.StrategyTag, day time.Time) (decimal.Decimal, error) {
	start, end := dayBounds(day)
	var result struct {
		Total decimal.Decimal
	}
	err := g.db.Model(&models.TradeSuggestion{}).
		Select("COALESCE(SUM(realized_pn_l), 0) as total").
		Where("account_id = ? AND strategy = ? AND closed_at >= ? AND closed_at < ? AND realized_pn_l < 0",
			accountID, strategy, start, end).
		Scan(&result).Error
	return result.Total.Abs(), err
}

func (g *GormStore) GetPolicy(strategy models.StrategyTag) (*models.AutoApprovalPolicy, error) {
	var p models.AutoApprovalPolicy
	err := g.db.First(&p, "strategy = ?", strategy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPolicyNotFound
	}
	return &p, err
}

func (g *GormStore) SavePolicy(p *models.AutoApprovalPolicy) error {
	return g.db.Save(p).Error
}

func (g *GormStore) CreatePosition(p *models.ActivePosition) error {
	return g.db.Create(p).Error
}

func (g *GormStore) GetPosition(id string) (*models.ActivePosition, error) {
	var p models.ActivePosition
	err := g.db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (g *GormStore) ListOpenPositions(accountID string) ([]models.ActivePosition, error) {
	var out []models.ActivePosition
	err := g.db.Where("account_id = ? AND open = ?", accountID, true).Find(&out).Error
	return out, err
}

func (g *GormStore) UpdatePosition(p *models.ActivePosition) error {
	return g.db.Save(p).Error
}

// SaveOpeningState writes the day's opening record once; a second write for
// the same day is ignored so the capture step stays idempotent.
func (g *GormStore) SaveOpeningState(s *models.MarketOpeningState) error {
	res := g.db.Where("day = ?", s.Day).FirstOrCreate(s)
	return res.Error
}

func (g *GormStore) GetOpeningState(day string) (*models.MarketOpeningState, error) {
	var s models.MarketOpeningState
	err := g.db.First(&s, "day = ?", day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &s, err
}

func (g *GormStore) SaveInsight(r *models.InsightRecord) error {
	return g.db.Create(r).Error
}

func (g *GormStore) ListInsights(day string) ([]models.InsightRecord, error) {
	var out []models.InsightRecord
	err := g.db.Where("day = ?", day).Order("id").Find(&out).Error
	return out, err
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.Add(24 * time.Hour)
}
