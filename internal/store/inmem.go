package store

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/models"
)

// MemStore is a mutex-guarded in-memory Store. It backs tests and dry runs
// and mirrors the gorm store's compare-and-set semantics exactly.
type MemStore struct {
	mu          sync.Mutex
	suggestions map[string]models.TradeSuggestion
	policies    map[models.StrategyTag]models.AutoApprovalPolicy
	positions   map[string]models.ActivePosition
	openings    map[string]models.MarketOpeningState
	insights    []models.InsightRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		suggestions: make(map[string]models.TradeSuggestion),
		policies:    make(map[models.StrategyTag]models.AutoApprovalPolicy),
		positions:   make(map[string]models.ActivePosition),
		openings:    make(map[string]models.MarketOpeningState),
	}
}

func (m *MemStore) CreateSuggestion(s *models.TradeSuggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = s.CreatedAt
	m.suggestions[s.ID] = *s
	return nil
}

func (m *MemStore) GetSuggestion(id string) (*models.TradeSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (m *MemStore) TransitionSuggestion(id string, from, to models.SuggestionStatus, mutate func(*models.TradeSuggestion)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return &ConflictError{ID: id, Expected: from, Actual: s.Status}
	}
	if mutate != nil {
		mutate(&s)
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	m.suggestions[id] = s
	return nil
}

func (m *MemStore) ListSuggestionsByStatus(status models.SuggestionStatus) ([]models.TradeSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeSuggestion
	for _, s := range m.suggestions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) ListSuggestionsBetween(accountID string, from, to time.Time) ([]models.TradeSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeSuggestion
	for _, s := range m.suggestions {
		if s.AccountID == accountID && !s.CreatedAt.Before(from) && s.CreatedAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) ListExpiredSuggested(now time.Time) ([]models.TradeSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeSuggestion
	for _, s := range m.suggestions {
		if s.Status == models.StatusSuggested && !s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) CountHeldByAccount(accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.suggestions {
		if s.AccountID == accountID &&
			(s.Status == models.StatusTaken || s.Status == models.StatusActive) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CountTakenToday(accountID string, strategy models.StrategyTag, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, end := dayBounds(day)
	n := 0
	for _, s := range m.suggestions {
		if s.AccountID != accountID || s.Strategy != strategy || s.TakenAt == nil {
			continue
		}
		if !s.TakenAt.Before(start) && s.TakenAt.Before(end) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) RealizedLossToday(accountID string, strategy models.StrategyTag, day time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, end := dayBounds(day)
	total := decimal.Zero
	for _, s := range m.suggestions {
		if s.AccountID != accountID || s.Strategy != strategy || s.ClosedAt == nil {
			continue
		}
		if !s.ClosedAt.Before(start) && s.ClosedAt.Before(end) && s.RealizedPnL.IsNegative() {
			total = total.Add(s.RealizedPnL.Abs())
		}
	}
	return total, nil
}

func (m *MemStore) GetPolicy(strategy models.StrategyTag) (*models.AutoApprovalPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[strategy]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := p
	return &cp, nil
}

func (m *MemStore) SavePolicy(p *models.AutoApprovalPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.Strategy] = *p
	return nil
}

func (m *MemStore) CreatePosition(p *models.ActivePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = *p
	return nil
}

func (m *MemStore) GetPosition(id string) (*models.ActivePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *MemStore) ListOpenPositions(accountID string) ([]models.ActivePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActivePosition
	for _, p := range m.positions {
		if p.AccountID == accountID && p.Open {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) UpdatePosition(p *models.ActivePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; !ok {
		return ErrNotFound
	}
	m.positions[p.ID] = *p
	return nil
}

func (m *MemStore) SaveOpeningState(s *models.MarketOpeningState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.openings[s.Day]; ok {
		return nil // capture is write-once per day
	}
	m.openings[s.Day] = *s
	return nil
}

func (m *MemStore) GetOpeningState(day string) (*models.MarketOpeningState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.openings[day]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (m *MemStore) SaveInsight(r *models.InsightRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uint(len(m.insights) + 1)
	m.insights = append(m.insights, *r)
	return nil
}

func (m *MemStore) ListInsights(day string) ([]models.InsightRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InsightRecord
	for _, r := range m.insights {
		if r.Day == day {
			out = append(out, r)
		}
	}
	return out, nil
}
