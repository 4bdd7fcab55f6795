package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	trades      map[string]*models.Trade
	updateErr   map[string]error
	listErr     error
	updateCalls int
	mu          sync.Mutex
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		trades:    make(map[string]*models.Trade),
		updateErr: make(map[string]error),
	}
}

// FailUpdate makes UpdateTradePrice return err for id.
func (m *MockStorage) FailUpdate(id string, err error) {
	m.mu.Lock()
	m.updateErr[id] = err
	m.mu.Unlock()
}

// FailList makes the list methods return err.
func (m *MockStorage) FailList(err error) {
	m.mu.Lock()
	m.listErr = err
	m.mu.Unlock()
}

// UpdateCalls returns how many times UpdateTradePrice was called.
func (m *MockStorage) UpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls
}

func (m *MockStorage) AddTrade(t *models.Trade) error {
	if err := prepareTrade(t, time.Now()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *t
	m.trades[t.ID] = &stored
	return nil
}

func (m *MockStorage) GetTrade(id string) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	out := *t
	return &out, nil
}

func (m *MockStorage) ListTrades() ([]models.Trade, error) {
	return m.list(false)
}

func (m *MockStorage) ListOpenTrades() ([]models.Trade, error) {
	return m.list(true)
}

func (m *MockStorage) list(openOnly bool) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]models.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		if !openOnly || t.IsOpen() {
			out = append(out, *t)
		}
	}
	sortTrades(out)
	return out, nil
}

func (m *MockStorage) UpdateTradePrice(id string, price float64, ts time.Time, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.updateErr[id]; err != nil {
		return err
	}
	t, ok := m.trades[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	applyPrice(t, price, ts, source)
	return nil
}

func (m *MockStorage) Close() error { return nil }
