package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// JSONStorage keeps every trade in memory and rewrites one JSON file on change.
type JSONStorage struct {
	data     *storageData
	filepath string
	mu       sync.RWMutex
}

type storageData struct {
	LastUpdated time.Time                `json:"last_updated"`
	Trades      map[string]*models.Trade `json:"trades"`
}

// NewJSONStorage opens (or creates on first save) the JSON trade file at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		path = "trades.json"
	}
	s := &JSONStorage{
		filepath: path,
		data:     &storageData{Trades: make(map[string]*models.Trade)},
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

// Load replaces the in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	data := &storageData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.Trades == nil {
		data.Trades = make(map[string]*models.Trade)
	}
	s.data = data
	return nil
}

// save writes the file atomically. Caller holds mu.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

func (s *JSONStorage) AddTrade(t *models.Trade) error {
	if err := prepareTrade(t, time.Now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *t
	s.data.Trades[t.ID] = &stored
	return s.save()
}

func (s *JSONStorage) GetTrade(id string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.Trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	out := *t
	return &out, nil
}

func (s *JSONStorage) ListTrades() ([]models.Trade, error) {
	return s.list(func(*models.Trade) bool { return true }), nil
}

func (s *JSONStorage) ListOpenTrades() ([]models.Trade, error) {
	return s.list((*models.Trade).IsOpen), nil
}

// list returns matching trades ordered by sale date, then ID.
func (s *JSONStorage) list(keep func(*models.Trade) bool) []models.Trade {
	s.mu.RLock()
	out := make([]models.Trade, 0, len(s.data.Trades))
	for _, t := range s.data.Trades {
		if keep(t) {
			out = append(out, *t)
		}
	}
	s.mu.RUnlock()
	sortTrades(out)
	return out
}

func sortTrades(trades []models.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].DateSold.Equal(trades[j].DateSold) {
			return trades[i].DateSold.Before(trades[j].DateSold)
		}
		return trades[i].ID < trades[j].ID
	})
}

func (s *JSONStorage) UpdateTradePrice(id string, price float64, ts time.Time, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.Trades[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	applyPrice(t, price, ts, source)
	return s.save()
}

// Close is a no-op; every change is already on disk.
func (s *JSONStorage) Close() error { return nil }
