// Package storage persists wheel trades.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// Interface defines the contract for trade persistence.
//
// Implementations must be safe for concurrent use - callers can assume all methods
// are goroutine-safe and can safely call these methods from multiple goroutines.
type Interface interface {
	// AddTrade validates t, assigns an ID and timestamps when missing, and stores it.
	AddTrade(t *models.Trade) error
	GetTrade(id string) (*models.Trade, error)
	ListTrades() ([]models.Trade, error)
	ListOpenTrades() ([]models.Trade, error)
	// UpdateTradePrice records a live option price and recomputes the trade's P&L.
	UpdateTradePrice(id string, price float64, ts time.Time, source string) error
	Close() error
}

// Supported storage drivers.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// NewStorage creates the storage backend named by driver.
func NewStorage(driver, path string) (Interface, error) {
	switch strings.ToLower(driver) {
	case "", DriverJSON:
		return NewJSONStorage(path)
	case DriverSQLite:
		return NewSQLStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
