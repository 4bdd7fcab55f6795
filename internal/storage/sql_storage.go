package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// dbTrade is the database row for a trade.
type dbTrade struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Underlying         string `gorm:"index;size:10"`
	OptionType         string `gorm:"size:4"`
	Status             string `gorm:"index;size:16"`
	PriceSource        string `gorm:"size:16"`
	ExpirationDate     time.Time
	DateSold           time.Time `gorm:"index"`
	LastPriceUpdate    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StrikePrice        float64
	PremiumReceived    float64
	CurrentOptionPrice float64
	ProfitLoss         float64
	Quantity           int
}

func (dbTrade) TableName() string { return "trades" }

func toDB(t *models.Trade) *dbTrade {
	row := &dbTrade{
		ID:                 t.ID,
		Underlying:         t.Underlying,
		OptionType:         string(t.OptionType),
		Status:             string(t.Status),
		PriceSource:        t.PriceSource,
		ExpirationDate:     t.ExpirationDate,
		DateSold:           t.DateSold,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		StrikePrice:        t.StrikePrice,
		PremiumReceived:    t.PremiumReceived,
		CurrentOptionPrice: t.CurrentOptionPrice,
		ProfitLoss:         t.ProfitLoss,
		Quantity:           t.Quantity,
	}
	if !t.LastPriceUpdate.IsZero() {
		ts := t.LastPriceUpdate
		row.LastPriceUpdate = &ts
	}
	return row
}

func (r *dbTrade) toModel() models.Trade {
	t := models.Trade{
		ID:                 r.ID,
		Underlying:         r.Underlying,
		OptionType:         models.OptionType(r.OptionType),
		Status:             models.TradeStatus(r.Status),
		PriceSource:        r.PriceSource,
		ExpirationDate:     r.ExpirationDate.UTC(),
		DateSold:           r.DateSold,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		StrikePrice:        r.StrikePrice,
		PremiumReceived:    r.PremiumReceived,
		CurrentOptionPrice: r.CurrentOptionPrice,
		ProfitLoss:         r.ProfitLoss,
		Quantity:           r.Quantity,
	}
	if r.LastPriceUpdate != nil {
		t.LastPriceUpdate = *r.LastPriceUpdate
	}
	return t
}

// SQLStorage stores trades in SQLite through gorm.
type SQLStorage struct {
	db *gorm.DB
}

// NewSQLStorage opens the SQLite database at dbPath and migrates the schema.
func NewSQLStorage(dbPath string) (*SQLStorage, error) {
	if dbPath == "" {
		dbPath = "trades.db"
	}
	// Ensure the directory exists
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&dbTrade{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// SQLite allows a single writer.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return &SQLStorage{db: db}, nil
}

func (s *SQLStorage) AddTrade(t *models.Trade) error {
	if err := prepareTrade(t, time.Now()); err != nil {
		return err
	}
	if err := s.db.Create(toDB(t)).Error; err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

func (s *SQLStorage) GetTrade(id string) (*models.Trade, error) {
	var row dbTrade
	err := s.db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	t := row.toModel()
	return &t, nil
}

func (s *SQLStorage) ListTrades() ([]models.Trade, error) {
	return s.find(s.db)
}

func (s *SQLStorage) ListOpenTrades() ([]models.Trade, error) {
	return s.find(s.db.Where("status = ?", string(models.TradeOpen)))
}

func (s *SQLStorage) find(q *gorm.DB) ([]models.Trade, error) {
	var rows []dbTrade
	if err := q.Order("date_sold ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	out := make([]models.Trade, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *SQLStorage) UpdateTradePrice(id string, price float64, ts time.Time, source string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row dbTrade
		err := tx.Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to load trade: %w", err)
		}

		t := row.toModel()
		applyPrice(&t, price, ts, source)
		updates := map[string]interface{}{
			"current_option_price": t.CurrentOptionPrice,
			"last_price_update":    t.LastPriceUpdate,
			"price_source":         t.PriceSource,
			"profit_loss":          t.ProfitLoss,
			"updated_at":           t.UpdatedAt,
		}
		if err := tx.Model(&dbTrade{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update trade price: %w", err)
		}
		return nil
	})
}

func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
