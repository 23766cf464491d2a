// Package storage persists strategy runtime state and trade records in
// SQLite through the pure-Go driver, so deployments need no cgo.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quant_go/internal/domain"
)

// Storage is the SQLite-backed implementation of domain.StrategyStore
// plus the query surface used by the CLI and the auto-start pass.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = "data/quant.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Strategy{}, &domain.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save creates or updates a strategy's runtime state.
func (s *Storage) Save(st *domain.Strategy) error {
	return s.db.Save(st).Error
}

// Load retrieves a strategy by ID. A missing strategy returns
// (nil, nil) so callers can distinguish absence from failure.
func (s *Storage) Load(id string) (*domain.Strategy, error) {
	var st domain.Strategy
	err := s.db.First(&st, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Delete removes a strategy row. Its trade records are kept for audit.
func (s *Storage) Delete(id string) error {
	return s.db.Where("id = ?", id).Delete(&domain.Strategy{}).Error
}

// SaveTrade appends an immutable trade record.
func (s *Storage) SaveTrade(tr *domain.TradeRecord) error {
	return s.db.Create(tr).Error
}

// ======================================================================================
// Query surface
// ======================================================================================

// ListAll returns every strategy, newest first.
func (s *Storage) ListAll() ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := s.db.Order("create_time DESC").Find(&out).Error
	return out, err
}

// ListByStatus returns strategies in the given lifecycle status.
func (s *Storage) ListByStatus(status domain.StrategyStatus) ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := s.db.Where("status = ?", status).Order("create_time DESC").Find(&out).Error
	return out, err
}

// ListByCode returns strategies with the given strategy code.
func (s *Storage) ListByCode(code string) ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := s.db.Where("strategy_code = ?", code).Order("create_time DESC").Find(&out).Error
	return out, err
}

// ListBySymbol returns strategies trading the given symbol.
func (s *Storage) ListBySymbol(symbol string) ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := s.db.Where("symbol = ?", symbol).Order("create_time DESC").Find(&out).Error
	return out, err
}

// ListByTimeRange returns strategies created inside [from, to], oldest
// first.
func (s *Storage) ListByTimeRange(from, to time.Time) ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := s.db.
		Where("create_time >= ? AND create_time <= ?", from, to).
		Order("create_time ASC").
		Find(&out).Error
	return out, err
}

// ListAutoStart returns active RUNNING strategies, the set resumed at
// process start after a restart.
func (s *Storage) ListAutoStart() ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := s.db.
		Where("is_active = ? AND status = ?", true, domain.StatusRunning).
		Order("create_time ASC").
		Find(&out).Error
	return out, err
}

// SetActive flips the auto-start flag without touching the lifecycle
// status.
func (s *Storage) SetActive(id string, active bool) error {
	res := s.db.Model(&domain.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrStrategyNotFound
	}
	return nil
}

// TradesFor returns all trade records of a strategy in execution order.
func (s *Storage) TradesFor(strategyID string) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	err := s.db.Where("strategy_id = ?", strategyID).Order("time ASC, id ASC").Find(&out).Error
	return out, err
}

// TradesBetween returns a strategy's trades inside [from, to].
func (s *Storage) TradesBetween(strategyID string, from, to time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	err := s.db.
		Where("strategy_id = ? AND time >= ? AND time <= ?", strategyID, from, to).
		Order("time ASC, id ASC").
		Find(&out).Error
	return out, err
}
