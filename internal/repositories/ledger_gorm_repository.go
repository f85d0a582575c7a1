package repositories

import (
	"context"
	"fmt"

	"libreria/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMInventoryRepository is a GORM implementation of InventoryRepository.
type GORMInventoryRepository struct {
	db *gorm.DB
}

// NewGORMInventoryRepository creates a new instance of GORMInventoryRepository.
func NewGORMInventoryRepository(db *gorm.DB) *GORMInventoryRepository {
	return &GORMInventoryRepository{db: db}
}

func (r *GORMInventoryRepository) Get(ctx context.Context, productID string) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	if err := r.db.WithContext(ctx).First(&rec, "product_id = ?", productID).Error; err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "inventory record", ID: productID}
		}
		return nil, fmt.Errorf("failed to get inventory of product %s: %w", productID, err)
	}
	return &rec, nil
}

func (r *GORMInventoryRepository) Create(ctx context.Context, record *models.InventoryRecord) error {
	record.Version = 1
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create inventory of product %s: %w", record.ProductID, err)
	}
	return nil
}

// Save updates the counters guarded by the loaded version.
func (r *GORMInventoryRepository) Save(ctx context.Context, record *models.InventoryRecord) error {
	res := r.db.WithContext(ctx).Model(&models.InventoryRecord{}).
		Where("product_id = ? AND version = ?", record.ProductID, record.Version).
		Updates(map[string]any{
			"stock_total":     record.StockTotal,
			"stock_reserved":  record.StockReserved,
			"stock_available": record.StockAvailable,
			"stock_sold":      record.StockSold,
			"version":         record.Version + 1,
			"updated_at":      record.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save inventory of product %s: %w", record.ProductID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &models.ConflictError{Entity: "inventory record", ID: record.ProductID, Version: record.Version}
	}
	record.Version++
	return nil
}

func (r *GORMInventoryRepository) AppendMovement(ctx context.Context, mv *models.InventoryMovement) error {
	if mv.ID == "" {
		mv.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(mv).Error; err != nil {
		return fmt.Errorf("failed to record %s movement for product %s: %w", mv.Type, mv.ProductID, err)
	}
	return nil
}

func (r *GORMInventoryRepository) ListMovements(ctx context.Context, productID string) ([]models.InventoryMovement, error) {
	var moves []models.InventoryMovement
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Order("created_at, id").Find(&moves).Error; err != nil {
		return nil, fmt.Errorf("failed to list movements of product %s: %w", productID, err)
	}
	return moves, nil
}

// GORMBalanceRepository is a GORM implementation of BalanceRepository.
type GORMBalanceRepository struct {
	db *gorm.DB
}

// NewGORMBalanceRepository creates a new instance of GORMBalanceRepository.
func NewGORMBalanceRepository(db *gorm.DB) *GORMBalanceRepository {
	return &GORMBalanceRepository{db: db}
}

func (r *GORMBalanceRepository) Get(ctx context.Context, instrumentID string) (*models.BalanceRecord, error) {
	var rec models.BalanceRecord
	if err := r.db.WithContext(ctx).First(&rec, "instrument_id = ?", instrumentID).Error; err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "balance", ID: instrumentID}
		}
		return nil, fmt.Errorf("failed to get balance of instrument %s: %w", instrumentID, err)
	}
	return &rec, nil
}

func (r *GORMBalanceRepository) Create(ctx context.Context, record *models.BalanceRecord) error {
	record.Version = 1
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create balance of instrument %s: %w", record.InstrumentID, err)
	}
	return nil
}

// Save updates the balance guarded by the loaded version.
func (r *GORMBalanceRepository) Save(ctx context.Context, record *models.BalanceRecord) error {
	res := r.db.WithContext(ctx).Model(&models.BalanceRecord{}).
		Where("instrument_id = ? AND version = ?", record.InstrumentID, record.Version).
		Updates(map[string]any{
			"balance":    record.Balance,
			"version":    record.Version + 1,
			"updated_at": record.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save balance of instrument %s: %w", record.InstrumentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &models.ConflictError{Entity: "balance", ID: record.InstrumentID, Version: record.Version}
	}
	record.Version++
	return nil
}

// AppendMovement assigns the next per-instrument sequence number.
func (r *GORMBalanceRepository) AppendMovement(ctx context.Context, mv *models.BalanceMovement) error {
	if mv.ID == "" {
		mv.ID = uuid.New().String()
	}
	var last int64
	err := r.db.WithContext(ctx).Model(&models.BalanceMovement{}).
		Where("instrument_id = ?", mv.InstrumentID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return fmt.Errorf("failed to read movement sequence of instrument %s: %w", mv.InstrumentID, err)
	}
	mv.Sequence = last + 1
	if err := r.db.WithContext(ctx).Create(mv).Error; err != nil {
		return fmt.Errorf("failed to record %s movement for instrument %s: %w", mv.Type, mv.InstrumentID, err)
	}
	return nil
}

func (r *GORMBalanceRepository) ListMovements(ctx context.Context, instrumentID string) ([]models.BalanceMovement, error) {
	var moves []models.BalanceMovement
	if err := r.db.WithContext(ctx).Where("instrument_id = ?", instrumentID).Order("sequence").Find(&moves).Error; err != nil {
		return nil, fmt.Errorf("failed to list movements of instrument %s: %w", instrumentID, err)
	}
	return moves, nil
}
