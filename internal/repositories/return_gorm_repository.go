package repositories

import (
	"context"
	"fmt"
	"time"

	"libreria/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMReturnRepository is a GORM implementation of ReturnRepository.
type GORMReturnRepository struct {
	db *gorm.DB
}

// NewGORMReturnRepository creates a new instance of GORMReturnRepository.
func NewGORMReturnRepository(db *gorm.DB) *GORMReturnRepository {
	return &GORMReturnRepository{db: db}
}

func (r *GORMReturnRepository) Create(ctx context.Context, ret *models.Return) error {
	if ret.ID == "" {
		ret.ID = uuid.New().String()
	}
	ret.Version = 1
	if err := r.db.WithContext(ctx).Create(ret).Error; err != nil {
		return fmt.Errorf("failed to create return %s: %w", ret.Code, err)
	}
	return nil
}

func (r *GORMReturnRepository) GetByID(ctx context.Context, id string) (*models.Return, error) {
	return r.first(ctx, "id", id)
}

func (r *GORMReturnRepository) GetByCode(ctx context.Context, code string) (*models.Return, error) {
	return r.first(ctx, "code", code)
}

func (r *GORMReturnRepository) GetByToken(ctx context.Context, token string) (*models.Return, error) {
	return r.first(ctx, "tracking_token", token)
}

func (r *GORMReturnRepository) first(ctx context.Context, column, value string) (*models.Return, error) {
	var ret models.Return
	if err := r.db.WithContext(ctx).First(&ret, column+" = ?", value).Error; err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "return", ID: value}
		}
		return nil, fmt.Errorf("failed to get return by %s %s: %w", column, value, err)
	}
	return &ret, nil
}

// Save writes every column guarded by the version the return was loaded at.
func (r *GORMReturnRepository) Save(ctx context.Context, ret *models.Return) error {
	loaded := ret.Version
	ret.Version = loaded + 1
	res := r.db.WithContext(ctx).Model(ret).
		Where("version = ?", loaded).
		Select("*").Omit("created_at").
		Updates(ret)
	if res.Error != nil {
		ret.Version = loaded
		return fmt.Errorf("failed to save return %s: %w", ret.Code, res.Error)
	}
	if res.RowsAffected == 0 {
		ret.Version = loaded
		return &models.ConflictError{Entity: "return", ID: ret.ID, Version: loaded}
	}
	return nil
}

func (r *GORMReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]models.Return, error) {
	var returns []models.Return
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at").Find(&returns).Error; err != nil {
		return nil, fmt.Errorf("failed to list returns of order %s: %w", orderID, err)
	}
	return returns, nil
}

func (r *GORMReturnRepository) ListAwaitingShipment(ctx context.Context, deadlineBefore time.Time) ([]models.Return, error) {
	var returns []models.Return
	err := r.db.WithContext(ctx).
		Where("status = ? AND shipping_deadline IS NOT NULL AND shipping_deadline < ?", models.ReturnAwaitingShipment, deadlineBefore).
		Order("created_at").
		Find(&returns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue returns: %w", err)
	}
	return returns, nil
}
