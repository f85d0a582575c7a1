package repositories

import (
	"context"
	"fmt"

	"libreria/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{db: db}
}

// Create inserts a new order at version 1.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.Version = 1
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order %s: %w", order.Number, err)
	}
	return nil
}

// GetByID retrieves an order by its ID.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "order", ID: id}
		}
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	return &order, nil
}

// GetByNumber retrieves an order by its public number.
func (r *GORMOrderRepository) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "number = ?", number).Error; err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "order", ID: number}
		}
		return nil, fmt.Errorf("failed to get order by number %s: %w", number, err)
	}
	return &order, nil
}

// Save writes every column guarded by the version the order was loaded at.
func (r *GORMOrderRepository) Save(ctx context.Context, order *models.Order) error {
	loaded := order.Version
	order.Version = loaded + 1
	res := r.db.WithContext(ctx).Model(order).
		Where("version = ?", loaded).
		Select("*").Omit("created_at").
		Updates(order)
	if res.Error != nil {
		order.Version = loaded
		return fmt.Errorf("failed to save order %s: %w", order.Number, res.Error)
	}
	if res.RowsAffected == 0 {
		order.Version = loaded
		return &models.ConflictError{Entity: "order", ID: order.ID, Version: loaded}
	}
	return nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *GORMOrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("created_at desc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders of customer %s: %w", customerID, err)
	}
	return orders, nil
}
