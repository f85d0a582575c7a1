package repositories

import (
	"context"
	"fmt"

	"libreria/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMCartRepository is a GORM implementation of CartRepository.
type GORMCartRepository struct {
	db *gorm.DB
}

// NewGORMCartRepository creates a new instance of GORMCartRepository.
func NewGORMCartRepository(db *gorm.DB) *GORMCartRepository {
	return &GORMCartRepository{db: db}
}

func (r *GORMCartRepository) GetActiveByCustomer(ctx context.Context, customerID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, models.CartActive).
		Order("created_at desc").
		First(&cart).Error
	if err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "active cart", ID: customerID}
		}
		return nil, fmt.Errorf("failed to get active cart of customer %s: %w", customerID, err)
	}
	return &cart, nil
}

func (r *GORMCartRepository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.ID == "" {
		cart.ID = uuid.New().String()
	}
	if cart.Status == "" {
		cart.Status = models.CartActive
	}
	cart.Version = 1
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func (r *GORMCartRepository) Save(ctx context.Context, cart *models.Cart) error {
	loaded := cart.Version
	cart.Version = loaded + 1
	res := r.db.WithContext(ctx).Model(cart).
		Where("version = ?", loaded).
		Select("*").Omit("created_at").
		Updates(cart)
	if res.Error != nil {
		cart.Version = loaded
		return fmt.Errorf("failed to save cart %s: %w", cart.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		cart.Version = loaded
		return &models.ConflictError{Entity: "cart", ID: cart.ID, Version: loaded}
	}
	return nil
}

// GORMInstrumentRepository is a GORM implementation of InstrumentRepository.
type GORMInstrumentRepository struct {
	db *gorm.DB
}

// NewGORMInstrumentRepository creates a new instance of GORMInstrumentRepository.
func NewGORMInstrumentRepository(db *gorm.DB) *GORMInstrumentRepository {
	return &GORMInstrumentRepository{db: db}
}

func (r *GORMInstrumentRepository) GetByID(ctx context.Context, id string) (*models.PaymentInstrument, error) {
	var inst models.PaymentInstrument
	if err := r.db.WithContext(ctx).First(&inst, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, &models.NotFoundError{Entity: "payment instrument", ID: id}
		}
		return nil, fmt.Errorf("failed to get payment instrument %s: %w", id, err)
	}
	return &inst, nil
}

func (r *GORMInstrumentRepository) Create(ctx context.Context, instrument *models.PaymentInstrument) error {
	if instrument.ID == "" {
		instrument.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(instrument).Error; err != nil {
		return fmt.Errorf("failed to create payment instrument: %w", err)
	}
	return nil
}
