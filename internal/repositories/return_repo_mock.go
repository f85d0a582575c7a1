package repositories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockReturnRepository is an in-memory implementation of ReturnRepository.
type MockReturnRepository struct {
	memoryScope
}

// Create adds a new return at version 1.
func (r *MockReturnRepository) Create(ctx context.Context, ret *models.Return) error {
	if err := r.s.injected("returns.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if ret.ID == "" {
		ret.ID = uuid.New().String()
	}
	if _, ok := r.s.data.returns[ret.ID]; ok {
		return fmt.Errorf("return with ID %s already exists", ret.ID)
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now()
	}
	ret.Version = 1
	put(r.memoryScope, r.s.data.returns, ret.ID, ret.Clone())
	return nil
}

// GetByID returns a copy of the return.
func (r *MockReturnRepository) GetByID(ctx context.Context, id string) (*models.Return, error) {
	return r.find("return", id, func(ret models.Return) bool { return ret.ID == id })
}

// GetByCode returns the return with the given public code.
func (r *MockReturnRepository) GetByCode(ctx context.Context, code string) (*models.Return, error) {
	return r.find("return", code, func(ret models.Return) bool { return ret.Code == code })
}

// GetByToken returns the return whose QR tracking token matches.
func (r *MockReturnRepository) GetByToken(ctx context.Context, token string) (*models.Return, error) {
	return r.find("return", token, func(ret models.Return) bool { return ret.TrackingToken == token })
}

func (r *MockReturnRepository) find(entity, key string, match func(models.Return) bool) (*models.Return, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, ret := range r.s.data.returns {
		if match(ret) {
			c := ret.Clone()
			return &c, nil
		}
	}
	return nil, &models.NotFoundError{Entity: entity, ID: key}
}

// Save replaces the stored return if its version still matches.
func (r *MockReturnRepository) Save(ctx context.Context, ret *models.Return) error {
	if err := r.s.injected("returns.Save"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.returns[ret.ID]
	if !ok {
		return &models.NotFoundError{Entity: "return", ID: ret.ID}
	}
	if stored.Version != ret.Version {
		return &models.ConflictError{Entity: "return", ID: ret.ID, Version: ret.Version}
	}
	ret.Version++
	put(r.memoryScope, r.s.data.returns, ret.ID, ret.Clone())
	return nil
}

// ListByOrder returns every return opened against the order, oldest first.
func (r *MockReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]models.Return, error) {
	return r.list(func(ret models.Return) bool { return ret.OrderID == orderID }), nil
}

// ListAwaitingShipment returns returns waiting for the customer's parcel
// whose shipping deadline is before the given time.
func (r *MockReturnRepository) ListAwaitingShipment(ctx context.Context, deadlineBefore time.Time) ([]models.Return, error) {
	return r.list(func(ret models.Return) bool {
		return ret.Status == models.ReturnAwaitingShipment &&
			ret.ShippingDeadline != nil && ret.ShippingDeadline.Before(deadlineBefore)
	}), nil
}

func (r *MockReturnRepository) list(match func(models.Return) bool) []models.Return {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	returns := make([]models.Return, 0)
	for _, ret := range r.s.data.returns {
		if match(ret) {
			returns = append(returns, ret.Clone())
		}
	}
	sort.Slice(returns, func(i, j int) bool { return returns[i].CreatedAt.Before(returns[j].CreatedAt) })
	return returns
}
