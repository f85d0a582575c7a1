package repositories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
type MockOrderRepository struct {
	memoryScope
}

// Create adds a new order at version 1.
func (r *MockOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.s.injected("orders.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if _, ok := r.s.data.orders[order.ID]; ok {
		return fmt.Errorf("order with ID %s already exists", order.ID)
	}
	for _, o := range r.s.data.orders {
		if o.Number == order.Number {
			return fmt.Errorf("order number %s already exists", order.Number)
		}
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	order.Version = 1
	put(r.memoryScope, r.s.data.orders, order.ID, order.Clone())
	return nil
}

// GetByID returns a copy of the order.
func (r *MockOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.data.orders[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	c := order.Clone()
	return &c, nil
}

// GetByNumber returns a copy of the order with the given public number.
func (r *MockOrderRepository) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, order := range r.s.data.orders {
		if order.Number == number {
			c := order.Clone()
			return &c, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "order", ID: number}
}

// Save replaces the stored order if its version still matches.
func (r *MockOrderRepository) Save(ctx context.Context, order *models.Order) error {
	if err := r.s.injected("orders.Save"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.orders[order.ID]
	if !ok {
		return &models.NotFoundError{Entity: "order", ID: order.ID}
	}
	if stored.Version != order.Version {
		return &models.ConflictError{Entity: "order", ID: order.ID, Version: order.Version}
	}
	order.Version++
	put(r.memoryScope, r.s.data.orders, order.ID, order.Clone())
	return nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *MockOrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	orders := make([]models.Order, 0)
	for _, order := range r.s.data.orders {
		if order.CustomerID == customerID {
			orders = append(orders, order.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}
