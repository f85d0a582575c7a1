package repositories

import (
	"context"
	"fmt"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockCartRepository is an in-memory implementation of CartRepository.
type MockCartRepository struct {
	memoryScope
}

// GetActiveByCustomer returns the customer's active cart.
func (r *MockCartRepository) GetActiveByCustomer(ctx context.Context, customerID string) (*models.Cart, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, cart := range r.s.data.carts {
		if cart.CustomerID == customerID && cart.Status == models.CartActive {
			c := cart.Clone()
			return &c, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "active cart", ID: customerID}
}

// Create adds a cart. A customer may hold only one active cart.
func (r *MockCartRepository) Create(ctx context.Context, cart *models.Cart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if cart.ID == "" {
		cart.ID = uuid.New().String()
	}
	if cart.Status == "" {
		cart.Status = models.CartActive
	}
	for _, c := range r.s.data.carts {
		if c.CustomerID == cart.CustomerID && c.Status == models.CartActive && cart.Status == models.CartActive {
			return fmt.Errorf("customer %s already has an active cart", cart.CustomerID)
		}
	}
	cart.Version = 1
	put(r.memoryScope, r.s.data.carts, cart.ID, cart.Clone())
	return nil
}

func (r *MockCartRepository) Save(ctx context.Context, cart *models.Cart) error {
	if err := r.s.injected("carts.Save"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.carts[cart.ID]
	if !ok {
		return &models.NotFoundError{Entity: "cart", ID: cart.ID}
	}
	if stored.Version != cart.Version {
		return &models.ConflictError{Entity: "cart", ID: cart.ID, Version: cart.Version}
	}
	cart.Version++
	put(r.memoryScope, r.s.data.carts, cart.ID, cart.Clone())
	return nil
}

// MockInstrumentRepository is an in-memory implementation of InstrumentRepository.
type MockInstrumentRepository struct {
	memoryScope
}

func (r *MockInstrumentRepository) GetByID(ctx context.Context, id string) (*models.PaymentInstrument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	inst, ok := r.s.data.instruments[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "payment instrument", ID: id}
	}
	return &inst, nil
}

func (r *MockInstrumentRepository) Create(ctx context.Context, instrument *models.PaymentInstrument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if instrument.ID == "" {
		instrument.ID = uuid.New().String()
	}
	put(r.memoryScope, r.s.data.instruments, instrument.ID, *instrument)
	return nil
}
