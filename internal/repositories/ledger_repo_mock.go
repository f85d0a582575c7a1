package repositories

import (
	"context"
	"fmt"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockInventoryRepository is an in-memory implementation of InventoryRepository.
type MockInventoryRepository struct {
	memoryScope
}

func (r *MockInventoryRepository) Get(ctx context.Context, productID string) (*models.InventoryRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.data.inventory[productID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "inventory record", ID: productID}
	}
	return &rec, nil
}

func (r *MockInventoryRepository) Create(ctx context.Context, record *models.InventoryRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.inventory[record.ProductID]; ok {
		return fmt.Errorf("inventory record for product %s already exists", record.ProductID)
	}
	record.Version = 1
	put(r.memoryScope, r.s.data.inventory, record.ProductID, *record)
	return nil
}

func (r *MockInventoryRepository) Save(ctx context.Context, record *models.InventoryRecord) error {
	if err := r.s.injected("inventory.Save"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.inventory[record.ProductID]
	if !ok {
		return &models.NotFoundError{Entity: "inventory record", ID: record.ProductID}
	}
	if stored.Version != record.Version {
		return &models.ConflictError{Entity: "inventory record", ID: record.ProductID, Version: record.Version}
	}
	record.Version++
	put(r.memoryScope, r.s.data.inventory, record.ProductID, *record)
	return nil
}

func (r *MockInventoryRepository) AppendMovement(ctx context.Context, mv *models.InventoryMovement) error {
	if err := r.s.injected("inventory.AppendMovement"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if mv.ID == "" {
		mv.ID = uuid.New().String()
	}
	push(r.memoryScope, &r.s.data.invMoves, *mv)
	return nil
}

func (r *MockInventoryRepository) ListMovements(ctx context.Context, productID string) ([]models.InventoryMovement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	moves := make([]models.InventoryMovement, 0)
	for _, mv := range r.s.data.invMoves {
		if mv.ProductID == productID {
			moves = append(moves, mv)
		}
	}
	return moves, nil
}

// MockBalanceRepository is an in-memory implementation of BalanceRepository.
type MockBalanceRepository struct {
	memoryScope
}

func (r *MockBalanceRepository) Get(ctx context.Context, instrumentID string) (*models.BalanceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.data.balances[instrumentID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "balance", ID: instrumentID}
	}
	return &rec, nil
}

func (r *MockBalanceRepository) Create(ctx context.Context, record *models.BalanceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.balances[record.InstrumentID]; ok {
		return fmt.Errorf("balance for instrument %s already exists", record.InstrumentID)
	}
	record.Version = 1
	put(r.memoryScope, r.s.data.balances, record.InstrumentID, *record)
	return nil
}

func (r *MockBalanceRepository) Save(ctx context.Context, record *models.BalanceRecord) error {
	if err := r.s.injected("balances.Save"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.balances[record.InstrumentID]
	if !ok {
		return &models.NotFoundError{Entity: "balance", ID: record.InstrumentID}
	}
	if stored.Version != record.Version {
		return &models.ConflictError{Entity: "balance", ID: record.InstrumentID, Version: record.Version}
	}
	record.Version++
	put(r.memoryScope, r.s.data.balances, record.InstrumentID, *record)
	return nil
}

// AppendMovement assigns the next per-instrument sequence number.
func (r *MockBalanceRepository) AppendMovement(ctx context.Context, mv *models.BalanceMovement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if mv.ID == "" {
		mv.ID = uuid.New().String()
	}
	var seq int64
	for _, m := range r.s.data.balMoves {
		if m.InstrumentID == mv.InstrumentID && m.Sequence > seq {
			seq = m.Sequence
		}
	}
	mv.Sequence = seq + 1
	push(r.memoryScope, &r.s.data.balMoves, *mv)
	return nil
}

func (r *MockBalanceRepository) ListMovements(ctx context.Context, instrumentID string) ([]models.BalanceMovement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	moves := make([]models.BalanceMovement, 0)
	for _, mv := range r.s.data.balMoves {
		if mv.InstrumentID == instrumentID {
			moves = append(moves, mv)
		}
	}
	return moves, nil
}
