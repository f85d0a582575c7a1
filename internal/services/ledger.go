package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libreria/internal/models"
	"libreria/internal/repositories"
)

// StockMovement is a request to move stock of one title.
type StockMovement struct {
	ProductID string
	Title     string
	Type      models.MovementType
	Quantity  int
	Actor     models.Actor
	OrderID   string
	ReturnID  string
}

// InventoryLedger is the only writer of inventory counters. Each applied
// movement is persisted with its actor and originating order or return, and
// mirrored to the audit stream.
type InventoryLedger struct{}

// Apply moves stock inside the caller's unit of work.
func (InventoryLedger) Apply(ctx context.Context, store repositories.Store, m StockMovement, now time.Time) (*models.InventoryMovement, error) {
	rec, err := store.Inventory().Get(ctx, m.ProductID)
	if err != nil {
		if models.IsNotFound(err) && m.Type == models.MovementReservation {
			return nil, &models.InsufficientStockError{
				ProductID: m.ProductID, Title: m.Title, Requested: m.Quantity, Shortfall: models.ShortfallNone,
			}
		}
		return nil, err
	}
	before := rec.StockAvailable
	if err := rec.Apply(m.Type, m.Quantity); err != nil {
		var short *models.InsufficientStockError
		if errors.As(err, &short) {
			short.Title = m.Title
		}
		return nil, err
	}
	rec.UpdatedAt = now
	if err := store.Inventory().Save(ctx, rec); err != nil {
		return nil, err
	}
	mv := &models.InventoryMovement{
		ProductID:       m.ProductID,
		Type:            m.Type,
		Quantity:        m.Quantity,
		AvailableBefore: before,
		AvailableAfter:  rec.StockAvailable,
		ActorID:         m.Actor.ID,
		ActorRole:       m.Actor.Role,
		OrderID:         m.OrderID,
		ReturnID:        m.ReturnID,
		CreatedAt:       now,
	}
	if err := store.Inventory().AppendMovement(ctx, mv); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, store, models.OutboxAudit, "audit.stock."+string(m.Type), m.ProductID, mv, now); err != nil {
		return nil, err
	}
	return mv, nil
}

// Restock adds units to a title, creating its record on first use.
func (l InventoryLedger) Restock(ctx context.Context, store repositories.Store, productID string, qty int, actor models.Actor, now time.Time) (*models.InventoryMovement, error) {
	if _, err := store.Inventory().Get(ctx, productID); err != nil {
		if !models.IsNotFound(err) {
			return nil, err
		}
		if err := store.Inventory().Create(ctx, &models.InventoryRecord{ProductID: productID, UpdatedAt: now}); err != nil {
			return nil, err
		}
	}
	return l.Apply(ctx, store, StockMovement{ProductID: productID, Type: models.MovementRestock, Quantity: qty, Actor: actor}, now)
}

// BalanceEntry is a request to post a signed amount to a debit instrument.
type BalanceEntry struct {
	InstrumentID string
	Type         models.BalanceMovementType
	Amount       models.Money
	Memo         string
	Actor        models.Actor
	OrderID      string
	ReturnID     string
}

// BalanceLedger is the only writer of stored balances.
type BalanceLedger struct{}

// Post applies entry inside the caller's unit of work. Debits beyond the
// balance fail with InsufficientFundsError and nothing is written.
func (BalanceLedger) Post(ctx context.Context, store repositories.Store, e BalanceEntry, now time.Time) (*models.BalanceMovement, error) {
	rec, err := store.Balances().Get(ctx, e.InstrumentID)
	if err != nil {
		if !models.IsNotFound(err) {
			return nil, err
		}
		if e.Amount < 0 {
			return nil, &models.InsufficientFundsError{InstrumentID: e.InstrumentID, Requested: -e.Amount}
		}
		rec = &models.BalanceRecord{InstrumentID: e.InstrumentID, UpdatedAt: now}
		if err := store.Balances().Create(ctx, rec); err != nil {
			return nil, err
		}
	}
	mv, err := rec.Post(e.Type, e.Amount)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = now
	if err := store.Balances().Save(ctx, rec); err != nil {
		return nil, err
	}
	mv.Memo = e.Memo
	mv.ActorID = e.Actor.ID
	mv.ActorRole = e.Actor.Role
	mv.OrderID = e.OrderID
	mv.ReturnID = e.ReturnID
	mv.CreatedAt = now
	if err := store.Balances().AppendMovement(ctx, &mv); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, store, models.OutboxAudit, "audit.balance."+string(e.Type), e.InstrumentID, mv, now); err != nil {
		return nil, err
	}
	return &mv, nil
}

// Balance returns the current stored balance; unknown instruments hold zero.
func (BalanceLedger) Balance(ctx context.Context, store repositories.Store, instrumentID string) (models.Money, error) {
	rec, err := store.Balances().Get(ctx, instrumentID)
	if err != nil {
		if models.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return rec.Balance, nil
}

// Verify folds the movement history and checks it against the record.
func (BalanceLedger) Verify(ctx context.Context, store repositories.Store, instrumentID string) error {
	rec, err := store.Balances().Get(ctx, instrumentID)
	if err != nil {
		return err
	}
	history, err := store.Balances().ListMovements(ctx, instrumentID)
	if err != nil {
		return err
	}
	if err := models.VerifyHistory(*rec, history); err != nil {
		return fmt.Errorf("balance ledger corrupted: %w", err)
	}
	return nil
}
