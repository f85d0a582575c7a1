package services

import (
	"context"
	"time"

	"libreria/internal/models"
	"libreria/internal/repositories"
)

// InstrumentService validates payment instruments and moves money on the
// stored balance of debit instruments.
type InstrumentService struct {
	deps   Deps
	ledger BalanceLedger
}

// NewInstrumentService creates a new InstrumentService.
func NewInstrumentService(deps Deps) *InstrumentService {
	return &InstrumentService{deps: deps}
}

// Validate checks that the instrument exists and belongs to the customer.
// Inactive or expired instruments are reported as validation errors.
func (s *InstrumentService) Validate(ctx context.Context, store repositories.Store, instrumentID, customerID string, now time.Time) (models.InstrumentCheck, error) {
	inst, err := store.Instruments().GetByID(ctx, instrumentID)
	if err != nil {
		return models.InstrumentCheck{}, err
	}
	if inst.CustomerID != customerID {
		return models.InstrumentCheck{}, &models.NotFoundError{Entity: "payment instrument", ID: instrumentID}
	}
	check := models.InstrumentCheck{
		InstrumentID: inst.ID,
		Active:       inst.Active,
		Expired:      inst.Expired(now),
		Type:         inst.Type,
		Last4:        inst.Last4,
		Brand:        inst.Brand,
	}
	if !check.Active {
		return check, models.NewValidationError("instrument_id", "payment instrument %s is not active", instrumentID)
	}
	if check.Expired {
		return check, models.NewValidationError("instrument_id", "payment instrument %s is expired", instrumentID)
	}
	return check, nil
}

// Withdraw debits amount (a positive value) from a debit instrument.
func (s *InstrumentService) Withdraw(ctx context.Context, store repositories.Store, e BalanceEntry, now time.Time) (*models.BalanceMovement, error) {
	if e.Amount <= 0 {
		return nil, models.NewValidationError("amount", "must be positive")
	}
	if e.Type == "" {
		e.Type = models.BalanceWithdrawal
	}
	e.Amount = -e.Amount
	return s.ledger.Post(ctx, store, e, now)
}

// Credit adds amount (a positive value) to a debit instrument.
func (s *InstrumentService) Credit(ctx context.Context, store repositories.Store, e BalanceEntry, now time.Time) (*models.BalanceMovement, error) {
	if e.Amount <= 0 {
		return nil, models.NewValidationError("amount", "must be positive")
	}
	if e.Type == "" {
		e.Type = models.BalanceRefund
	}
	return s.ledger.Post(ctx, store, e, now)
}

// BalanceView is the stored balance with its movement history.
type BalanceView struct {
	InstrumentID string                   `json:"instrument_id"`
	Balance      models.Money             `json:"saldo"`
	Movements    []models.BalanceMovement `json:"movements"`
}

// GetBalance returns the balance of an instrument owned by actor, or any
// instrument for an administrator.
func (s *InstrumentService) GetBalance(ctx context.Context, instrumentID string, actor models.Actor) (view *BalanceView, err error) {
	ctx, finish := startSpan(ctx, "instruments.GetBalance")
	defer finish(&err)

	err = s.deps.inTx(ctx, "get balance", func(ctx context.Context, store repositories.Store) error {
		inst, err := store.Instruments().GetByID(ctx, instrumentID)
		if err != nil {
			return err
		}
		if actor.Role == models.RoleCustomer && inst.CustomerID != actor.ID {
			return &models.NotFoundError{Entity: "payment instrument", ID: instrumentID}
		}
		bal, err := s.ledger.Balance(ctx, store, instrumentID)
		if err != nil {
			return err
		}
		moves, err := store.Balances().ListMovements(ctx, instrumentID)
		if err != nil {
			return err
		}
		view = &BalanceView{InstrumentID: instrumentID, Balance: bal, Movements: moves}
		return nil
	})
	return view, err
}

// Deposit tops up a debit instrument. Only administrators reach it.
func (s *InstrumentService) Deposit(ctx context.Context, instrumentID string, amount models.Money, memo string, actor models.Actor) (mv *models.BalanceMovement, err error) {
	ctx, finish := startSpan(ctx, "instruments.Deposit")
	defer finish(&err)

	if amount <= 0 {
		return nil, models.NewValidationError("amount", "must be positive")
	}
	return s.post(ctx, "deposit", instrumentID, models.BalanceDeposit, amount, memo, actor)
}

// Adjust posts a signed manual correction. A negative adjustment beyond the
// balance fails like any other debit.
func (s *InstrumentService) Adjust(ctx context.Context, instrumentID string, amount models.Money, memo string, actor models.Actor) (mv *models.BalanceMovement, err error) {
	ctx, finish := startSpan(ctx, "instruments.Adjust")
	defer finish(&err)

	if memo == "" {
		return nil, models.NewValidationError("memo", "required for manual adjustments")
	}
	return s.post(ctx, "adjust balance", instrumentID, models.BalanceAdjustment, amount, memo, actor)
}

func (s *InstrumentService) post(ctx context.Context, operation, instrumentID string, kind models.BalanceMovementType, amount models.Money, memo string, actor models.Actor) (mv *models.BalanceMovement, err error) {
	err = s.deps.inTx(ctx, operation, func(ctx context.Context, store repositories.Store) error {
		inst, err := store.Instruments().GetByID(ctx, instrumentID)
		if err != nil {
			return err
		}
		if inst.Type != models.InstrumentDebit {
			return models.NewValidationError("instrument_id", "only debit instruments hold a balance")
		}
		mv, err = s.ledger.Post(ctx, store, BalanceEntry{
			InstrumentID: instrumentID,
			Type:         kind,
			Amount:       amount,
			Memo:         memo,
			Actor:        actor,
		}, s.deps.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.deps.kick()
	return mv, nil
}
