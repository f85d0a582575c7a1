package models

import (
	"fmt"
	"time"
)

// BalanceMovementType is the kind of a balance ledger entry.
type BalanceMovementType string

const (
	BalanceDeposit    BalanceMovementType = "deposito"
	BalanceWithdrawal BalanceMovementType = "retiro"
	BalancePurchase   BalanceMovementType = "compra"
	BalanceRefund     BalanceMovementType = "reembolso"
	BalanceAdjustment BalanceMovementType = "ajuste_manual"
)

// BalanceRecord is the stored balance of a debit instrument.
// Invariant: Balance >= 0 and equals the fold of its movements from zero.
type BalanceRecord struct {
	InstrumentID string    `json:"instrument_id" gorm:"primaryKey;type:varchar(36)"`
	Balance      Money     `json:"saldo"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BalanceMovement is an append-only signed ledger entry.
type BalanceMovement struct {
	ID            string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InstrumentID  string              `json:"instrument_id" gorm:"index;type:varchar(36);not null"`
	Sequence      int64               `json:"sequence" gorm:"index"`
	Type          BalanceMovementType `json:"type" gorm:"type:varchar(20);not null"`
	Amount        Money               `json:"amount"`
	BalanceBefore Money               `json:"balance_before"`
	BalanceAfter  Money               `json:"balance_after"`
	Memo          string              `json:"memo" gorm:"size:255"`
	ActorID       string              `json:"actor_id" gorm:"size:64"`
	ActorRole     Role                `json:"actor_role" gorm:"size:20"`
	OrderID       string              `json:"order_id,omitempty" gorm:"index;size:36"`
	ReturnID      string              `json:"return_id,omitempty" gorm:"index;size:36"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Post applies a signed amount to the balance and returns the movement that
// records it. Debits beyond the balance are rejected, never clamped.
func (b *BalanceRecord) Post(kind BalanceMovementType, amount Money) (BalanceMovement, error) {
	if amount == 0 {
		return BalanceMovement{}, NewValidationError("amount", "must not be zero")
	}
	switch kind {
	case BalanceDeposit, BalanceRefund:
		if amount < 0 {
			return BalanceMovement{}, NewValidationError("amount", "%s must be a credit", kind)
		}
	case BalanceWithdrawal, BalancePurchase:
		if amount > 0 {
			return BalanceMovement{}, NewValidationError("amount", "%s must be a debit", kind)
		}
	case BalanceAdjustment:
	default:
		return BalanceMovement{}, NewValidationError("type", "unknown balance movement %q", kind)
	}
	after := b.Balance + amount
	if after < 0 {
		return BalanceMovement{}, &InsufficientFundsError{InstrumentID: b.InstrumentID, Requested: -amount, Balance: b.Balance}
	}
	mv := BalanceMovement{
		InstrumentID:  b.InstrumentID,
		Type:          kind,
		Amount:        amount,
		BalanceBefore: b.Balance,
		BalanceAfter:  after,
	}
	b.Balance = after
	return mv, nil
}

// VerifyHistory folds movements from zero and checks every link of the chain
// against the record's current balance.
func VerifyHistory(record BalanceRecord, history []BalanceMovement) error {
	var running Money
	for i, mv := range history {
		if mv.BalanceBefore != running {
			return fmt.Errorf("movement %d (%s): balance_before %d, expected %d", i, mv.ID, mv.BalanceBefore, running)
		}
		running += mv.Amount
		if running < 0 {
			return fmt.Errorf("movement %d (%s): balance went negative (%d)", i, mv.ID, running)
		}
		if mv.BalanceAfter != running {
			return fmt.Errorf("movement %d (%s): balance_after %d, expected %d", i, mv.ID, mv.BalanceAfter, running)
		}
	}
	if running != record.Balance {
		return fmt.Errorf("instrument %s: balance %d does not match history fold %d", record.InstrumentID, record.Balance, running)
	}
	return nil
}
