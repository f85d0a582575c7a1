package models

import (
	"fmt"
	"time"
)

// MovementType is the kind of an inventory ledger entry.
type MovementType string

const (
	MovementReservation        MovementType = "reserva"
	MovementReservationRelease MovementType = "liberacion_reserva"
	MovementSaleConfirmation   MovementType = "confirmacion_venta"
	MovementReturnCredit       MovementType = "entrada_devolucion"
	MovementCancellationCredit MovementType = "entrada_cancelacion"
	MovementRestock            MovementType = "entrada_reposicion"
)

// InventoryRecord holds the stock counters of one title.
// Invariant: StockAvailable == StockTotal - StockReserved, all >= 0.
type InventoryRecord struct {
	ProductID      string    `json:"product_id" gorm:"primaryKey;type:varchar(36)"`
	StockTotal     int       `json:"stock_total"`
	StockReserved  int       `json:"stock_reservado"`
	StockAvailable int       `json:"stock_disponible"`
	StockSold      int       `json:"stock_vendido"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InventoryMovement is an append-only, attributable stock ledger entry.
type InventoryMovement struct {
	ID              string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProductID       string       `json:"product_id" gorm:"index;type:varchar(36);not null"`
	Type            MovementType `json:"type" gorm:"type:varchar(30);not null"`
	Quantity        int          `json:"quantity"`
	AvailableBefore int          `json:"available_before"`
	AvailableAfter  int          `json:"available_after"`
	ActorID         string       `json:"actor_id" gorm:"size:64"`
	ActorRole       Role         `json:"actor_role" gorm:"size:20"`
	OrderID         string       `json:"order_id,omitempty" gorm:"index;size:36"`
	ReturnID        string       `json:"return_id,omitempty" gorm:"index;size:36"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Shortfall classifies a failed reservation of qty units.
func (r *InventoryRecord) Shortfall(qty int) StockShortfall {
	switch {
	case r.StockTotal <= 0:
		return ShortfallNone
	case r.StockAvailable <= 0 && r.StockReserved > 0:
		return ShortfallReserved
	default:
		return ShortfallPartial
	}
}

// Apply mutates the counters for one movement and validates the invariant.
// It leaves the record unchanged on error.
func (r *InventoryRecord) Apply(kind MovementType, qty int) error {
	if qty <= 0 {
		return NewValidationError("quantity", "must be positive, got %d", qty)
	}
	next := *r
	switch kind {
	case MovementReservation:
		if next.StockAvailable < qty {
			return &InsufficientStockError{
				ProductID: r.ProductID,
				Requested: qty,
				Available: r.StockAvailable,
				Total:     r.StockTotal,
				Reserved:  r.StockReserved,
				Shortfall: r.Shortfall(qty),
			}
		}
		next.StockReserved += qty
	case MovementReservationRelease:
		next.StockReserved -= qty
	case MovementSaleConfirmation:
		next.StockReserved -= qty
		next.StockTotal -= qty
		next.StockSold += qty
	case MovementReturnCredit, MovementCancellationCredit:
		next.StockTotal += qty
		next.StockSold -= qty
	case MovementRestock:
		next.StockTotal += qty
	default:
		return NewValidationError("movement", "unknown movement type %q", kind)
	}
	next.StockAvailable = next.StockTotal - next.StockReserved
	if err := next.check(); err != nil {
		return err
	}
	*r = next
	return nil
}

func (r *InventoryRecord) check() error {
	if r.StockTotal < 0 || r.StockReserved < 0 || r.StockAvailable < 0 || r.StockSold < 0 {
		return fmt.Errorf("inventory invariant violated for %s: total=%d reserved=%d available=%d sold=%d",
			r.ProductID, r.StockTotal, r.StockReserved, r.StockAvailable, r.StockSold)
	}
	if r.StockAvailable != r.StockTotal-r.StockReserved {
		return fmt.Errorf("inventory invariant violated for %s: available %d != total %d - reserved %d",
			r.ProductID, r.StockAvailable, r.StockTotal, r.StockReserved)
	}
	return nil
}
