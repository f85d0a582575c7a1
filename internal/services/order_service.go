package services

import (
	"context"
	"fmt"
	"time"

	"libreria/internal/locking"
	"libreria/internal/models"
	"libreria/internal/payments"
	"libreria/internal/repositories"

	"github.com/sirupsen/logrus"
)

// OrderService drives fulfillment and cancellation of placed orders.
type OrderService struct {
	deps        Deps
	instruments *InstrumentService
	processor   payments.Processor
	inventory   InventoryLedger
}

// NewOrderService creates a new OrderService.
func NewOrderService(deps Deps, instruments *InstrumentService, processor payments.Processor) *OrderService {
	return &OrderService{
		deps:        deps,
		instruments: instruments,
		processor:   processor,
	}
}

// GetOrder returns an order. Customers only see their own orders.
func (s *OrderService) GetOrder(ctx context.Context, id string, actor models.Actor) (*models.Order, error) {
	var order *models.Order
	err := s.deps.inTx(ctx, "get order", func(ctx context.Context, store repositories.Store) error {
		o, err := loadOrder(ctx, store, id, actor)
		order = o
		return err
	})
	return order, err
}

// ListOrders returns the customer's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.deps.inTx(ctx, "list orders", func(ctx context.Context, store repositories.Store) error {
		var err error
		orders, err = store.Orders().ListByCustomer(ctx, customerID)
		return err
	})
	return orders, err
}

func loadOrder(ctx context.Context, store repositories.Store, id string, actor models.Actor) (*models.Order, error) {
	order, err := store.Orders().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleCustomer && order.CustomerID != actor.ID {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	return order, nil
}

// MarkReadyToShip moves a prepared order to listo_para_envio.
func (s *OrderService) MarkReadyToShip(ctx context.Context, id string, actor models.Actor) (*models.Order, error) {
	return s.transition(ctx, "orders.MarkReadyToShip", id, actor, "", func(o *models.Order, now time.Time) error {
		return o.MarkReadyToShip(actor, now)
	})
}

// Ship hands the order to the carrier.
func (s *OrderService) Ship(ctx context.Context, id string, data models.ShippingData, actor models.Actor) (*models.Order, error) {
	return s.transition(ctx, "orders.Ship", id, actor, "order.shipped", func(o *models.Order, now time.Time) error {
		return o.MarkShipped(data, actor, now)
	})
}

// MarkInTransit records the carrier's first scan.
func (s *OrderService) MarkInTransit(ctx context.Context, id, note string, actor models.Actor) (*models.Order, error) {
	return s.transition(ctx, "orders.MarkInTransit", id, actor, "", func(o *models.Order, now time.Time) error {
		return o.MarkInTransit(actor, note, now)
	})
}

// MarkDelivered closes fulfillment.
func (s *OrderService) MarkDelivered(ctx context.Context, id string, deliveredAt *time.Time, actor models.Actor) (*models.Order, error) {
	return s.transition(ctx, "orders.MarkDelivered", id, actor, "order.delivered", func(o *models.Order, now time.Time) error {
		return o.MarkDelivered(actor, deliveredAt, now)
	})
}

// transition applies a pure state change under the order lock, persists it
// and records its audit trail and optional customer notification.
func (s *OrderService) transition(ctx context.Context, name, id string, actor models.Actor, topic string, apply func(*models.Order, time.Time) error) (order *models.Order, err error) {
	ctx, finish := startSpan(ctx, name)
	defer finish(&err)

	err = s.deps.withLock(ctx, locking.OrderKey(id), func() error {
		return s.deps.inTx(ctx, name, func(ctx context.Context, store repositories.Store) error {
			now := s.deps.now()
			o, err := loadOrder(ctx, store, id, actor)
			if err != nil {
				return err
			}
			seen := len(o.History)
			if err := apply(o, now); err != nil {
				return err
			}
			if err := store.Orders().Save(ctx, o); err != nil {
				return err
			}
			if err := auditEvents(ctx, store, "order", o.ID, o.Number, o.History, seen, now); err != nil {
				return err
			}
			if topic != "" {
				if err := notify(ctx, store, topic, o.ID, orderNotice(o), now); err != nil {
					return err
				}
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"order_number": order.Number,
		"status":       order.Status,
		"actor":        actor.ID,
	}).Info("order updated")
	s.deps.kick()
	return order, nil
}

// CancelRequest carries the reason for a cancellation.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Cancel cancels an order that has not left the warehouse. An approved
// payment is credited back to the original instrument and confirmed stock
// returns to the shelf, all in the same unit of work.
func (s *OrderService) Cancel(ctx context.Context, id, reason string, actor models.Actor) (order *models.Order, err error) {
	ctx, finish := startSpan(ctx, "orders.Cancel")
	defer finish(&err)

	err = s.deps.withLock(ctx, locking.OrderKey(id), func() error {
		return s.deps.inTx(ctx, "cancel order", func(ctx context.Context, store repositories.Store) error {
			now := s.deps.now()
			o, err := loadOrder(ctx, store, id, actor)
			if err != nil {
				return err
			}
			seen := len(o.History)
			refundDue, err := o.Cancel(reason, actor.Role, actor, now)
			if err != nil {
				return err
			}
			if refundDue > 0 {
				if err := s.refundCancellation(ctx, store, o, refundDue, actor, now); err != nil {
					return err
				}
			}
			if o.StockCommitted {
				for _, it := range o.Items {
					_, err := s.inventory.Apply(ctx, store, StockMovement{
						ProductID: it.ProductID,
						Title:     it.Title,
						Type:      models.MovementCancellationCredit,
						Quantity:  it.Quantity,
						Actor:     actor,
						OrderID:   o.ID,
					}, now)
					if err != nil {
						return err
					}
				}
			}
			if err := store.Orders().Save(ctx, o); err != nil {
				return err
			}
			if err := auditEvents(ctx, store, "order", o.ID, o.Number, o.History, seen, now); err != nil {
				return err
			}
			notice := orderNotice(o)
			notice.Note = reason
			if err := notify(ctx, store, "order.cancelled", o.ID, notice, now); err != nil {
				return err
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"order_number": order.Number,
		"refunded":     order.Payment.RefundedAmount,
		"requested_by": actor.Role,
	}).Info("order cancelled")
	s.deps.kick()
	return order, nil
}

func (s *OrderService) refundCancellation(ctx context.Context, store repositories.Store, o *models.Order, amount models.Money, actor models.Actor, now time.Time) error {
	switch o.Payment.Method {
	case models.InstrumentDebit:
		_, err := s.instruments.Credit(ctx, store, BalanceEntry{
			InstrumentID: o.Payment.InstrumentID,
			Type:         models.BalanceRefund,
			Amount:       amount,
			Memo:         "cancelacion " + o.Number,
			Actor:        actor,
			OrderID:      o.ID,
		}, now)
		return err
	case models.InstrumentCredit:
		key := "cancel:" + o.Number
		if _, err := s.processor.Refund(ctx, o.Payment.Reference, amount, key); err != nil {
			return &models.ExternalProcessorError{Operation: "refund", Reference: key, Err: err}
		}
		return nil
	}
	return fmt.Errorf("order %s has unknown payment method %q", o.Number, o.Payment.Method)
}
