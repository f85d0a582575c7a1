package services

import (
	"context"
	"errors"

	"libreria/internal/locking"
	"libreria/internal/models"
	"libreria/internal/payments"
	"libreria/internal/repositories"

	"github.com/sirupsen/logrus"
)

// RefundService pays out approved returns. A refund runs in up to three
// steps: the return is moved to reembolso_procesando and saved; card refunds
// are credited at the processor; then the credit, restock and order
// bookkeeping are committed together. When the processor call or the final
// commit fails the return keeps a NeedsRetry marker and RetryRefund resumes it.
type RefundService struct {
	deps        Deps
	instruments *InstrumentService
	processor   payments.Processor
	inventory   InventoryLedger
}

// NewRefundService creates a new RefundService.
func NewRefundService(deps Deps, instruments *InstrumentService, processor payments.Processor) *RefundService {
	return &RefundService{
		deps:        deps,
		instruments: instruments,
		processor:   processor,
	}
}

// ProcessRefund starts and settles the refund of an approved return.
func (s *RefundService) ProcessRefund(ctx context.Context, returnID string, actor models.Actor) (ret *models.Return, err error) {
	ctx, finish := startSpan(ctx, "refunds.ProcessRefund")
	defer finish(&err)

	err = s.deps.withLock(ctx, locking.ReturnKey(returnID), func() error {
		err := s.deps.inTx(ctx, "process refund", func(ctx context.Context, store repositories.Store) error {
			now := s.deps.now()
			r, err := store.Returns().GetByID(ctx, returnID)
			if err != nil {
				return err
			}
			order, err := store.Orders().GetByID(ctx, r.OrderID)
			if err != nil {
				return err
			}
			seen := len(r.History)
			meta := models.RefundMeta{
				Method:       order.Payment.Method,
				InstrumentID: order.Payment.InstrumentID,
				Reference:    "REF-" + r.Code,
			}
			if err := r.ProcessRefund(meta, actor, now); err != nil {
				return err
			}
			if err := store.Returns().Save(ctx, r); err != nil {
				return err
			}
			return auditEvents(ctx, store, "return", r.ID, r.Code, r.History, seen, now)
		})
		if err != nil {
			return err
		}
		ret, err = s.settle(ctx, returnID, actor)
		return err
	})
	s.deps.kick()
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// RetryRefund resumes a refund parked with NeedsRetry.
func (s *RefundService) RetryRefund(ctx context.Context, returnID string, actor models.Actor) (ret *models.Return, err error) {
	ctx, finish := startSpan(ctx, "refunds.RetryRefund")
	defer finish(&err)

	err = s.deps.withLock(ctx, locking.ReturnKey(returnID), func() error {
		err := s.deps.inTx(ctx, "retry refund", func(ctx context.Context, store repositories.Store) error {
			now := s.deps.now()
			r, err := store.Returns().GetByID(ctx, returnID)
			if err != nil {
				return err
			}
			seen := len(r.History)
			if err := r.BeginRetry(actor, now); err != nil {
				return err
			}
			if err := store.Returns().Save(ctx, r); err != nil {
				return err
			}
			return auditEvents(ctx, store, "return", r.ID, r.Code, r.History, seen, now)
		})
		if err != nil {
			return err
		}
		ret, err = s.settle(ctx, returnID, actor)
		return err
	})
	s.deps.kick()
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// settle moves the money for a return in reembolso_procesando.
func (s *RefundService) settle(ctx context.Context, returnID string, actor models.Actor) (*models.Return, error) {
	var pending *models.Return
	err := s.deps.inTx(ctx, "load refund", func(ctx context.Context, store repositories.Store) error {
		r, err := store.Returns().GetByID(ctx, returnID)
		pending = r
		return err
	})
	if err != nil {
		return nil, err
	}

	reference := pending.Refund.Reference
	if pending.Refund.Method == models.InstrumentCredit {
		ref, err := s.processor.Credit(ctx, pending.Refund.InstrumentID, pending.Totals.Approved, pending.Refund.Reference)
		if err != nil {
			return nil, s.park(ctx, pending, &models.ExternalProcessorError{
				Operation: "credit", Reference: pending.Refund.Reference, NeedsRetry: true, Err: err,
			})
		}
		reference = ref
	}

	var done *models.Return
	err = s.deps.inTx(ctx, "complete refund", func(ctx context.Context, store repositories.Store) error {
		now := s.deps.now()
		r, err := store.Returns().GetByID(ctx, returnID)
		if err != nil {
			return err
		}
		order, err := store.Orders().GetByID(ctx, r.OrderID)
		if err != nil {
			return err
		}
		seenReturn, seenOrder := len(r.History), len(order.History)

		if r.Refund.Method == models.InstrumentDebit {
			if _, err := s.instruments.Credit(ctx, store, BalanceEntry{
				InstrumentID: r.Refund.InstrumentID,
				Type:         models.BalanceRefund,
				Amount:       r.Totals.Approved,
				Memo:         "devolucion " + r.Code,
				Actor:        actor,
				OrderID:      order.ID,
				ReturnID:     r.ID,
			}, now); err != nil {
				return err
			}
		}
		if err := r.CompleteRefund(actor, reference, now); err != nil {
			return err
		}
		if err := r.CheckTotals(); err != nil {
			return err
		}
		for _, it := range r.Items {
			if it.RefundAmount <= 0 {
				continue
			}
			_, err := s.inventory.Apply(ctx, store, StockMovement{
				ProductID: it.ProductID,
				Title:     it.Title,
				Type:      models.MovementReturnCredit,
				Quantity:  it.Quantity,
				Actor:     actor,
				OrderID:   order.ID,
				ReturnID:  r.ID,
			}, now)
			if err != nil {
				return err
			}
		}
		if err := order.RecordReturnRefund(r.RefundedQuantities(), r.Totals.Refunded, actor, r.Code, now); err != nil {
			return err
		}
		if err := store.Returns().Save(ctx, r); err != nil {
			return err
		}
		if err := store.Orders().Save(ctx, order); err != nil {
			return err
		}
		if err := auditEvents(ctx, store, "return", r.ID, r.Code, r.History, seenReturn, now); err != nil {
			return err
		}
		if err := auditEvents(ctx, store, "order", order.ID, order.Number, order.History, seenOrder, now); err != nil {
			return err
		}
		if err := notify(ctx, store, "refund.completed", r.ID, returnNotice(r), now); err != nil {
			return err
		}
		done = r
		return nil
	})
	if err != nil {
		var state *models.InvalidStateError
		if errors.As(err, &state) {
			return nil, err
		}
		return nil, s.park(ctx, pending, err)
	}

	s.deps.Logger.WithFields(logrus.Fields{
		"return_code": done.Code,
		"refunded":    done.Totals.Refunded,
		"method":      done.Refund.Method,
		"reference":   done.Refund.Reference,
	}).Info("refund completed")
	return done, nil
}

// park records the failure on the return so it is not left silently in
// reembolso_procesando. Processor errors come back marked as retryable.
func (s *RefundService) park(ctx context.Context, pending *models.Return, cause error) error {
	err := s.deps.inTx(ctx, "park refund", func(ctx context.Context, store repositories.Store) error {
		now := s.deps.now()
		r, err := store.Returns().GetByID(ctx, pending.ID)
		if err != nil {
			return err
		}
		seen := len(r.History)
		if err := r.MarkRefundFailed(cause.Error(), now); err != nil {
			return err
		}
		if err := store.Returns().Save(ctx, r); err != nil {
			return err
		}
		return auditEvents(ctx, store, "return", r.ID, r.Code, r.History, seen, now)
	})
	if err != nil {
		s.deps.logError("park", "could not mark refund for retry", pending.Code, err)
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"return_code": pending.Code,
		"reference":   pending.Refund.Reference,
	}).WithError(cause).Warn("refund parked for retry")

	var ext *models.ExternalProcessorError
	if errors.As(cause, &ext) {
		ext.NeedsRetry = true
	}
	return cause
}
