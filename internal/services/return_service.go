package services

import (
	"context"
	"time"

	"libreria/internal/locking"
	"libreria/internal/models"
	"libreria/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReturnPolicy holds the time limits of the return process.
type ReturnPolicy struct {
	// Window is how long after delivery a return may be opened.
	Window time.Duration
	// ShippingDays is how long the customer has to ship an approved return.
	ShippingDays int
}

// ReturnService drives a return from request to inspection. The money side
// lives in RefundService.
type ReturnService struct {
	deps   Deps
	policy ReturnPolicy
}

// NewReturnService creates a new ReturnService.
func NewReturnService(deps Deps, policy ReturnPolicy) *ReturnService {
	return &ReturnService{deps: deps, policy: policy}
}

// CreateReturnRequest is the customer's selection of items to send back.
type CreateReturnRequest struct {
	OrderID string                     `json:"order_id" validate:"required"`
	Items   []models.ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateReturn opens a return against a delivered order inside the return
// window. Units already claimed by other live returns cannot be claimed again.
func (s *ReturnService) CreateReturn(ctx context.Context, req CreateReturnRequest, actor models.Actor) (ret *models.Return, err error) {
	ctx, finish := startSpan(ctx, "returns.CreateReturn")
	defer finish(&err)

	err = s.deps.withLock(ctx, locking.OrderKey(req.OrderID), func() error {
		return s.deps.inTx(ctx, "create return", func(ctx context.Context, store repositories.Store) error {
			now := s.deps.now()
			order, err := loadOrder(ctx, store, req.OrderID, actor)
			if err != nil {
				return err
			}
			if d := order.Shipping.DeliveredAt; d != nil && now.After(d.Add(s.policy.Window)) {
				return models.NewValidationError("order_id", "the return window for order %s closed on %s",
					order.Number, d.Add(s.policy.Window).Format("2006-01-02"))
			}
			prior, err := store.Returns().ListByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			r, err := models.NewReturn(models.ReturnDraft{
				ID:            uuid.New().String(),
				Code:          publicCode("DEV", now),
				TrackingToken: uuid.New().String(),
				Order:         order,
				Requests:      req.Items,
				Prior:         prior,
				Requester:     actor,
			}, now)
			if err != nil {
				return err
			}
			if err := store.Returns().Create(ctx, r); err != nil {
				return err
			}
			if err := auditEvents(ctx, store, "return", r.ID, r.Code, r.History, 0, now); err != nil {
				return err
			}
			if err := notify(ctx, store, "return.requested", r.ID, returnNotice(r), now); err != nil {
				return err
			}
			ret = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"return_code":  ret.Code,
		"order_number": ret.OrderNumber,
		"requested":    ret.Totals.Requested,
	}).Info("return requested")
	s.deps.kick()
	return ret, nil
}

// GetReturn returns a return. Customers only see their own returns.
func (s *ReturnService) GetReturn(ctx context.Context, id string, actor models.Actor) (*models.Return, error) {
	var ret *models.Return
	err := s.deps.inTx(ctx, "get return", func(ctx context.Context, store repositories.Store) error {
		r, err := loadReturn(ctx, store, id, actor)
		ret = r
		return err
	})
	return ret, err
}

func loadReturn(ctx context.Context, store repositories.Store, id string, actor models.Actor) (*models.Return, error) {
	ret, err := store.Returns().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleCustomer && ret.CustomerID != actor.ID {
		return nil, &models.NotFoundError{Entity: "return", ID: id}
	}
	return ret, nil
}

// Approve accepts the request and gives the customer ShippingDays to ship.
func (s *ReturnService) Approve(ctx context.Context, id, notes string, actor models.Actor) (*models.Return, error) {
	return s.transition(ctx, "returns.Approve", id, actor, "return.approved", func(r *models.Return, now time.Time) error {
		deadline := now.AddDate(0, 0, s.policy.ShippingDays)
		return r.Approve(actor, notes, deadline, now)
	})
}

// Reject refuses the request.
func (s *ReturnService) Reject(ctx context.Context, id, reason string, actor models.Actor) (*models.Return, error) {
	return s.transition(ctx, "returns.Reject", id, actor, "return.rejected", func(r *models.Return, now time.Time) error {
		return r.Reject(actor, reason, now)
	})
}

// MarkInTransit records the customer's parcel tracking number.
func (s *ReturnService) MarkInTransit(ctx context.Context, id, tracking string, actor models.Actor) (*models.Return, error) {
	return s.transition(ctx, "returns.MarkInTransit", id, actor, "", func(r *models.Return, now time.Time) error {
		return r.MarkInTransit(actor, tracking, now)
	})
}

// Receive records the arrival of the parcel at the warehouse.
func (s *ReturnService) Receive(ctx context.Context, id string, receipt models.ReceiptData, actor models.Actor) (*models.Return, error) {
	return s.transition(ctx, "returns.Receive", id, actor, "", func(r *models.Return, now time.Time) error {
		return r.MarkReceived(actor, receipt, now)
	})
}

// InspectRequest is one item's inspection result.
type InspectRequest struct {
	OrderItemID   string                   `json:"order_item_id" validate:"required"`
	Outcome       models.InspectionOutcome `json:"outcome" validate:"required,oneof=aprobado rechazado aprobado_parcial"`
	Notes         string                   `json:"notes"`
	RefundPercent *int                     `json:"refund_percent" validate:"omitempty,min=0,max=100"`
}

// Inspect records one item's outcome. The customer is notified once every
// item has been inspected.
func (s *ReturnService) Inspect(ctx context.Context, id string, req InspectRequest, actor models.Actor) (*models.Return, error) {
	var done bool
	ret, err := s.transition(ctx, "returns.Inspect", id, actor, "", func(r *models.Return, now time.Time) error {
		if err := r.InspectItem(req.OrderItemID, req.Outcome, actor, req.Notes, req.RefundPercent, now); err != nil {
			return err
		}
		done = r.AllInspected()
		return nil
	}, func(ctx context.Context, store repositories.Store, r *models.Return, now time.Time) error {
		if !done {
			return nil
		}
		return notify(ctx, store, "return.inspected", r.ID, returnNotice(r), now)
	})
	return ret, err
}

// Cancel withdraws a return that has not reached the refund stage.
func (s *ReturnService) Cancel(ctx context.Context, id, reason string, actor models.Actor) (*models.Return, error) {
	return s.transition(ctx, "returns.Cancel", id, actor, "return.cancelled", func(r *models.Return, now time.Time) error {
		return r.Cancel(actor, reason, now)
	})
}

// AttachDocumentRequest describes a supporting photo or receipt.
type AttachDocumentRequest struct {
	Kind string `json:"kind" validate:"required,oneof=foto recibo otro"`
	URL  string `json:"url" validate:"required,url"`
}

// AttachDocument adds a supporting document uploaded by actor.
func (s *ReturnService) AttachDocument(ctx context.Context, id string, req AttachDocumentRequest, actor models.Actor) (*models.Return, error) {
	return s.transition(ctx, "returns.AttachDocument", id, actor, "", func(r *models.Return, now time.Time) error {
		return r.AttachDocument(models.Document{
			ID:         uuid.New().String(),
			Kind:       req.Kind,
			URL:        req.URL,
			UploadedBy: actor.Role,
			UploaderID: actor.ID,
		}, now)
	})
}

// ExpireOverdue cancels approved returns whose customer missed the shipping
// deadline. It returns how many were cancelled.
func (s *ReturnService) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.deps.now()
	var due []models.Return
	err := s.deps.inTx(ctx, "list overdue returns", func(ctx context.Context, store repositories.Store) error {
		var err error
		due, err = store.Returns().ListAwaitingShipment(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range due {
		if !r.ShippingOverdue(now) {
			continue
		}
		_, err := s.transition(ctx, "returns.Expire", r.ID, models.SystemActor, "return.cancelled", func(ret *models.Return, now time.Time) error {
			if !ret.ShippingOverdue(now) {
				return &models.InvalidStateError{Entity: "return", ID: ret.Code, State: string(ret.Status), Operation: "expire"}
			}
			return ret.Cancel(models.SystemActor, "plazo de envio vencido", now)
		})
		if err != nil {
			s.deps.logError("ExpireOverdue", "could not expire return", r.Code, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.deps.Logger.WithField("expired", expired).Info("overdue returns cancelled")
	}
	return expired, nil
}

// RunSweep calls ExpireOverdue every interval until ctx is done.
func (s *ReturnService) RunSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireOverdue(ctx); err != nil {
				s.deps.logError("RunSweep", "return sweep failed", nil, err)
			}
		}
	}
}

type returnHook func(ctx context.Context, store repositories.Store, r *models.Return, now time.Time) error

func (s *ReturnService) transition(ctx context.Context, name, id string, actor models.Actor, topic string, apply func(*models.Return, time.Time) error, hooks ...returnHook) (ret *models.Return, err error) {
	ctx, finish := startSpan(ctx, name)
	defer finish(&err)

	err = s.deps.withLock(ctx, locking.ReturnKey(id), func() error {
		return s.deps.inTx(ctx, name, func(ctx context.Context, store repositories.Store) error {
			now := s.deps.now()
			r, err := loadReturn(ctx, store, id, actor)
			if err != nil {
				return err
			}
			seen := len(r.History)
			if err := apply(r, now); err != nil {
				return err
			}
			if err := store.Returns().Save(ctx, r); err != nil {
				return err
			}
			if err := auditEvents(ctx, store, "return", r.ID, r.Code, r.History, seen, now); err != nil {
				return err
			}
			if topic != "" {
				if err := notify(ctx, store, topic, r.ID, returnNotice(r), now); err != nil {
					return err
				}
			}
			for _, hook := range hooks {
				if err := hook(ctx, store, r, now); err != nil {
					return err
				}
			}
			ret = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"return_code": ret.Code,
		"status":      ret.Status,
		"actor":       actor.ID,
	}).Info("return updated")
	s.deps.kick()
	return ret, nil
}

type returnNoticeItem struct {
	Title    string                   `json:"title"`
	Quantity int                      `json:"quantity"`
	Outcome  models.InspectionOutcome `json:"outcome,omitempty"`
	Refund   models.Money             `json:"refund_amount"`
}

type returnNoticePayload struct {
	ReturnID    string              `json:"return_id"`
	Code        string              `json:"code"`
	OrderNumber string              `json:"order_number"`
	CustomerID  string              `json:"customer_id"`
	Status      models.ReturnStatus `json:"status"`
	Token       string              `json:"tracking_token"`
	Deadline    *time.Time          `json:"shipping_deadline,omitempty"`
	Approved    models.Money        `json:"approved_amount"`
	Refunded    models.Money        `json:"refunded_amount"`
	Items       []returnNoticeItem  `json:"items"`
}

func returnNotice(r *models.Return) returnNoticePayload {
	p := returnNoticePayload{
		ReturnID:    r.ID,
		Code:        r.Code,
		OrderNumber: r.OrderNumber,
		CustomerID:  r.CustomerID,
		Status:      r.Status,
		Token:       r.TrackingToken,
		Deadline:    r.ShippingDeadline,
		Approved:    r.Totals.Approved,
		Refunded:    r.Totals.Refunded,
	}
	for _, it := range r.Items {
		item := returnNoticeItem{Title: it.Title, Quantity: it.Quantity, Refund: it.RefundAmount}
		if it.Inspection != nil {
			item.Outcome = it.Inspection.Outcome
		}
		p.Items = append(p.Items, item)
	}
	return p
}
