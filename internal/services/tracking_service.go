package services

import (
	"context"
	"time"

	"libreria/internal/models"
	"libreria/internal/repositories"
)

// TrackingService serves the public, unauthenticated tracking pages. The
// projections carry no customer data, addresses, prices or internal notes.
type TrackingService struct {
	deps Deps
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(deps Deps) *TrackingService {
	return &TrackingService{deps: deps}
}

type TrackedEvent struct {
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	Status string    `json:"status,omitempty"`
}

type TrackedOrderItem struct {
	Title    string            `json:"title"`
	Quantity int               `json:"quantity"`
	Status   models.ItemStatus `json:"status"`
}

type OrderTracking struct {
	Number            string              `json:"number"`
	Status            models.OrderStatus  `json:"status"`
	ShippingMode      models.ShippingMode `json:"shipping_mode"`
	Carrier           string              `json:"carrier,omitempty"`
	TrackingNumber    string              `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time          `json:"estimated_delivery,omitempty"`
	ShippedAt         *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time          `json:"delivered_at,omitempty"`
	Items             []TrackedOrderItem  `json:"items"`
	Events            []TrackedEvent      `json:"events"`
}

type TrackedReturnItem struct {
	Title    string                   `json:"title"`
	Quantity int                      `json:"quantity"`
	Outcome  models.InspectionOutcome `json:"outcome,omitempty"`
}

type ReturnTracking struct {
	Code             string              `json:"code"`
	OrderNumber      string              `json:"order_number"`
	Status           models.ReturnStatus `json:"status"`
	ShippingDeadline *time.Time          `json:"shipping_deadline,omitempty"`
	Items            []TrackedReturnItem `json:"items"`
	Events           []TrackedEvent      `json:"events"`
}

// OrderByNumber projects an order by its public number.
func (s *TrackingService) OrderByNumber(ctx context.Context, number string) (*OrderTracking, error) {
	var out *OrderTracking
	err := s.deps.inTx(ctx, "track order", func(ctx context.Context, store repositories.Store) error {
		o, err := store.Orders().GetByNumber(ctx, number)
		if err != nil {
			return err
		}
		out = projectOrder(o)
		return nil
	})
	return out, err
}

// ReturnByCode projects a return by its public code.
func (s *TrackingService) ReturnByCode(ctx context.Context, code string) (*ReturnTracking, error) {
	return s.trackReturn(ctx, func(ctx context.Context, store repositories.Store) (*models.Return, error) {
		return store.Returns().GetByCode(ctx, code)
	})
}

// ReturnByToken projects a return by the token printed in its QR code.
func (s *TrackingService) ReturnByToken(ctx context.Context, token string) (*ReturnTracking, error) {
	return s.trackReturn(ctx, func(ctx context.Context, store repositories.Store) (*models.Return, error) {
		return store.Returns().GetByToken(ctx, token)
	})
}

func (s *TrackingService) trackReturn(ctx context.Context, find func(context.Context, repositories.Store) (*models.Return, error)) (*ReturnTracking, error) {
	var out *ReturnTracking
	err := s.deps.inTx(ctx, "track return", func(ctx context.Context, store repositories.Store) error {
		r, err := find(ctx, store)
		if err != nil {
			return err
		}
		out = projectReturn(r)
		return nil
	})
	return out, err
}

func projectOrder(o *models.Order) *OrderTracking {
	t := &OrderTracking{
		Number:            o.Number,
		Status:            o.Status,
		ShippingMode:      o.Shipping.Mode,
		Carrier:           o.Shipping.Carrier,
		TrackingNumber:    o.Shipping.TrackingNumber,
		EstimatedDelivery: o.Shipping.EstimatedDelivery,
		ShippedAt:         o.Shipping.ShippedAt,
		DeliveredAt:       o.Shipping.DeliveredAt,
		Items:             make([]TrackedOrderItem, 0, len(o.Items)),
		Events:            projectEvents(o.History),
	}
	for _, it := range o.Items {
		t.Items = append(t.Items, TrackedOrderItem{Title: it.Title, Quantity: it.Quantity, Status: it.Status})
	}
	return t
}

func projectReturn(r *models.Return) *ReturnTracking {
	t := &ReturnTracking{
		Code:             r.Code,
		OrderNumber:      r.OrderNumber,
		Status:           r.Status,
		ShippingDeadline: r.ShippingDeadline,
		Items:            make([]TrackedReturnItem, 0, len(r.Items)),
		Events:           projectEvents(r.History),
	}
	for _, it := range r.Items {
		item := TrackedReturnItem{Title: it.Title, Quantity: it.Quantity}
		if it.Inspection != nil {
			item.Outcome = it.Inspection.Outcome
		}
		t.Items = append(t.Items, item)
	}
	return t
}

// projectEvents keeps timestamps and state names and drops actors and notes.
func projectEvents(history []models.Event) []TrackedEvent {
	out := make([]TrackedEvent, 0, len(history))
	for _, ev := range history {
		out = append(out, TrackedEvent{At: ev.At, Type: ev.Type, Status: ev.To})
	}
	return out
}
