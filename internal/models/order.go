package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the overall lifecycle state of an order.
type OrderStatus string

const (
	OrderPendingPayment  OrderStatus = "pendiente_pago"
	OrderPaymentApproved OrderStatus = "pago_aprobado"
	OrderPreparing       OrderStatus = "preparando"
	OrderReadyToShip     OrderStatus = "listo_para_envio"
	OrderShipped         OrderStatus = "enviado"
	OrderInTransit       OrderStatus = "en_transito"
	OrderDelivered       OrderStatus = "entregado"
	OrderPaymentFailed   OrderStatus = "fallo_pago"
	OrderCancelled       OrderStatus = "cancelado"
)

// PaymentStatus is tracked independently of the order status.
type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "pendiente"
	PaymentProcessing      PaymentStatus = "procesando"
	PaymentApproved        PaymentStatus = "aprobado"
	PaymentRejected        PaymentStatus = "rechazado"
	PaymentRefunded        PaymentStatus = "reembolsado"
	PaymentPartialRefunded PaymentStatus = "reembolso_parcial"
)

// ItemStatus is the per-line fulfillment state.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pendiente"
	ItemShipped   ItemStatus = "enviado"
	ItemDelivered ItemStatus = "entregado"
	ItemReturned  ItemStatus = "devuelto"
	ItemCancelled ItemStatus = "cancelado"
)

// ShippingMode selects home delivery or in-store pickup.
type ShippingMode string

const (
	ShippingHome   ShippingMode = "domicilio"
	ShippingPickup ShippingMode = "recogida_tienda"
)

// OrderItem is a frozen snapshot of a purchased line. Prices never change
// after the order is created.
type OrderItem struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	Title            string          `json:"title"`
	Author           string          `json:"author"`
	ISBN             string          `json:"isbn"`
	CoverURL         string          `json:"cover_url,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        Money           `json:"unit_price"`
	DiscountPercent  decimal.Decimal `json:"discount_percent"`
	TaxPercent       decimal.Decimal `json:"tax_percent"`
	UnitDiscount     Money           `json:"unit_discount"`
	UnitTax          Money           `json:"unit_tax"`
	Subtotal         Money           `json:"subtotal"`
	Discount         Money           `json:"discount"`
	Tax              Money           `json:"tax"`
	Status           ItemStatus      `json:"status"`
	ReturnedQuantity int             `json:"returned_quantity"`
}

// OrderTotals are computed once at creation and stored.
type OrderTotals struct {
	Subtotal              Money `json:"subtotal"`
	Discounts             Money `json:"discounts"`
	SubtotalWithDiscounts Money `json:"subtotal_con_descuentos"`
	Taxes                 Money `json:"taxes"`
	TaxIncluded           Money `json:"tax_included"`
	TaxExcluded           Money `json:"tax_excluded"`
	TaxPaidSeparately     bool  `json:"tax_paid_separately"`
	Shipping              Money `json:"shipping"`
	Final                 Money `json:"total_final"`
}

// PaymentInfo is the payment sub-object of an order.
type PaymentInfo struct {
	Method          InstrumentType `json:"method" gorm:"type:varchar(10)"`
	InstrumentID    string         `json:"instrument_id" gorm:"size:36"`
	Last4           string         `json:"last4" gorm:"size:4"`
	Brand           string         `json:"brand" gorm:"size:30"`
	Status          PaymentStatus  `json:"estado_pago" gorm:"type:varchar(20)"`
	Amount          Money          `json:"amount"`
	Reference       string         `json:"reference" gorm:"size:100"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty" gorm:"size:255"`
	RefundedAmount  Money          `json:"refunded_amount"`
}

// ShippingInfo is the shipping sub-object of an order.
type ShippingInfo struct {
	Mode              ShippingMode `json:"mode" gorm:"type:varchar(20)"`
	Address           string       `json:"address,omitempty" gorm:"size:500"`
	StoreID           string       `json:"store_id,omitempty" gorm:"size:36"`
	Carrier           string       `json:"carrier,omitempty" gorm:"size:100"`
	TrackingNumber    string       `json:"tracking_number,omitempty" gorm:"size:100;index"`
	EstimatedDelivery *time.Time   `json:"estimated_delivery,omitempty"`
	ShippedAt         *time.Time   `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time   `json:"delivered_at,omitempty"`
}

// Cancellation records who cancelled an order and why.
type Cancellation struct {
	Reason      string     `json:"reason,omitempty" gorm:"size:500"`
	RequestedBy Role       `json:"requested_by,omitempty" gorm:"size:20"`
	ActorID     string     `json:"actor_id,omitempty" gorm:"size:64"`
	At          *time.Time `json:"at,omitempty"`
}

// Order is the sale record. All mutators below are pure transformations of
// the in-memory aggregate; persistence and side effects belong to services.
type Order struct {
	ID             string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Number         string       `json:"number" gorm:"uniqueIndex;size:40;not null"`
	CustomerID     string       `json:"customer_id" gorm:"index;type:varchar(36);not null"`
	Items          []OrderItem  `json:"items" gorm:"serializer:json"`
	Totals         OrderTotals  `json:"totales" gorm:"embedded;embeddedPrefix:total_"`
	Payment        PaymentInfo  `json:"pago" gorm:"embedded;embeddedPrefix:payment_"`
	Shipping       ShippingInfo `json:"envio" gorm:"embedded;embeddedPrefix:shipping_"`
	Status         OrderStatus  `json:"status" gorm:"type:varchar(30);index"`
	History        []Event      `json:"history" gorm:"serializer:json"`
	Cancellation   Cancellation `json:"cancellation" gorm:"embedded;embeddedPrefix:cancel_"`
	StockCommitted bool         `json:"stock_committed"`
	Version        int64        `json:"version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// OrderLine pairs a cart line with the catalog entry it refers to.
type OrderLine struct {
	Item    CartItem
	Product Product
}

// ShippingSelection is the customer's delivery choice at checkout.
type ShippingSelection struct {
	Mode    ShippingMode `json:"mode" validate:"required,oneof=domicilio recogida_tienda"`
	Address string       `json:"address"`
	StoreID string       `json:"store_id"`
}

// OrderDraft is everything needed to create an order from a cart snapshot.
type OrderDraft struct {
	ID                string
	Number            string
	CustomerID        string
	Lines             []OrderLine
	Shipping          ShippingSelection
	ShippingFee       Money
	TaxPaidSeparately bool
	Instrument        InstrumentCheck
	ItemIDs           func() string
}

// Validate checks the shipping selection.
func (s ShippingSelection) Validate() error {
	switch s.Mode {
	case ShippingHome:
		if strings.TrimSpace(s.Address) == "" {
			return NewValidationError("address", "required for home delivery")
		}
	case ShippingPickup:
		if strings.TrimSpace(s.StoreID) == "" {
			return NewValidationError("store_id", "required for store pickup")
		}
	default:
		return NewValidationError("mode", "unknown shipping mode %q", s.Mode)
	}
	return nil
}

// ShippingCost is a flat fee for home delivery and free for pickup.
func (s ShippingSelection) ShippingCost(homeFee Money) Money {
	if s.Mode == ShippingHome {
		return homeFee
	}
	return 0
}

// NewOrder builds an order in pendiente_pago with frozen lines and totals.
func NewOrder(d OrderDraft, now time.Time) (*Order, error) {
	if d.CustomerID == "" {
		return nil, NewValidationError("customer_id", "required")
	}
	if len(d.Lines) == 0 {
		return nil, NewValidationError("items", "an order needs at least one line")
	}
	if err := d.Shipping.Validate(); err != nil {
		return nil, err
	}
	if d.ShippingFee < 0 {
		return nil, NewValidationError("shipping", "fee must not be negative")
	}

	o := &Order{
		ID:         d.ID,
		Number:     d.Number,
		CustomerID: d.CustomerID,
		Status:     OrderPendingPayment,
		Shipping: ShippingInfo{
			Mode:    d.Shipping.Mode,
			Address: d.Shipping.Address,
			StoreID: d.Shipping.StoreID,
		},
		Payment: PaymentInfo{
			Method:       d.Instrument.Type,
			InstrumentID: d.Instrument.InstrumentID,
			Last4:        d.Instrument.Last4,
			Brand:        d.Instrument.Brand,
			Status:       PaymentPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var t OrderTotals
	for i, line := range d.Lines {
		if line.Item.Quantity <= 0 {
			return nil, NewValidationError("quantity", "line %d: must be positive", i)
		}
		if line.Item.UnitPrice < 0 {
			return nil, NewValidationError("unit_price", "line %d: must not be negative", i)
		}
		p := PriceLine(line.Item.UnitPrice, line.Item.Quantity, line.Item.DiscountPercent, line.Item.TaxPercent)
		id := ""
		if d.ItemIDs != nil {
			id = d.ItemIDs()
		}
		o.Items = append(o.Items, OrderItem{
			ID:              id,
			ProductID:       line.Item.ProductID,
			Title:           line.Product.Title,
			Author:          line.Product.Author,
			ISBN:            line.Product.ISBN,
			CoverURL:        line.Product.CoverURL,
			Quantity:        line.Item.Quantity,
			UnitPrice:       line.Item.UnitPrice,
			DiscountPercent: line.Item.DiscountPercent,
			TaxPercent:      line.Item.TaxPercent,
			UnitDiscount:    p.UnitDiscount,
			UnitTax:         p.UnitTax,
			Subtotal:        p.Subtotal,
			Discount:        p.Discount,
			Tax:             p.Tax,
			Status:          ItemPending,
		})
		t.Subtotal += p.Subtotal
		t.Discounts += p.Discount
		t.Taxes += p.Tax
	}
	t.SubtotalWithDiscounts = t.Subtotal - t.Discounts
	t.TaxPaidSeparately = d.TaxPaidSeparately
	if d.TaxPaidSeparately {
		t.TaxExcluded = t.Taxes
	} else {
		t.TaxIncluded = t.Taxes
	}
	t.Shipping = d.ShippingFee
	t.Final = t.SubtotalWithDiscounts + t.TaxIncluded + t.Shipping
	o.Totals = t
	o.Payment.Amount = t.Final

	o.History = appendEvent(o.History, Event{At: now, Type: "orden_creada", To: string(OrderPendingPayment), ActorID: d.CustomerID, Role: RoleCustomer})
	return o, nil
}

func (o *Order) invalid(op string) error {
	return &InvalidStateError{Entity: "order", ID: o.Number, State: string(o.Status), Operation: op}
}

func (o *Order) transition(to OrderStatus, evType string, actor Actor, note string, now time.Time) {
	o.History = appendEvent(o.History, Event{
		At: now, Type: evType, From: string(o.Status), To: string(to),
		ActorID: actor.ID, Role: actor.Role, Note: note,
	})
	o.Status = to
	o.UpdatedAt = now
}

// ApprovePayment records a successful capture and moves the order straight
// on to preparation.
func (o *Order) ApprovePayment(reference string, now time.Time) error {
	if o.Payment.Status != PaymentPending && o.Payment.Status != PaymentProcessing {
		return &InvalidStateError{Entity: "order payment", ID: o.Number, State: string(o.Payment.Status), Operation: "approve payment of"}
	}
	if o.Status != OrderPendingPayment {
		return o.invalid("approve payment of")
	}
	paidAt := now
	o.Payment.Status = PaymentApproved
	o.Payment.PaidAt = &paidAt
	if reference != "" {
		o.Payment.Reference = reference
	}
	o.transition(OrderPaymentApproved, "pago_aprobado", SystemActor, reference, now)
	o.transition(OrderPreparing, "preparacion_iniciada", SystemActor, "", now)
	return nil
}

// MarkPaymentProcessing flags an in-flight capture.
func (o *Order) MarkPaymentProcessing(now time.Time) error {
	if o.Payment.Status != PaymentPending {
		return &InvalidStateError{Entity: "order payment", ID: o.Number, State: string(o.Payment.Status), Operation: "process payment of"}
	}
	o.Payment.Status = PaymentProcessing
	o.UpdatedAt = now
	return nil
}

// RejectPayment records a failed capture.
func (o *Order) RejectPayment(reason string, now time.Time) error {
	if o.Status != OrderPendingPayment && o.Status != OrderPaymentApproved {
		return o.invalid("reject payment of")
	}
	switch o.Payment.Status {
	case PaymentPending, PaymentProcessing, PaymentApproved:
	default:
		return &InvalidStateError{Entity: "order payment", ID: o.Number, State: string(o.Payment.Status), Operation: "reject payment of"}
	}
	o.Payment.Status = PaymentRejected
	o.Payment.RejectionReason = reason
	o.transition(OrderPaymentFailed, "pago_rechazado", SystemActor, reason, now)
	return nil
}

// MarkReadyToShip moves a prepared order to listo_para_envio.
func (o *Order) MarkReadyToShip(actor Actor, now time.Time) error {
	if o.Status != OrderPreparing {
		return o.invalid("mark ready to ship")
	}
	o.transition(OrderReadyToShip, "listo_para_envio", actor, "", now)
	return nil
}

// ShippingData is the carrier handoff information.
type ShippingData struct {
	Carrier           string     `json:"carrier"`
	TrackingNumber    string     `json:"tracking_number" validate:"required"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

// MarkShipped hands the order to a carrier. A tracking number is mandatory.
func (o *Order) MarkShipped(data ShippingData, actor Actor, now time.Time) error {
	if o.Status != OrderReadyToShip && o.Status != OrderPreparing {
		return o.invalid("ship")
	}
	if strings.TrimSpace(data.TrackingNumber) == "" {
		return NewValidationError("tracking_number", "required to ship an order")
	}
	shippedAt := now
	o.Shipping.Carrier = data.Carrier
	o.Shipping.TrackingNumber = strings.TrimSpace(data.TrackingNumber)
	o.Shipping.EstimatedDelivery = data.EstimatedDelivery
	o.Shipping.ShippedAt = &shippedAt
	for i := range o.Items {
		o.Items[i].Status = ItemShipped
	}
	o.transition(OrderShipped, "enviado", actor, o.Shipping.TrackingNumber, now)
	return nil
}

// MarkInTransit records the carrier's first scan.
func (o *Order) MarkInTransit(actor Actor, note string, now time.Time) error {
	if o.Status != OrderShipped {
		return o.invalid("mark in transit")
	}
	o.transition(OrderInTransit, "en_transito", actor, note, now)
	return nil
}

// MarkDelivered closes fulfillment. deliveredAt defaults to now.
func (o *Order) MarkDelivered(actor Actor, deliveredAt *time.Time, now time.Time) error {
	if o.Status != OrderShipped && o.Status != OrderInTransit {
		return o.invalid("deliver")
	}
	at := now
	if deliveredAt != nil {
		at = *deliveredAt
	}
	o.Shipping.DeliveredAt = &at
	for i := range o.Items {
		if o.Items[i].Status != ItemReturned {
			o.Items[i].Status = ItemDelivered
		}
	}
	o.transition(OrderDelivered, "entregado", actor, "", now)
	return nil
}

// CanCancel reports whether Cancel would be accepted.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case OrderShipped, OrderInTransit, OrderDelivered, OrderCancelled:
		return false
	}
	return o.Payment.Status != PaymentRefunded && o.Payment.Status != PaymentPartialRefunded
}

// Cancel moves the order to cancelado. When the payment had been approved
// the payment sub-state becomes reembolsado in the same mutation and
// refundDue reports the amount the caller must credit back.
func (o *Order) Cancel(reason string, requestedBy Role, actor Actor, now time.Time) (refundDue Money, err error) {
	if !o.CanCancel() {
		return 0, o.invalid("cancel")
	}
	if strings.TrimSpace(reason) == "" {
		return 0, NewValidationError("reason", "a cancellation reason is required")
	}
	if o.Payment.Status == PaymentApproved {
		refundDue = o.Totals.Final
		o.Payment.Status = PaymentRefunded
		o.Payment.RefundedAmount = refundDue
	}
	at := now
	o.Cancellation = Cancellation{Reason: reason, RequestedBy: requestedBy, ActorID: actor.ID, At: &at}
	for i := range o.Items {
		o.Items[i].Status = ItemCancelled
	}
	o.transition(OrderCancelled, "cancelado", actor, reason, now)
	return refundDue, nil
}

// Item finds a line by id.
func (o *Order) Item(itemID string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// RefundableUnitAmount is what one unit of item cost the customer. Tax owed
// separately was never collected and is not refundable.
func (o *Order) RefundableUnitAmount(item OrderItem) Money {
	unit := item.UnitPrice - item.UnitDiscount
	if !o.Totals.TaxPaidSeparately {
		unit += item.UnitTax
	}
	return unit
}

// RecordReturnRefund is the bookkeeping side of a completed return refund:
// returned units are marked on the lines and the payment sub-state becomes
// reembolsado once every unit came back, reembolso_parcial otherwise.
// The order status does not change.
func (o *Order) RecordReturnRefund(returned map[string]int, amount Money, actor Actor, note string, now time.Time) error {
	if o.Status != OrderDelivered {
		return o.invalid("record return refund for")
	}
	if o.Payment.Status != PaymentApproved && o.Payment.Status != PaymentPartialRefunded {
		return &InvalidStateError{Entity: "order payment", ID: o.Number, State: string(o.Payment.Status), Operation: "refund"}
	}
	for itemID, qty := range returned {
		it, ok := o.Item(itemID)
		if !ok {
			return &NotFoundError{Entity: "order item", ID: itemID}
		}
		if qty <= 0 || it.ReturnedQuantity+qty > it.Quantity {
			return NewValidationError("quantity", "cannot return %d of item %s (%d of %d already returned)", qty, itemID, it.ReturnedQuantity, it.Quantity)
		}
	}
	for itemID, qty := range returned {
		it, _ := o.Item(itemID)
		it.ReturnedQuantity += qty
		if it.ReturnedQuantity == it.Quantity {
			it.Status = ItemReturned
		}
	}
	o.Payment.RefundedAmount += amount
	o.Payment.Status = PaymentRefunded
	for _, it := range o.Items {
		if it.ReturnedQuantity < it.Quantity {
			o.Payment.Status = PaymentPartialRefunded
			break
		}
	}
	o.History = appendEvent(o.History, Event{At: now, Type: "reembolso_devolucion", ActorID: actor.ID, Role: actor.Role, Note: note})
	o.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of the aggregate.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	o.History = append([]Event(nil), o.History...)
	return o
}
