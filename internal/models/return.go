package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus is the lifecycle state of a return.
type ReturnStatus string

const (
	ReturnRequested        ReturnStatus = "solicitada"
	ReturnApproved         ReturnStatus = "aprobada"
	ReturnRejected         ReturnStatus = "rechazada"
	ReturnAwaitingShipment ReturnStatus = "esperando_envio"
	ReturnInTransit        ReturnStatus = "en_transito"
	ReturnReceived         ReturnStatus = "recibida"
	ReturnInspecting       ReturnStatus = "en_inspeccion"
	ReturnRefundApproved   ReturnStatus = "reembolso_aprobado"
	ReturnRefundProcessing ReturnStatus = "reembolso_procesando"
	ReturnRefundCompleted  ReturnStatus = "reembolso_completado"
	ReturnClosed           ReturnStatus = "cerrada"
	ReturnCancelled        ReturnStatus = "cancelada"
)

// ReturnReason is the customer's reason code for a returned line.
type ReturnReason string

const (
	ReasonDamaged     ReturnReason = "danado"
	ReasonDefective   ReturnReason = "defectuoso"
	ReasonWrongItem   ReturnReason = "no_coincide"
	ReasonChangedMind ReturnReason = "arrepentimiento"
	ReasonOther       ReturnReason = "otro"
)

func (r ReturnReason) valid() bool {
	switch r {
	case ReasonDamaged, ReasonDefective, ReasonWrongItem, ReasonChangedMind, ReasonOther:
		return true
	}
	return false
}

// InspectionOutcome is the per-item result of the physical inspection.
type InspectionOutcome string

const (
	InspectionApproved        InspectionOutcome = "aprobado"
	InspectionRejected        InspectionOutcome = "rechazado"
	InspectionPartialApproved InspectionOutcome = "aprobado_parcial"
)

// Inspection records one item's inspection.
type Inspection struct {
	Outcome       InspectionOutcome `json:"outcome"`
	RefundPercent int               `json:"refund_percent"`
	Notes         string            `json:"notes,omitempty"`
	ActorID       string            `json:"actor_id"`
	At            time.Time         `json:"at"`
}

// ReturnItem is one returned line, matched to the order by item id.
type ReturnItem struct {
	OrderItemID     string       `json:"order_item_id"`
	ProductID       string       `json:"product_id"`
	Title           string       `json:"title"`
	Quantity        int          `json:"quantity"`
	Reason          ReturnReason `json:"reason"`
	Description     string       `json:"description,omitempty"`
	UnitAmount      Money        `json:"unit_amount"`
	RequestedAmount Money        `json:"requested_amount"`
	Inspection      *Inspection  `json:"inspection,omitempty"`
	RefundAmount    Money        `json:"refund_amount"`
}

// ReturnTotals hold Refunded <= Approved <= Requested.
type ReturnTotals struct {
	Requested Money `json:"requested_amount"`
	Approved  Money `json:"approved_amount"`
	Refunded  Money `json:"refunded_amount"`
}

// RefundInfo is the refund sub-object of a return.
type RefundInfo struct {
	Method       InstrumentType `json:"method,omitempty" gorm:"type:varchar(10)"`
	InstrumentID string         `json:"instrument_id,omitempty" gorm:"size:36"`
	Reference    string         `json:"reference,omitempty" gorm:"size:100"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	NeedsRetry   bool           `json:"needs_retry"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty" gorm:"size:500"`
}

// Document is a supporting photo or receipt.
type Document struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url"`
	UploadedBy Role      `json:"uploaded_by"`
	UploaderID string    `json:"uploader_id"`
	At         time.Time `json:"at"`
}

// Return is the return/refund record.
type Return struct {
	ID               string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code             string       `json:"code" gorm:"uniqueIndex;size:40;not null"`
	TrackingToken    string       `json:"tracking_token" gorm:"uniqueIndex;size:64;not null"`
	OrderID          string       `json:"order_id" gorm:"index;type:varchar(36);not null"`
	OrderNumber      string       `json:"order_number" gorm:"size:40"`
	CustomerID       string       `json:"customer_id" gorm:"index;type:varchar(36)"`
	Items            []ReturnItem `json:"items" gorm:"serializer:json"`
	Totals           ReturnTotals `json:"totals" gorm:"embedded;embeddedPrefix:total_"`
	Status           ReturnStatus `json:"status" gorm:"type:varchar(30);index"`
	Refund           RefundInfo   `json:"refund" gorm:"embedded;embeddedPrefix:refund_"`
	Documents        []Document   `json:"documents" gorm:"serializer:json"`
	History          []Event      `json:"history" gorm:"serializer:json"`
	ShippingDeadline *time.Time   `json:"shipping_deadline,omitempty" gorm:"index"`
	ReturnTracking   string       `json:"return_tracking,omitempty" gorm:"size:100"`
	ReceivedAt       *time.Time   `json:"received_at,omitempty"`
	ReceiptNotes     string       `json:"receipt_notes,omitempty" gorm:"size:500"`
	Notes            string       `json:"notes,omitempty" gorm:"size:500"`
	Version          int64        `json:"version"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ReturnItemRequest is the customer's selection of one order line.
type ReturnItemRequest struct {
	OrderItemID string       `json:"order_item_id" validate:"required"`
	Quantity    int          `json:"quantity" validate:"required,gt=0"`
	Reason      ReturnReason `json:"reason" validate:"required"`
	Description string       `json:"description"`
}

// ReturnDraft is everything needed to open a return.
type ReturnDraft struct {
	ID            string
	Code          string
	TrackingToken string
	Order         *Order
	Requests      []ReturnItemRequest
	Prior         []Return
	Requester     Actor
}

// countsAgainstOrder reports whether a return's quantities are claimed
// against the order's purchased quantities.
func (r *Return) countsAgainstOrder() bool {
	return r.Status != ReturnCancelled && r.Status != ReturnRejected
}

// NewReturn opens a return in solicitada. Quantities already claimed by other
// live returns of the same order are subtracted from what may be requested.
func NewReturn(d ReturnDraft, now time.Time) (*Return, error) {
	o := d.Order
	if o == nil {
		return nil, NewValidationError("order_id", "required")
	}
	if o.Status != OrderDelivered {
		return nil, &InvalidStateError{Entity: "order", ID: o.Number, State: string(o.Status), Operation: "open a return for"}
	}
	if d.Requester.Role == RoleCustomer && d.Requester.ID != o.CustomerID {
		return nil, &NotFoundError{Entity: "order", ID: o.ID}
	}
	if len(d.Requests) == 0 {
		return nil, NewValidationError("items", "select at least one item to return")
	}

	claimed := map[string]int{}
	for _, p := range d.Prior {
		if p.OrderID != o.ID || !p.countsAgainstOrder() {
			continue
		}
		for _, it := range p.Items {
			claimed[it.OrderItemID] += it.Quantity
		}
	}

	r := &Return{
		ID:            d.ID,
		Code:          d.Code,
		TrackingToken: d.TrackingToken,
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		CustomerID:    o.CustomerID,
		Status:        ReturnRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	seen := map[string]bool{}
	for _, req := range d.Requests {
		if seen[req.OrderItemID] {
			return nil, NewValidationError("items", "item %s selected twice", req.OrderItemID)
		}
		seen[req.OrderItemID] = true
		if req.Quantity <= 0 {
			return nil, NewValidationError("quantity", "item %s: must be positive", req.OrderItemID)
		}
		if !req.Reason.valid() {
			return nil, NewValidationError("reason", "item %s: unknown reason %q", req.OrderItemID, req.Reason)
		}
		item, ok := o.Item(req.OrderItemID)
		if !ok {
			return nil, &NotFoundError{Entity: "order item", ID: req.OrderItemID}
		}
		already := claimed[item.ID]
		if item.ReturnedQuantity > already {
			already = item.ReturnedQuantity
		}
		if already+req.Quantity > item.Quantity {
			return nil, NewValidationError("quantity", "item %s: requested %d but only %d of %d can still be returned",
				item.ID, req.Quantity, item.Quantity-already, item.Quantity)
		}
		unit := o.RefundableUnitAmount(*item)
		ri := ReturnItem{
			OrderItemID:     item.ID,
			ProductID:       item.ProductID,
			Title:           item.Title,
			Quantity:        req.Quantity,
			Reason:          req.Reason,
			Description:     req.Description,
			UnitAmount:      unit,
			RequestedAmount: unit.Times(req.Quantity),
		}
		r.Items = append(r.Items, ri)
		r.Totals.Requested += ri.RequestedAmount
	}
	r.History = appendEvent(r.History, Event{At: now, Type: "devolucion_solicitada", To: string(ReturnRequested), ActorID: d.Requester.ID, Role: d.Requester.Role})
	return r, nil
}

func (r *Return) invalid(op string) error {
	return &InvalidStateError{Entity: "return", ID: r.Code, State: string(r.Status), Operation: op}
}

func (r *Return) transition(to ReturnStatus, evType string, actor Actor, note string, now time.Time) {
	r.History = appendEvent(r.History, Event{
		At: now, Type: evType, From: string(r.Status), To: string(to),
		ActorID: actor.ID, Role: actor.Role, Note: note,
	})
	r.Status = to
	r.UpdatedAt = now
}

// Terminal reports whether no further transition is possible.
func (r *Return) Terminal() bool {
	return r.Status == ReturnClosed || r.Status == ReturnCancelled || r.Status == ReturnRejected
}

// Approve accepts the request and starts waiting for the customer's shipment
// until deadline.
func (r *Return) Approve(actor Actor, notes string, deadline time.Time, now time.Time) error {
	if r.Status != ReturnRequested {
		return r.invalid("approve")
	}
	d := deadline
	r.ShippingDeadline = &d
	r.Notes = notes
	r.transition(ReturnApproved, "devolucion_aprobada", actor, notes, now)
	r.transition(ReturnAwaitingShipment, "esperando_envio", actor, "", now)
	return nil
}

// Reject refuses the request.
func (r *Return) Reject(actor Actor, reason string, now time.Time) error {
	if r.Status != ReturnRequested {
		return r.invalid("reject")
	}
	if strings.TrimSpace(reason) == "" {
		return NewValidationError("reason", "a rejection reason is required")
	}
	r.Notes = reason
	r.transition(ReturnRejected, "devolucion_rechazada", actor, reason, now)
	return nil
}

// MarkInTransit records the customer's shipment of the package.
func (r *Return) MarkInTransit(actor Actor, tracking string, now time.Time) error {
	if r.Status != ReturnAwaitingShipment {
		return r.invalid("mark in transit")
	}
	r.ReturnTracking = strings.TrimSpace(tracking)
	r.transition(ReturnInTransit, "en_transito", actor, r.ReturnTracking, now)
	return nil
}

// ReceiptData describes the physical reception of the package.
type ReceiptData struct {
	Notes      string     `json:"notes"`
	ReceivedAt *time.Time `json:"received_at"`
}

// MarkReceived records that the package arrived at the warehouse.
func (r *Return) MarkReceived(actor Actor, receipt ReceiptData, now time.Time) error {
	if r.Status != ReturnAwaitingShipment && r.Status != ReturnInTransit {
		return r.invalid("receive")
	}
	at := now
	if receipt.ReceivedAt != nil {
		at = *receipt.ReceivedAt
	}
	r.ReceivedAt = &at
	r.ReceiptNotes = receipt.Notes
	r.transition(ReturnReceived, "recibida", actor, receipt.Notes, now)
	return nil
}

// Item finds a returned line by order item id.
func (r *Return) Item(orderItemID string) (*ReturnItem, bool) {
	for i := range r.Items {
		if r.Items[i].OrderItemID == orderItemID {
			return &r.Items[i], true
		}
	}
	return nil, false
}

// InspectItem records one item's outcome. refundPercent may be nil to use
// the outcome's default (100 for aprobado, 0 for rechazado). Once every item
// is inspected the return moves to reembolso_aprobado, or cerrada when
// nothing was approved.
func (r *Return) InspectItem(orderItemID string, outcome InspectionOutcome, actor Actor, notes string, refundPercent *int, now time.Time) error {
	if r.Status != ReturnReceived && r.Status != ReturnInspecting {
		return r.invalid("inspect")
	}
	item, ok := r.Item(orderItemID)
	if !ok {
		return &NotFoundError{Entity: "return item", ID: orderItemID}
	}
	if item.Inspection != nil {
		return &InvalidStateError{Entity: "return item", ID: orderItemID, State: string(item.Inspection.Outcome), Operation: "inspect"}
	}

	pct, err := resolveRefundPercent(outcome, refundPercent)
	if err != nil {
		return err
	}

	if r.Status == ReturnReceived {
		r.transition(ReturnInspecting, "inspeccion_iniciada", actor, "", now)
	}
	item.Inspection = &Inspection{Outcome: outcome, RefundPercent: pct, Notes: notes, ActorID: actor.ID, At: now}
	item.RefundAmount = item.RequestedAmount.Percent(decimal.NewFromInt(int64(pct)))
	r.History = appendEvent(r.History, Event{
		At: now, Type: "item_inspeccionado", ActorID: actor.ID, Role: actor.Role,
		Note: fmt.Sprintf("%s: %s %d%%", orderItemID, outcome, pct),
	})
	r.UpdatedAt = now

	if !r.AllInspected() {
		return nil
	}
	var approved Money
	for _, it := range r.Items {
		approved += it.RefundAmount
	}
	r.Totals.Approved = approved
	if approved > 0 {
		r.transition(ReturnRefundApproved, "reembolso_aprobado", actor, approved.String(), now)
	} else {
		r.transition(ReturnClosed, "cerrada", actor, "sin monto aprobado", now)
	}
	return nil
}

func resolveRefundPercent(outcome InspectionOutcome, requested *int) (int, error) {
	switch outcome {
	case InspectionApproved:
		if requested == nil {
			return 100, nil
		}
		if *requested <= 0 || *requested > 100 {
			return 0, NewValidationError("refund_percent", "must be in 1..100 for %s, got %d", outcome, *requested)
		}
		return *requested, nil
	case InspectionRejected:
		if requested != nil && *requested != 0 {
			return 0, NewValidationError("refund_percent", "must be 0 for %s", outcome)
		}
		return 0, nil
	case InspectionPartialApproved:
		if requested == nil || *requested <= 0 || *requested >= 100 {
			return 0, NewValidationError("refund_percent", "must be in 1..99 for %s", outcome)
		}
		return *requested, nil
	}
	return 0, NewValidationError("outcome", "unknown inspection outcome %q", outcome)
}

// AllInspected reports whether every item has an outcome.
func (r *Return) AllInspected() bool {
	for _, it := range r.Items {
		if it.Inspection == nil {
			return false
		}
	}
	return len(r.Items) > 0
}

// RefundMeta describes where the refund is sent.
type RefundMeta struct {
	Method       InstrumentType
	InstrumentID string
	Reference    string
}

// ProcessRefund starts the refund. Calling it again before CompleteRefund
// fails, so a refund is never started twice.
func (r *Return) ProcessRefund(meta RefundMeta, actor Actor, now time.Time) error {
	if r.Status != ReturnRefundApproved {
		return r.invalid("process refund for")
	}
	if meta.Reference == "" {
		return NewValidationError("reference", "a refund reference is required")
	}
	started := now
	r.Refund = RefundInfo{
		Method:       meta.Method,
		InstrumentID: meta.InstrumentID,
		Reference:    meta.Reference,
		StartedAt:    &started,
		Attempts:     1,
	}
	r.transition(ReturnRefundProcessing, "reembolso_procesando", actor, meta.Reference, now)
	return nil
}

// MarkRefundFailed parks a processing refund for retry.
func (r *Return) MarkRefundFailed(cause string, now time.Time) error {
	if r.Status != ReturnRefundProcessing {
		return r.invalid("mark refund failed for")
	}
	r.Refund.NeedsRetry = true
	r.Refund.LastError = cause
	r.History = appendEvent(r.History, Event{At: now, Type: "reembolso_fallido", ActorID: SystemActor.ID, Role: RoleSystem, Note: cause})
	r.UpdatedAt = now
	return nil
}

// BeginRetry clears the retry marker before another credit attempt.
func (r *Return) BeginRetry(actor Actor, now time.Time) error {
	if r.Status != ReturnRefundProcessing || !r.Refund.NeedsRetry {
		return r.invalid("retry refund for")
	}
	r.Refund.NeedsRetry = false
	r.Refund.Attempts++
	r.History = appendEvent(r.History, Event{At: now, Type: "reembolso_reintento", ActorID: actor.ID, Role: actor.Role})
	r.UpdatedAt = now
	return nil
}

// CompleteRefund records the credited money and closes the return.
func (r *Return) CompleteRefund(actor Actor, reference string, now time.Time) error {
	if r.Status != ReturnRefundProcessing {
		return r.invalid("complete refund for")
	}
	completed := now
	r.Totals.Refunded = r.Totals.Approved
	r.Refund.CompletedAt = &completed
	r.Refund.NeedsRetry = false
	r.Refund.LastError = ""
	if reference != "" {
		r.Refund.Reference = reference
	}
	r.transition(ReturnRefundCompleted, "reembolso_completado", actor, r.Refund.Reference, now)
	r.transition(ReturnClosed, "cerrada", actor, "", now)
	return nil
}

// CanCancel reports whether the return may still be cancelled. Once a refund
// is being processed the money path must finish or be retried instead.
func (r *Return) CanCancel() bool {
	switch r.Status {
	case ReturnRequested, ReturnApproved, ReturnAwaitingShipment, ReturnInTransit,
		ReturnReceived, ReturnInspecting, ReturnRefundApproved:
		return true
	}
	return false
}

// Cancel is allowed to the owning customer or an administrator.
func (r *Return) Cancel(actor Actor, reason string, now time.Time) error {
	if actor.Role == RoleCustomer && actor.ID != r.CustomerID {
		return &NotFoundError{Entity: "return", ID: r.ID}
	}
	if !r.CanCancel() {
		return r.invalid("cancel")
	}
	r.Notes = reason
	r.transition(ReturnCancelled, "cancelada", actor, reason, now)
	return nil
}

// ShippingOverdue reports whether the customer missed the shipping deadline.
func (r *Return) ShippingOverdue(now time.Time) bool {
	if r.ShippingDeadline == nil {
		return false
	}
	return (r.Status == ReturnApproved || r.Status == ReturnAwaitingShipment) && now.After(*r.ShippingDeadline)
}

// AttachDocument adds a supporting photo or receipt.
func (r *Return) AttachDocument(doc Document, now time.Time) error {
	if r.Terminal() {
		return r.invalid("attach a document to")
	}
	if strings.TrimSpace(doc.URL) == "" {
		return NewValidationError("url", "required")
	}
	if doc.UploadedBy == RoleCustomer && doc.UploaderID != r.CustomerID {
		return &NotFoundError{Entity: "return", ID: r.ID}
	}
	doc.At = now
	r.Documents = append(r.Documents, doc)
	r.UpdatedAt = now
	return nil
}

// RefundedQuantities lists, per order item, the units whose refund is > 0.
func (r *Return) RefundedQuantities() map[string]int {
	out := map[string]int{}
	for _, it := range r.Items {
		if it.RefundAmount > 0 {
			out[it.OrderItemID] += it.Quantity
		}
	}
	return out
}

// CheckTotals verifies Refunded <= Approved <= Requested.
func (r *Return) CheckTotals() error {
	t := r.Totals
	if t.Refunded < 0 || t.Refunded > t.Approved || t.Approved > t.Requested {
		return fmt.Errorf("return %s totals out of order: requested=%d approved=%d refunded=%d", r.Code, t.Requested, t.Approved, t.Refunded)
	}
	return nil
}

// Clone returns a deep copy of the aggregate.
func (r Return) Clone() Return {
	items := make([]ReturnItem, len(r.Items))
	for i, it := range r.Items {
		if it.Inspection != nil {
			ins := *it.Inspection
			it.Inspection = &ins
		}
		items[i] = it
	}
	r.Items = items
	r.Documents = append([]Document(nil), r.Documents...)
	r.History = append([]Event(nil), r.History...)
	return r
}
