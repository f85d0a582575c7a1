package models_test

import (
	"testing"
	"time"

	"libreria/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	customer = models.Actor{ID: "cust-1", Role: models.RoleCustomer}
	admin    = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

func deliveredOrder(t *testing.T) *models.Order {
	t.Helper()
	o := newOrder(t, []models.OrderLine{bookLine(2, 50000, 0, 0)}, home, 7000, false)
	require.NoError(t, o.ApprovePayment("ref-1", t0))
	require.NoError(t, o.MarkShipped(models.ShippingData{TrackingNumber: "TRK"}, admin, t0))
	require.NoError(t, o.MarkDelivered(admin, nil, t0))
	return o
}

func openReturn(t *testing.T, o *models.Order, qty int, prior ...models.Return) *models.Return {
	t.Helper()
	r, err := models.NewReturn(models.ReturnDraft{
		ID:            "ret-1",
		Code:          "DEV-20240305-AAAAAA",
		TrackingToken: "token-1",
		Order:         o,
		Requests: []models.ReturnItemRequest{
			{OrderItemID: o.Items[0].ID, Quantity: qty, Reason: models.ReasonDamaged},
		},
		Prior:     prior,
		Requester: customer,
	}, t0.Add(24*time.Hour))
	require.NoError(t, err)
	return r
}

func inspectedReturn(t *testing.T, o *models.Order, qty int, outcome models.InspectionOutcome, pct *int) *models.Return {
	t.Helper()
	r := openReturn(t, o, qty)
	now := t0.Add(24 * time.Hour)
	require.NoError(t, r.Approve(admin, "ok", now.Add(15*24*time.Hour), now))
	require.NoError(t, r.MarkInTransit(customer, "GUIA-9", now))
	require.NoError(t, r.MarkReceived(admin, models.ReceiptData{Notes: "caja intacta"}, now))
	require.NoError(t, r.InspectItem(o.Items[0].ID, outcome, admin, "", pct, now))
	return r
}

func TestNewReturn_PricesFromOrder(t *testing.T) {
	o := deliveredOrder(t)
	r := openReturn(t, o, 1)

	assert.Equal(t, models.ReturnRequested, r.Status)
	assert.Equal(t, o.Number, r.OrderNumber)
	assert.Equal(t, "cust-1", r.CustomerID)
	require.Len(t, r.Items, 1)
	assert.Equal(t, models.Money(50000), r.Items[0].UnitAmount)
	assert.Equal(t, models.Money(50000), r.Totals.Requested)
}

func TestNewReturn_Rules(t *testing.T) {
	o := deliveredOrder(t)
	itemID := o.Items[0].ID

	tests := []struct {
		name     string
		order    *models.Order
		requests []models.ReturnItemRequest
		actor    models.Actor
		check    func(t *testing.T, err error)
	}{
		{
			name:     "order not delivered",
			order:    newOrder(t, []models.OrderLine{bookLine(1, 100, 0, 0)}, home, 0, false),
			requests: []models.ReturnItemRequest{{OrderItemID: "item-1", Quantity: 1, Reason: models.ReasonDamaged}},
			actor:    customer,
			check: func(t *testing.T, err error) {
				var ise *models.InvalidStateError
				assert.ErrorAs(t, err, &ise)
			},
		},
		{
			name:     "someone else's order",
			order:    o,
			requests: []models.ReturnItemRequest{{OrderItemID: itemID, Quantity: 1, Reason: models.ReasonDamaged}},
			actor:    models.Actor{ID: "cust-2", Role: models.RoleCustomer},
			check: func(t *testing.T, err error) {
				assert.True(t, models.IsNotFound(err))
			},
		},
		{
			name:     "more than purchased",
			order:    o,
			requests: []models.ReturnItemRequest{{OrderItemID: itemID, Quantity: 3, Reason: models.ReasonDamaged}},
			actor:    customer,
			check: func(t *testing.T, err error) {
				var ve *models.ValidationError
				assert.ErrorAs(t, err, &ve)
			},
		},
		{
			name:     "unknown reason",
			order:    o,
			requests: []models.ReturnItemRequest{{OrderItemID: itemID, Quantity: 1, Reason: "capricho"}},
			actor:    customer,
			check: func(t *testing.T, err error) {
				var ve *models.ValidationError
				assert.ErrorAs(t, err, &ve)
			},
		},
		{
			name:     "unknown item",
			order:    o,
			requests: []models.ReturnItemRequest{{OrderItemID: "nope", Quantity: 1, Reason: models.ReasonOther}},
			actor:    customer,
			check: func(t *testing.T, err error) {
				assert.True(t, models.IsNotFound(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.NewReturn(models.ReturnDraft{Order: tt.order, Requests: tt.requests, Requester: tt.actor}, t0)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNewReturn_CountsLivePriorReturns(t *testing.T) {
	o := deliveredOrder(t)
	first := openReturn(t, o, 2)

	_, err := models.NewReturn(models.ReturnDraft{
		Order:     o,
		Requests:  []models.ReturnItemRequest{{OrderItemID: o.Items[0].ID, Quantity: 1, Reason: models.ReasonDamaged}},
		Prior:     []models.Return{*first},
		Requester: customer,
	}, t0)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)

	require.NoError(t, first.Cancel(customer, "me equivoqué", t0))
	again := openReturn(t, o, 1, *first)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestReturn_PartialInspection(t *testing.T) {
	o := deliveredOrder(t)
	pct := 50
	r := inspectedReturn(t, o, 1, models.InspectionPartialApproved, &pct)

	assert.Equal(t, models.ReturnRefundApproved, r.Status)
	assert.Equal(t, models.Money(25000), r.Totals.Approved)
	assert.Equal(t, models.Money(25000), r.Items[0].RefundAmount)
	assert.NoError(t, r.CheckTotals())
}

func TestReturn_RejectedInspectionCloses(t *testing.T) {
	o := deliveredOrder(t)
	r := inspectedReturn(t, o, 1, models.InspectionRejected, nil)

	assert.Equal(t, models.ReturnClosed, r.Status)
	assert.Zero(t, r.Totals.Approved)
	assert.Empty(t, r.RefundedQuantities())
}

func TestReturn_InspectionPercentRules(t *testing.T) {
	o := deliveredOrder(t)
	r := openReturn(t, o, 1)
	now := t0.Add(24 * time.Hour)
	require.NoError(t, r.Approve(admin, "", now.Add(time.Hour), now))
	require.NoError(t, r.MarkReceived(admin, models.ReceiptData{}, now))

	hundred := 100
	var ve *models.ValidationError
	assert.ErrorAs(t, r.InspectItem(o.Items[0].ID, models.InspectionPartialApproved, admin, "", &hundred, now), &ve)
	assert.ErrorAs(t, r.InspectItem(o.Items[0].ID, models.InspectionPartialApproved, admin, "", nil, now), &ve)
	assert.Equal(t, models.ReturnReceived, r.Status)
	assert.Nil(t, r.Items[0].Inspection)
}

func TestReturn_RefundLifecycle(t *testing.T) {
	o := deliveredOrder(t)
	r := inspectedReturn(t, o, 1, models.InspectionApproved, nil)
	now := t0.Add(72 * time.Hour)
	meta := models.RefundMeta{Method: models.InstrumentDebit, InstrumentID: "inst-1", Reference: "REF-1"}

	require.NoError(t, r.ProcessRefund(meta, admin, now))
	assert.False(t, r.CanCancel())

	var ise *models.InvalidStateError
	assert.ErrorAs(t, r.ProcessRefund(meta, admin, now), &ise)
	assert.ErrorAs(t, r.BeginRetry(admin, now), &ise)

	require.NoError(t, r.MarkRefundFailed("processor down", now))
	assert.True(t, r.Refund.NeedsRetry)
	assert.False(t, r.CanCancel())
	assert.ErrorAs(t, r.Cancel(admin, "ya no", now), &ise)
	assert.Equal(t, models.ReturnRefundProcessing, r.Status)
	require.NoError(t, r.BeginRetry(admin, now))
	assert.Equal(t, 2, r.Refund.Attempts)

	require.NoError(t, r.CompleteRefund(admin, "", now))
	assert.Equal(t, models.ReturnClosed, r.Status)
	assert.Equal(t, models.Money(50000), r.Totals.Refunded)
	assert.Equal(t, map[string]int{o.Items[0].ID: 1}, r.RefundedQuantities())

	historyLen := len(r.History)
	assert.ErrorAs(t, r.CompleteRefund(admin, "", now), &ise)
	assert.Len(t, r.History, historyLen)
	assert.Equal(t, models.Money(50000), r.Totals.Refunded)
}

func TestReturn_RejectAndTerminalStates(t *testing.T) {
	o := deliveredOrder(t)
	r := openReturn(t, o, 1)

	var ve *models.ValidationError
	assert.ErrorAs(t, r.Reject(admin, "", t0), &ve)
	require.NoError(t, r.Reject(admin, "fuera de política", t0))
	assert.True(t, r.Terminal())
	assert.False(t, r.CanCancel())

	var ise *models.InvalidStateError
	assert.ErrorAs(t, r.Approve(admin, "", t0, t0), &ise)
	assert.ErrorAs(t, r.AttachDocument(models.Document{URL: "https://x/y.jpg"}, t0), &ise)
}

func TestReturn_CancelOwnership(t *testing.T) {
	o := deliveredOrder(t)
	r := openReturn(t, o, 1)

	err := r.Cancel(models.Actor{ID: "cust-2", Role: models.RoleCustomer}, "x", t0)
	assert.True(t, models.IsNotFound(err))
	require.NoError(t, r.Cancel(admin, "duplicada", t0))
	assert.Equal(t, models.ReturnCancelled, r.Status)
}

func TestReturn_ShippingOverdue(t *testing.T) {
	o := deliveredOrder(t)
	r := openReturn(t, o, 1)
	deadline := t0.Add(10 * 24 * time.Hour)
	assert.False(t, r.ShippingOverdue(deadline.Add(time.Hour)))

	require.NoError(t, r.Approve(admin, "", deadline, t0))
	assert.False(t, r.ShippingOverdue(deadline))
	assert.True(t, r.ShippingOverdue(deadline.Add(time.Second)))

	require.NoError(t, r.MarkInTransit(customer, "GUIA", deadline))
	assert.False(t, r.ShippingOverdue(deadline.Add(time.Hour)))
}

func TestReturn_AttachDocument(t *testing.T) {
	o := deliveredOrder(t)
	r := openReturn(t, o, 1)

	err := r.AttachDocument(models.Document{Kind: "foto", URL: "https://x/y.jpg", UploadedBy: models.RoleCustomer, UploaderID: "cust-2"}, t0)
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, r.AttachDocument(models.Document{Kind: "foto", URL: "https://x/y.jpg", UploadedBy: models.RoleCustomer, UploaderID: "cust-1"}, t0))
	require.Len(t, r.Documents, 1)
	assert.Equal(t, t0, r.Documents[0].At)
}
