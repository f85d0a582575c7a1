package services_test

import (
	"testing"
	"time"

	"libreria/internal/models"
	"libreria/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnService_PartialReturnWithDebitRefund(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(2, 50000, homeDelivery, debitCard)
	f.deliver(order.ID)
	require.Equal(t, models.Money(93000), f.balance(debitCard).Balance)

	ret := f.inspectedReturn(order, 1)
	assert.Equal(t, models.Money(50000), ret.Totals.Approved)

	done, err := f.refunds.ProcessRefund(f.ctx, ret.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnClosed, done.Status)
	assert.Equal(t, models.Money(50000), done.Totals.Refunded)
	assert.Equal(t, "REF-"+ret.Code, done.Refund.Reference)
	require.NotNil(t, done.Refund.CompletedAt)

	view := f.balance(debitCard)
	assert.Equal(t, models.Money(143000), view.Balance)
	last := view.Movements[len(view.Movements)-1]
	assert.Equal(t, models.BalanceRefund, last.Type)
	assert.Equal(t, ret.ID, last.ReturnID)

	rec := f.stock()
	assert.Equal(t, 4, rec.StockTotal)
	assert.Equal(t, 1, rec.StockSold)

	stored, err := f.orders.GetOrder(f.ctx, order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, stored.Status)
	assert.Equal(t, models.PaymentPartialRefunded, stored.Payment.Status)
	assert.Equal(t, 1, stored.Items[0].ReturnedQuantity)
	assert.Contains(t, f.topics(), "notification.refund.completed")

	// completing again must not move money twice
	_, err = f.refunds.ProcessRefund(f.ctx, ret.ID, admin)
	var ise *models.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, models.Money(143000), f.balance(debitCard).Balance)

	// only the remaining unit can still be claimed
	_, err = f.returns.CreateReturn(f.ctx, services.CreateReturnRequest{
		OrderID: order.ID,
		Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 2, Reason: models.ReasonChangedMind}},
	}, customer)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)

	second := f.inspectedReturn(order, 1)
	_, err = f.refunds.ProcessRefund(f.ctx, second.ID, admin)
	require.NoError(t, err)
	stored, err = f.orders.GetOrder(f.ctx, order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Payment.Status)
	assert.Equal(t, models.ItemReturned, stored.Items[0].Status)
	assert.Equal(t, models.Money(193000), f.balance(debitCard).Balance)
}

func TestReturnService_CreditRefundFailureIsParkedAndRetried(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(2, 50000, storePickup, creditCard)
	f.deliver(order.ID)
	ret := f.inspectedReturn(order, 2)
	f.processor.FailNext("credit", nil)

	_, err := f.refunds.ProcessRefund(f.ctx, ret.ID, admin)
	var ext *models.ExternalProcessorError
	require.ErrorAs(t, err, &ext)
	assert.True(t, ext.NeedsRetry)

	parked, err := f.returns.GetReturn(f.ctx, ret.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnRefundProcessing, parked.Status)
	assert.True(t, parked.Refund.NeedsRetry)
	assert.NotEmpty(t, parked.Refund.LastError)
	assert.Equal(t, 3, f.stock().StockTotal)

	_, err = f.returns.Cancel(f.ctx, ret.ID, "ya no", customer)
	var ise *models.InvalidStateError
	require.ErrorAs(t, err, &ise)

	done, err := f.refunds.RetryRefund(f.ctx, ret.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnClosed, done.Status)
	assert.Equal(t, 2, done.Refund.Attempts)
	assert.False(t, done.Refund.NeedsRetry)

	var credits []string
	for _, c := range f.processor.Calls() {
		if c.Operation == "credit" {
			credits = append(credits, c.IdempotencyKey)
			assert.Equal(t, models.Money(100000), c.Amount)
		}
	}
	assert.Equal(t, []string{"REF-" + ret.Code}, credits)
	assert.Equal(t, 5, f.stock().StockTotal)

	stored, err := f.orders.GetOrder(f.ctx, order.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Payment.Status)

	_, err = f.refunds.RetryRefund(f.ctx, ret.ID, admin)
	assert.ErrorAs(t, err, &ise)
}

func TestReturnService_PartialInspectionRefundsPercentage(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(1, 50000, homeDelivery, debitCard)
	f.deliver(order.ID)

	ret, err := f.returns.CreateReturn(f.ctx, services.CreateReturnRequest{
		OrderID: order.ID,
		Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 1, Reason: models.ReasonDefective}},
	}, customer)
	require.NoError(t, err)
	_, err = f.returns.Approve(f.ctx, ret.ID, "", admin)
	require.NoError(t, err)
	_, err = f.returns.Receive(f.ctx, ret.ID, models.ReceiptData{}, admin)
	require.NoError(t, err)
	pct := 40
	ret, err = f.returns.Inspect(f.ctx, ret.ID, services.InspectRequest{
		OrderItemID: order.Items[0].ID, Outcome: models.InspectionPartialApproved, RefundPercent: &pct,
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.Money(20000), ret.Totals.Approved)
	assert.Contains(t, f.topics(), "notification.return.inspected")

	_, err = f.refunds.ProcessRefund(f.ctx, ret.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.Money(143000+20000), f.balance(debitCard).Balance)
}

func TestReturnService_RejectedInspectionClosesWithoutRefund(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(1, 50000, homeDelivery, debitCard)
	f.deliver(order.ID)

	ret, err := f.returns.CreateReturn(f.ctx, services.CreateReturnRequest{
		OrderID: order.ID,
		Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 1, Reason: models.ReasonChangedMind}},
	}, customer)
	require.NoError(t, err)
	_, err = f.returns.Approve(f.ctx, ret.ID, "", admin)
	require.NoError(t, err)
	_, err = f.returns.Receive(f.ctx, ret.ID, models.ReceiptData{}, admin)
	require.NoError(t, err)
	ret, err = f.returns.Inspect(f.ctx, ret.ID, services.InspectRequest{OrderItemID: order.Items[0].ID, Outcome: models.InspectionRejected, Notes: "libro subrayado"}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnClosed, ret.Status)

	_, err = f.refunds.ProcessRefund(f.ctx, ret.ID, admin)
	var ise *models.InvalidStateError
	assert.ErrorAs(t, err, &ise)
	assert.Equal(t, models.Money(143000), f.balance(debitCard).Balance)
}

func TestReturnService_WindowAndOwnership(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(1, 50000, homeDelivery, debitCard)
	req := services.CreateReturnRequest{
		OrderID: order.ID,
		Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 1, Reason: models.ReasonDamaged}},
	}

	_, err := f.returns.CreateReturn(f.ctx, req, customer)
	var ise *models.InvalidStateError
	require.ErrorAs(t, err, &ise)

	f.deliver(order.ID)
	_, err = f.returns.CreateReturn(f.ctx, req, stranger)
	assert.True(t, models.IsNotFound(err))

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.returns.CreateReturn(f.ctx, req, customer)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "return window")
}

func TestReturnService_RejectAndCancel(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(2, 50000, homeDelivery, debitCard)
	f.deliver(order.ID)
	req := services.CreateReturnRequest{
		OrderID: order.ID,
		Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 2, Reason: models.ReasonWrongItem}},
	}

	ret, err := f.returns.CreateReturn(f.ctx, req, customer)
	require.NoError(t, err)
	rejected, err := f.returns.Reject(f.ctx, ret.ID, "fuera de política", admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnRejected, rejected.Status)

	// rejected returns do not hold on to the units
	ret, err = f.returns.CreateReturn(f.ctx, req, customer)
	require.NoError(t, err)
	_, err = f.returns.AttachDocument(f.ctx, ret.ID, services.AttachDocumentRequest{Kind: "foto", URL: "https://cdn.example.com/dano.jpg"}, customer)
	require.NoError(t, err)
	cancelled, err := f.returns.Cancel(f.ctx, ret.ID, "lo conservo", customer)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnCancelled, cancelled.Status)
	assert.Len(t, cancelled.Documents, 1)

	_, err = f.returns.GetReturn(f.ctx, ret.ID, stranger)
	assert.True(t, models.IsNotFound(err))
}

func TestReturnService_ExpireOverdue(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(2, 50000, homeDelivery, debitCard)
	f.deliver(order.ID)

	open := func() *models.Return {
		ret, err := f.returns.CreateReturn(f.ctx, services.CreateReturnRequest{
			OrderID: order.ID,
			Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 1, Reason: models.ReasonDamaged}},
		}, customer)
		require.NoError(t, err)
		ret, err = f.returns.Approve(f.ctx, ret.ID, "", admin)
		require.NoError(t, err)
		return ret
	}
	idle := open()
	shipped := open()
	_, err := f.returns.MarkInTransit(f.ctx, shipped.ID, "GUIA-1", customer)
	require.NoError(t, err)

	n, err := f.returns.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(16 * 24 * time.Hour)
	n, err = f.returns.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.returns.GetReturn(f.ctx, idle.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnCancelled, got.Status)
	last := got.History[len(got.History)-1]
	assert.Equal(t, string(models.RoleSystem), string(last.Role))

	got, err = f.returns.GetReturn(f.ctx, shipped.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnInTransit, got.Status)
}
