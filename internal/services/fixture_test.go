package services_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"libreria/internal/locking"
	"libreria/internal/models"
	"libreria/internal/payments"
	"libreria/internal/repositories"
	"libreria/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	customer = models.Actor{ID: "cust-1", Role: models.RoleCustomer}
	stranger = models.Actor{ID: "cust-2", Role: models.RoleCustomer}
	admin    = models.Actor{ID: "admin-1", Role: models.RoleAdmin}

	homeDelivery = models.ShippingSelection{Mode: models.ShippingHome, Address: "Carrera 7 # 12-34, Bogotá"}
	storePickup  = models.ShippingSelection{Mode: models.ShippingPickup, StoreID: "tienda-centro"}
)

const (
	debitCard  = "inst-debit"
	creditCard = "inst-credit"
	bookID     = "book-1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *repositories.MockStore
	processor *payments.SimulatedProcessor
	clock     *clock
	deps      services.Deps

	instruments *services.InstrumentService
	products    *services.ProductService
	checkout    *services.CheckoutService
	orders      *services.OrderService
	returns     *services.ReturnService
	refunds     *services.RefundService
	tracking    *services.TrackingService
}

// newFixture seeds one title with five units, a debit card holding 200,000
// and a credit card, both owned by customer.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     repositories.NewMockStore(),
		processor: payments.NewSimulatedProcessor(),
		clock:     &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	deps := services.Deps{
		UoW:         f.store,
		Locker:      locking.NewMemoryLocker(),
		Logger:      logger,
		Now:         f.clock.Now,
		MaxAttempts: 3,
	}
	f.deps = deps
	f.instruments = services.NewInstrumentService(deps)
	f.products = services.NewProductService(deps)
	f.checkout = services.NewCheckoutService(deps, f.instruments, f.processor, 7000)
	f.orders = services.NewOrderService(deps, f.instruments, f.processor)
	f.returns = services.NewReturnService(deps, services.ReturnPolicy{Window: 30 * 24 * time.Hour, ShippingDays: 15})
	f.refunds = services.NewRefundService(deps, f.instruments, f.processor)
	f.tracking = services.NewTrackingService(deps)

	require.NoError(t, f.store.Products().Create(f.ctx, &models.Product{ID: bookID, Title: "El amor en los tiempos del cólera", Author: "Gabriel García Márquez", Price: 50000}))
	_, err := f.products.Restock(f.ctx, bookID, 5, admin)
	require.NoError(t, err)

	for _, inst := range []models.PaymentInstrument{
		{ID: debitCard, CustomerID: customer.ID, Type: models.InstrumentDebit, Brand: "Maestro", Last4: "1111", Active: true},
		{ID: creditCard, CustomerID: customer.ID, Type: models.InstrumentCredit, Brand: "Visa", Last4: "4242", Active: true, ExpMonth: 12, ExpYear: 2030},
	} {
		inst := inst
		require.NoError(t, f.store.Instruments().Create(f.ctx, &inst))
	}
	_, err = f.instruments.Deposit(f.ctx, debitCard, 200000, "saldo inicial", admin)
	require.NoError(t, err)
	return f
}

func (f *fixture) fillCart(customerID string, qty int, unitPrice models.Money) {
	f.t.Helper()
	require.NoError(f.t, f.store.Carts().Create(f.ctx, &models.Cart{
		CustomerID: customerID,
		Items:      []models.CartItem{{ProductID: bookID, Quantity: qty, UnitPrice: unitPrice}},
	}))
}

func (f *fixture) placeOrder(qty int, unitPrice models.Money, shipping models.ShippingSelection, instrumentID string) *models.Order {
	f.t.Helper()
	f.fillCart(customer.ID, qty, unitPrice)
	order, err := f.checkout.Checkout(f.ctx, services.CheckoutRequest{
		CustomerID:   customer.ID,
		Shipping:     shipping,
		InstrumentID: instrumentID,
	})
	require.NoError(f.t, err)
	return order
}

func (f *fixture) deliver(orderID string) *models.Order {
	f.t.Helper()
	_, err := f.orders.Ship(f.ctx, orderID, models.ShippingData{Carrier: "Servientrega", TrackingNumber: "SRV-123"}, admin)
	require.NoError(f.t, err)
	f.clock.Advance(48 * time.Hour)
	order, err := f.orders.MarkDelivered(f.ctx, orderID, nil, admin)
	require.NoError(f.t, err)
	return order
}

// inspectedReturn opens a return of qty units of the order's first line
// and walks it to reembolso_aprobado.
func (f *fixture) inspectedReturn(order *models.Order, qty int) *models.Return {
	f.t.Helper()
	ret, err := f.returns.CreateReturn(f.ctx, services.CreateReturnRequest{
		OrderID: order.ID,
		Items:   []models.ReturnItemRequest{{OrderItemID: order.Items[0].ID, Quantity: qty, Reason: models.ReasonDamaged}},
	}, customer)
	require.NoError(f.t, err)
	_, err = f.returns.Approve(f.ctx, ret.ID, "aprobada", admin)
	require.NoError(f.t, err)
	_, err = f.returns.MarkInTransit(f.ctx, ret.ID, "GUIA-77", customer)
	require.NoError(f.t, err)
	_, err = f.returns.Receive(f.ctx, ret.ID, models.ReceiptData{Notes: "caja abierta"}, admin)
	require.NoError(f.t, err)
	ret, err = f.returns.Inspect(f.ctx, ret.ID, services.InspectRequest{OrderItemID: order.Items[0].ID, Outcome: models.InspectionApproved}, admin)
	require.NoError(f.t, err)
	require.Equal(f.t, models.ReturnRefundApproved, ret.Status)
	return ret
}

func (f *fixture) balance(instrumentID string) *services.BalanceView {
	f.t.Helper()
	view, err := f.instruments.GetBalance(f.ctx, instrumentID, admin)
	require.NoError(f.t, err)
	return view
}

func (f *fixture) stock() *models.InventoryRecord {
	f.t.Helper()
	rec, err := f.store.Inventory().Get(f.ctx, bookID)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) topics() []string {
	var out []string
	for _, msg := range f.store.Messages() {
		out = append(out, msg.Topic)
	}
	return out
}
