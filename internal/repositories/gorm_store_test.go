package repositories_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"libreria/internal/database"
	"libreria/internal/models"
	"libreria/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGORMStore(t *testing.T) *repositories.GORMStore {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open("sqlite", dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repositories.NewGORMStore(db)
}

func sampleOrder(id, number string) *models.Order {
	return &models.Order{
		ID:         id,
		Number:     number,
		CustomerID: "cust-1",
		Status:     models.OrderPreparing,
		Items: []models.OrderItem{{
			ID: "item-1", ProductID: "book-1", Title: "Pedro Páramo", Quantity: 2,
			UnitPrice: 50000, DiscountPercent: decimal.NewFromInt(10), Status: models.ItemPending,
		}},
		Totals:  models.OrderTotals{Subtotal: 100000, SubtotalWithDiscounts: 90000, Shipping: 7000, Final: 97000},
		Payment: models.PaymentInfo{Method: models.InstrumentDebit, InstrumentID: "inst-1", Status: models.PaymentApproved, Amount: 97000},
		History: []models.Event{{At: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), Type: "orden_creada"}},
	}
}

func TestGORMStore_OrderRoundTripAndConflict(t *testing.T) {
	ctx := context.Background()
	store := newGORMStore(t)
	require.NoError(t, store.Orders().Create(ctx, sampleOrder("o-1", "ORD-1")))

	loaded, err := store.Orders().GetByNumber(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "Pedro Páramo", loaded.Items[0].Title)
	assert.True(t, loaded.Items[0].DiscountPercent.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, models.Money(97000), loaded.Totals.Final)
	assert.Equal(t, models.PaymentApproved, loaded.Payment.Status)

	stale, err := store.Orders().GetByID(ctx, "o-1")
	require.NoError(t, err)

	loaded.Status = models.OrderReadyToShip
	require.NoError(t, store.Orders().Save(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version)

	stale.Status = models.OrderCancelled
	err = store.Orders().Save(ctx, stale)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, int64(1), stale.Version)

	current, err := store.Orders().GetByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderReadyToShip, current.Status)

	_, err = store.Orders().GetByID(ctx, "missing")
	assert.True(t, models.IsNotFound(err))
}

func TestGORMStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := newGORMStore(t)
	require.NoError(t, store.Inventory().Create(ctx, &models.InventoryRecord{ProductID: "book-1", StockTotal: 3, StockAvailable: 3}))

	boom := errors.New("boom")
	err := store.Do(ctx, func(ctx context.Context, s repositories.Store) error {
		rec, err := s.Inventory().Get(ctx, "book-1")
		if err != nil {
			return err
		}
		if err := rec.Apply(models.MovementReservation, 3); err != nil {
			return err
		}
		if err := s.Inventory().Save(ctx, rec); err != nil {
			return err
		}
		if err := s.Outbox().Enqueue(ctx, &models.OutboxMessage{Topic: "audit.stock.reserva", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := store.Inventory().Get(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.StockAvailable)
	assert.Equal(t, int64(1), rec.Version)

	due, err := store.Outbox().PullPending(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestGORMStore_LedgerConflict(t *testing.T) {
	ctx := context.Background()
	store := newGORMStore(t)
	require.NoError(t, store.Balances().Create(ctx, &models.BalanceRecord{InstrumentID: "inst-1", Balance: 1000}))

	a, err := store.Balances().Get(ctx, "inst-1")
	require.NoError(t, err)
	b, err := store.Balances().Get(ctx, "inst-1")
	require.NoError(t, err)

	a.Balance = 500
	require.NoError(t, store.Balances().Save(ctx, a))
	b.Balance = 0
	assert.ErrorIs(t, store.Balances().Save(ctx, b), models.ErrConflict)

	require.NoError(t, store.Balances().AppendMovement(ctx, &models.BalanceMovement{InstrumentID: "inst-1", Type: models.BalanceDeposit, Amount: 1000}))
	require.NoError(t, store.Balances().AppendMovement(ctx, &models.BalanceMovement{InstrumentID: "inst-1", Type: models.BalancePurchase, Amount: -500}))
	moves, err := store.Balances().ListMovements(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, int64(1), moves[0].Sequence)
	assert.Equal(t, int64(2), moves[1].Sequence)
}

func TestGORMStore_ReturnsAwaitingShipment(t *testing.T) {
	ctx := context.Background()
	store := newGORMStore(t)
	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for i, r := range []models.Return{
		{ID: "r-1", Code: "DEV-1", TrackingToken: "t-1", OrderID: "o-1", Status: models.ReturnAwaitingShipment, ShippingDeadline: &past},
		{ID: "r-2", Code: "DEV-2", TrackingToken: "t-2", OrderID: "o-1", Status: models.ReturnAwaitingShipment, ShippingDeadline: &future},
		{ID: "r-3", Code: "DEV-3", TrackingToken: "t-3", OrderID: "o-1", Status: models.ReturnInTransit, ShippingDeadline: &past},
	} {
		r := r
		r.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Returns().Create(ctx, &r))
	}

	overdue, err := store.Returns().ListAwaitingShipment(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "DEV-1", overdue[0].Code)

	byToken, err := store.Returns().GetByToken(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, "r-2", byToken.ID)

	all, err := store.Returns().ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGORMUserRepository(t *testing.T) {
	ctx := context.Background()
	users := newGORMStore(t).Users()
	require.NoError(t, users.Create(ctx, &models.User{Username: "lector", Email: "lector@example.com", Password: "hash", Role: models.RoleCustomer}))

	u, err := users.GetByEmail(ctx, "lector@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.RoleCustomer, u.Role)

	_, err = users.GetByUsername(ctx, "nadie")
	assert.True(t, models.IsNotFound(err))
}
