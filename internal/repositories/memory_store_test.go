package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"libreria/internal/models"
	"libreria/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedInventory(t *testing.T, uow repositories.UnitOfWork, productID string, total int) {
	t.Helper()
	err := uow.Do(context.Background(), func(ctx context.Context, store repositories.Store) error {
		return store.Inventory().Create(ctx, &models.InventoryRecord{ProductID: productID, StockTotal: total, StockAvailable: total})
	})
	require.NoError(t, err)
}

func TestMockStore_RollsBackEveryWriteOnError(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMockStore()
	seedInventory(t, store, "book-1", 5)

	boom := errors.New("boom")
	err := store.Do(ctx, func(ctx context.Context, s repositories.Store) error {
		rec, err := s.Inventory().Get(ctx, "book-1")
		require.NoError(t, err)
		require.NoError(t, rec.Apply(models.MovementReservation, 2))
		require.NoError(t, s.Inventory().Save(ctx, rec))
		require.NoError(t, s.Inventory().AppendMovement(ctx, &models.InventoryMovement{ProductID: "book-1", Type: models.MovementReservation, Quantity: 2}))
		require.NoError(t, s.Orders().Create(ctx, &models.Order{ID: "o-1", Number: "ORD-1", CustomerID: "c-1"}))
		require.NoError(t, s.Outbox().Enqueue(ctx, &models.OutboxMessage{Topic: "audit.stock.reserva"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := store.Inventory().Get(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.StockAvailable)
	assert.Equal(t, 0, rec.StockReserved)
	assert.Equal(t, int64(1), rec.Version)

	moves, err := store.Inventory().ListMovements(ctx, "book-1")
	require.NoError(t, err)
	assert.Empty(t, moves)
	_, err = store.Orders().GetByID(ctx, "o-1")
	assert.True(t, models.IsNotFound(err))
	assert.Empty(t, store.Messages())
}

func TestMockStore_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMockStore()

	assert.Panics(t, func() {
		_ = store.Do(ctx, func(ctx context.Context, s repositories.Store) error {
			require.NoError(t, s.Products().Create(ctx, &models.Product{ID: "p-1", Title: "Rayuela", Price: 100}))
			panic("unexpected")
		})
	})
	_, err := store.Products().GetByID(ctx, "p-1")
	assert.True(t, models.IsNotFound(err))

	// the store is usable again after the panic
	require.NoError(t, store.Do(ctx, func(ctx context.Context, s repositories.Store) error {
		return s.Products().Create(ctx, &models.Product{ID: "p-1", Title: "Rayuela", Price: 100})
	}))
}

func TestMockStore_VersionedSave(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMockStore()
	require.NoError(t, store.Orders().Create(ctx, &models.Order{ID: "o-1", Number: "ORD-1", CustomerID: "c-1"}))

	first, err := store.Orders().GetByID(ctx, "o-1")
	require.NoError(t, err)
	second, err := store.Orders().GetByID(ctx, "o-1")
	require.NoError(t, err)

	first.Status = models.OrderPreparing
	require.NoError(t, store.Orders().Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = models.OrderCancelled
	err = store.Orders().Save(ctx, second)
	assert.ErrorIs(t, err, models.ErrConflict)

	stored, err := store.Orders().GetByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPreparing, stored.Status)
}

func TestMockStore_FailOnFiresOnce(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMockStore()
	injected := errors.New("disk full")
	store.FailOn("outbox.Enqueue", injected)

	assert.ErrorIs(t, store.Outbox().Enqueue(ctx, &models.OutboxMessage{Topic: "x"}), injected)
	assert.NoError(t, store.Outbox().Enqueue(ctx, &models.OutboxMessage{Topic: "x"}))
	assert.Len(t, store.Messages(), 1)
}

func TestMockStore_BalanceSequence(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMockStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Balances().AppendMovement(ctx, &models.BalanceMovement{InstrumentID: "i-1", Type: models.BalanceDeposit, Amount: 10}))
	}
	require.NoError(t, store.Balances().AppendMovement(ctx, &models.BalanceMovement{InstrumentID: "i-2", Type: models.BalanceDeposit, Amount: 10}))

	moves, err := store.Balances().ListMovements(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, moves, 3)
	for i, mv := range moves {
		assert.Equal(t, int64(i+1), mv.Sequence)
	}
}

func TestMockOutbox_PullPendingHonoursBackoff(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMockStore()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	a := &models.OutboxMessage{Topic: "a"}
	b := &models.OutboxMessage{Topic: "b"}
	require.NoError(t, store.Outbox().Enqueue(ctx, a))
	require.NoError(t, store.Outbox().Enqueue(ctx, b))

	later := now.Add(time.Minute)
	require.NoError(t, store.Outbox().MarkFailed(ctx, a.ID, "broker down", &later, false))
	require.NoError(t, store.Outbox().MarkSent(ctx, b.ID, now))

	due, err := store.Outbox().PullPending(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.Outbox().PullPending(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].Topic)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, store.Outbox().MarkFailed(ctx, a.ID, "broker down", nil, true))
	due, err = store.Outbox().PullPending(ctx, later.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
