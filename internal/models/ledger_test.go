package models_test

import (
	"testing"

	"libreria/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryRecord_Apply(t *testing.T) {
	r := &models.InventoryRecord{ProductID: "book-1"}
	require.NoError(t, r.Apply(models.MovementRestock, 5))
	assert.Equal(t, 5, r.StockAvailable)

	require.NoError(t, r.Apply(models.MovementReservation, 2))
	assert.Equal(t, 2, r.StockReserved)
	assert.Equal(t, 3, r.StockAvailable)

	require.NoError(t, r.Apply(models.MovementSaleConfirmation, 2))
	assert.Equal(t, 3, r.StockTotal)
	assert.Equal(t, 0, r.StockReserved)
	assert.Equal(t, 2, r.StockSold)

	require.NoError(t, r.Apply(models.MovementReturnCredit, 1))
	assert.Equal(t, 4, r.StockTotal)
	assert.Equal(t, 4, r.StockAvailable)
	assert.Equal(t, 1, r.StockSold)
	assert.Equal(t, r.StockTotal-r.StockReserved, r.StockAvailable)
}

func TestInventoryRecord_ReservationShortfalls(t *testing.T) {
	tests := []struct {
		name   string
		record models.InventoryRecord
		want   models.StockShortfall
	}{
		{"no stock", models.InventoryRecord{ProductID: "b"}, models.ShortfallNone},
		{"partial", models.InventoryRecord{ProductID: "b", StockTotal: 1, StockAvailable: 1}, models.ShortfallPartial},
		{"held by others", models.InventoryRecord{ProductID: "b", StockTotal: 2, StockReserved: 2}, models.ShortfallReserved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.record
			err := r.Apply(models.MovementReservation, 2)
			var ise *models.InsufficientStockError
			require.ErrorAs(t, err, &ise)
			assert.Equal(t, tt.want, ise.Shortfall)
			assert.Equal(t, tt.record, r)
		})
	}
}

func TestInventoryRecord_RejectsBrokenInvariant(t *testing.T) {
	r := &models.InventoryRecord{ProductID: "b", StockTotal: 1, StockAvailable: 1}
	before := *r
	assert.Error(t, r.Apply(models.MovementReservationRelease, 1))
	assert.Error(t, r.Apply(models.MovementSaleConfirmation, 1))
	assert.Error(t, r.Apply(models.MovementRestock, 0))
	assert.Equal(t, before, *r)
}

func TestBalanceRecord_PostAndVerify(t *testing.T) {
	rec := models.BalanceRecord{InstrumentID: "inst-1"}
	var history []models.BalanceMovement

	post := func(kind models.BalanceMovementType, amount models.Money) error {
		mv, err := rec.Post(kind, amount)
		if err == nil {
			history = append(history, mv)
		}
		return err
	}
	require.NoError(t, post(models.BalanceDeposit, 200000))
	require.NoError(t, post(models.BalancePurchase, -107000))
	require.NoError(t, post(models.BalanceRefund, 50000))
	assert.Equal(t, models.Money(143000), rec.Balance)

	err := post(models.BalanceWithdrawal, -143001)
	var fe *models.InsufficientFundsError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.Money(143000), rec.Balance)

	var ve *models.ValidationError
	assert.ErrorAs(t, post(models.BalanceDeposit, -1), &ve)
	assert.ErrorAs(t, post(models.BalancePurchase, 1), &ve)
	assert.ErrorAs(t, post(models.BalanceAdjustment, 0), &ve)

	require.NoError(t, models.VerifyHistory(rec, history))

	tampered := append([]models.BalanceMovement(nil), history...)
	tampered[1].BalanceAfter++
	assert.Error(t, models.VerifyHistory(rec, tampered))
	assert.Error(t, models.VerifyHistory(models.BalanceRecord{InstrumentID: "inst-1", Balance: 1}, history))
}
