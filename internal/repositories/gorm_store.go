package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GORMStore is a Store backed by a GORM connection. Inside Do, every
// repository shares the transaction handle.
type GORMStore struct {
	db *gorm.DB
}

// NewGORMStore creates a new instance of GORMStore.
func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

// Do runs fn inside a database transaction.
func (s *GORMStore) Do(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GORMStore{db: tx})
	})
}

func (s *GORMStore) Orders() OrderRepository { return NewGORMOrderRepository(s.db) }
func (s *GORMStore) Returns() ReturnRepository { return NewGORMReturnRepository(s.db) }
func (s *GORMStore) Inventory() InventoryRepository { return NewGORMInventoryRepository(s.db) }
func (s *GORMStore) Balances() BalanceRepository { return NewGORMBalanceRepository(s.db) }
func (s *GORMStore) Carts() CartRepository { return NewGORMCartRepository(s.db) }
func (s *GORMStore) Instruments() InstrumentRepository { return NewGORMInstrumentRepository(s.db) }
func (s *GORMStore) Products() ProductRepository { return NewGORMProductRepository(s.db) }
func (s *GORMStore) Outbox() OutboxRepository { return NewGORMOutboxRepository(s.db) }
func (s *GORMStore) Users() UserRepository { return NewGORMUserRepository(s.db) }

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
