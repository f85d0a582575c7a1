package repositories

import (
	"context"
	"time"

	"libreria/internal/models"
)

// Store groups the repositories a unit of work operates on.
type Store interface {
	Orders() OrderRepository
	Returns() ReturnRepository
	Inventory() InventoryRepository
	Balances() BalanceRepository
	Carts() CartRepository
	Instruments() InstrumentRepository
	Products() ProductRepository
	Outbox() OutboxRepository
}

// UnitOfWork runs fn atomically: every write made through the Store handed
// to fn is committed together, or none is when fn returns an error.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// OrderRepository defines the interface for order data access.
// Save fails with a ConflictError when the stored version moved on.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	ListByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
}

// ReturnRepository defines the interface for return data access.
type ReturnRepository interface {
	Create(ctx context.Context, ret *models.Return) error
	GetByID(ctx context.Context, id string) (*models.Return, error)
	GetByCode(ctx context.Context, code string) (*models.Return, error)
	GetByToken(ctx context.Context, token string) (*models.Return, error)
	Save(ctx context.Context, ret *models.Return) error
	ListByOrder(ctx context.Context, orderID string) ([]models.Return, error)
	ListAwaitingShipment(ctx context.Context, deadlineBefore time.Time) ([]models.Return, error)
}

// InventoryRepository persists stock counters and their movement history.
type InventoryRepository interface {
	Get(ctx context.Context, productID string) (*models.InventoryRecord, error)
	Create(ctx context.Context, record *models.InventoryRecord) error
	Save(ctx context.Context, record *models.InventoryRecord) error
	AppendMovement(ctx context.Context, mv *models.InventoryMovement) error
	ListMovements(ctx context.Context, productID string) ([]models.InventoryMovement, error)
}

// BalanceRepository persists stored balances and their movement history.
type BalanceRepository interface {
	Get(ctx context.Context, instrumentID string) (*models.BalanceRecord, error)
	Create(ctx context.Context, record *models.BalanceRecord) error
	Save(ctx context.Context, record *models.BalanceRecord) error
	AppendMovement(ctx context.Context, mv *models.BalanceMovement) error
	ListMovements(ctx context.Context, instrumentID string) ([]models.BalanceMovement, error)
}

// CartRepository defines the interface for cart data access.
type CartRepository interface {
	GetActiveByCustomer(ctx context.Context, customerID string) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	Save(ctx context.Context, cart *models.Cart) error
}

// InstrumentRepository defines the interface for payment instrument lookups.
type InstrumentRepository interface {
	GetByID(ctx context.Context, id string) (*models.PaymentInstrument, error)
	Create(ctx context.Context, instrument *models.PaymentInstrument) error
}

// ProductRepository is the read side of the catalog.
type ProductRepository interface {
	GetAll(ctx context.Context) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
}

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// OutboxRepository stores side effects until they are published.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *models.OutboxMessage) error
	PullPending(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause string, next *time.Time, dead bool) error
}
