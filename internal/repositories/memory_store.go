package repositories

import (
	"context"
	"fmt"
	"sync"

	"libreria/internal/models"
)

// MockStore is an in-memory Store. Units of work run one at a time and
// every write made inside one is journaled so it can be undone in reverse
// order when the unit fails. Reads outside a unit of work are not isolated
// from a unit in progress.
type MockStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	data *memoryData

	failMu sync.Mutex
	fail   map[string]error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		data: newMemoryData(),
		fail: make(map[string]error),
	}
}

// FailOn makes the next call of the named operation (for example
// "carts.Save") return err. It is used to exercise rollback paths.
func (s *MockStore) FailOn(operation string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.fail[operation] = err
}

func (s *MockStore) injected(operation string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err, ok := s.fail[operation]
	if !ok {
		return nil
	}
	delete(s.fail, operation)
	return err
}

// Do runs fn inside an in-memory unit of work.
func (s *MockStore) Do(ctx context.Context, fn func(ctx context.Context, store Store) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(j)
			panic(p)
		}
		if err != nil {
			s.rollback(j)
		}
	}()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unit of work not started: %w", err)
	}
	return fn(ctx, &memoryScope{s: s, j: j})
}

func (s *MockStore) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.undo()
}

func (s *MockStore) scope() *memoryScope { return &memoryScope{s: s} }

func (s *MockStore) Orders() OrderRepository { return s.scope().Orders() }
func (s *MockStore) Returns() ReturnRepository { return s.scope().Returns() }
func (s *MockStore) Inventory() InventoryRepository { return s.scope().Inventory() }
func (s *MockStore) Balances() BalanceRepository { return s.scope().Balances() }
func (s *MockStore) Carts() CartRepository { return s.scope().Carts() }
func (s *MockStore) Instruments() InstrumentRepository { return s.scope().Instruments() }
func (s *MockStore) Products() ProductRepository { return s.scope().Products() }
func (s *MockStore) Outbox() OutboxRepository { return s.scope().Outbox() }
func (s *MockStore) Users() UserRepository { return &MockUserRepository{memoryScope: memoryScope{s: s}} }

type memoryData struct {
	orders      map[string]models.Order
	returns     map[string]models.Return
	inventory   map[string]models.InventoryRecord
	invMoves    []models.InventoryMovement
	balances    map[string]models.BalanceRecord
	balMoves    []models.BalanceMovement
	carts       map[string]models.Cart
	instruments map[string]models.PaymentInstrument
	products    map[string]models.Product
	users       map[string]models.User
	outbox      []models.OutboxMessage
}

func newMemoryData() *memoryData {
	return &memoryData{
		orders:      make(map[string]models.Order),
		returns:     make(map[string]models.Return),
		inventory:   make(map[string]models.InventoryRecord),
		balances:    make(map[string]models.BalanceRecord),
		carts:       make(map[string]models.Cart),
		instruments: make(map[string]models.PaymentInstrument),
		products:    make(map[string]models.Product),
		users:       make(map[string]models.User),
	}
}

// journal collects undo closures. They run with the store's write lock held.
type journal struct {
	entries []func()
}

func (j *journal) record(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

func (j *journal) undo() {
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i]()
	}
	j.entries = nil
}

// memoryScope binds repositories to a journal; a nil journal means writes
// are applied directly.
type memoryScope struct {
	s *MockStore
	j *journal
}

func (m *memoryScope) Orders() OrderRepository { return &MockOrderRepository{memoryScope: *m} }
func (m *memoryScope) Returns() ReturnRepository { return &MockReturnRepository{memoryScope: *m} }
func (m *memoryScope) Inventory() InventoryRepository { return &MockInventoryRepository{memoryScope: *m} }
func (m *memoryScope) Balances() BalanceRepository { return &MockBalanceRepository{memoryScope: *m} }
func (m *memoryScope) Carts() CartRepository { return &MockCartRepository{memoryScope: *m} }
func (m *memoryScope) Instruments() InstrumentRepository { return &MockInstrumentRepository{memoryScope: *m} }
func (m *memoryScope) Products() ProductRepository { return &MockProductRepository{memoryScope: *m} }
func (m *memoryScope) Outbox() OutboxRepository { return &MockOutboxRepository{memoryScope: *m} }

// put stores v under key in table and journals the previous value.
func put[V any](m memoryScope, table map[string]V, key string, v V) {
	prev, existed := table[key]
	table[key] = v
	m.j.record(func() {
		if existed {
			table[key] = prev
		} else {
			delete(table, key)
		}
	})
}

// push appends v to *list and journals the truncation.
func push[V any](m memoryScope, list *[]V, v V) {
	n := len(*list)
	*list = append(*list, v)
	m.j.record(func() { *list = (*list)[:n] })
}
