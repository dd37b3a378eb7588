package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-service/internal/core/domain"
)

type memoryTxKey struct{}

type memoryTx struct {
	store *MemoryAdapter
	undo  []func()
}

// MemoryAdapter keeps customers, products and orders in maps guarded by one
// mutex. A transaction holds the mutex for its whole duration and replays an
// undo log when it fails.
type MemoryAdapter struct {
	mu        sync.Mutex
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
	}
}

func (m *MemoryAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (m *MemoryAdapter) txFrom(ctx context.Context) *memoryTx {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	if !ok || tx.store != m {
		return nil
	}
	return tx
}

// lock takes the mutex unless ctx already runs inside a transaction of m.
func (m *MemoryAdapter) lock(ctx context.Context) (*memoryTx, func()) {
	if tx := m.txFrom(ctx); tx != nil {
		return tx, func() {}
	}
	m.mu.Lock()
	return nil, m.mu.Unlock
}

func (m *MemoryAdapter) DecrementAndFetch(ctx context.Context, requests []domain.OrderLineRequest) ([]domain.Product, error) {
	tx, unlock := m.lock(ctx)
	defer unlock()

	var fetched []domain.Product
	for _, id := range domain.RequestedIDs(requests) {
		if p, ok := m.products[id]; ok {
			fetched = append(fetched, p)
		}
	}

	updated, err := domain.Decrement(fetched, requests)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range updated {
		previous := m.products[updated[i].ID]
		updated[i].UpdatedAt = now
		m.products[updated[i].ID] = updated[i]
		if tx != nil {
			tx.undo = append(tx.undo, func() { m.products[previous.ID] = previous })
		}
	}

	return updated, nil
}

func (m *MemoryAdapter) SaveProduct(ctx context.Context, p domain.Product) error {
	_, unlock := m.lock(ctx)
	defer unlock()

	now := time.Now().UTC()
	if existing, ok := m.products[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.products[p.ID] = p
	return nil
}

// GetProduct returns nil, nil for an unknown id.
func (m *MemoryAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	_, unlock := m.lock(ctx)
	defer unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryAdapter) SaveCustomer(ctx context.Context, c domain.Customer) error {
	_, unlock := m.lock(ctx)
	defer unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.customers[c.ID] = c
	return nil
}

func (m *MemoryAdapter) Customers() *MemoryCustomers {
	return &MemoryCustomers{store: m}
}

func (m *MemoryAdapter) Orders() *MemoryOrders {
	return &MemoryOrders{store: m}
}

type MemoryCustomers struct {
	store *MemoryAdapter
}

func (c *MemoryCustomers) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	_, unlock := c.store.lock(ctx)
	defer unlock()

	customer, ok := c.store.customers[id]
	if !ok {
		return nil, nil
	}
	return &customer, nil
}

type MemoryOrders struct {
	store *MemoryAdapter
}

func (o *MemoryOrders) Create(ctx context.Context, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error) {
	tx, unlock := o.store.lock(ctx)
	defer unlock()

	order := domain.Order{
		ID:        uuid.NewString(),
		Customer:  customer,
		Lines:     append([]domain.OrderLine(nil), lines...),
		CreatedAt: time.Now().UTC(),
	}
	o.store.orders[order.ID] = order
	if tx != nil {
		tx.undo = append(tx.undo, func() { delete(o.store.orders, order.ID) })
	}

	return order, nil
}

func (o *MemoryOrders) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	_, unlock := o.store.lock(ctx)
	defer unlock()

	order, ok := o.store.orders[id]
	if !ok {
		return nil, nil
	}
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return &order, nil
}

// Count returns the number of stored orders.
func (o *MemoryOrders) Count() int {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	return len(o.store.orders)
}
