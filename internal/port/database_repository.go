package port

import (
	"context"

	"github.com/rl1809/order-service/internal/core/domain"
)

type CustomerDirectory interface {
	// FindByID returns nil, nil when no customer has the given id
	FindByID(ctx context.Context, id string) (*domain.Customer, error)
}

type InventoryStore interface {
	// DecrementAndFetch validates every requested quantity against stock and
	// decrements all of them atomically, returning the updated products in
	// request order. Either all products are decremented or none are.
	DecrementAndFetch(ctx context.Context, requests []domain.OrderLineRequest) ([]domain.Product, error)
}

type OrderStore interface {
	// Create persists the order and its lines and assigns the order id
	Create(ctx context.Context, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error)

	// FindByID returns nil, nil when the order does not exist
	FindByID(ctx context.Context, id string) (*domain.Order, error)
}

type Transactor interface {
	// WithinTransaction runs fn so that the store calls it makes through ctx
	// commit or roll back together
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
