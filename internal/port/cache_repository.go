package port

import (
	"context"
	"errors"

	"github.com/rl1809/order-service/internal/core/domain"
)

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency frees a key so a failed request can be retried
	ClearIdempotency(ctx context.Context, key string) error
}

// StockReleaser is implemented by inventory stores that cannot join a
// Transactor transaction. Release restores stock taken by DecrementAndFetch.
type StockReleaser interface {
	Release(ctx context.Context, requests []domain.OrderLineRequest) error
}

// ErrReservationUnknown is returned by a StockReleaser store when it cannot
// tell whether a decrement was applied and could not settle it either way.
var ErrReservationUnknown = errors.New("stock reservation outcome unknown")
