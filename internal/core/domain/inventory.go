package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry together with its quantity on hand.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decrement validates fetched against the requested lines and returns copies
// of the products with their new quantities, ordered like the requests.
// fetched must hold the products found for the requested id set. Nothing is
// returned unless every line can be satisfied.
func Decrement(fetched []Product, requests []OrderLineRequest) ([]Product, error) {
	if err := CheckQuantities(requests); err != nil {
		return nil, err
	}

	ids := RequestedIDs(requests)
	if len(fetched) != len(ids) {
		return nil, fmt.Errorf("%w: requested %d products, found %d", ErrInvalidProducts, len(ids), len(fetched))
	}

	requested := RequestedQuantities(requests)
	byID := make(map[string]Product, len(fetched))
	for _, p := range fetched {
		quantity, ok := requested[p.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, p.ID)
		}
		if p.Quantity < quantity {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientQuantity, p.ID, p.Quantity, quantity)
		}
		p.Quantity -= quantity
		byID[p.ID] = p
	}

	updated := make([]Product, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidProducts, id)
		}
		updated = append(updated, p)
	}

	return updated, nil
}
