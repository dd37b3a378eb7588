package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OrderLineRequest is one product and quantity asked for by the caller.
type OrderLineRequest struct {
	ProductID string
	Quantity  int
}

// OrderLine is immutable once the order is created. Price is the unit price
// captured at placement time.
type OrderLine struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

func (l OrderLine) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID        string
	Customer  Customer
	Lines     []OrderLine
	CreatedAt time.Time
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Total())
	}
	return total
}

// PlaceOrderRequest is the input of a placement. RequestID is optional and
// enables duplicate detection when set.
type PlaceOrderRequest struct {
	RequestID  string
	CustomerID string
	Products   []OrderLineRequest
}

// MaxLineQuantity bounds the quantity of one product in an order, after
// repeated ids are merged. It fits the INT quantity columns and stays exact
// as a Lua number in the Redis inventory.
const MaxLineQuantity = math.MaxInt32

// NormalizeLineRequests validates quantities and merges repeated product ids,
// keeping the position of the first occurrence.
func NormalizeLineRequests(requests []OrderLineRequest) ([]OrderLineRequest, error) {
	if len(requests) == 0 {
		return nil, ErrNoProducts
	}
	return mergeLineRequests(requests)
}

// CheckQuantities reports whether every line, and every per-product sum,
// lies in 1..MaxLineQuantity.
func CheckQuantities(requests []OrderLineRequest) error {
	_, err := mergeLineRequests(requests)
	return err
}

func mergeLineRequests(requests []OrderLineRequest) ([]OrderLineRequest, error) {
	index := make(map[string]int, len(requests))
	merged := make([]OrderLineRequest, 0, len(requests))
	for _, req := range requests {
		if req.ProductID == "" {
			return nil, fmt.Errorf("%w: empty product id", ErrInvalidProducts)
		}
		if req.Quantity <= 0 || req.Quantity > MaxLineQuantity {
			return nil, fmt.Errorf("%w: product %s requested %d", ErrInvalidQuantity, req.ProductID, req.Quantity)
		}
		i, ok := index[req.ProductID]
		if !ok {
			index[req.ProductID] = len(merged)
			merged = append(merged, req)
			continue
		}
		if merged[i].Quantity > MaxLineQuantity-req.Quantity {
			return nil, fmt.Errorf("%w: product %s requested more than %d in total", ErrInvalidQuantity, req.ProductID, MaxLineQuantity)
		}
		merged[i].Quantity += req.Quantity
	}

	return merged, nil
}

// RequestedQuantities sums requested quantities per product id.
func RequestedQuantities(requests []OrderLineRequest) map[string]int {
	totals := make(map[string]int, len(requests))
	for _, req := range requests {
		totals[req.ProductID] += req.Quantity
	}
	return totals
}

// RequestedIDs returns the distinct product ids in first-seen order.
func RequestedIDs(requests []OrderLineRequest) []string {
	seen := make(map[string]struct{}, len(requests))
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		if _, ok := seen[req.ProductID]; ok {
			continue
		}
		seen[req.ProductID] = struct{}{}
		ids = append(ids, req.ProductID)
	}
	return ids
}
