package domain

import "errors"

var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrInvalidProducts      = errors.New("invalid products")
	ErrProductNotFound      = errors.New("product not found")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrPersistence          = errors.New("persistence error")

	ErrNoProducts       = errors.New("order has no products")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrOrderNotFound    = errors.New("order not found")
)

var placementErrors = []error{
	ErrCustomerNotFound,
	ErrInvalidProducts,
	ErrProductNotFound,
	ErrInsufficientQuantity,
	ErrPersistence,
	ErrNoProducts,
	ErrInvalidQuantity,
	ErrDuplicateRequest,
	ErrOrderNotFound,
}

// IsKnown reports whether err wraps one of the error kinds above.
func IsKnown(err error) bool {
	for _, target := range placementErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
