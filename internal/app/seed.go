package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-service/internal/core/domain"
)

var demoCustomers = []domain.Customer{
	{ID: "C1", Name: "Ada Lovelace", Email: "ada@example.com"},
	{ID: "C2", Name: "Grace Hopper", Email: "grace@example.com"},
}

var demoProducts = []domain.Product{
	{ID: "P1", Name: "Mechanical keyboard", Price: decimal.RequireFromString("5.00"), Quantity: 10},
	{ID: "P2", Name: "Wireless mouse", Price: decimal.RequireFromString("2.50"), Quantity: 25},
	{ID: "P3", Name: "USB-C cable", Price: decimal.RequireFromString("0.99"), Quantity: 100},
}

// Seed writes the demo customers and products to the primary store and the
// demo products to every extra inventory. Existing rows with the same ids are
// overwritten.
func Seed(ctx context.Context, primary catalog, inventories ...productCatalog) error {
	for _, customer := range demoCustomers {
		if err := primary.SaveCustomer(ctx, customer); err != nil {
			return err
		}
	}
	for _, c := range append([]productCatalog{primary}, inventories...) {
		for _, product := range demoProducts {
			if err := c.SaveProduct(ctx, product); err != nil {
				return err
			}
		}
	}
	return nil
}
