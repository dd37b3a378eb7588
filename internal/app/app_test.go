package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/order-service/internal/config"
	"github.com/rl1809/order-service/internal/core/domain"
)

func memoryConfig(seed bool) *config.Config {
	return &config.Config{
		HTTPAddr:         ":0",
		StoreDriver:      config.DriverMemory,
		PublishWorkers:   1,
		PublishQueueSize: 1,
		SeedDemo:         seed,
	}
}

func TestNew_MemoryWithDemoData(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(true), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	order, err := a.Service.PlaceOrder(ctx, domain.PlaceOrderRequest{
		CustomerID: "C1",
		Products:   []domain.OrderLineRequest{{ProductID: "P1", Quantity: 3}},
	})
	require.NoError(t, err)
	assert.True(t, order.Total().Equal(decimal.NewFromInt(15)))

	_, err = a.Service.PlaceOrder(ctx, domain.PlaceOrderRequest{
		CustomerID: "C1",
		Products:   []domain.OrderLineRequest{{ProductID: "P1", Quantity: 8}},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)

	assert.NotNil(t, a.HTTP)
	assert.NotNil(t, a.GRPC)
}

func TestNew_MemoryWithoutSeed(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(false), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Service.PlaceOrder(ctx, domain.PlaceOrderRequest{
		CustomerID: "C1",
		Products:   []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestNew_WarnsWhenIdempotencyDisabled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, err := New(context.Background(), memoryConfig(true), zap.New(core))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, logs.FilterMessageSnippet("idempotency disabled").Len())

	// Repeated keys are not detected on this deployment
	req := domain.PlaceOrderRequest{
		RequestID:  "repeat-1",
		CustomerID: "C1",
		Products:   []domain.OrderLineRequest{{ProductID: "P1", Quantity: 1}},
	}
	_, err = a.Service.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = a.Service.PlaceOrder(context.Background(), req)
	assert.NoError(t, err)
}

type recordingCatalog struct {
	customers []string
	products  []string
	err       error
}

func (r *recordingCatalog) SaveCustomer(ctx context.Context, c domain.Customer) error {
	r.customers = append(r.customers, c.ID)
	return r.err
}

func (r *recordingCatalog) SaveProduct(ctx context.Context, p domain.Product) error {
	r.products = append(r.products, p.ID)
	return r.err
}

type productsOnly struct {
	products []string
}

func (p *productsOnly) SaveProduct(ctx context.Context, product domain.Product) error {
	p.products = append(p.products, product.ID)
	return nil
}

func TestSeed(t *testing.T) {
	primary := &recordingCatalog{}
	inventory := &productsOnly{}

	require.NoError(t, Seed(context.Background(), primary, inventory))

	assert.Equal(t, []string{"C1", "C2"}, primary.customers)
	assert.Equal(t, []string{"P1", "P2", "P3"}, primary.products)
	assert.Equal(t, []string{"P1", "P2", "P3"}, inventory.products)
}

func TestSeed_StopsOnError(t *testing.T) {
	errDown := errors.New("store down")
	primary := &recordingCatalog{err: errDown}

	err := Seed(context.Background(), primary)
	assert.ErrorIs(t, err, errDown)
	assert.Len(t, primary.customers, 1)
	assert.Empty(t, primary.products)
}

func TestClose_ReverseOrder(t *testing.T) {
	var order []int
	a := &App{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("boom") },
	}}

	assert.Error(t, a.Close())
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, a.Close())
}
