package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/adapter/storage"
	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/core/service"
	"github.com/rl1809/order-service/internal/port"
)

const (
	customerID = "stress-customer"
	productID  = "stress-product"
)

type inventory interface {
	port.InventoryStore
	SaveProduct(ctx context.Context, p domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

func main() {
	initialStock := flag.Int("stock", 20, "initial stock of the product")
	totalRequests := flag.Int("requests", 50, "concurrent placements to run")
	redisAddr := flag.String("redis", "", "use the Redis inventory at this address instead of memory")
	flag.Parse()

	if err := run(*initialStock, *totalRequests, *redisAddr); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(initialStock, totalRequests int, redisAddr string) error {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment(zap.IncreaseLevel(zap.ErrorLevel))
	defer logger.Sync()

	store := storage.NewMemoryAdapter()
	if err := store.SaveCustomer(ctx, domain.Customer{ID: customerID, Name: "Stress Test"}); err != nil {
		return err
	}

	var stock inventory = store
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		stock = storage.NewRedisAdapter(rdb)
	}

	if err := stock.SaveProduct(ctx, domain.Product{
		ID:       productID,
		Name:     "Stress item",
		Price:    decimal.RequireFromString("1.00"),
		Quantity: initialStock,
	}); err != nil {
		return fmt.Errorf("set stock: %w", err)
	}

	orderService := service.NewOrderService(store.Customers(), stock, store.Orders(), store, service.WithLogger(logger))

	var successCount, soldOutCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := orderService.PlaceOrder(ctx, domain.PlaceOrderRequest{
				CustomerID: customerID,
				Products:   []domain.OrderLineRequest{{ProductID: productID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientQuantity):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	expectedSuccess := min(initialStock, totalRequests)
	success := int(successCount.Load())
	soldOut := int(soldOutCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", soldOut)
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Orders stored:    %d\n", store.Orders().Count())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success != expectedSuccess || soldOut != totalRequests-expectedSuccess {
		return fmt.Errorf("expected %d success/%d sold out, got %d/%d",
			expectedSuccess, totalRequests-expectedSuccess, success, soldOut)
	}
	if store.Orders().Count() != success {
		return fmt.Errorf("expected %d stored orders, got %d", success, store.Orders().Count())
	}

	final, err := stock.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("read final stock: %w", err)
	}
	if final == nil || final.Quantity != initialStock-expectedSuccess {
		return fmt.Errorf("expected final stock %d, got %+v", initialStock-expectedSuccess, final)
	}

	fmt.Printf("PASS: %d orders placed, no oversell, final stock %d\n", success, final.Quantity)
	return nil
}
