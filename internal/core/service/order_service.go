package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:order:"
	releaseTimeout       = 5 * time.Second
)

type OrderService struct {
	customers   port.CustomerDirectory
	inventory   port.InventoryStore
	orders      port.OrderStore
	tx          port.Transactor
	idempotency port.IdempotencyStore
	events      port.EventPublisher
	logger      *zap.Logger
	tracer      trace.Tracer
}

type Option func(*OrderService)

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *OrderService) { s.idempotency = store }
}

func WithEventPublisher(publisher port.EventPublisher) Option {
	return func(s *OrderService) { s.events = publisher }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *OrderService) { s.logger = logger }
}

// NewOrderService wires the placement use case. A nil transactor runs each
// placement without a shared transaction.
func NewOrderService(customers port.CustomerDirectory, inventory port.InventoryStore, orders port.OrderStore, tx port.Transactor, opts ...Option) *OrderService {
	s := &OrderService{
		customers: customers,
		inventory: inventory,
		orders:    orders,
		tx:        tx,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("order-service"),
	}
	if s.tx == nil {
		s.tx = noTransaction{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.Int("order.requested_lines", len(req.Products)),
	)

	order, err := s.placeOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("order placement failed",
			zap.String("customer_id", req.CustomerID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return domain.Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.Customer.ID),
		zap.Int("lines", len(order.Lines)),
		zap.String("total", order.Total().String()),
	)
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req domain.PlaceOrderRequest) (_ domain.Order, err error) {
	customer, err := s.customers.FindByID(ctx, req.CustomerID)
	if err != nil {
		return domain.Order{}, classify(fmt.Errorf("find customer: %w", err))
	}
	if customer == nil {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, req.CustomerID)
	}

	requests, err := domain.NormalizeLineRequests(req.Products)
	if err != nil {
		return domain.Order{}, err
	}

	if req.RequestID != "" && s.idempotency != nil {
		key := idempotencyKeyPrefix + req.RequestID

		ok, setErr := s.idempotency.SetIdempotency(ctx, key)
		if setErr != nil {
			return domain.Order{}, fmt.Errorf("%w: idempotency check failed: %w", domain.ErrPersistence, setErr)
		}
		if !ok {
			return domain.Order{}, domain.ErrDuplicateRequest
		}
		defer func() {
			if err != nil {
				s.clearIdempotency(ctx, key)
			}
		}()
	}

	var (
		order    domain.Order
		reserved bool
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		products, err := s.inventory.DecrementAndFetch(ctx, requests)
		if err != nil {
			return err
		}
		reserved = true

		order, err = s.orders.Create(ctx, *customer, s.buildOrderLines(products, requests))
		if err != nil {
			return fmt.Errorf("%w: create order: %w", domain.ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		switch {
		case reserved:
			s.releaseStock(ctx, requests)
		case errors.Is(err, port.ErrReservationUnknown):
			s.logger.Error("CRITICAL stock reservation outcome unknown, reconcile inventory",
				zap.String("customer_id", customer.ID),
				zap.Any("requests", requests),
				zap.Error(err),
			)
		}
		return domain.Order{}, classify(err)
	}

	s.publish(ctx, order)
	return order, nil
}

// buildOrderLines pairs each decremented product with its requested quantity.
// A product without a matching request falls back to its remaining quantity
// on hand; stores never return such a product, so the fallback is logged.
func (s *OrderService) buildOrderLines(products []domain.Product, requests []domain.OrderLineRequest) []domain.OrderLine {
	requested := domain.RequestedQuantities(requests)

	lines := make([]domain.OrderLine, 0, len(products))
	for _, p := range products {
		quantity, ok := requested[p.ID]
		if !ok {
			s.logger.Warn("decremented product missing from request, using quantity on hand",
				zap.String("product_id", p.ID),
				zap.Int("quantity", p.Quantity),
			)
			quantity = p.Quantity
		}
		lines = append(lines, domain.OrderLine{
			ProductID: p.ID,
			Price:     p.Price,
			Quantity:  quantity,
		})
	}
	return lines
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, classify(fmt.Errorf("find order: %w", err))
	}
	if order == nil {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return *order, nil
}

func (s *OrderService) releaseStock(ctx context.Context, requests []domain.OrderLineRequest) {
	releaser, ok := s.inventory.(port.StockReleaser)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := releaser.Release(ctx, requests); err != nil {
		s.logger.Error("CRITICAL stock release failed", zap.Any("requests", requests), zap.Error(err))
		return
	}
	s.logger.Info("released stock after failed placement", zap.Int("lines", len(requests)))
}

func (s *OrderService) clearIdempotency(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.idempotency.ClearIdempotency(ctx, key); err != nil {
		s.logger.Warn("failed to clear idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (s *OrderService) publish(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderPlaced(ctx, order); err != nil {
		s.logger.Warn("failed to publish order placed event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// classify surfaces store failures that carry no error kind as ErrPersistence.
func classify(err error) error {
	if domain.IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

type noTransaction struct{}

func (noTransaction) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
