package port

import (
	"context"

	"github.com/rl1809/order-service/internal/core/domain"
)

type EventPublisher interface {
	// PublishOrderPlaced hands the order off for delivery; it must not block on the broker
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
}
