package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/order-service/internal/core/domain"
)

const EventTypeOrderPlaced = "order.placed"

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

type OrderPlacedEvent struct {
	OrderID    string           `json:"order_id"`
	CustomerID string           `json:"customer_id"`
	Lines      []OrderLineEvent `json:"lines"`
	Total      string           `json:"total"`
	CreatedAt  time.Time        `json:"created_at"`
}

type OrderLineEvent struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

func NewOrderPlacedEvent(order domain.Order) OrderPlacedEvent {
	lines := make([]OrderLineEvent, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineEvent{
			ProductID: line.ProductID,
			Price:     line.Price.StringFixed(2),
			Quantity:  line.Quantity,
		})
	}
	return OrderPlacedEvent{
		OrderID:    order.ID,
		CustomerID: order.Customer.ID,
		Lines:      lines,
		Total:      order.Total().StringFixed(2),
		CreatedAt:  order.CreatedAt,
	}
}

// KafkaPublisher writes one message per order, keyed by order id so every
// event for an order lands on the same partition.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(NewOrderPlacedEvent(order))
	if err != nil {
		return fmt.Errorf("marshal order placed event: %w", err)
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(EventTypeOrderPlaced)}}
	msg := kafka.Message{
		Key:     []byte(order.ID),
		Value:   payload,
		Headers: InjectTraceHeaders(ctx, headers),
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order %s: %w", order.ID, err)
	}
	return nil
}

func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func ExtractTraceHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
