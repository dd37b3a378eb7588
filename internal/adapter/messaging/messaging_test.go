package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/order-service/internal/core/domain"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeProducer) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	orders  []string
}

func (b *blockingPublisher) Publish(ctx context.Context, order domain.Order) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, order.ID)
	return nil
}

func sampleOrder(id string) domain.Order {
	return domain.Order{
		ID:       id,
		Customer: domain.Customer{ID: "C1", Name: "Ada"},
		Lines: []domain.OrderLine{
			{ProductID: "P1", Price: decimal.RequireFromString("5"), Quantity: 3},
			{ProductID: "P2", Price: decimal.RequireFromString("2.5"), Quantity: 1},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &fakeProducer{}
	publisher := NewKafkaPublisher(producer)

	require.NoError(t, publisher.Publish(context.Background(), sampleOrder("O1")))

	msgs := producer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "O1", string(msgs[0].Key))
	assert.Equal(t, "event_type", msgs[0].Headers[0].Key)
	assert.Equal(t, EventTypeOrderPlaced, string(msgs[0].Headers[0].Value))

	var event OrderPlacedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	assert.Equal(t, "O1", event.OrderID)
	assert.Equal(t, "C1", event.CustomerID)
	assert.Equal(t, "17.50", event.Total)
	require.Len(t, event.Lines, 2)
	assert.Equal(t, OrderLineEvent{ProductID: "P1", Price: "5.00", Quantity: 3}, event.Lines[0])
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	errBroker := errors.New("broker down")
	publisher := NewKafkaPublisher(&fakeProducer{err: errBroker})

	err := publisher.Publish(context.Background(), sampleOrder("O1"))
	assert.ErrorIs(t, err, errBroker)
}

func TestTraceHeaders_RoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, nil)
	require.NotEmpty(t, headers)

	extracted := trace.SpanContextFromContext(ExtractTraceHeaders(context.Background(), headers))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
}

func TestDispatcher_PublishesQueuedOrders(t *testing.T) {
	producer := &fakeProducer{}
	d := NewDispatcher(NewKafkaPublisher(producer), 3, 10, nil)

	for _, id := range []string{"O1", "O2", "O3", "O4"} {
		require.NoError(t, d.PublishOrderPlaced(context.Background(), sampleOrder(id)))
	}
	d.Close()

	keys := make([]string, 0, 4)
	for _, msg := range producer.messages() {
		keys = append(keys, string(msg.Key))
	}
	assert.ElementsMatch(t, []string{"O1", "O2", "O3", "O4"}, keys)
}

func TestDispatcher_PublishFailureDoesNotStopWorkers(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	d := NewDispatcher(NewKafkaPublisher(producer), 1, 4, nil)

	require.NoError(t, d.PublishOrderPlaced(context.Background(), sampleOrder("O1")))
	require.NoError(t, d.PublishOrderPlaced(context.Background(), sampleOrder("O2")))
	d.Close()

	assert.Empty(t, producer.messages())
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewDispatcher(NewKafkaPublisher(&fakeProducer{}), 1, 1, nil)
	d.Close()
	d.Close()

	err := d.PublishOrderPlaced(context.Background(), sampleOrder("O1"))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_FullQueueHonoursContext(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := NewDispatcher(pub, 1, 0, nil)

	// The single worker takes O1 and blocks in Publish.
	require.NoError(t, d.PublishOrderPlaced(context.Background(), sampleOrder("O1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.PublishOrderPlaced(ctx, sampleOrder("O2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(pub.release)
	d.Close()
	assert.Equal(t, []string{"O1"}, pub.orders)
}
