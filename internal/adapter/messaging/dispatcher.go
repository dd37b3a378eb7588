package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/core/domain"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

const publishTimeout = 5 * time.Second

type publisher interface {
	Publish(ctx context.Context, order domain.Order) error
}

type job struct {
	span  trace.SpanContext
	order domain.Order
}

// Dispatcher moves order events off the request path. PublishOrderPlaced only
// enqueues; a fixed pool of workers hands each order to the publisher.
type Dispatcher struct {
	publisher publisher
	logger    *zap.Logger
	queue     chan job
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(p publisher, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		publisher: p,
		logger:    logger,
		queue:     make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	return d
}

// PublishOrderPlaced blocks only while the queue is full, and gives up when
// ctx is done.
func (d *Dispatcher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- job{span: trace.SpanContextFromContext(ctx), order: order}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for j := range d.queue {
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), j.span)
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)

		if err := d.publisher.Publish(ctx, j.order); err != nil {
			d.logger.Error("publish order placed failed",
				zap.Int("worker", id),
				zap.String("order_id", j.order.ID),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("published order placed",
				zap.Int("worker", id),
				zap.String("order_id", j.order.ID),
			)
		}

		cancel()
	}
}
