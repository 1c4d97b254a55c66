// Package notify publishes order notifications from a worker pool off the request path.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/retry"
	"github.com/dejobratic/orderflow/internal/telemetry"
)

var ErrClosed = errors.New("notification queue closed")

// Publisher delivers one notification to its transport.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Delivery is one notification handed to the queue.
type Delivery struct {
	Notification domain.Notification
	// Link is the span that produced the notification; the publish span links to it.
	Link trace.SpanContext
	// Done, when set, receives the publish result after retries.
	Done func(ctx context.Context, err error)
}

type Config struct {
	Workers   int
	QueueSize int
	Retry     retry.Policy
	// DrainTimeout bounds delivery of buffered notifications after shutdown starts.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = retry.DefaultPolicy()
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	return c
}

// Queue buffers deliveries and publishes them from a worker pool with retries. It
// holds nothing durable: a delivery lost on shutdown must be resubmitted by its source.
type Queue struct {
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	items     chan Delivery
	stopped   chan struct{}
	stopOnce  sync.Once
}

func NewQueue(publisher Publisher, cfg Config, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		items:     make(chan Delivery, cfg.QueueSize),
		stopped:   make(chan struct{}),
	}
}

// Submit buffers d, waiting for room until ctx is done or the queue shuts down.
func (q *Queue) Submit(ctx context.Context, d Delivery) error {
	select {
	case <-q.stopped:
		return ErrClosed
	default:
	}

	select {
	case q.items <- d:
		return nil
	case <-q.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run publishes queued notifications until ctx is done, then drains what is buffered
// within DrainTimeout.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()

	q.stopOnce.Do(func() { close(q.stopped) })

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.DrainTimeout)
	defer cancel()
	for {
		select {
		case d := <-q.items:
			q.deliver(drainCtx, d)
		default:
			return nil
		}
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-q.items:
			q.deliver(ctx, d)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, d Delivery) {
	ctx, span := telemetry.StartLinkedSpan(ctx, "notify.deliver", d.Link)
	defer span.End()
	telemetry.AddSpanAttributes(span, telemetry.OrderAttributes(d.Notification.Order.OrderID, d.Notification.Order.OrderCode)...)

	err := q.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return q.publisher.Publish(ctx, d.Notification)
	})
	if err != nil {
		telemetry.RecordSpanError(span, err)
		q.logger.WarnContext(ctx, "notification publish failed",
			"error", err,
			"notification_id", d.Notification.ID,
			"notification_type", string(d.Notification.Type),
			"order_id", d.Notification.Order.OrderID,
		)
	}
	if d.Done != nil {
		// settle even when the worker is stopping
		d.Done(context.WithoutCancel(ctx), err)
	}
}
