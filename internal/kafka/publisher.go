package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/telemetry"
)

const eventTypeHeader = "event_type"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a writer that keys messages onto partitions by hash, keeping the
// notifications of one order in order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// Publisher sends order notifications as JSON messages keyed by order id.
type Publisher struct {
	writer  MessageWriter
	topic   string
	metrics *Metrics
}

func NewPublisher(writer MessageWriter, topic string, metrics *Metrics) *Publisher {
	return &Publisher{writer: writer, topic: topic, metrics: metrics}
}

func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	ctx, span := telemetry.StartSpan(ctx, "kafka.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", p.topic),
		attribute.String("notification.type", string(n.Type)),
		attribute.String("order.id", n.Order.OrderID),
	)

	value, err := json.Marshal(n)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.Order.OrderID),
		Value: value,
		Time:  n.OccurredAt,
		Headers: injectHeaders(ctx, []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(n.Type)},
		}),
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	if p.metrics != nil {
		p.metrics.RecordPublish(ctx, p.topic, string(n.Type), time.Since(start).Seconds(), len(value), err)
	}
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return fmt.Errorf("write notification to %s: %w", p.topic, err)
	}

	telemetry.SetSpanSuccess(span)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// injectHeaders appends the W3C trace context of ctx to headers.
func injectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
