package kafka

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics describes notification delivery to Kafka.
type Metrics struct {
	writeLatency metric.Float64Histogram
	published    metric.Int64Counter
	messageSize  metric.Int64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	writeLatency, err := meter.Float64Histogram(
		"kafka_producer_latency_seconds",
		metric.WithDescription("Time spent in WriteMessages per notification"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_producer_latency histogram: %w", err)
	}

	published, err := meter.Int64Counter(
		"kafka_notifications_published_total",
		metric.WithDescription("Notifications handed to the broker by type and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_notifications_published counter: %w", err)
	}

	messageSize, err := meter.Int64Histogram(
		"kafka_message_size_bytes",
		metric.WithDescription("Encoded notification payload size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_message_size histogram: %w", err)
	}

	return &Metrics{writeLatency: writeLatency, published: published, messageSize: messageSize}, nil
}

// RecordPublish records a single write attempt. Sizes are only recorded for
// messages the broker accepted.
func (m *Metrics) RecordPublish(ctx context.Context, topic, notificationType string, durationSeconds float64, size int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.writeLatency.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", status),
	))
	m.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("notification_type", notificationType),
		attribute.String("status", status),
	))
	if err == nil {
		m.messageSize.Record(ctx, int64(size), metric.WithAttributes(attribute.String("topic", topic)))
	}
}
