package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	queryDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	queryDuration, err := meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Database statement duration by operation and outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration histogram: %w", err)
	}

	return &Metrics{queryDuration: queryDuration}, nil
}

// RecordQuery records one statement or transaction labelled with its outcome.
func (m *Metrics) RecordQuery(ctx context.Context, operation string, durationSeconds float64, err error) {
	m.queryDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome(err)),
	))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// RegisterPoolMetrics exports connection pool gauges read from pool.Stat on every collection.
func RegisterPoolMetrics(meter metric.Meter, pool *pgxpool.Pool) (metric.Registration, error) {
	total, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Open connections by state"))
	if err != nil {
		return nil, fmt.Errorf("create db_pool_connections gauge: %w", err)
	}
	maxConns, err := meter.Int64ObservableGauge("db_pool_max_connections",
		metric.WithDescription("Configured connection limit"))
	if err != nil {
		return nil, fmt.Errorf("create db_pool_max_connections gauge: %w", err)
	}
	waits, err := meter.Int64ObservableCounter("db_pool_empty_acquire_total",
		metric.WithDescription("Acquires that waited for a free connection"))
	if err != nil {
		return nil, fmt.Errorf("create db_pool_empty_acquire counter: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := pool.Stat()
		o.ObserveInt64(total, int64(stat.AcquiredConns()), metric.WithAttributes(attribute.String("state", "acquired")))
		o.ObserveInt64(total, int64(stat.IdleConns()), metric.WithAttributes(attribute.String("state", "idle")))
		o.ObserveInt64(total, int64(stat.ConstructingConns()), metric.WithAttributes(attribute.String("state", "constructing")))
		o.ObserveInt64(maxConns, int64(stat.MaxConns()))
		o.ObserveInt64(waits, stat.EmptyAcquireCount())
		return nil
	}, total, maxConns, waits)
}
