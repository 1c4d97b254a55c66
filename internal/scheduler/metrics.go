package scheduler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Backlog counts armed jobs, leased ones included.
type Backlog interface {
	Pending(ctx context.Context) (int64, error)
}

// RegisterMetrics reports the number of armed jobs on every collection.
func RegisterMetrics(meter metric.Meter, backlog Backlog) (metric.Registration, error) {
	pending, err := meter.Int64ObservableGauge("scheduler_jobs_pending",
		metric.WithDescription("Auto-cancel jobs armed or in flight"))
	if err != nil {
		return nil, fmt.Errorf("create scheduler_jobs_pending gauge: %w", err)
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := backlog.Pending(ctx)
		if err != nil {
			return fmt.Errorf("count scheduled jobs: %w", err)
		}
		o.ObserveInt64(pending, n)
		return nil
	}, pending)
}
