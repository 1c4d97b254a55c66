package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Backlog counts notifications still waiting for a confirmed publish.
type Backlog interface {
	Pending(ctx context.Context) (int64, error)
}

// RegisterMetrics reports the outbox backlog on every collection.
func RegisterMetrics(meter metric.Meter, backlog Backlog) (metric.Registration, error) {
	pending, err := meter.Int64ObservableGauge("notification_outbox_pending",
		metric.WithDescription("Notifications not yet confirmed by the publisher"))
	if err != nil {
		return nil, fmt.Errorf("create notification_outbox_pending gauge: %w", err)
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := backlog.Pending(ctx)
		if err != nil {
			return fmt.Errorf("count outbox backlog: %w", err)
		}
		o.ObserveInt64(pending, n)
		return nil
	}, pending)
}
