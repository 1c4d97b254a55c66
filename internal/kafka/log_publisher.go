package kafka

import (
	"context"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// LogPublisher logs notifications instead of sending them. main selects it when no
// brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Publish(ctx context.Context, n domain.Notification) error {
	l.logger.InfoContext(ctx, "notification::"+string(n.Type),
		"notification_id", n.ID,
		"order_id", n.Order.OrderID,
		"order_code", n.Order.OrderCode,
		"order_status", string(n.Order.Status),
		"payment_status", string(n.Order.PaymentStatus),
	)
	return nil
}

func (l *LogPublisher) Close() error { return nil }
