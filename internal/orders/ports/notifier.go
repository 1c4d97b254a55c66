package ports

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// Notifier hands notifications to an asynchronous delivery pipeline.
type Notifier interface {
	Enqueue(ctx context.Context, n domain.Notification) error
}
