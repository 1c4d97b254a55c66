package ports

import (
	"context"
	"time"
)

// CancellationScheduler arms and disarms the auto-cancel timer of an order.
type CancellationScheduler interface {
	// Schedule replaces any job already armed for orderID.
	Schedule(ctx context.Context, orderID, orderCode string, delay time.Duration) error
	// Cancel is a no-op when no job is armed.
	Cancel(ctx context.Context, orderID string) error
}
