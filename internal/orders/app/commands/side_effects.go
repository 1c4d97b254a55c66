package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/retry"
)

// sideEffects runs the post-commit work of a command. Every failure is logged and
// swallowed; the committed order is never rolled back.
type sideEffects struct {
	deps Dependencies
	opts Options
}

func (e sideEffects) logger() *slog.Logger {
	if e.deps.Logger != nil {
		return e.deps.Logger
	}
	return slog.Default()
}

func (e sideEffects) notify(ctx context.Context, typ domain.NotificationType, order domain.Order) {
	if e.deps.Notifier == nil {
		return
	}
	n := domain.Notification{
		ID:         uuid.NewString(),
		Type:       typ,
		Order:      order.Snapshot(),
		OccurredAt: e.opts.now(),
	}
	if err := e.deps.Notifier.Enqueue(ctx, n); err != nil {
		e.logger().WarnContext(ctx, "failed to queue notification",
			"error", err,
			"notification_type", string(typ),
			"order_id", order.ID,
		)
	}
}

func (e sideEffects) clearCart(ctx context.Context, order domain.Order) {
	for _, lineID := range order.CartLineIDs() {
		err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return e.deps.Carts.RemoveLine(ctx, order.UserID, lineID)
		})
		if err != nil {
			e.logger().WarnContext(ctx, "failed to remove converted cart line",
				"error", err,
				"order_id", order.ID,
				"cart_line_id", lineID,
			)
		}
	}
}

func (e sideEffects) schedule(ctx context.Context, order domain.Order) {
	if e.deps.Scheduler == nil {
		return
	}
	err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
		return e.deps.Scheduler.Schedule(ctx, order.ID, order.Code, e.opts.autoCancelAfter())
	})
	if err != nil {
		e.logger().ErrorContext(ctx, "failed to schedule auto-cancel",
			"error", err,
			"order_id", order.ID,
			"order_code", order.Code,
		)
	}
}

func (e sideEffects) cancelJob(ctx context.Context, order domain.Order) {
	if e.deps.Scheduler == nil {
		return
	}
	err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
		return e.deps.Scheduler.Cancel(ctx, order.ID)
	})
	if err != nil {
		// the job re-checks the order status when it fires
		e.logger().WarnContext(ctx, "failed to cancel auto-cancel job",
			"error", err,
			"order_id", order.ID,
		)
	}
}

func (e sideEffects) decrementStock(ctx context.Context, order domain.Order) {
	for _, item := range order.Items {
		err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
			err := e.deps.Stock.Decrement(ctx, item.ProductID, item.Color, item.Quantity)
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			e.logger().ErrorContext(ctx, "failed to decrement stock for paid order",
				"error", err,
				"order_id", order.ID,
				"product_id", item.ProductID,
				"color", item.Color,
				"quantity", item.Quantity,
			)
		}
	}
}

func (e sideEffects) restoreStock(ctx context.Context, order domain.Order) {
	for _, item := range order.Items {
		err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
			err := e.deps.Stock.Restore(ctx, item.ProductID, item.Color, item.Quantity)
			if errors.Is(err, domain.ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			e.logger().ErrorContext(ctx, "failed to restore stock for cancelled order",
				"error", err,
				"order_id", order.ID,
				"product_id", item.ProductID,
				"color", item.Color,
				"quantity", item.Quantity,
			)
		}
	}
}
