package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// ExpireReason is recorded on orders cancelled by the payment window timer.
const ExpireReason = "payment window expired"

type ExpireOrderCommand struct {
	OrderID   string
	OrderCode string
}

type ExpireResult struct {
	Order     *domain.Order
	Cancelled bool
}

type ExpireOrderHandler interface {
	Handle(ctx context.Context, cmd ExpireOrderCommand) (*ExpireResult, error)
}

// ExpireOrderCommandHandler cancels an unpaid order when its payment window closes.
// Stock is not released because deferred orders never took any.
type ExpireOrderCommandHandler struct {
	deps    Dependencies
	opts    Options
	effects sideEffects
}

func NewExpireOrderCommandHandler(deps Dependencies, opts Options) *ExpireOrderCommandHandler {
	return &ExpireOrderCommandHandler{
		deps:    deps,
		opts:    opts,
		effects: sideEffects{deps: deps, opts: opts},
	}
}

func (h *ExpireOrderCommandHandler) Handle(ctx context.Context, cmd ExpireOrderCommand) (*ExpireResult, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}

	result := &ExpireResult{}
	err := h.deps.Store.InTx(ctx, func(ctx context.Context, tx ports.OrderTx) error {
		order, err := tx.LockOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		result.Order = order

		if !order.Expirable() {
			return nil
		}
		if err := order.TransitionTo(domain.StatusCancelled, ExpireReason, h.opts.now()); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, *order); err != nil {
			return err
		}
		result.Cancelled = true
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return &ExpireResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	if result.Cancelled {
		h.effects.notify(ctx, domain.NotifyOrderCancellation, *result.Order)
	}
	return result, nil
}
