package commands

import (
	"context"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// TransitionStatusCommand moves an order along the status table. A non-empty UserID
// marks a customer request: the user must own the order and may only cancel it while
// it is PENDING or CONFIRMED.
type TransitionStatusCommand struct {
	OrderID string
	Target  domain.OrderStatus
	Reason  string
	UserID  string
}

func (c TransitionStatusCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return domain.NewValidationError("order_id", "is required")
	}
	if _, ok := domain.ParseOrderStatus(string(c.Target)); !ok {
		return domain.NewValidationError("status", "unknown order status")
	}
	if c.UserID != "" && c.Target != domain.StatusCancelled {
		return domain.NewValidationError("status", "customers may only cancel orders")
	}
	return nil
}

type TransitionResult struct {
	Order *domain.Order
	From  domain.OrderStatus
}

type TransitionStatusHandler interface {
	Handle(ctx context.Context, cmd TransitionStatusCommand) (*TransitionResult, error)
}

type TransitionStatusCommandHandler struct {
	deps    Dependencies
	opts    Options
	effects sideEffects
}

func NewTransitionStatusCommandHandler(deps Dependencies, opts Options) *TransitionStatusCommandHandler {
	return &TransitionStatusCommandHandler{
		deps:    deps,
		opts:    opts,
		effects: sideEffects{deps: deps, opts: opts},
	}
}

func (h *TransitionStatusCommandHandler) Handle(ctx context.Context, cmd TransitionStatusCommand) (*TransitionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var (
		order   *domain.Order
		from    domain.OrderStatus
		wasPaid bool
	)
	err := h.deps.Store.InTx(ctx, func(ctx context.Context, tx ports.OrderTx) error {
		locked, err := tx.LockOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}

		if cmd.UserID != "" {
			if !locked.OwnedBy(cmd.UserID) {
				return domain.ErrUnauthorized
			}
			if locked.Status != domain.StatusPending && locked.Status != domain.StatusConfirmed {
				return &domain.InvalidTransitionError{From: locked.Status, To: cmd.Target}
			}
		}

		from = locked.Status
		wasPaid = locked.PaymentStatus == domain.PaymentPaid

		if err := locked.TransitionTo(cmd.Target, cmd.Reason, h.opts.now()); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, *locked); err != nil {
			return err
		}

		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from == domain.StatusPending && !order.Expirable() {
		h.effects.cancelJob(ctx, *order)
	}
	if order.Status == domain.StatusCancelled {
		if wasPaid {
			h.effects.restoreStock(ctx, *order)
		}
		h.effects.notify(ctx, domain.NotifyOrderCancellation, *order)
	}

	return &TransitionResult{Order: order, From: from}, nil
}
