package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type ReconcilePaymentCommand struct {
	Params url.Values
}

type ReconcileResult struct {
	Order    *domain.Order
	Callback domain.PaymentCallback
	Outcome  domain.ReconcileOutcome
}

type ReconcilePaymentHandler interface {
	Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconcileResult, error)
}

// ReconcilePaymentCommandHandler applies a payment provider callback. The PAID guard is
// read under the same row lock that writes the update, so replays are no-ops.
type ReconcilePaymentCommandHandler struct {
	deps    Dependencies
	opts    Options
	effects sideEffects
}

func NewReconcilePaymentCommandHandler(deps Dependencies, opts Options) *ReconcilePaymentCommandHandler {
	return &ReconcilePaymentCommandHandler{
		deps:    deps,
		opts:    opts,
		effects: sideEffects{deps: deps, opts: opts},
	}
}

func (h *ReconcilePaymentCommandHandler) Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconcileResult, error) {
	callback, err := h.deps.Gateway.VerifyCallback(ctx, cmd.Params)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Callback: callback}
	var failureRecorded bool

	err = h.deps.Store.InTx(ctx, func(ctx context.Context, tx ports.OrderTx) error {
		order, err := tx.LockOrder(ctx, callback.OrderID)
		if err != nil {
			return err
		}
		result.Order = order

		if order.PaymentMethod.SettlesImmediately() {
			return domain.NewValidationError("order_id",
				fmt.Sprintf("order %s is not payable online", order.Code))
		}

		if order.PaymentStatus == domain.PaymentPaid {
			result.Outcome = domain.OutcomeDuplicate
			return nil
		}

		now := h.opts.now()

		if !callback.Success {
			result.Outcome = domain.OutcomeFailed
			if !order.MarkPaymentFailed(now) {
				return nil
			}
			failureRecorded = true
			return tx.SaveOrder(ctx, *order)
		}

		if !domain.WithinTolerance(order.Total, callback.Amount, h.opts.AmountTolerance) {
			return &domain.AmountMismatchError{Expected: order.Total, Paid: callback.Amount}
		}

		wasCancelled := order.Status == domain.StatusCancelled
		order.MarkPaid(callback.TransactionID, now)
		if err := tx.SaveOrder(ctx, *order); err != nil {
			return err
		}

		result.Outcome = domain.OutcomePaid
		if wasCancelled {
			result.Outcome = domain.OutcomeLatePayment
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := *result.Order
	switch result.Outcome {
	case domain.OutcomePaid:
		h.effects.cancelJob(ctx, order)
		h.effects.decrementStock(ctx, order)
		h.effects.clearCart(ctx, order)
		h.effects.notify(ctx, domain.NotifyPaymentSuccess, order)
	case domain.OutcomeFailed:
		if failureRecorded {
			h.effects.notify(ctx, domain.NotifyPaymentFailed, order)
		}
	case domain.OutcomeLatePayment:
		h.effects.logger().WarnContext(ctx, "payment received for cancelled order, refund required",
			"order_id", order.ID,
			"order_code", order.Code,
			"transaction_ref", order.TransactionRef,
			"amount", callback.Amount.String(),
		)
	}

	return result, nil
}
