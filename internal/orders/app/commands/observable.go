package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/telemetry"
)

type ObservableCreateOrderHandler struct {
	handler CreateOrderHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableCreateOrderHandler(handler CreateOrderHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableCreateOrderHandler {
	return &ObservableCreateOrderHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableCreateOrderHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "CreateOrderCommand.Handle")
	defer span.End()

	start := time.Now()
	var success bool
	defer func() {
		duration := time.Since(start).Seconds()
		o.metrics.RecordOrderCreationDuration(ctx, duration)
		o.metrics.RecordOrderCreated(ctx, success, string(cmd.PaymentMethod))
	}()

	telemetry.AddSpanAttributes(span,
		attribute.String("user.id", cmd.UserID),
		attribute.String("order.payment_method", string(cmd.PaymentMethod)),
		attribute.Int("order.cart_lines", len(cmd.CartLineIDs)),
	)

	o.logger.InfoContext(ctx, "creating order",
		"user_id", cmd.UserID,
		"payment_method", string(cmd.PaymentMethod),
		"cart_lines", len(cmd.CartLineIDs),
	)

	result, err := o.handler.Handle(ctx, cmd)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		level := slog.LevelError
		if isClientError(err) {
			level = slog.LevelWarn
		}
		o.logger.Log(ctx, level, "failed to create order",
			"error", err,
			"user_id", cmd.UserID,
		)
		return nil, err
	}

	order := result.Order
	telemetry.AddSpanAttributes(span, telemetry.OrderAttributes(order.ID, order.Code)...)
	telemetry.AddSpanAttributes(span,
		attribute.String("order.total", order.Total.String()),
		attribute.String("order.status", string(order.Status)),
	)

	o.logger.InfoContext(ctx, "order created successfully",
		"order_id", order.ID,
		"order_code", order.Code,
		"total", order.Total.String(),
	)

	if result.PaymentURL != "" {
		telemetry.AddSpanEvent(span, "payment.redirect_issued",
			attribute.String("payment.method", string(order.PaymentMethod)),
		)
	}

	success = true
	telemetry.SetSpanSuccess(span)

	return result, nil
}

type ObservableTransitionStatusHandler struct {
	handler TransitionStatusHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableTransitionStatusHandler(handler TransitionStatusHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableTransitionStatusHandler {
	return &ObservableTransitionStatusHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableTransitionStatusHandler) Handle(ctx context.Context, cmd TransitionStatusCommand) (*TransitionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "TransitionStatusCommand.Handle")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.target_status", string(cmd.Target)),
		attribute.Bool("request.customer", cmd.UserID != ""),
	)

	result, err := o.handler.Handle(ctx, cmd)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.logger.WarnContext(ctx, "order status transition rejected",
			"error", err,
			"order_id", cmd.OrderID,
			"target_status", string(cmd.Target),
		)
		return nil, err
	}

	o.metrics.RecordStatusTransition(ctx, string(result.From), string(result.Order.Status))
	o.logger.InfoContext(ctx, "order status changed",
		"order_id", result.Order.ID,
		"order_code", result.Order.Code,
		"from", string(result.From),
		"to", string(result.Order.Status),
	)

	telemetry.SetSpanSuccess(span)
	return result, nil
}

type ObservableReconcilePaymentHandler struct {
	handler ReconcilePaymentHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableReconcilePaymentHandler(handler ReconcilePaymentHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableReconcilePaymentHandler {
	return &ObservableReconcilePaymentHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableReconcilePaymentHandler) Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconcileResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ReconcilePaymentCommand.Handle")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.txn_ref", cmd.Params.Get("vnp_TxnRef")),
		attribute.String("payment.response_code", cmd.Params.Get("vnp_ResponseCode")),
	)

	result, err := o.handler.Handle(ctx, cmd)
	if err != nil {
		o.metrics.RecordPaymentCallback(ctx, callbackErrorKind(err))
		telemetry.RecordSpanError(span, err)
		o.logger.WarnContext(ctx, "payment callback rejected",
			"error", err,
			"txn_ref", cmd.Params.Get("vnp_TxnRef"),
		)
		return nil, err
	}

	o.metrics.RecordPaymentCallback(ctx, string(result.Outcome))
	if result.Outcome == domain.OutcomePaid {
		o.metrics.RecordStatusTransition(ctx, string(domain.StatusPending), string(result.Order.Status))
	}

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", result.Order.ID),
		attribute.String("payment.outcome", string(result.Outcome)),
	)
	o.logger.InfoContext(ctx, "payment callback reconciled",
		"order_id", result.Order.ID,
		"order_code", result.Order.Code,
		"outcome", string(result.Outcome),
		"payment_status", string(result.Order.PaymentStatus),
	)

	telemetry.SetSpanSuccess(span)
	return result, nil
}

type ObservableExpireOrderHandler struct {
	handler ExpireOrderHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableExpireOrderHandler(handler ExpireOrderHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableExpireOrderHandler {
	return &ObservableExpireOrderHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableExpireOrderHandler) Handle(ctx context.Context, cmd ExpireOrderCommand) (*ExpireResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ExpireOrderCommand.Handle")
	defer span.End()

	telemetry.AddSpanAttributes(span, telemetry.OrderAttributes(cmd.OrderID, cmd.OrderCode)...)

	result, err := o.handler.Handle(ctx, cmd)
	if err != nil {
		o.metrics.RecordAutoCancel(ctx, "error")
		telemetry.RecordSpanError(span, err)
		o.logger.ErrorContext(ctx, "failed to expire order",
			"error", err,
			"order_id", cmd.OrderID,
		)
		return nil, err
	}

	if result.Cancelled {
		telemetry.AddSpanEvent(span, "order.expired")
		o.metrics.RecordAutoCancel(ctx, "cancelled")
		o.metrics.RecordStatusTransition(ctx, string(domain.StatusPending), string(domain.StatusCancelled))
		o.logger.InfoContext(ctx, "unpaid order expired",
			"order_id", cmd.OrderID,
			"order_code", cmd.OrderCode,
		)
	} else {
		o.metrics.RecordAutoCancel(ctx, "skipped")
	}

	telemetry.SetSpanSuccess(span)
	return result, nil
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrUnauthorized)
}

func callbackErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
