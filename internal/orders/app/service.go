package app

import (
	"context"
	"net/url"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/queries"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/scheduler"
)

// Service bundles use cases for handling orders via the API.
type Service struct {
	deps      commands.Dependencies
	idemStore ports.IdempotencyStore

	createOrderHandler commands.CreateOrderHandler
	transitionHandler  commands.TransitionStatusHandler
	reconcileHandler   commands.ReconcilePaymentHandler
	expireHandler      commands.ExpireOrderHandler

	getOrderHandler   *queries.GetOrderQueryHandler
	listOrdersHandler *queries.ListOrdersQueryHandler
}

// NewService wires required dependencies.
func NewService(
	deps commands.Dependencies,
	idem ports.IdempotencyStore,
	opts commands.Options,
	metrics *metrics.Metrics,
) *Service {
	logger := deps.Logger

	return &Service{
		deps:      deps,
		idemStore: idem,
		createOrderHandler: commands.NewObservableCreateOrderHandler(
			commands.NewCreateOrderCommandHandler(deps, opts), logger, metrics),
		transitionHandler: commands.NewObservableTransitionStatusHandler(
			commands.NewTransitionStatusCommandHandler(deps, opts), logger, metrics),
		reconcileHandler: commands.NewObservableReconcilePaymentHandler(
			commands.NewReconcilePaymentCommandHandler(deps, opts), logger, metrics),
		expireHandler: commands.NewObservableExpireOrderHandler(
			commands.NewExpireOrderCommandHandler(deps, opts), logger, metrics),
		getOrderHandler:   queries.NewGetOrderQueryHandler(deps.Store),
		listOrdersHandler: queries.NewListOrdersQueryHandler(deps.Store),
	}
}

// CreateOrderInput captures payload for creating an order.
type CreateOrderInput struct {
	UserID        string   `json:"-"`
	CartLineIDs   []string `json:"cart_line_ids"`
	AddressID     string   `json:"address_id"`
	PaymentMethod string   `json:"payment_method"`
	Notes         string   `json:"notes"`
	DiscountCode  string   `json:"discount_code"`
	ClientIP      string   `json:"-"`
}

// CreateOrder converts cart lines into an order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*commands.CreateOrderResult, error) {
	cmd := commands.CreateOrderCommand{
		UserID:        input.UserID,
		CartLineIDs:   input.CartLineIDs,
		AddressID:     input.AddressID,
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(input.PaymentMethod))),
		Notes:         input.Notes,
		DiscountCode:  input.DiscountCode,
		ClientIP:      input.ClientIP,
	}
	return s.createOrderHandler.Handle(ctx, cmd)
}

// GetOrder retrieves an order the user owns.
func (s *Service) GetOrder(ctx context.Context, id, userID string) (*domain.Order, error) {
	return s.getOrderHandler.Handle(ctx, queries.GetOrderQuery{OrderID: id, UserID: userID})
}

// ListOrders returns the user's orders using a filter.
func (s *Service) ListOrders(ctx context.Context, userID string, filter ports.ListFilter) ([]domain.Order, error) {
	return s.listOrdersHandler.Handle(ctx, queries.ListOrdersQuery{UserID: userID, Filter: filter})
}

// CancelOrder cancels a PENDING or CONFIRMED order on behalf of its owner.
func (s *Service) CancelOrder(ctx context.Context, id, userID, reason string) (*domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthorized
	}
	result, err := s.transitionHandler.Handle(ctx, commands.TransitionStatusCommand{
		OrderID: id,
		Target:  domain.StatusCancelled,
		Reason:  reason,
		UserID:  userID,
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

// TransitionStatus applies an operator status change.
func (s *Service) TransitionStatus(ctx context.Context, id string, target domain.OrderStatus, reason string) (*domain.Order, error) {
	result, err := s.transitionHandler.Handle(ctx, commands.TransitionStatusCommand{
		OrderID: id,
		Target:  target,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

// UpdateShipping records carrier details without touching the status.
func (s *Service) UpdateShipping(ctx context.Context, id string, update domain.ShippingUpdate) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}
	if update.Empty() {
		return nil, domain.NewValidationError("shipping", "nothing to update")
	}
	return s.deps.Store.UpdateShipping(ctx, id, update)
}

// HandlePaymentCallback reconciles a provider notification with the order.
func (s *Service) HandlePaymentCallback(ctx context.Context, params url.Values) (*commands.ReconcileResult, error) {
	return s.reconcileHandler.Handle(ctx, commands.ReconcilePaymentCommand{Params: params})
}

// PaymentReturn verifies the browser redirect and returns the order without changing it.
func (s *Service) PaymentReturn(ctx context.Context, params url.Values) (*domain.Order, domain.PaymentCallback, error) {
	callback, err := s.deps.Gateway.VerifyCallback(ctx, params)
	if err != nil {
		return nil, domain.PaymentCallback{}, err
	}
	order, err := s.deps.Store.GetByID(ctx, callback.OrderID)
	if err != nil {
		return nil, callback, err
	}
	return order, callback, nil
}

// PaymentURL issues a fresh redirect for an unpaid deferred-settlement order.
func (s *Service) PaymentURL(ctx context.Context, id, userID, clientIP string) (string, error) {
	order, err := s.GetOrder(ctx, id, userID)
	if err != nil {
		return "", err
	}
	if order.PaymentMethod.SettlesImmediately() {
		return "", domain.NewValidationError("payment_method", "order is paid on delivery")
	}
	if order.Status != domain.StatusPending || order.PaymentStatus == domain.PaymentPaid {
		return "", domain.NewValidationError("order_status", "order is no longer payable")
	}
	return s.deps.Gateway.CreateRedirectURL(ctx, domain.PaymentRequest{
		OrderID:   order.ID,
		OrderCode: order.Code,
		Amount:    order.Total,
		ClientIP:  clientIP,
	})
}

// ExpireOrder is the scheduler handler for auto-cancel jobs.
func (s *Service) ExpireOrder(ctx context.Context, job scheduler.Job) error {
	_, err := s.expireHandler.Handle(ctx, commands.ExpireOrderCommand{
		OrderID:   job.OrderID,
		OrderCode: job.OrderCode,
	})
	return err
}

// ReserveIdempotencyKey claims key for a new request, or returns the response that
// already completed under it.
func (s *Service) ReserveIdempotencyKey(ctx context.Context, userID, key string) (*ports.StoredResponse, bool, error) {
	return s.idemStore.Reserve(ctx, userID, key)
}

// CompleteIdempotencyKey stores the response for a reserved key.
func (s *Service) CompleteIdempotencyKey(ctx context.Context, userID, key string, response ports.StoredResponse) error {
	return s.idemStore.Complete(ctx, userID, key, response)
}

// ReleaseIdempotencyKey frees a reserved key whose request failed.
func (s *Service) ReleaseIdempotencyKey(ctx context.Context, userID, key string) error {
	return s.idemStore.Release(ctx, userID, key)
}
