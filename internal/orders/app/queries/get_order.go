package queries

import (
	"context"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// GetOrderQuery represents a request to retrieve an order by its ID.
// An empty UserID skips the ownership check.
type GetOrderQuery struct {
	OrderID string
	UserID  string
}

// GetOrderQueryHandler executes GetOrderQuery and returns the order if found.
type GetOrderQueryHandler struct {
	store ports.OrderStore
}

// NewGetOrderQueryHandler constructs a GetOrderQueryHandler.
func NewGetOrderQueryHandler(store ports.OrderStore) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{store: store}
}

// Handle executes the query and retrieves the order.
func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*domain.Order, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	order, err := h.store.GetByID(ctx, query.OrderID)
	if err != nil {
		return nil, err
	}

	if query.UserID != "" && !order.OwnedBy(query.UserID) {
		return nil, domain.ErrUnauthorized
	}

	return order, nil
}

// Validate ensures the query has valid parameters.
func (q GetOrderQuery) Validate() error {
	if strings.TrimSpace(q.OrderID) == "" {
		return domain.NewValidationError("order_id", "is required")
	}
	return nil
}
