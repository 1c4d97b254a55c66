package queries

import (
	"context"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// ListOrdersQuery lists a user's orders, newest first.
type ListOrdersQuery struct {
	UserID string
	Filter ports.ListFilter
}

func (q ListOrdersQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	if q.Filter.Page < 0 {
		return domain.NewValidationError("page", "must not be negative")
	}
	if q.Filter.PageSize < 0 {
		return domain.NewValidationError("page_size", "must not be negative")
	}
	return nil
}

type ListOrdersQueryHandler struct {
	store ports.OrderStore
}

func NewListOrdersQueryHandler(store ports.OrderStore) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{store: store}
}

func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return h.store.ListByUser(ctx, query.UserID, query.Filter.Normalized())
}
