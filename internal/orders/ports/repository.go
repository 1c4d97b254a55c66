package ports

import (
	"context"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// OrderStore exposes persistence operations required by the application layer.
type OrderStore interface {
	// InTx runs fn inside a single transaction. Row locks taken through the OrderTx are
	// held until fn returns; a non-nil error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]domain.Order, error)
	UpdateShipping(ctx context.Context, id string, update domain.ShippingUpdate) (*domain.Order, error)
}

// OrderTx is the transactional view of the order store.
type OrderTx interface {
	// LockVariant reads the variant row and holds its lock until the transaction ends.
	LockVariant(ctx context.Context, productID, color string) (domain.StockVariant, error)
	// DecrementStock subtracts quantity from a variant the transaction has locked.
	DecrementStock(ctx context.Context, productID, color string, quantity int) error
	// NextOrderSequence allocates the next order number for day.
	NextOrderSequence(ctx context.Context, day time.Time) (int, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	// LockOrder reads the order and holds its row lock until the transaction ends.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	// SaveOrder persists the mutable status, payment and cancellation fields.
	SaveOrder(ctx context.Context, order domain.Order) error
}

// ListFilter narrows list queries by status and pagination.
type ListFilter struct {
	Status   *domain.OrderStatus
	Page     int
	PageSize int
}

// Normalized applies 1-based paging defaults.
func (f ListFilter) Normalized() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}

// Offset is the number of rows skipped by the filter's page.
func (f ListFilter) Offset() int {
	n := f.Normalized()
	return (n.Page - 1) * n.PageSize
}
