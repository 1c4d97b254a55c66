package ports

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// CartStore reads and trims the user's cart.
type CartStore interface {
	Snapshot(ctx context.Context, userID string) (domain.CartSnapshot, error)
	// RemoveLine succeeds when the line is already gone.
	RemoveLine(ctx context.Context, userID, lineID string) error
}

// AddressBook resolves a user's saved address.
type AddressBook interface {
	// Get returns domain.ErrNotFound for unknown ids and domain.ErrUnauthorized for
	// addresses owned by another user.
	Get(ctx context.Context, addressID, userID string) (domain.Address, error)
}
