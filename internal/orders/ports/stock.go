package ports

import "context"

// StockLedger adjusts variant stock outside the order creation transaction.
type StockLedger interface {
	// Decrement fails with domain.ErrInsufficientStock instead of going negative.
	Decrement(ctx context.Context, productID, color string, quantity int) error
	Restore(ctx context.Context, productID, color string, quantity int) error
}
