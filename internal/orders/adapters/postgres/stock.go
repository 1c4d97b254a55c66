package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// StockLedger adjusts variant stock with single conditional updates.
type StockLedger struct {
	pool *pgxpool.Pool
}

func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{pool: pool}
}

func (l *StockLedger) Decrement(ctx context.Context, productID, color string, quantity int) error {
	return decrement(ctx, l.pool, productID, color, quantity)
}

func (l *StockLedger) Restore(ctx context.Context, productID, color string, quantity int) error {
	result, err := l.pool.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock + $1, updated_at = NOW()
		WHERE product_id = $2 AND color = $3
	`, quantity, productID, color)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("variant %s/%s: %w", productID, color, domain.ErrNotFound)
	}
	return nil
}

// decrement never lets stock go below zero; the CHECK constraint backs the guard.
func decrement(ctx context.Context, q querier, productID, color string, quantity int) error {
	query := `
		UPDATE product_variants
		SET stock = stock - $1, updated_at = NOW()
		WHERE product_id = $2 AND color = $3 AND stock >= $1
		RETURNING stock
	`

	var remaining int
	err := q.QueryRow(ctx, query, quantity, productID, color).Scan(&remaining)
	if err == nil {
		return nil
	}
	if database.IsCheckViolation(err) {
		return &domain.InsufficientStockError{ProductID: productID, Color: color, Requested: quantity}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("decrement stock: %w", err)
	}

	var (
		name      string
		available int
	)
	lookup := `
		SELECT p.name, v.stock
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.product_id = $1 AND v.color = $2
	`
	if err := q.QueryRow(ctx, lookup, productID, color).Scan(&name, &available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("variant %s/%s: %w", productID, color, domain.ErrNotFound)
		}
		return fmt.Errorf("read stock: %w", err)
	}

	return &domain.InsufficientStockError{
		ProductID:   productID,
		ProductName: name,
		Color:       color,
		Requested:   quantity,
		Available:   available,
	}
}
