package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// Carts reads cart lines priced from the current catalog.
type Carts struct {
	pool *pgxpool.Pool
}

func NewCarts(pool *pgxpool.Pool) *Carts {
	return &Carts{pool: pool}
}

func (c *Carts) Snapshot(ctx context.Context, userID string) (domain.CartSnapshot, error) {
	query := `
		SELECT l.id, l.product_id, p.name, p.image_url, l.color, p.price, p.discount, l.quantity
		FROM cart_lines l
		JOIN products p ON p.id = l.product_id
		WHERE l.user_id = $1
		ORDER BY l.created_at, l.id
	`

	rows, err := c.pool.Query(ctx, query, userID)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	cart := domain.CartSnapshot{UserID: userID}
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(
			&line.ID,
			&line.ProductID,
			&line.ProductName,
			&line.ProductImage,
			&line.Color,
			&line.UnitPrice,
			&line.Discount,
			&line.Quantity,
		); err != nil {
			return domain.CartSnapshot{}, fmt.Errorf("scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("iterate cart: %w", err)
	}

	return cart, nil
}

func (c *Carts) RemoveLine(ctx context.Context, userID, lineID string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM cart_lines WHERE id = $1 AND user_id = $2`, lineID, userID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}
