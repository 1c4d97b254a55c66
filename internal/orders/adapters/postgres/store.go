package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

const orderColumns = `
	id::text, code, user_id,
	recipient_name, phone, street, ward, district, city,
	item_count, subtotal, discount, shipping_fee, total,
	discount_code, notes,
	status, payment_status, payment_method, transaction_ref, paid_at,
	shipping_provider, tracking_number,
	cancel_reason, cancelled_at,
	created_at, updated_at
`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists orders in Postgres. Row locks use SELECT ... FOR UPDATE inside
// read-committed transactions.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.OrderTx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, s.pool, id, "")
}

func (s *Store) ListByUser(ctx context.Context, userID string, filter ports.ListFilter) ([]domain.Order, error) {
	filter = filter.Normalized()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, code DESC
		LIMIT $3 OFFSET $4
	`

	var statusFilter *string
	if filter.Status != nil {
		s := string(*filter.Status)
		statusFilter = &s
	}

	rows, err := s.pool.Query(ctx, query, userID, statusFilter, filter.PageSize, filter.Offset())
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	for i := range orders {
		items, err := loadItems(ctx, s.pool, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (s *Store) UpdateShipping(ctx context.Context, id string, update domain.ShippingUpdate) (*domain.Order, error) {
	var order *domain.Order
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		locked, err := loadOrder(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return err
		}
		update.Apply(locked, time.Now().UTC())

		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET shipping_provider = $1, tracking_number = $2, updated_at = $3
			WHERE id = $4
		`, locked.ShippingProvider, locked.TrackingNumber, locked.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("update shipping: %w", err)
		}

		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockVariant(ctx context.Context, productID, color string) (domain.StockVariant, error) {
	query := `
		SELECT v.product_id, p.name, v.color, v.stock
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.product_id = $1 AND v.color = $2
		FOR UPDATE OF v
	`

	var v domain.StockVariant
	err := t.tx.QueryRow(ctx, query, productID, color).Scan(&v.ProductID, &v.ProductName, &v.Color, &v.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StockVariant{}, fmt.Errorf("variant %s/%s: %w", productID, color, domain.ErrNotFound)
		}
		return domain.StockVariant{}, fmt.Errorf("lock variant: %w", err)
	}
	return v, nil
}

func (t *pgTx) DecrementStock(ctx context.Context, productID, color string, quantity int) error {
	return decrement(ctx, t.tx, productID, color, quantity)
}

func (t *pgTx) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	query := `
		INSERT INTO order_code_sequences (day, last_value)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_value = order_code_sequences.last_value + 1
		RETURNING last_value
	`

	var seq int
	if err := t.tx.QueryRow(ctx, query, domain.OrderCodeDay(day)).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocate order sequence: %w", err)
	}
	return seq, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	query := `
		INSERT INTO orders (
			id, code, user_id,
			recipient_name, phone, street, ward, district, city,
			item_count, subtotal, discount, shipping_fee, total,
			discount_code, notes,
			status, payment_status, payment_method, transaction_ref, paid_at,
			shipping_provider, tracking_number,
			cancel_reason, cancelled_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16,
			$17, $18, $19, $20, $21,
			$22, $23,
			$24, $25,
			$26, $27
		)
	`

	_, err := t.tx.Exec(ctx, query,
		order.ID, order.Code, order.UserID,
		order.Shipping.RecipientName, order.Shipping.Phone, order.Shipping.Street,
		order.Shipping.Ward, order.Shipping.District, order.Shipping.City,
		order.ItemCount, order.Subtotal, order.Discount, order.ShippingFee, order.Total,
		order.DiscountCode, order.Notes,
		order.Status, order.PaymentStatus, order.PaymentMethod, order.TransactionRef, order.PaidAt,
		order.ShippingProvider, order.TrackingNumber,
		order.CancelReason, order.CancelledAt,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("order %s already exists: %w", order.Code, err)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(`
			INSERT INTO order_items (
				order_id, position, cart_line_id, product_id, product_name, product_image,
				color, unit_price, discount, quantity, subtotal
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			order.ID, i, item.CartLineID, item.ProductID, item.ProductName, item.ProductImage,
			item.Color, item.UnitPrice, item.Discount, item.Quantity, item.Subtotal,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}

	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) SaveOrder(ctx context.Context, order domain.Order) error {
	query := `
		UPDATE orders
		SET status = $1,
			payment_status = $2,
			transaction_ref = $3,
			paid_at = $4,
			cancel_reason = $5,
			cancelled_at = $6,
			updated_at = $7
		WHERE id = $8
	`

	result, err := t.tx.Exec(ctx, query,
		order.Status,
		order.PaymentStatus,
		order.TransactionRef,
		order.PaidAt,
		order.CancelReason,
		order.CancelledAt,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, id, lock string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 ` + lock

	order, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]domain.LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT cart_line_id, product_id, product_name, product_image, color,
			unit_price, discount, quantity, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(
			&item.CartLineID,
			&item.ProductID,
			&item.ProductName,
			&item.ProductImage,
			&item.Color,
			&item.UnitPrice,
			&item.Discount,
			&item.Quantity,
			&item.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.Code, &o.UserID,
		&o.Shipping.RecipientName, &o.Shipping.Phone, &o.Shipping.Street,
		&o.Shipping.Ward, &o.Shipping.District, &o.Shipping.City,
		&o.ItemCount, &o.Subtotal, &o.Discount, &o.ShippingFee, &o.Total,
		&o.DiscountCode, &o.Notes,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.TransactionRef, &o.PaidAt,
		&o.ShippingProvider, &o.TrackingNumber,
		&o.CancelReason, &o.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.PaidAt != nil {
		t := o.PaidAt.UTC()
		o.PaidAt = &t
	}
	if o.CancelledAt != nil {
		t := o.CancelledAt.UTC()
		o.CancelledAt = &t
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
