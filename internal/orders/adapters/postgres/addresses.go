package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type Addresses struct {
	pool *pgxpool.Pool
}

func NewAddresses(pool *pgxpool.Pool) *Addresses {
	return &Addresses{pool: pool}
}

func (a *Addresses) Get(ctx context.Context, addressID, userID string) (domain.Address, error) {
	query := `
		SELECT id, user_id, recipient_name, phone, street, ward, district, city
		FROM addresses
		WHERE id = $1
	`

	var addr domain.Address
	err := a.pool.QueryRow(ctx, query, addressID).Scan(
		&addr.ID,
		&addr.UserID,
		&addr.RecipientName,
		&addr.Phone,
		&addr.Street,
		&addr.Ward,
		&addr.District,
		&addr.City,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Address{}, domain.ErrNotFound
		}
		return domain.Address{}, fmt.Errorf("select address: %w", err)
	}

	if addr.UserID != userID {
		return domain.Address{}, domain.ErrUnauthorized
	}
	return addr, nil
}
