package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// DefaultReservationLease bounds how long an uncompleted reservation blocks its key.
const DefaultReservationLease = time.Minute

// Store keeps idempotency responses in idempotency_keys. A row with status_code 0 is a
// reservation for a request still running. Completed rows older than ttl and
// reservations older than the lease may be claimed again; a non-positive ttl keeps
// completed rows forever.
type Store struct {
	pool  *pgxpool.Pool
	ttl   time.Duration
	lease time.Duration
}

func NewStore(pool *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{pool: pool, ttl: ttl, lease: DefaultReservationLease}
}

func (s *Store) Reserve(ctx context.Context, userID, key string) (*ports.StoredResponse, bool, error) {
	query := `
		INSERT INTO idempotency_keys (user_id, key, status_code, body, order_id)
		VALUES ($1, $2, 0, ''::bytea, '')
		ON CONFLICT (user_id, key) DO UPDATE
		SET status_code = 0,
		    body        = ''::bytea,
		    order_id    = '',
		    created_at  = NOW()
		WHERE (idempotency_keys.status_code <> 0
		       AND $3::double precision > 0
		       AND idempotency_keys.created_at <= NOW() - make_interval(secs => $3::double precision))
		   OR (idempotency_keys.status_code = 0
		       AND idempotency_keys.created_at <= NOW() - make_interval(secs => $4::double precision))
		RETURNING true
	`

	var reserved bool
	err := s.pool.QueryRow(ctx, query, userID, key, s.ttl.Seconds(), s.lease.Seconds()).Scan(&reserved)
	if err == nil {
		return nil, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	var resp ports.StoredResponse
	err = s.pool.QueryRow(ctx, `
		SELECT status_code, body, order_id
		FROM idempotency_keys
		WHERE user_id = $1 AND key = $2
	`, userID, key).Scan(&resp.StatusCode, &resp.Body, &resp.OrderID)
	if err != nil {
		// released between the two statements; the caller retries later
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select idempotency key: %w", err)
	}
	if resp.StatusCode == 0 {
		return nil, false, nil
	}

	return &resp, false, nil
}

func (s *Store) Complete(ctx context.Context, userID, key string, response ports.StoredResponse) error {
	query := `
		UPDATE idempotency_keys
		SET status_code = $3,
		    body        = $4,
		    order_id    = $5,
		    created_at  = NOW()
		WHERE user_id = $1 AND key = $2 AND status_code = 0
	`

	tag, err := s.pool.Exec(ctx, query, userID, key, response.StatusCode, response.Body, response.OrderID)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrReservationLost
	}

	return nil
}

func (s *Store) Release(ctx context.Context, userID, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE user_id = $1 AND key = $2 AND status_code = 0`,
		userID, key)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
