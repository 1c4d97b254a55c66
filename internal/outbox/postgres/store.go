// Package postgres keeps the notification outbox in the notification_outbox table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/outbox"
)

// Store writes notifications to the outbox and serves them to the relay. A record is
// due while sent_at is null and available_at has passed; claiming pushes available_at
// out by the lease.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enqueue persists n with the trace context of ctx. Writing the same notification id
// twice keeps the first row.
func (s *Store) Enqueue(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	query := `
		INSERT INTO notification_outbox (notification_id, type, order_id, payload, headers)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (notification_id) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query, n.ID, string(n.Type), n.Order.OrderID, payload, outbox.TraceHeaders(ctx))
	if err != nil {
		return fmt.Errorf("insert outbox notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Record, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM notification_outbox
			WHERE sent_at IS NULL AND available_at <= NOW()
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_outbox o
		SET available_at = NOW() + make_interval(secs => $2::double precision)
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.payload, o.headers, o.attempts
	`

	rows, err := s.pool.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox notifications: %w", err)
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var (
			rec     outbox.Record
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &payload, &rec.Headers, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox notification: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Notification); err != nil {
			return nil, fmt.Errorf("unmarshal outbox notification %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox notifications: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE notification_outbox SET sent_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox notification %d sent: %w", id, err)
	}
	return nil
}

func (s *Store) Retry(ctx context.Context, id int64, availableAt time.Time, cause string) error {
	query := `
		UPDATE notification_outbox
		SET attempts     = attempts + 1,
		    last_error   = $2,
		    available_at = $3
		WHERE id = $1 AND sent_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, id, cause, availableAt); err != nil {
		return fmt.Errorf("reschedule outbox notification %d: %w", id, err)
	}
	return nil
}

func (s *Store) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_outbox WHERE sent_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge sent notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Pending reports the number of unsent notifications.
func (s *Store) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_outbox WHERE sent_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending notifications: %w", err)
	}
	return n, nil
}
