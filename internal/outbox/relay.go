package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/dejobratic/orderflow/internal/notify"
	"github.com/dejobratic/orderflow/internal/retry"
)

// Store is the persistent side of the outbox.
type Store interface {
	// Claim leases up to limit due records. A claimed record is not due again until
	// the lease runs out, unless Retry moves it.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
	// Retry makes the record due again at availableAt and counts the failed attempt.
	Retry(ctx context.Context, id int64, availableAt time.Time, cause string) error
	// PurgeSent deletes records sent before the cutoff and reports how many went.
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

// Dispatcher accepts deliveries for publishing.
type Dispatcher interface {
	Submit(ctx context.Context, d notify.Delivery) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	// Backoff spaces out redeliveries of a record whose publish failed.
	Backoff retry.Policy
	// Retention is how long sent records are kept; PurgeInterval is how often they
	// are swept.
	Retention     time.Duration
	PurgeInterval time.Duration
	// AlertAfter is the attempt count from which failures log at error level.
	AlertAfter int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = time.Second
	}
	if c.Backoff.MaxInterval <= 0 {
		c.Backoff.MaxInterval = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = 5
	}
	return c
}

// Relay moves claimed outbox records into the dispatcher and settles each record
// with the publish result.
type Relay struct {
	store      Store
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func NewRelay(store Store, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run polls the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	purge := time.NewTicker(r.cfg.PurgeInterval)
	defer purge.Stop()

	r.logger.InfoContext(ctx, "outbox relay started",
		"poll_interval", r.cfg.PollInterval.String(),
		"batch_size", r.cfg.BatchSize,
	)

	for {
		if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "failed to relay outbox batch", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-purge.C:
			r.Purge(ctx)
		case <-ticker.C:
		}
	}
}

// Poll claims one batch and submits it. It returns the number of records submitted.
// Records that could not be submitted come back once their lease runs out.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	records, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, err
	}

	for i, rec := range records {
		err := r.dispatcher.Submit(ctx, notify.Delivery{
			Notification: rec.Notification,
			Link:         rec.SpanContext(),
			Done:         r.settle(rec),
		})
		if err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Purge deletes sent records older than the retention window.
func (r *Relay) Purge(ctx context.Context) {
	n, err := r.store.PurgeSent(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to purge sent notifications", "error", err)
		return
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "purged sent notifications", "count", n)
	}
}

func (r *Relay) settle(rec Record) func(ctx context.Context, err error) {
	return func(ctx context.Context, err error) {
		if err == nil {
			if err := r.store.MarkSent(ctx, rec.ID); err != nil {
				// the record is published again after its lease; consumers dedupe by id
				r.logger.ErrorContext(ctx, "failed to mark notification sent",
					"error", err,
					"notification_id", rec.Notification.ID,
				)
			}
			return
		}

		attempt := rec.Attempts + 1
		delay := r.cfg.Backoff.Delay(attempt)
		attrs := []any{
			"error", err,
			"notification_id", rec.Notification.ID,
			"notification_type", string(rec.Notification.Type),
			"order_id", rec.Notification.Order.OrderID,
			"attempt", attempt,
			"retry_in", delay.String(),
		}
		if attempt >= r.cfg.AlertAfter {
			r.logger.ErrorContext(ctx, "notification keeps failing", attrs...)
		} else {
			r.logger.WarnContext(ctx, "notification failed, retrying", attrs...)
		}

		if err := r.store.Retry(ctx, rec.ID, r.now().Add(delay), err.Error()); err != nil {
			r.logger.ErrorContext(ctx, "failed to reschedule notification",
				"error", err,
				"notification_id", rec.Notification.ID,
			)
		}
	}
}
