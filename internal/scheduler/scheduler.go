// Package scheduler fires one delayed job per order, surviving restarts when backed by
// Redis. Claiming a due job leases it to one worker; the job is removed only once the
// handler succeeds, so a worker that dies mid-job leaves it to be claimed again.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dejobratic/orderflow/internal/retry"
)

// Job is a pending auto-cancel for one order.
type Job struct {
	OrderID   string    `json:"order_id"`
	OrderCode string    `json:"order_code"`
	FireAt    time.Time `json:"fire_at"`
	Attempt   int       `json:"attempt"`

	// LeasedUntil is set by ClaimDue and identifies the claim in Ack and Retry.
	LeasedUntil time.Time `json:"-"`
}

// Handler processes a due job. Returning an error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// Store persists jobs keyed by order id.
type Store interface {
	// Put inserts or replaces the job for job.OrderID.
	Put(ctx context.Context, job Job) error
	Remove(ctx context.Context, orderID string) error
	// ClaimDue atomically leases up to limit jobs due at or before now. A leased job is
	// not due again until now+lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	// Ack removes a claimed job. It is a no-op when the job was rescheduled or removed
	// after the claim.
	Ack(ctx context.Context, job Job) error
	// Retry stores a claimed job with its new FireAt and Attempt under the same
	// condition as Ack.
	Retry(ctx context.Context, job Job) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// Lease is how long a claimed job stays invisible to other workers.
	Lease time.Duration
	// AlertAfter is the attempt count from which failures log at error level. Failing
	// jobs are never dropped; their delay stops growing at Backoff.MaxInterval.
	AlertAfter int
	Backoff    retry.Policy
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.AlertAfter < 3 {
		c.AlertAfter = 3
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = 5 * time.Second
	}
	if c.Backoff.MaxInterval <= 0 {
		c.Backoff.MaxInterval = 5 * time.Minute
	}
	return c
}

type Scheduler struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Schedule arms the job for orderID to fire after delay, replacing any earlier one.
func (s *Scheduler) Schedule(ctx context.Context, orderID, orderCode string, delay time.Duration) error {
	if strings.TrimSpace(orderID) == "" {
		return errors.New("schedule job: order id is required")
	}
	return s.store.Put(ctx, Job{
		OrderID:   orderID,
		OrderCode: orderCode,
		FireAt:    s.now().Add(delay),
	})
}

// Cancel disarms the job for orderID. It is not an error when none exists.
func (s *Scheduler) Cancel(ctx context.Context, orderID string) error {
	return s.store.Remove(ctx, orderID)
}

// Run polls for due jobs until ctx is done.
func (s *Scheduler) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "cancellation scheduler started",
		"poll_interval", s.cfg.PollInterval.String(),
		"batch_size", s.cfg.BatchSize,
	)

	for {
		if _, err := s.Poll(ctx, handler); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "failed to poll due jobs", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("cancellation scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll claims one batch of due jobs and hands each to handler. It returns the number
// of jobs claimed.
func (s *Scheduler) Poll(ctx context.Context, handler Handler) (int, error) {
	// a partial claim still hands over the jobs that decoded
	jobs, err := s.store.ClaimDue(ctx, s.now(), s.cfg.BatchSize, s.cfg.Lease)

	for _, job := range jobs {
		if ctx.Err() != nil {
			// hand back what we claimed but did not run
			s.retry(context.WithoutCancel(ctx), job)
			continue
		}
		s.dispatch(ctx, handler, job)
	}
	return len(jobs), err
}

func (s *Scheduler) dispatch(ctx context.Context, handler Handler, job Job) {
	err := handler(ctx, job)
	if err == nil {
		if err := s.store.Ack(ctx, job); err != nil {
			// the lease runs out and the job fires again; handlers are idempotent
			s.logger.ErrorContext(ctx, "failed to acknowledge scheduled job",
				"error", err,
				"order_id", job.OrderID,
			)
		}
		return
	}

	job.Attempt++
	delay := s.cfg.Backoff.Delay(job.Attempt)
	attrs := []any{
		"error", err,
		"order_id", job.OrderID,
		"order_code", job.OrderCode,
		"attempt", job.Attempt,
		"retry_in", delay.String(),
	}
	if job.Attempt >= s.cfg.AlertAfter {
		s.logger.ErrorContext(ctx, "scheduled job keeps failing", attrs...)
	} else {
		s.logger.WarnContext(ctx, "scheduled job failed, retrying", attrs...)
	}

	job.FireAt = s.now().Add(delay)
	s.retry(ctx, job)
}

func (s *Scheduler) retry(ctx context.Context, job Job) {
	if err := s.store.Retry(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to requeue scheduled job",
			"error", err,
			"order_id", job.OrderID,
		)
	}
}
