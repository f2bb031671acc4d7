package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/rs/zerolog"
)

const (
	recoverLimit = 10000

	// overdueGrace is how long a pending delivery may sit past its
	// next_retry_at before the poller assumes its queue entry was lost. It
	// exceeds the longest attempt so in-flight tasks are not queued twice.
	overdueGrace = 5 * time.Minute
)

// RetryHandler runs one claimed retry task.
type RetryHandler func(ctx context.Context, task ports.RetryTask) error

// RetryScheduler persists and queues future delivery attempts.
// The delivery row is the source of truth; the queue is rebuilt from it by Recover.
type RetryScheduler struct {
	deliveries ports.DeliveryRepository
	queue      ports.RetryQueue
	batchSize  int
	metrics    ports.Metrics
	log        zerolog.Logger
	now        func() time.Time
	grace      time.Duration
}

// NewRetryScheduler creates a retry scheduler. A nil metrics discards counters.
func NewRetryScheduler(
	deliveries ports.DeliveryRepository,
	queue ports.RetryQueue,
	batchSize int,
	metrics ports.Metrics,
	log zerolog.Logger,
) *RetryScheduler {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if batchSize < 1 {
		batchSize = 100
	}
	return &RetryScheduler{
		deliveries: deliveries,
		queue:      queue,
		batchSize:  batchSize,
		metrics:    metrics,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		grace:      overdueGrace,
	}
}

// ScheduleRetry records that attempt-1 attempts are done and queues attempt
// at its offset from the start of the sequence.
func (r *RetryScheduler) ScheduleRetry(ctx context.Context, d *domain.Delivery, attempt int, lastError *string) error {
	due, ok := d.DueAt(attempt)
	if !ok {
		return fmt.Errorf("attempt %d is past the retry sequence", attempt)
	}
	if err := r.deliveries.ScheduleNext(ctx, d.ID, attempt-1, due, lastError); err != nil {
		return fmt.Errorf("store next retry: %w", err)
	}
	if err := r.queue.Schedule(ctx, ports.RetryTask{DeliveryID: d.ID, Attempt: attempt, DueAt: due}); err != nil {
		return fmt.Errorf("queue retry: %w", err)
	}
	r.metrics.RetryScheduled()

	r.log.Debug().
		Str("delivery_id", d.ID.String()).
		Int("attempt", attempt).
		Time("due_at", due).
		Msg("retry scheduled")
	return nil
}

// DueRetries claims up to limit tasks due at or before now.
func (r *RetryScheduler) DueRetries(ctx context.Context, now time.Time, limit int) ([]ports.RetryTask, error) {
	return r.queue.ClaimDue(ctx, now, limit)
}

// Poll re-queues overdue deliveries, claims one batch of due tasks and runs
// them concurrently. A task whose handler fails is queued again for the next
// poll. It returns once every handler has finished.
func (r *RetryScheduler) Poll(ctx context.Context, handle RetryHandler) (int, error) {
	now := r.now()
	if n, err := r.requeueOverdue(ctx, now); err != nil {
		r.log.Warn().Err(err).Msg("overdue retry sweep failed")
	} else if n > 0 {
		r.log.Warn().Int("count", n).Msg("overdue deliveries re-queued")
	}

	tasks, err := r.DueRetries(ctx, now, r.batchSize)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task ports.RetryTask) {
			defer wg.Done()
			err := handle(ctx, task)
			if err == nil {
				return
			}
			logger := r.log.With().
				Str("delivery_id", task.DeliveryID.String()).
				Int("attempt", task.Attempt).
				Logger()
			logger.Error().Err(err).Msg("retry failed, re-queued")

			task.DueAt = r.now()
			if err := r.queue.Schedule(context.WithoutCancel(ctx), task); err != nil {
				logger.Error().Err(err).Msg("failed to re-queue retry")
			}
		}(task)
	}
	wg.Wait()
	return len(tasks), nil
}

// Run is the periodic job body.
func (r *RetryScheduler) Run(ctx context.Context, handle RetryHandler) {
	n, err := r.Poll(ctx, handle)
	if err != nil {
		r.log.Error().Err(err).Msg("retry poll failed")
		return
	}
	if n > 0 {
		r.log.Info().Int("count", n).Msg("retries processed")
	}
}

// Recover re-queues every pending delivery from the database. Tasks already
// in the queue are only rescheduled, so running it twice is harmless.
func (r *RetryScheduler) Recover(ctx context.Context) (int, error) {
	n, err := r.requeue(ctx, func(d *domain.Delivery) bool { return true })
	if n > 0 {
		r.log.Info().Int("count", n).Msg("pending deliveries re-queued")
	}
	return n, err
}

// requeueOverdue queues pending deliveries whose next_retry_at passed more
// than the grace period ago. Such a delivery lost its queue entry, usually
// to a store error between the attempt and its bookkeeping.
func (r *RetryScheduler) requeueOverdue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.grace)
	return r.requeue(ctx, func(d *domain.Delivery) bool { return d.NextRetryAt.Before(cutoff) })
}

func (r *RetryScheduler) requeue(ctx context.Context, keep func(d *domain.Delivery) bool) (int, error) {
	pending, err := r.deliveries.ListPendingRetries(ctx, recoverLimit)
	if err != nil {
		return 0, fmt.Errorf("list pending retries: %w", err)
	}

	n := 0
	for i := range pending {
		d := &pending[i]
		if d.NextRetryAt == nil || !keep(d) {
			continue
		}
		task := ports.RetryTask{DeliveryID: d.ID, Attempt: d.Attempts + 1, DueAt: *d.NextRetryAt}
		if err := r.queue.Schedule(ctx, task); err != nil {
			return n, fmt.Errorf("queue retry: %w", err)
		}
		n++
	}
	return n, nil
}
