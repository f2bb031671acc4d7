package ports

import (
	"context"
	"time"

	"sentimatrix-automation/internal/core/domain"

	"github.com/google/uuid"
)

// ScheduleRepository persists schedules. Get methods return nil, nil when
// nothing matches.
type ScheduleRepository interface {
	// Create inserts a schedule. Returns domain.ErrScheduleExists if the
	// project already has one.
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	GetByProject(ctx context.Context, userID, projectID string) (*domain.Schedule, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListDue returns enabled schedules with next_run <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	// Claim moves next_run from expected to next only if the row still holds
	// expected. Returns false when another instance got there first.
	Claim(ctx context.Context, id uuid.UUID, expected, next, now time.Time) (bool, error)
	// RecordRun stores the outcome of a trigger together with the recomputed
	// next_run (nil when the schedule is disabled). The write only applies
	// while the row's updated_at still equals version; false means the
	// definition changed and next_run must be recomputed.
	RecordRun(ctx context.Context, id uuid.UUID, version, ranAt time.Time, status domain.RunStatus, next *time.Time) (bool, error)
}

// ExecutionRepository stores the trigger history of schedules.
type ExecutionRepository interface {
	Create(ctx context.Context, e *domain.ScheduleExecution) error
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID, page PageParams) ([]domain.ScheduleExecution, int64, error)
}

// WebhookRepository persists webhook subscriptions and their health counters.
type WebhookRepository interface {
	Create(ctx context.Context, w *domain.Webhook) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Webhook, error)
	// ListByUser returns a user's webhooks. A non-nil projectID restricts
	// the result to that project's webhooks.
	ListByUser(ctx context.Context, userID string, projectID *string) ([]domain.Webhook, error)
	Update(ctx context.Context, w *domain.Webhook) error
	Delete(ctx context.Context, id uuid.UUID) error
	// SetEnabled toggles a webhook. Enabling also resets consecutive_failures.
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	// ListEnabledForEvent returns enabled webhooks of userID subscribed to
	// eventType, scoped to projectID or global.
	ListEnabledForEvent(ctx context.Context, userID, projectID string, eventType domain.EventType) ([]domain.Webhook, error)
	// RecordSuccess resets consecutive_failures to zero.
	RecordSuccess(ctx context.Context, id uuid.UUID, statusCode int, at time.Time) error
	// RecordFailure increments consecutive_failures and disables the webhook
	// when it reaches threshold, in one statement.
	RecordFailure(ctx context.Context, id uuid.UUID, statusCode *int, at time.Time, threshold int) (*FailureOutcome, error)
}

// FailureOutcome is the webhook state right after a failed attempt.
type FailureOutcome struct {
	ConsecutiveFailures int
	Disabled            bool
}

// DeliveryRepository stores deliveries and their attempt log.
type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Delivery, error)
	ListByWebhook(ctx context.Context, webhookID uuid.UUID, page PageParams) ([]domain.Delivery, int64, error)
	ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryAttempt, error)

	// AppendAttempt inserts an attempt row. (delivery_id, attempt) is unique.
	AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error
	// ScheduleNext records the last attempt number and when the next is due.
	ScheduleNext(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, lastError *string) error
	// Complete moves a pending delivery to a terminal status. Returns false
	// if the delivery was no longer pending.
	Complete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, attempt int, lastError *string) (bool, error)
	// Restart reopens a failed delivery with a new attempt sequence. Returns
	// false if the delivery was not in the failed state.
	Restart(ctx context.Context, id uuid.UUID, sequenceStart int, at time.Time) (bool, error)
	// ListPendingRetries returns pending deliveries that have a next_retry_at.
	ListPendingRetries(ctx context.Context, limit int) ([]domain.Delivery, error)
}

// PageParams holds 1-based pagination input.
type PageParams struct {
	Page     int
	PageSize int
}

// Normalize clamps page and size to sane bounds.
func (p PageParams) Normalize() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

// Offset returns the row offset of the page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}
