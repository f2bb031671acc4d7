package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `id, webhook_id, event_id, event_type, payload, status, attempts,
		sequence_start, sequence_started_at, next_retry_at, last_error, created_at, updated_at`

// DeliveryRepo implements ports.DeliveryRepository.
type DeliveryRepo struct {
	pool Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

// Create inserts a delivery. The payload is stored as raw bytes so every
// attempt sends exactly what was signed the first time.
func (r *DeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	query := `INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.WebhookID, d.EventID, string(d.EventType), []byte(d.Payload), string(d.Status), d.Attempts,
		d.SequenceStart, d.SequenceStartedAt, d.NextRetryAt, d.LastError, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetByID fetches a delivery by its UUID.
func (r *DeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery by id: %w", err)
	}
	return d, nil
}

// ListByWebhook returns one page of a webhook's deliveries, newest first.
func (r *DeliveryRepo) ListByWebhook(ctx context.Context, webhookID uuid.UUID, page ports.PageParams) ([]domain.Delivery, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE webhook_id = $1`, webhookID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	out, err := r.list(ctx, query, webhookID, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAttempts returns the attempt log of a delivery in attempt order.
func (r *DeliveryRepo) ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT delivery_id, attempt, status, status_code, response_time_ms, error, response_body, attempted_at
		FROM webhook_delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempt ASC`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var (
			a      domain.DeliveryAttempt
			status string
		)
		if err := rows.Scan(&a.DeliveryID, &a.Attempt, &status, &a.StatusCode, &a.ResponseTimeMs,
			&a.Error, &a.ResponseBody, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Status = domain.AttemptStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendAttempt logs one attempt.
func (r *DeliveryRepo) AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	query := `INSERT INTO webhook_delivery_attempts
		(delivery_id, attempt, status, status_code, response_time_ms, error, response_body, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		a.DeliveryID, a.Attempt, string(a.Status), a.StatusCode, a.ResponseTimeMs,
		a.Error, a.ResponseBody, a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// ScheduleNext records a failed attempt of a still pending delivery.
func (r *DeliveryRepo) ScheduleNext(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, lastError *string) error {
	query := `UPDATE webhook_deliveries
		SET attempts = $1, next_retry_at = $2, last_error = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending'`

	if _, err := r.pool.Exec(ctx, query, attempt, nextRetryAt, lastError, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("schedule next delivery attempt: %w", err)
	}
	return nil
}

// Complete moves a pending delivery to success or failed.
func (r *DeliveryRepo) Complete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, attempt int, lastError *string) (bool, error) {
	query := `UPDATE webhook_deliveries
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = NULL, updated_at = $4
		WHERE id = $5 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, string(status), attempt, lastError, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("complete delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Restart reopens a failed delivery. Attempt numbering continues from
// sequenceStart while the retry offsets start over at `at`.
func (r *DeliveryRepo) Restart(ctx context.Context, id uuid.UUID, sequenceStart int, at time.Time) (bool, error) {
	query := `UPDATE webhook_deliveries
		SET status = 'pending', sequence_start = $1, sequence_started_at = $2, next_retry_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'failed'`

	tag, err := r.pool.Exec(ctx, query, sequenceStart, at, id)
	if err != nil {
		return false, fmt.Errorf("restart delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingRetries returns pending deliveries with a scheduled attempt,
// soonest first.
func (r *DeliveryRepo) ListPendingRetries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at IS NOT NULL
		ORDER BY next_retry_at ASC
		LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *DeliveryRepo) list(ctx context.Context, query string, args ...any) ([]domain.Delivery, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var (
		d         domain.Delivery
		eventType string
		payload   []byte
		status    string
	)
	err := row.Scan(
		&d.ID, &d.WebhookID, &d.EventID, &eventType, &payload, &status, &d.Attempts,
		&d.SequenceStart, &d.SequenceStartedAt, &d.NextRetryAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.EventType = domain.EventType(eventType)
	d.Payload = payload
	d.Status = domain.DeliveryStatus(status)
	return &d, nil
}
