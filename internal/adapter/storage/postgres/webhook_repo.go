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

const webhookColumns = `id, user_id, project_id, url, events, secret_enc, headers, filter, enabled,
		consecutive_failures, last_triggered_at, last_status_code, created_at, updated_at`

// WebhookRepo implements ports.WebhookRepository.
type WebhookRepo struct {
	pool Pool
}

// NewWebhookRepo creates a PostgreSQL-backed webhook repository.
func NewWebhookRepo(pool Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// Create inserts a webhook subscription.
func (r *WebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	query := `INSERT INTO webhooks (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.ProjectID, w.URL, w.Events, w.SecretEnc, headersArg(w.Headers), w.Filter, w.Enabled,
		w.ConsecutiveFailures, w.LastTriggeredAt, w.LastStatusCode, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// GetByID fetches a webhook by its UUID.
func (r *WebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`
	w, err := scanWebhook(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook by id: %w", err)
	}
	return w, nil
}

// ListByUser returns the user's webhooks, optionally restricted to a project.
func (r *WebhookRepo) ListByUser(ctx context.Context, userID string, projectID *string) ([]domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE user_id = $1 AND ($2::text IS NULL OR project_id = $2)
		ORDER BY created_at DESC`
	return r.list(ctx, query, userID, projectID)
}

// Update rewrites the editable fields of a webhook. enabled and the failure
// counter are only changed through SetEnabled and the Record methods.
func (r *WebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	query := `UPDATE webhooks
		SET url = $1, events = $2, secret_enc = $3, headers = $4, filter = $5, updated_at = $6
		WHERE id = $7`

	_, err := r.pool.Exec(ctx, query,
		w.URL, w.Events, w.SecretEnc, headersArg(w.Headers), w.Filter, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}

// Delete removes a webhook together with its delivery log.
func (r *WebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// SetEnabled toggles a webhook. Re-enabling clears the failure counter.
func (r *WebhookRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `UPDATE webhooks
		SET enabled = $1,
			consecutive_failures = CASE WHEN $1 THEN 0 ELSE consecutive_failures END,
			updated_at = $2
		WHERE id = $3`

	if _, err := r.pool.Exec(ctx, query, enabled, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set webhook enabled: %w", err)
	}
	return nil
}

// ListEnabledForEvent matches an event against the user's subscriptions.
// Global webhooks (no project) match events of every project.
func (r *WebhookRepo) ListEnabledForEvent(ctx context.Context, userID, projectID string, eventType domain.EventType) ([]domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE user_id = $1 AND enabled = TRUE AND $2 = ANY(events)
			AND (project_id IS NULL OR project_id = $3)
		ORDER BY created_at ASC`
	return r.list(ctx, query, userID, string(eventType), projectID)
}

// RecordSuccess resets the failure counter after a 2xx answer.
func (r *WebhookRepo) RecordSuccess(ctx context.Context, id uuid.UUID, statusCode int, at time.Time) error {
	query := `UPDATE webhooks
		SET consecutive_failures = 0, last_triggered_at = $1, last_status_code = $2, updated_at = $1
		WHERE id = $3`

	if _, err := r.pool.Exec(ctx, query, at, statusCode, id); err != nil {
		return fmt.Errorf("record webhook success: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counter and disables the webhook once
// it reaches threshold. Both happen in one statement so concurrent failures
// cannot skip the threshold.
func (r *WebhookRepo) RecordFailure(ctx context.Context, id uuid.UUID, statusCode *int, at time.Time, threshold int) (*ports.FailureOutcome, error) {
	query := `UPDATE webhooks
		SET consecutive_failures = consecutive_failures + 1,
			enabled = CASE WHEN consecutive_failures + 1 >= $1 THEN FALSE ELSE enabled END,
			last_triggered_at = $2, last_status_code = $3, updated_at = $2
		WHERE id = $4
		RETURNING consecutive_failures, enabled`

	var (
		failures int
		enabled  bool
	)
	err := r.pool.QueryRow(ctx, query, threshold, at, statusCode, id).Scan(&failures, &enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record webhook failure: %w", err)
	}
	return &ports.FailureOutcome{ConsecutiveFailures: failures, Disabled: !enabled}, nil
}

func (r *WebhookRepo) list(ctx context.Context, query string, args ...any) ([]domain.Webhook, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var w domain.Webhook
	err := row.Scan(
		&w.ID, &w.UserID, &w.ProjectID, &w.URL, &w.Events, &w.SecretEnc, &w.Headers, &w.Filter, &w.Enabled,
		&w.ConsecutiveFailures, &w.LastTriggeredAt, &w.LastStatusCode, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// headersArg keeps the NOT NULL jsonb column populated.
func headersArg(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
