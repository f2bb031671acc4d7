package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDelivery() *domain.Delivery {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Delivery{
		ID:                uuid.New(),
		WebhookID:         uuid.New(),
		EventID:           "evt-1",
		EventType:         domain.EventJobCompleted,
		Payload:           json.RawMessage(`{"event":"job.completed","data":{"project_id":"p1"}}`),
		Status:            domain.DeliveryStatusPending,
		SequenceStart:     1,
		SequenceStartedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func deliveryRowColumns() []string {
	return []string{"id", "webhook_id", "event_id", "event_type", "payload", "status", "attempts",
		"sequence_start", "sequence_started_at", "next_retry_at", "last_error", "created_at", "updated_at"}
}

func deliveryRow(rows *pgxmock.Rows, d *domain.Delivery) *pgxmock.Rows {
	return rows.AddRow(
		d.ID, d.WebhookID, d.EventID, string(d.EventType), []byte(d.Payload), string(d.Status), d.Attempts,
		d.SequenceStart, d.SequenceStartedAt, d.NextRetryAt, d.LastError, d.CreatedAt, d.UpdatedAt,
	)
}

func TestDeliveryRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDelivery()
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WithArgs(d.ID, d.WebhookID, d.EventID, "job.completed", []byte(d.Payload), "pending", 0,
			1, d.SequenceStartedAt, d.NextRetryAt, d.LastError, d.CreatedAt, d.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewDeliveryRepo(mock).Create(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_GetByID_PreservesPayloadBytes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDelivery()
	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries WHERE id").
		WithArgs(d.ID).
		WillReturnRows(deliveryRow(pgxmock.NewRows(deliveryRowColumns()), d))

	got, err := NewDeliveryRepo(mock).GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, string(d.Payload), string(got.Payload))
	assert.Equal(t, domain.DeliveryStatusPending, got.Status)
	assert.Equal(t, domain.EventJobCompleted, got.EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ListByWebhook(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDelivery()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM webhook_deliveries").
		WithArgs(d.WebhookID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries\\s+WHERE webhook_id").
		WithArgs(d.WebhookID, 10, 0).
		WillReturnRows(deliveryRow(pgxmock.NewRows(deliveryRowColumns()), d))

	list, total, err := NewDeliveryRepo(mock).ListByWebhook(context.Background(), d.WebhookID, ports.PageParams{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_AppendAndListAttempts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	code := 503
	a := &domain.DeliveryAttempt{
		DeliveryID:     uuid.New(),
		Attempt:        1,
		Status:         domain.AttemptStatusFailed,
		StatusCode:     &code,
		ResponseTimeMs: 120,
		Error:          strPtr("HTTP 503"),
		ResponseBody:   strPtr("unavailable"),
		AttemptedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectExec("INSERT INTO webhook_delivery_attempts").
		WithArgs(a.DeliveryID, 1, "failed", a.StatusCode, int64(120), a.Error, a.ResponseBody, a.AttemptedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.AppendAttempt(context.Background(), a))

	mock.ExpectQuery("SELECT .+ FROM webhook_delivery_attempts").
		WithArgs(a.DeliveryID).
		WillReturnRows(pgxmock.NewRows([]string{"delivery_id", "attempt", "status", "status_code", "response_time_ms", "error", "response_body", "attempted_at"}).
			AddRow(a.DeliveryID, 1, "failed", a.StatusCode, int64(120), a.Error, a.ResponseBody, a.AttemptedAt))

	attempts, err := repo.ListAttempts(context.Background(), a.DeliveryID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Succeeded())
	assert.Equal(t, 503, *attempts[0].StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ScheduleNext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	due := time.Now().UTC().Add(time.Minute)
	mock.ExpectExec("(?s)UPDATE webhook_deliveries\\s+SET attempts = \\$1, next_retry_at = \\$2.+status = 'pending'").
		WithArgs(1, due, strPtr("HTTP 500"), pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewDeliveryRepo(mock).ScheduleNext(context.Background(), id, 1, due, strPtr("HTTP 500")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_Complete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"pending delivery", 1, true},
		{"already terminal", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			id := uuid.New()
			mock.ExpectExec("UPDATE webhook_deliveries\\s+SET status = \\$1").
				WithArgs("success", 2, (*string)(nil), pgxmock.AnyArg(), id).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := NewDeliveryRepo(mock).Complete(context.Background(), id, domain.DeliveryStatusSuccess, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeliveryRepo_Restart(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Now().UTC()
	mock.ExpectExec("(?s)UPDATE webhook_deliveries\\s+SET status = 'pending', sequence_start = \\$1.+WHERE id = \\$3 AND status = 'failed'").
		WithArgs(6, at, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := NewDeliveryRepo(mock).Restart(context.Background(), id, 6, at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ListPendingRetries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := newTestDelivery()
	due := d.SequenceStartedAt.Add(time.Minute)
	d.Attempts = 1
	d.NextRetryAt = &due

	mock.ExpectQuery("WHERE status = 'pending' AND next_retry_at IS NOT NULL").
		WithArgs(100).
		WillReturnRows(deliveryRow(pgxmock.NewRows(deliveryRowColumns()), d))

	list, err := NewDeliveryRepo(mock).ListPendingRetries(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due, *list[0].NextRetryAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
