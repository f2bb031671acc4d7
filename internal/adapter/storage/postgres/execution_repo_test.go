package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRepo_CreateAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewExecutionRepo(mock)
	scheduleID := uuid.New()
	e := &domain.ScheduleExecution{
		ID:         uuid.New(),
		ScheduleID: scheduleID,
		ProjectID:  "proj-1",
		JobID:      strPtr("job-42"),
		Status:     domain.RunStatusCompleted,
		Trigger:    domain.TriggerScheduled,
		StartedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectExec("INSERT INTO schedule_executions").
		WithArgs(e.ID, e.ScheduleID, e.ProjectID, e.JobID, "completed", "scheduled", (*string)(nil), e.StartedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Create(context.Background(), e))

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM schedule_executions").
		WithArgs(scheduleID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(21)))
	mock.ExpectQuery("SELECT .+ FROM schedule_executions").
		WithArgs(scheduleID, 20, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "schedule_id", "project_id", "job_id", "status", "trigger", "error", "started_at"}).
			AddRow(e.ID, e.ScheduleID, e.ProjectID, e.JobID, "completed", "scheduled", (*string)(nil), e.StartedAt))

	items, total, err := repo.ListBySchedule(context.Background(), scheduleID, ports.PageParams{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(21), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.TriggerScheduled, items[0].Trigger)
	assert.Equal(t, "job-42", *items[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepo_ListBySchedule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	scheduleID := uuid.New()
	msg := "job service returned HTTP 500"
	started := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM schedule_executions").
		WithArgs(scheduleID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT id, schedule_id, project_id").
		WithArgs(scheduleID, 2, 2).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "schedule_id", "project_id", "job_id", "status", "trigger", "error", "started_at",
		}).AddRow(uuid.New(), scheduleID, "proj-1", (*string)(nil), "failed", "scheduled", &msg, started))

	items, total, err := NewExecutionRepo(mock).ListBySchedule(context.Background(), scheduleID,
		ports.PageParams{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.RunStatusFailed, items[0].Status)
	assert.Equal(t, domain.TriggerScheduled, items[0].Trigger)
	assert.Nil(t, items[0].JobID)
	assert.Equal(t, msg, *items[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck_Postgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	hc := NewHealthCheck(mock)
	assert.Equal(t, "postgresql", hc.Name())

	mock.ExpectExec("SELECT 1 FROM schedules").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	assert.NoError(t, hc.Ping(context.Background()))

	mock.ExpectExec("SELECT 1 FROM schedules").
		WillReturnError(errors.New(`relation "schedules" does not exist`))
	err = hc.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres health")
	assert.NoError(t, mock.ExpectationsWereMet())
}
