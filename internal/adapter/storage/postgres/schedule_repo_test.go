package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentimatrix-automation/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newTestSchedule() *domain.Schedule {
	now := time.Now().UTC().Truncate(time.Microsecond)
	next := now.Add(time.Hour)
	return &domain.Schedule{
		ID:        uuid.New(),
		ProjectID: "proj-1",
		UserID:    "user-1",
		Frequency: domain.FrequencyWeekly,
		Time:      strPtr("09:00"),
		Timezone:  "Europe/Berlin",
		DayOfWeek: intPtr(1),
		Enabled:   true,
		NextRun:   &next,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func scheduleRowColumns() []string {
	return []string{"id", "project_id", "user_id", "frequency", "time_of_day", "timezone", "day_of_week",
		"day_of_month", "enabled", "next_run", "last_run", "last_status", "created_at", "updated_at"}
}

func scheduleRow(s *domain.Schedule) *pgxmock.Rows {
	return pgxmock.NewRows(scheduleRowColumns()).AddRow(
		s.ID, s.ProjectID, s.UserID, string(s.Frequency), s.Time, s.Timezone, s.DayOfWeek,
		s.DayOfMonth, s.Enabled, s.NextRun, s.LastRun, runStatusArg(s.LastStatus), s.CreatedAt, s.UpdatedAt,
	)
}

func TestScheduleRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewScheduleRepo(mock)
	s := newTestSchedule()

	mock.ExpectExec("INSERT INTO schedules").
		WithArgs(s.ID, s.ProjectID, s.UserID, "weekly", s.Time, s.Timezone,
			s.DayOfWeek, s.DayOfMonth, true, s.NextRun, s.LastRun, (*string)(nil),
			s.CreatedAt, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_Create_DuplicateProject(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewScheduleRepo(mock)

	mock.ExpectExec("INSERT INTO schedules").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "schedules_project_id_key"})

	err = repo.Create(context.Background(), newTestSchedule())
	assert.ErrorIs(t, err, domain.ErrScheduleExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_GetByProject(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewScheduleRepo(mock)
	s := newTestSchedule()
	completed := domain.RunStatusCompleted
	s.LastStatus = &completed

	mock.ExpectQuery("SELECT .+ FROM schedules WHERE project_id").
		WithArgs(s.ProjectID, s.UserID).
		WillReturnRows(scheduleRow(s))

	got, err := repo.GetByProject(context.Background(), s.UserID, s.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, domain.FrequencyWeekly, got.Frequency)
	assert.Equal(t, "09:00", *got.Time)
	assert.Equal(t, 1, *got.DayOfWeek)
	assert.Nil(t, got.DayOfMonth)
	require.NotNil(t, got.LastStatus)
	assert.Equal(t, domain.RunStatusCompleted, *got.LastStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewScheduleRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM schedules WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(scheduleRowColumns()))

	got, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_ListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewScheduleRepo(mock)
	a, b := newTestSchedule(), newTestSchedule()
	b.ProjectID = "proj-2"
	now := time.Now().UTC()

	rows := pgxmock.NewRows(scheduleRowColumns())
	for _, s := range []*domain.Schedule{a, b} {
		rows.AddRow(s.ID, s.ProjectID, s.UserID, string(s.Frequency), s.Time, s.Timezone, s.DayOfWeek,
			s.DayOfMonth, s.Enabled, s.NextRun, s.LastRun, (*string)(nil), s.CreatedAt, s.UpdatedAt)
	}
	mock.ExpectQuery("SELECT .+ FROM schedules\\s+WHERE enabled = TRUE AND next_run IS NOT NULL AND next_run <=").
		WithArgs(now, 50).
		WillReturnRows(rows)

	due, err := repo.ListDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "proj-2", due[1].ProjectID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_Claim(t *testing.T) {
	id := uuid.New()
	expected := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	next := expected.Add(7 * 24 * time.Hour)
	now := expected.Add(3 * time.Second)

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"won", 1, true},
		{"lost to another instance", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec("UPDATE schedules\\s+SET next_run = \\$1, updated_at = \\$2\\s+WHERE id = \\$3 AND enabled = TRUE AND next_run = \\$4").
				WithArgs(next, now, id, expected).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := NewScheduleRepo(mock).Claim(context.Background(), id, expected, next, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestScheduleRepo_RecordRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	ranAt := time.Now().UTC()
	version := ranAt.Add(-time.Second)
	next := ranAt.Add(24 * time.Hour)

	mock.ExpectExec("UPDATE schedules\\s+SET last_run").
		WithArgs(ranAt, "failed", &next, pgxmock.AnyArg(), id, version).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := NewScheduleRepo(mock).RecordRun(context.Background(), id, version, ranAt, domain.RunStatusFailed, &next)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_RecordRun_DefinitionChanged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	ranAt := time.Now().UTC()
	next := ranAt.Add(24 * time.Hour)

	mock.ExpectExec("UPDATE schedules\\s+SET last_run").
		WithArgs(ranAt, "completed", &next, pgxmock.AnyArg(), id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewScheduleRepo(mock).RecordRun(context.Background(), id, ranAt.Add(-time.Minute), ranAt, domain.RunStatusCompleted, &next)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepo_Delete_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM schedules").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = NewScheduleRepo(mock).Delete(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete schedule")
	assert.NoError(t, mock.ExpectationsWereMet())
}
