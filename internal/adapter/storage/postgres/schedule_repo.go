package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentimatrix-automation/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `id, project_id, user_id, frequency, time_of_day, timezone, day_of_week, day_of_month,
		enabled, next_run, last_run, last_status, created_at, updated_at`

// ScheduleRepo implements ports.ScheduleRepository.
type ScheduleRepo struct {
	pool Pool
}

// NewScheduleRepo creates a new ScheduleRepo.
func NewScheduleRepo(pool Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

// Create inserts a schedule. project_id is unique, so a second schedule for
// the same project fails with domain.ErrScheduleExists.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	query := `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.ProjectID, s.UserID, string(s.Frequency), s.Time, s.Timezone,
		s.DayOfWeek, s.DayOfMonth, s.Enabled, s.NextRun, s.LastRun, runStatusArg(s.LastStatus),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrScheduleExists
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID fetches a schedule by its UUID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	s, err := scanSchedule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule by id: %w", err)
	}
	return s, nil
}

// GetByProject fetches the schedule of a project owned by userID.
func (r *ScheduleRepo) GetByProject(ctx context.Context, userID, projectID string) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE project_id = $1 AND user_id = $2`
	s, err := scanSchedule(r.pool.QueryRow(ctx, query, projectID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule by project: %w", err)
	}
	return s, nil
}

// ListByUser returns all schedules of a user, newest first.
func (r *ScheduleRepo) ListByUser(ctx context.Context, userID string) ([]domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// Update rewrites the definition and derived fields of a schedule.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.Schedule) error {
	query := `UPDATE schedules
		SET frequency = $1, time_of_day = $2, timezone = $3, day_of_week = $4, day_of_month = $5,
			enabled = $6, next_run = $7, updated_at = $8
		WHERE id = $9`

	_, err := r.pool.Exec(ctx, query,
		string(s.Frequency), s.Time, s.Timezone, s.DayOfWeek, s.DayOfMonth,
		s.Enabled, s.NextRun, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// Delete removes a schedule and, by cascade, its history.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// ListDue returns enabled schedules whose next_run has passed.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE enabled = TRUE AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run ASC
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

// Claim advances next_run with a compare-and-set on its current value.
// Exactly one of several concurrent callers sees true.
func (r *ScheduleRepo) Claim(ctx context.Context, id uuid.UUID, expected, next, now time.Time) (bool, error) {
	query := `UPDATE schedules
		SET next_run = $1, updated_at = $2
		WHERE id = $3 AND enabled = TRUE AND next_run = $4`

	tag, err := r.pool.Exec(ctx, query, next, now, id, expected)
	if err != nil {
		return false, fmt.Errorf("claim schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRun stores the trigger outcome if the definition is still the one
// next was computed from. next_run is only kept while the schedule is enabled.
func (r *ScheduleRepo) RecordRun(ctx context.Context, id uuid.UUID, version, ranAt time.Time, status domain.RunStatus, next *time.Time) (bool, error) {
	query := `UPDATE schedules
		SET last_run = $1, last_status = $2,
			next_run = CASE WHEN enabled THEN $3::timestamptz ELSE NULL END,
			updated_at = $4
		WHERE id = $5 AND updated_at = $6`

	tag, err := r.pool.Exec(ctx, query, ranAt, string(status), next, time.Now().UTC(), id, version)
	if err != nil {
		return false, fmt.Errorf("record schedule run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ScheduleRepo) list(ctx context.Context, query string, args ...any) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var (
		s          domain.Schedule
		frequency  string
		lastStatus *string
	)
	err := row.Scan(
		&s.ID, &s.ProjectID, &s.UserID, &frequency, &s.Time, &s.Timezone,
		&s.DayOfWeek, &s.DayOfMonth, &s.Enabled, &s.NextRun, &s.LastRun, &lastStatus,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Frequency = domain.Frequency(frequency)
	if lastStatus != nil {
		st := domain.RunStatus(*lastStatus)
		s.LastStatus = &st
	}
	return &s, nil
}

func runStatusArg(s *domain.RunStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
