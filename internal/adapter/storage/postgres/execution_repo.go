package postgres

import (
	"context"
	"fmt"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
)

// ExecutionRepo implements ports.ExecutionRepository.
type ExecutionRepo struct {
	pool Pool
}

// NewExecutionRepo creates a new ExecutionRepo.
func NewExecutionRepo(pool Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Create appends one entry to a schedule's trigger history.
func (r *ExecutionRepo) Create(ctx context.Context, e *domain.ScheduleExecution) error {
	query := `INSERT INTO schedule_executions (id, schedule_id, project_id, job_id, status, trigger, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.ScheduleID, e.ProjectID, e.JobID,
		string(e.Status), string(e.Trigger), e.Error, e.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule execution: %w", err)
	}
	return nil
}

// ListBySchedule returns one page of history, newest first, plus the total count.
func (r *ExecutionRepo) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, page ports.PageParams) ([]domain.ScheduleExecution, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule_executions WHERE schedule_id = $1`, scheduleID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedule executions: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, schedule_id, project_id, job_id, status, trigger, error, started_at
		FROM schedule_executions
		WHERE schedule_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`,
		scheduleID, page.PageSize, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedule executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduleExecution
	for rows.Next() {
		var (
			e       domain.ScheduleExecution
			status  string
			trigger string
		)
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.ProjectID, &e.JobID, &status, &trigger, &e.Error, &e.StartedAt); err != nil {
			return nil, 0, fmt.Errorf("scan schedule execution: %w", err)
		}
		e.Status = domain.RunStatus(status)
		e.Trigger = domain.TriggerSource(trigger)
		out = append(out, e)
	}
	return out, total, rows.Err()
}
