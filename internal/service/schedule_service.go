package service

import (
	"context"
	"errors"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"
	"sentimatrix-automation/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scheduleService implements ports.ScheduleService.
type scheduleService struct {
	schedules  ports.ScheduleRepository
	executions ports.ExecutionRepository
	trigger    ports.JobTrigger
	log        zerolog.Logger
	now        func() time.Time
}

// NewScheduleService creates a new schedule service.
func NewScheduleService(
	schedules ports.ScheduleRepository,
	executions ports.ExecutionRepository,
	trigger ports.JobTrigger,
	log zerolog.Logger,
) ports.ScheduleService {
	return &scheduleService{
		schedules:  schedules,
		executions: executions,
		trigger:    trigger,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *scheduleService) Create(ctx context.Context, userID string, in ports.ScheduleInput) (*domain.Schedule, error) {
	now := s.now()
	sch := &domain.Schedule{
		ID:         uuid.New(),
		ProjectID:  in.ProjectID,
		UserID:     userID,
		Frequency:  in.Frequency,
		Time:       in.Time,
		Timezone:   in.Timezone,
		DayOfWeek:  in.DayOfWeek,
		DayOfMonth: in.DayOfMonth,
		Enabled:    in.Enabled == nil || *in.Enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.prepare(sch, now); err != nil {
		return nil, err
	}

	if err := s.schedules.Create(ctx, sch); err != nil {
		if errors.Is(err, domain.ErrScheduleExists) {
			return nil, apperror.ErrScheduleExists()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("schedule_id", sch.ID.String()).
		Str("project_id", sch.ProjectID).
		Str("frequency", string(sch.Frequency)).
		Msg("schedule created")
	return sch, nil
}

func (s *scheduleService) Get(ctx context.Context, userID, projectID string) (*domain.Schedule, error) {
	return s.load(ctx, userID, projectID)
}

func (s *scheduleService) List(ctx context.Context, userID string) ([]domain.Schedule, error) {
	list, err := s.schedules.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return list, nil
}

func (s *scheduleService) Update(ctx context.Context, userID, projectID string, in ports.ScheduleUpdate) (*domain.Schedule, error) {
	sch, err := s.load(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	if in.Frequency != nil {
		sch.Frequency = *in.Frequency
	}
	if in.Time != nil {
		sch.Time = in.Time
	}
	if in.Timezone != nil {
		sch.Timezone = *in.Timezone
	}
	if in.DayOfWeek != nil {
		sch.DayOfWeek = in.DayOfWeek
	}
	if in.DayOfMonth != nil {
		sch.DayOfMonth = in.DayOfMonth
	}
	if in.Enabled != nil {
		sch.Enabled = *in.Enabled
	}

	now := s.now()
	if err := s.prepare(sch, now); err != nil {
		return nil, err
	}
	sch.UpdatedAt = now

	if err := s.schedules.Update(ctx, sch); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return sch, nil
}

func (s *scheduleService) Delete(ctx context.Context, userID, projectID string) error {
	sch, err := s.load(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if err := s.schedules.Delete(ctx, sch.ID); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	s.log.Info().Str("schedule_id", sch.ID.String()).Str("project_id", projectID).Msg("schedule deleted")
	return nil
}

// SetEnabled switches a schedule on or off. Asking for the current state
// changes nothing, so a pending due run is kept.
func (s *scheduleService) SetEnabled(ctx context.Context, userID, projectID string, enabled bool) (*domain.Schedule, error) {
	sch, err := s.load(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if sch.Enabled == enabled {
		return sch, nil
	}
	return s.Update(ctx, userID, projectID, ports.ScheduleUpdate{Enabled: &enabled})
}

func (s *scheduleService) RunNow(ctx context.Context, userID, projectID string) (string, error) {
	sch, err := s.load(ctx, userID, projectID)
	if err != nil {
		return "", err
	}

	now := s.now()
	jobID, trigErr := s.trigger.TriggerJob(ctx, projectID, userID, domain.TriggerManual)

	exec := &domain.ScheduleExecution{
		ID:         uuid.New(),
		ScheduleID: sch.ID,
		ProjectID:  projectID,
		Status:     domain.RunStatusCompleted,
		Trigger:    domain.TriggerManual,
		StartedAt:  now,
	}
	if trigErr != nil {
		msg := trigErr.Error()
		exec.Status = domain.RunStatusFailed
		exec.Error = &msg
	} else {
		exec.JobID = &jobID
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		s.log.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("failed to record manual execution")
	}

	if trigErr != nil {
		switch {
		case errors.Is(trigErr, ports.ErrNoActiveTargets):
			return "", apperror.ErrNoActiveTargets()
		case errors.Is(trigErr, ports.ErrJobAlreadyRunning):
			return "", apperror.ErrJobAlreadyRunning()
		default:
			return "", apperror.ErrTriggerFailed(trigErr)
		}
	}

	s.log.Info().Str("project_id", projectID).Str("job_id", jobID).Msg("manual run started")
	return jobID, nil
}

func (s *scheduleService) History(ctx context.Context, userID, projectID string, page ports.PageParams) ([]domain.ScheduleExecution, int64, error) {
	sch, err := s.load(ctx, userID, projectID)
	if err != nil {
		return nil, 0, err
	}
	list, total, err := s.executions.ListBySchedule(ctx, sch.ID, page.Normalize())
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return list, total, nil
}

func (s *scheduleService) load(ctx context.Context, userID, projectID string) (*domain.Schedule, error) {
	sch, err := s.schedules.GetByProject(ctx, userID, projectID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if sch == nil {
		return nil, apperror.ErrScheduleNotFound()
	}
	return sch, nil
}

// prepare normalizes and validates sch, then sets next_run from now.
// Disabled schedules never carry a next_run.
func (s *scheduleService) prepare(sch *domain.Schedule, now time.Time) error {
	sch.Normalize()
	if err := sch.Validate(); err != nil {
		return apperror.ErrInvalidSchedule(err.Error())
	}
	if !sch.Enabled {
		sch.NextRun = nil
		return nil
	}
	next, err := domain.ComputeNextRun(sch, now)
	if err != nil {
		return apperror.ErrInvalidSchedule(err.Error())
	}
	sch.NextRun = &next
	return nil
}
