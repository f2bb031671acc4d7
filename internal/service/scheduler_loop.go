package service

import (
	"context"
	"fmt"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SchedulerOptions tunes one scan of due schedules.
type SchedulerOptions struct {
	BatchSize      int
	TriggerTimeout time.Duration
}

// TickResult summarizes one scan.
type TickResult struct {
	Due       int
	Claimed   int
	Skipped   int
	Triggered int
	Failed    int
}

// SchedulerLoop starts jobs for schedules whose next run has passed.
// Several instances may run side by side; Claim makes sure each due run is
// triggered once.
type SchedulerLoop struct {
	schedules  ports.ScheduleRepository
	executions ports.ExecutionRepository
	trigger    ports.JobTrigger
	events     ports.EventPublisher // optional
	opts       SchedulerOptions
	metrics    ports.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

const recordRunAttempts = 3

// NewSchedulerLoop creates a scheduler loop.
func NewSchedulerLoop(
	schedules ports.ScheduleRepository,
	executions ports.ExecutionRepository,
	trigger ports.JobTrigger,
	events ports.EventPublisher,
	opts SchedulerOptions,
	metrics ports.Metrics,
	log zerolog.Logger,
) *SchedulerLoop {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.TriggerTimeout <= 0 {
		opts.TriggerTimeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &SchedulerLoop{
		schedules:  schedules,
		executions: executions,
		trigger:    trigger,
		events:     events,
		opts:       opts,
		metrics:    metrics,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Tick runs one scan. Only a failure to list due schedules is returned;
// per-schedule problems are logged and the scan moves on.
func (l *SchedulerLoop) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := l.now()

	due, err := l.schedules.ListDue(ctx, now, l.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list due schedules: %w", err)
	}
	res.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		s := &due[i]
		logger := l.log.With().
			Str("schedule_id", s.ID.String()).
			Str("project_id", s.ProjectID).
			Logger()

		if s.NextRun == nil {
			res.Skipped++
			continue
		}
		next, err := domain.ComputeNextRun(s, now)
		if err != nil {
			logger.Error().Err(err).Msg("cannot compute next run")
			res.Skipped++
			continue
		}

		won, err := l.schedules.Claim(ctx, s.ID, *s.NextRun, next, now)
		if err != nil {
			logger.Error().Err(err).Msg("schedule claim failed")
			res.Skipped++
			continue
		}
		if !won {
			l.metrics.ScheduleClaimConflict()
			logger.Debug().Msg("schedule claimed by another instance")
			res.Skipped++
			continue
		}
		res.Claimed++

		if l.run(ctx, s, now, logger) {
			res.Triggered++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// Run is the periodic job body.
func (l *SchedulerLoop) Run(ctx context.Context) {
	res, err := l.Tick(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("scheduler tick failed")
		return
	}
	if res.Due > 0 {
		l.log.Info().
			Int("due", res.Due).
			Int("claimed", res.Claimed).
			Int("skipped", res.Skipped).
			Int("triggered", res.Triggered).
			Int("failed", res.Failed).
			Msg("scheduler tick")
	}
}

// run triggers a claimed schedule and records the outcome. It reports
// whether the job started.
func (l *SchedulerLoop) run(ctx context.Context, s *domain.Schedule, now time.Time, logger zerolog.Logger) bool {
	triggerCtx, cancel := context.WithTimeout(ctx, l.opts.TriggerTimeout)
	jobID, trigErr := l.trigger.TriggerJob(triggerCtx, s.ProjectID, s.UserID, domain.TriggerScheduled)
	cancel()

	status := domain.RunStatusCompleted
	var errMsg *string
	if trigErr != nil {
		status = domain.RunStatusFailed
		msg := trigErr.Error()
		errMsg = &msg
		logger.Warn().Err(trigErr).Msg("scheduled trigger failed")
	} else {
		logger.Info().Str("job_id", jobID).Msg("scheduled job started")
	}
	l.metrics.ScheduleTriggered(string(status))

	l.recordRun(ctx, s.ID, now, status, logger)

	exec := &domain.ScheduleExecution{
		ID:         uuid.New(),
		ScheduleID: s.ID,
		ProjectID:  s.ProjectID,
		Status:     status,
		Trigger:    domain.TriggerScheduled,
		Error:      errMsg,
		StartedAt:  now,
	}
	if trigErr == nil {
		exec.JobID = &jobID
	}
	if err := l.executions.Create(ctx, exec); err != nil {
		logger.Error().Err(err).Msg("failed to record execution")
	}

	l.publish(ctx, s, exec, logger)
	return trigErr == nil
}

// recordRun stores the outcome with a next_run computed from the current
// definition. The definition may change while the trigger is in flight or
// between the reload and the write, so the write is keyed on the reloaded
// version and repeated when it lost.
func (l *SchedulerLoop) recordRun(ctx context.Context, id uuid.UUID, now time.Time, status domain.RunStatus, logger zerolog.Logger) {
	for i := 0; i < recordRunAttempts; i++ {
		current, err := l.schedules.GetByID(ctx, id)
		if err != nil {
			logger.Error().Err(err).Msg("failed to reload schedule")
			return
		}
		if current == nil {
			return // deleted meanwhile
		}

		var next *time.Time
		if current.Enabled {
			if n, err := domain.ComputeNextRun(current, now); err == nil {
				next = &n
			}
		}
		ok, err := l.schedules.RecordRun(ctx, id, current.UpdatedAt, now, status, next)
		if err != nil {
			logger.Error().Err(err).Msg("failed to record run")
			return
		}
		if ok {
			return
		}
		logger.Debug().Msg("schedule changed while recording run, reloading")
	}
	logger.Warn().Msg("schedule kept changing, run outcome not recorded")
}

func (l *SchedulerLoop) publish(ctx context.Context, s *domain.Schedule, exec *domain.ScheduleExecution, logger zerolog.Logger) {
	if l.events == nil {
		return
	}
	eventType := domain.EventScheduleTriggered
	data := map[string]any{
		"schedule_id": s.ID.String(),
		"project_id":  s.ProjectID,
		"frequency":   string(s.Frequency),
	}
	if exec.Status == domain.RunStatusFailed {
		eventType = domain.EventScheduleFailed
		if exec.Error != nil {
			data["error"] = *exec.Error
		}
	}

	e := domain.NewEvent(eventType, s.UserID, s.ProjectID, data)
	e.JobID = exec.JobID
	if err := l.events.Publish(ctx, e); err != nil {
		logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish schedule event")
	}
}
