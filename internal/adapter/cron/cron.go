package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 30 * time.Second

// Scheduler drives the periodic loops (scheduler tick, retry poll).
type Scheduler struct {
	*cron.Cron
	ctx context.Context
	log zerolog.Logger
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

// Info logs routine messages about cron's operation.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// Error logs an error condition.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewScheduler returns a scheduler whose jobs run while ctx is live. Jobs
// receive ctx without its cancellation, so an activation that has started
// finishes its current items; Shutdown waits for it. A job that is still
// running when its next activation comes is skipped.
func NewScheduler(ctx context.Context, log zerolog.Logger) *Scheduler {
	logger := cronLogger{log.With().Str("component", "cron").Logger()}
	return &Scheduler{
		Cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: ctx,
		log: logger.logger,
	}
}

// Every registers fn to run at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) (int, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("cron job %q: interval must be positive", name)
	}
	id, err := s.Cron.AddFunc("@every "+interval.String(), func() {
		if s.ctx.Err() != nil {
			return
		}
		fn(context.WithoutCancel(s.ctx))
	})
	if err != nil {
		return 0, fmt.Errorf("cron job %q: %w", name, err)
	}
	s.log.Info().Str("job", name).Dur("interval", interval).Msg("periodic job registered")
	return int(id), nil
}

// Shutdown stops new activations and waits for running jobs.
func (s *Scheduler) Shutdown() {
	ctx, cancel := context.WithTimeout(s.Cron.Stop(), shutdownTimeout)
	defer cancel()
	<-ctx.Done()
}
