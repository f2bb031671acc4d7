package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sentimatrix-automation/config"
	cronDriver "sentimatrix-automation/internal/adapter/cron"
	httpHandler "sentimatrix-automation/internal/adapter/http/handler"
	"sentimatrix-automation/internal/adapter/jobs"
	"sentimatrix-automation/internal/adapter/metrics"
	pgStorage "sentimatrix-automation/internal/adapter/storage/postgres"
	redisStorage "sentimatrix-automation/internal/adapter/storage/redis"
	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"
	"sentimatrix-automation/internal/service"
	"sentimatrix-automation/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management API, the scheduler loop and the webhook dispatcher",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(c.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Sentimatrix automation service")

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	if err := pgStorage.Migrate(ctx, pool); err != nil {
		return err
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	// Repositories and queues
	scheduleRepo := pgStorage.NewScheduleRepo(pool)
	executionRepo := pgStorage.NewExecutionRepo(pool)
	webhookRepo := pgStorage.NewWebhookRepo(pool)
	deliveryRepo := pgStorage.NewDeliveryRepo(pool)
	prefix := cfg.Redis.KeyPrefix
	retryQueue := redisStorage.NewRetryQueue(rdb, prefix)
	eventQueue := redisStorage.NewEventQueue(rdb, prefix, logger.Component(log, "event_queue"))
	eventDedup := redisStorage.NewEventDedup(rdb, prefix)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	// Core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	filters := service.NewFilterEvaluator()
	trigger := jobs.NewClient(cfg.Jobs, sigSvc, log)

	retries := service.NewRetryScheduler(deliveryRepo, retryQueue, cfg.Webhook.RetryBatchSize, recorder,
		logger.Component(log, "retry_scheduler"))
	dispatcher := service.NewDispatcher(service.DispatcherDeps{
		Webhooks:   webhookRepo,
		Deliveries: deliveryRepo,
		Retries:    retries,
		Encryption: encSvc,
		Signatures: sigSvc,
		Dedup:      eventDedup,
		Filters:    filters,
		Client:     service.NewDeliveryClient(cfg.Webhook.Timeout, cfg.Webhook.BlockPrivateNetworks),
		Metrics:    recorder,
	}, service.DispatcherConfig{
		Timeout:          cfg.Webhook.Timeout,
		MaxConcurrency:   cfg.Webhook.MaxConcurrency,
		DisableThreshold: cfg.Webhook.DisableThreshold,
		UserAgent:        cfg.Webhook.UserAgent,
		DedupTTL:         cfg.Webhook.DedupTTL,
	}, logger.Component(log, "dispatcher"))

	scheduleSvc := service.NewScheduleService(scheduleRepo, executionRepo, trigger, logger.Component(log, "schedules"))
	webhookSvc := service.NewWebhookService(webhookRepo, deliveryRepo, encSvc, filters, dispatcher, logger.Component(log, "webhooks"))
	loop := service.NewSchedulerLoop(scheduleRepo, executionRepo, trigger, eventQueue, service.SchedulerOptions{
		BatchSize:      cfg.Scheduler.BatchSize,
		TriggerTimeout: cfg.Scheduler.TriggerTimeout,
	}, recorder, logger.Component(log, "scheduler"))

	// Re-queue retries that were pending when the previous process stopped.
	if n, err := retries.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("retry recovery failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("pending retries recovered")
	}

	// Event intake: Redis list -> in-process bus -> dispatcher
	bus := service.NewEventBus(func(ctx context.Context, e domain.Event) error {
		_, err := dispatcher.Dispatch(ctx, e)
		return err
	}, cfg.Webhook.EventWorkers, cfg.Webhook.EventBuffer, logger.Component(log, "event_bus"))
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	bus.Start(workCtx)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		// A popped event is always handed to the bus, even during shutdown.
		handoff := func(_ context.Context, e domain.Event) error { return bus.Publish(workCtx, e) }
		if err := eventQueue.Consume(runCtx, handoff); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
		}
	}()

	// Periodic loops
	sched := cronDriver.NewScheduler(runCtx, log)
	if cfg.Scheduler.Enabled {
		if _, err := sched.Every("scheduler_tick", cfg.Scheduler.TickInterval, loop.Run); err != nil {
			return err
		}
	}
	if _, err := sched.Every("retry_poll", cfg.Webhook.RetryPollInterval, func(ctx context.Context) {
		retries.Run(ctx, dispatcher.Retry)
	}); err != nil {
		return err
	}
	sched.Start()

	// HTTP API
	gin.SetMode(cfg.Server.Mode)
	deps := httpHandler.RouterDeps{
		ScheduleSvc:    scheduleSvc,
		WebhookSvc:     webhookSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: redisStorage.NewRateLimitStore(rdb, prefix),
		HealthCheckers: []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		Logger:         logger.Component(log, "http"),
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = reg
		deps.MetricsPath = cfg.Metrics.Path
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpHandler.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let running loop items finish, then stop intake and drain deliveries.
	sched.Shutdown()
	cancelRun()
	consumers.Wait()
	bus.Close()
	cancelWork()

	log.Info().Msg("Server exited")
	return nil
}
