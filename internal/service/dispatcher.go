package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const testPingMessage = "This is a test webhook from Sentimatrix Studio"

// DispatcherConfig tunes outbound delivery.
type DispatcherConfig struct {
	Timeout          time.Duration
	MaxConcurrency   int64
	DisableThreshold int
	UserAgent        string
	DedupTTL         time.Duration
}

// DispatcherDeps groups the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Webhooks   ports.WebhookRepository
	Deliveries ports.DeliveryRepository
	Retries    *RetryScheduler
	Encryption ports.EncryptionService
	Signatures ports.SignatureService
	Dedup      ports.EventDeduplicator // optional
	Filters    *FilterEvaluator
	Client     HTTPClient
	Metrics    ports.Metrics // optional
}

// Dispatcher fans events out to matching webhooks and runs delivery attempts.
// At most MaxConcurrency POSTs are in flight across all deliveries.
type Dispatcher struct {
	webhooks   ports.WebhookRepository
	deliveries ports.DeliveryRepository
	retries    *RetryScheduler
	enc        ports.EncryptionService
	sig        ports.SignatureService
	dedup      ports.EventDeduplicator
	filters    *FilterEvaluator
	client     HTTPClient
	metrics    ports.Metrics
	sem        *semaphore.Weighted
	cfg        DispatcherConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 16
	}
	if cfg.DisableThreshold < 1 {
		cfg.DisableThreshold = domain.DefaultFailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "SentimatrixStudio/1.0"
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	filters := deps.Filters
	if filters == nil {
		filters = NewFilterEvaluator()
	}
	return &Dispatcher{
		webhooks:   deps.Webhooks,
		deliveries: deps.Deliveries,
		retries:    deps.Retries,
		enc:        deps.Encryption,
		sig:        deps.Signatures,
		dedup:      deps.Dedup,
		filters:    filters,
		client:     deps.Client,
		metrics:    metrics,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch creates one delivery per matching webhook and runs each first
// attempt. It returns the number of deliveries created once all first
// attempts have finished.
func (d *Dispatcher) Dispatch(ctx context.Context, e domain.Event) (int, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	if d.dedup != nil {
		first, err := d.dedup.FirstSeen(ctx, e.ID, d.cfg.DedupTTL)
		switch {
		case err != nil:
			d.log.Warn().Err(err).Str("event_id", e.ID).Msg("event dedup unavailable, dispatching anyway")
		case !first:
			d.log.Debug().Str("event_id", e.ID).Msg("duplicate event ignored")
			return 0, nil
		}
	}

	hooks, err := d.webhooks.ListEnabledForEvent(ctx, e.UserID, e.EntityID, e.Type)
	if err != nil {
		return 0, fmt.Errorf("list webhooks: %w", err)
	}

	var wg sync.WaitGroup
	created := 0
	for i := range hooks {
		w := &hooks[i]
		ok, err := d.filters.Match(w.Filter, &e)
		if err != nil {
			d.log.Warn().Err(err).Str("webhook_id", w.ID.String()).Msg("webhook filter failed, skipping")
			continue
		}
		if !ok {
			continue
		}

		delivery, err := d.newDelivery(ctx, w, &e)
		if err != nil {
			d.log.Error().Err(err).Str("webhook_id", w.ID.String()).Str("event_id", e.ID).Msg("failed to create delivery")
			continue
		}
		created++

		// The delivery is stored with next_retry_at = now, so a cancelled
		// context leaves it for Recover.
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			if err := d.attempt(ctx, w, delivery, 1); err != nil {
				d.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("first attempt left unsettled")
			}
		}()
	}
	wg.Wait()

	d.log.Info().
		Str("event_id", e.ID).
		Str("event_type", string(e.Type)).
		Int("deliveries", created).
		Msg("event dispatched")
	return created, nil
}

// Retry runs a claimed retry task. Stale tasks, whose attempt is not the
// next one of a pending delivery, are dropped. An attempt that was already
// recorded but not settled is settled from its record without sending again.
// A returned error means the task must run again.
func (d *Dispatcher) Retry(ctx context.Context, task ports.RetryTask) error {
	delivery, err := d.deliveries.GetByID(ctx, task.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}
	if delivery == nil || delivery.IsTerminal() || delivery.Attempts+1 != task.Attempt {
		d.log.Debug().Str("delivery_id", task.DeliveryID.String()).Int("attempt", task.Attempt).Msg("stale retry task dropped")
		return nil
	}

	w, err := d.webhooks.GetByID(ctx, delivery.WebhookID)
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}
	if w == nil || !w.Enabled {
		return d.fail(ctx, delivery, delivery.Attempts, "webhook disabled")
	}

	recorded, err := d.deliveries.ListAttempts(ctx, delivery.ID)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}
	if n := len(recorded); n > 0 && recorded[n-1].Attempt == task.Attempt {
		logger := d.log.With().
			Str("delivery_id", delivery.ID.String()).
			Str("webhook_id", w.ID.String()).
			Int("attempt", task.Attempt).
			Logger()
		logger.Info().Msg("settling recorded attempt")
		return d.settle(ctx, delivery, &recorded[n-1], false, logger)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)
	return d.attempt(ctx, w, delivery, task.Attempt)
}

// Test sends a synchronous test event to w. Nothing is stored and the
// webhook's failure counter is left alone.
func (d *Dispatcher) Test(ctx context.Context, w *domain.Webhook) *ports.WebhookTestResult {
	e := domain.NewEvent(domain.EventTest, w.UserID, "", map[string]any{"message": testPingMessage})
	if w.ProjectID != nil {
		e.EntityID = *w.ProjectID
	}
	deliveryID := uuid.New()

	result := &ports.WebhookTestResult{}
	payload, err := domain.BuildPayload(&e, w.ID, deliveryID)
	if err != nil {
		msg := err.Error()
		result.Error = &msg
		return result
	}

	res := d.send(ctx, w, deliveryID, e.Type, payload)
	result.Success = res.ok()
	result.StatusCode = res.statusCode
	result.ResponseTimeMs = res.elapsed.Milliseconds()
	result.Error = res.errMsg
	return result
}

func (d *Dispatcher) newDelivery(ctx context.Context, w *domain.Webhook, e *domain.Event) (*domain.Delivery, error) {
	id := uuid.New()
	payload, err := domain.BuildPayload(e, w.ID, id)
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}

	now := d.now()
	delivery := &domain.Delivery{
		ID:                id,
		WebhookID:         w.ID,
		EventID:           e.ID,
		EventType:         e.Type,
		Payload:           payload,
		Status:            domain.DeliveryStatusPending,
		SequenceStart:     1,
		SequenceStartedAt: now,
		NextRetryAt:       &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

// attempt performs attempt n of delivery and moves it to its next state:
// success, a scheduled retry, or terminal failure. An error leaves the
// delivery pending for the retry poller.
func (d *Dispatcher) attempt(ctx context.Context, w *domain.Webhook, delivery *domain.Delivery, n int) error {
	logger := d.log.With().
		Str("delivery_id", delivery.ID.String()).
		Str("webhook_id", w.ID.String()).
		Int("attempt", n).
		Logger()

	res := d.send(ctx, w, delivery.ID, delivery.EventType, delivery.Payload)

	status := domain.AttemptStatusFailed
	if res.ok() {
		status = domain.AttemptStatusSuccess
	}
	rec := &domain.DeliveryAttempt{
		DeliveryID:     delivery.ID,
		Attempt:        n,
		Status:         status,
		StatusCode:     res.statusCode,
		ResponseTimeMs: res.elapsed.Milliseconds(),
		Error:          res.errMsg,
		ResponseBody:   res.body,
		AttemptedAt:    res.at,
	}
	if err := d.deliveries.AppendAttempt(ctx, rec); err != nil {
		return fmt.Errorf("record attempt %d: %w", n, err)
	}
	d.metrics.DeliveryAttempt(string(status), res.elapsed)

	disabled := false
	if res.ok() {
		if err := d.webhooks.RecordSuccess(ctx, w.ID, *res.statusCode, res.at); err != nil {
			logger.Error().Err(err).Msg("failed to reset webhook failures")
		}
	} else {
		outcome, err := d.webhooks.RecordFailure(ctx, w.ID, res.statusCode, res.at, d.cfg.DisableThreshold)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("failed to record webhook failure")
		case outcome == nil:
			disabled = true // webhook deleted
		case outcome.Disabled:
			disabled = true
			if outcome.ConsecutiveFailures == d.cfg.DisableThreshold {
				d.metrics.WebhookAutoDisabled()
				logger.Warn().Int("consecutive_failures", outcome.ConsecutiveFailures).Msg("webhook disabled after consecutive failures")
			}
		}
	}
	return d.settle(ctx, delivery, rec, disabled, logger)
}

// settle applies the outcome of a recorded attempt to the delivery.
func (d *Dispatcher) settle(ctx context.Context, delivery *domain.Delivery, rec *domain.DeliveryAttempt, disabled bool, logger zerolog.Logger) error {
	if rec.Succeeded() {
		ok, err := d.deliveries.Complete(ctx, delivery.ID, domain.DeliveryStatusSuccess, rec.Attempt, nil)
		if err != nil {
			return fmt.Errorf("complete delivery: %w", err)
		}
		if ok {
			d.metrics.DeliveryCompleted(string(domain.DeliveryStatusSuccess))
			logger.Info().Msg("webhook delivered")
		}
		return nil
	}

	lastErr := "delivery failed"
	if rec.Error != nil {
		lastErr = *rec.Error
	}
	if _, ok := delivery.DueAt(rec.Attempt + 1); !ok || disabled {
		return d.fail(ctx, delivery, rec.Attempt, lastErr)
	}
	if err := d.retries.ScheduleRetry(ctx, delivery, rec.Attempt+1, rec.Error); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	logger.Warn().Str("error", lastErr).Msg("webhook attempt failed, retry scheduled")
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, delivery *domain.Delivery, attempts int, lastErr string) error {
	ok, err := d.deliveries.Complete(ctx, delivery.ID, domain.DeliveryStatusFailed, attempts, &lastErr)
	if err != nil {
		return fmt.Errorf("fail delivery: %w", err)
	}
	if ok {
		d.metrics.DeliveryCompleted(string(domain.DeliveryStatusFailed))
		d.log.Warn().Str("delivery_id", delivery.ID.String()).Int("attempts", attempts).Str("error", lastErr).Msg("webhook delivery failed")
	}
	return nil
}

type sendResult struct {
	at         time.Time
	elapsed    time.Duration
	statusCode *int
	body       *string
	errMsg     *string
}

func (r *sendResult) ok() bool {
	return r.errMsg == nil && r.statusCode != nil && *r.statusCode >= 200 && *r.statusCode < 300
}

func (r *sendResult) failWith(msg string) sendResult {
	r.errMsg = &msg
	return *r
}

// send POSTs payload to w. Custom headers go first so protocol headers
// always win.
func (d *Dispatcher) send(ctx context.Context, w *domain.Webhook, deliveryID uuid.UUID, eventType domain.EventType, payload []byte) sendResult {
	res := sendResult{at: d.now()}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return res.failWith("build request: " + err.Error())
	}
	for name, value := range w.Headers {
		if !domain.IsReservedHeader(name) {
			req.Header.Set(name, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set(domain.HeaderWebhookID, w.ID.String())
	req.Header.Set(domain.HeaderDeliveryID, deliveryID.String())
	req.Header.Set(domain.HeaderEvent, string(eventType))
	req.Header.Set(domain.HeaderTimestamp, strconv.FormatInt(res.at.Unix(), 10))

	if w.HasSecret() {
		secret, err := d.enc.Decrypt(w.SecretEnc)
		if err != nil {
			return res.failWith("decrypt webhook secret")
		}
		req.Header.Set(domain.HeaderSignature, d.sig.Sign(secret, payload))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	res.elapsed = time.Since(start)
	if err != nil {
		if isTimeout(err) {
			return res.failWith(fmt.Sprintf("timeout after %s", d.cfg.Timeout))
		}
		return res.failWith(err.Error())
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	res.statusCode = &code
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, domain.MaxResponseSnippet))
	if len(snippet) > 0 {
		body := strings.ToValidUTF8(string(snippet), "")
		res.body = &body
	}
	if code < 200 || code >= 300 {
		return res.failWith(fmt.Sprintf("HTTP %d", code))
	}
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
