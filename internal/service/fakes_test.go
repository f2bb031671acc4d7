package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/google/uuid"
)

// --- Clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// --- In-Memory Schedule Repo ---

type inMemoryScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*domain.Schedule
}

func newInMemoryScheduleRepo() *inMemoryScheduleRepo {
	return &inMemoryScheduleRepo{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

func cloneSchedule(s *domain.Schedule) *domain.Schedule {
	c := *s
	if s.NextRun != nil {
		n := *s.NextRun
		c.NextRun = &n
	}
	return &c
}

func (r *inMemoryScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.schedules {
		if existing.ProjectID == s.ProjectID {
			return domain.ErrScheduleExists
		}
	}
	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (r *inMemoryScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, nil
	}
	return cloneSchedule(s), nil
}

func (r *inMemoryScheduleRepo) GetByProject(ctx context.Context, userID, projectID string) (*domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.UserID == userID && s.ProjectID == projectID {
			return cloneSchedule(s), nil
		}
	}
	return nil, nil
}

func (r *inMemoryScheduleRepo) ListByUser(ctx context.Context, userID string) ([]domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Schedule
	for _, s := range r.schedules {
		if s.UserID == userID {
			out = append(out, *cloneSchedule(s))
		}
	}
	return out, nil
}

func (r *inMemoryScheduleRepo) Update(ctx context.Context, s *domain.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (r *inMemoryScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedules, id)
	return nil
}

func (r *inMemoryScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Schedule
	for _, s := range r.schedules {
		if s.Enabled && s.NextRun != nil && !s.NextRun.After(now) {
			out = append(out, *cloneSchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(*out[j].NextRun) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryScheduleRepo) Claim(ctx context.Context, id uuid.UUID, expected, next, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || !s.Enabled || s.NextRun == nil || !s.NextRun.Equal(expected) {
		return false, nil
	}
	s.NextRun = &next
	s.UpdatedAt = now
	return true, nil
}

func (r *inMemoryScheduleRepo) RecordRun(ctx context.Context, id uuid.UUID, version, ranAt time.Time, status domain.RunStatus, next *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || !s.UpdatedAt.Equal(version) {
		return false, nil
	}
	s.LastRun = &ranAt
	s.LastStatus = &status
	if s.Enabled {
		s.NextRun = next
	} else {
		s.NextRun = nil
	}
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

// --- In-Memory Execution Repo ---

type inMemoryExecutionRepo struct {
	mu         sync.Mutex
	executions []domain.ScheduleExecution
}

func (r *inMemoryExecutionRepo) Create(ctx context.Context, e *domain.ScheduleExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, *e)
	return nil
}

func (r *inMemoryExecutionRepo) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, page ports.PageParams) ([]domain.ScheduleExecution, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduleExecution
	for _, e := range r.executions {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (r *inMemoryExecutionRepo) all() []domain.ScheduleExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ScheduleExecution(nil), r.executions...)
}

// --- In-Memory Webhook Repo ---

type inMemoryWebhookRepo struct {
	mu       sync.Mutex
	webhooks map[uuid.UUID]*domain.Webhook
	// getErrs makes the next getErrs GetByID calls fail.
	getErrs int
}

func newInMemoryWebhookRepo() *inMemoryWebhookRepo {
	return &inMemoryWebhookRepo{webhooks: make(map[uuid.UUID]*domain.Webhook)}
}

func (r *inMemoryWebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *w
	r.webhooks[w.ID] = &c
	return nil
}

func (r *inMemoryWebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErrs > 0 {
		r.getErrs--
		return nil, errors.New("connection reset by peer")
	}
	w, ok := r.webhooks[id]
	if !ok {
		return nil, nil
	}
	c := *w
	return &c, nil
}

func (r *inMemoryWebhookRepo) ListByUser(ctx context.Context, userID string, projectID *string) ([]domain.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Webhook
	for _, w := range r.webhooks {
		if w.UserID != userID {
			continue
		}
		if projectID != nil && (w.ProjectID == nil || *w.ProjectID != *projectID) {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

func (r *inMemoryWebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.webhooks[w.ID]
	if !ok {
		return nil
	}
	cur.URL = w.URL
	cur.Events = w.Events
	cur.SecretEnc = w.SecretEnc
	cur.Headers = w.Headers
	cur.Filter = w.Filter
	cur.UpdatedAt = w.UpdatedAt
	return nil
}

func (r *inMemoryWebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.webhooks, id)
	return nil
}

func (r *inMemoryWebhookRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.webhooks[id]; ok {
		w.Enabled = enabled
		if enabled {
			w.ConsecutiveFailures = 0
		}
	}
	return nil
}

func (r *inMemoryWebhookRepo) ListEnabledForEvent(ctx context.Context, userID, projectID string, eventType domain.EventType) ([]domain.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Webhook
	for _, w := range r.webhooks {
		if !w.Enabled || w.UserID != userID || !w.Subscribes(eventType) {
			continue
		}
		if w.ProjectID != nil && *w.ProjectID != projectID {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

func (r *inMemoryWebhookRepo) RecordSuccess(ctx context.Context, id uuid.UUID, statusCode int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.webhooks[id]; ok {
		w.ConsecutiveFailures = 0
		w.LastStatusCode = &statusCode
		w.LastTriggeredAt = &at
	}
	return nil
}

func (r *inMemoryWebhookRepo) RecordFailure(ctx context.Context, id uuid.UUID, statusCode *int, at time.Time, threshold int) (*ports.FailureOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.webhooks[id]
	if !ok {
		return nil, nil
	}
	w.ConsecutiveFailures++
	if w.ConsecutiveFailures >= threshold {
		w.Enabled = false
	}
	w.LastStatusCode = statusCode
	w.LastTriggeredAt = &at
	return &ports.FailureOutcome{ConsecutiveFailures: w.ConsecutiveFailures, Disabled: !w.Enabled}, nil
}

// --- In-Memory Delivery Repo ---

var errDuplicateAttempt = errors.New("attempt already recorded")

type inMemoryDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*domain.Delivery
	attempts   map[uuid.UUID][]domain.DeliveryAttempt
}

func newInMemoryDeliveryRepo() *inMemoryDeliveryRepo {
	return &inMemoryDeliveryRepo{
		deliveries: make(map[uuid.UUID]*domain.Delivery),
		attempts:   make(map[uuid.UUID][]domain.DeliveryAttempt),
	}
}

func (r *inMemoryDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	r.deliveries[d.ID] = &c
	return nil
}

func (r *inMemoryDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (r *inMemoryDeliveryRepo) ListByWebhook(ctx context.Context, webhookID uuid.UUID, page ports.PageParams) ([]domain.Delivery, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Delivery
	for _, d := range r.deliveries {
		if d.WebhookID == webhookID {
			out = append(out, *d)
		}
	}
	return out, int64(len(out)), nil
}

func (r *inMemoryDeliveryRepo) ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.DeliveryAttempt(nil), r.attempts[deliveryID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (r *inMemoryDeliveryRepo) AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.attempts[a.DeliveryID] {
		if existing.Attempt == a.Attempt {
			return errDuplicateAttempt
		}
	}
	r.attempts[a.DeliveryID] = append(r.attempts[a.DeliveryID], *a)
	return nil
}

func (r *inMemoryDeliveryRepo) ScheduleNext(ctx context.Context, id uuid.UUID, attempt int, nextRetryAt time.Time, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deliveries[id]; ok && d.Status == domain.DeliveryStatusPending {
		d.Attempts = attempt
		d.NextRetryAt = &nextRetryAt
		d.LastError = lastError
	}
	return nil
}

func (r *inMemoryDeliveryRepo) Complete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, attempt int, lastError *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok || d.Status != domain.DeliveryStatusPending {
		return false, nil
	}
	d.Status = status
	d.Attempts = attempt
	d.LastError = lastError
	d.NextRetryAt = nil
	return true, nil
}

func (r *inMemoryDeliveryRepo) Restart(ctx context.Context, id uuid.UUID, sequenceStart int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok || d.Status != domain.DeliveryStatusFailed {
		return false, nil
	}
	d.Status = domain.DeliveryStatusPending
	d.SequenceStart = sequenceStart
	d.SequenceStartedAt = at
	d.NextRetryAt = &at
	return true, nil
}

func (r *inMemoryDeliveryRepo) ListPendingRetries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Delivery
	for _, d := range r.deliveries {
		if d.Status == domain.DeliveryStatusPending && d.NextRetryAt != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *inMemoryWebhookRepo) failNextGets(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getErrs = n
}

func (r *inMemoryDeliveryRepo) only() *domain.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		c := *d
		return &c
	}
	return nil
}

func (r *inMemoryDeliveryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// --- In-Memory Retry Queue ---

type inMemoryRetryQueue struct {
	mu    sync.Mutex
	tasks map[string]ports.RetryTask
}

func newInMemoryRetryQueue() *inMemoryRetryQueue {
	return &inMemoryRetryQueue{tasks: make(map[string]ports.RetryTask)}
}

func (q *inMemoryRetryQueue) Schedule(ctx context.Context, task ports.RetryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[task.DeliveryID.String()+"|"+strconv.Itoa(task.Attempt)] = task
	return nil
}

func (q *inMemoryRetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ports.RetryTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []ports.RetryTask
	for k, t := range q.tasks {
		if len(out) == limit {
			break
		}
		if !t.DueAt.After(now) {
			out = append(out, t)
			delete(q.tasks, k)
		}
	}
	return out, nil
}

// next returns the earliest queued task without claiming it.
func (q *inMemoryRetryQueue) next() (ports.RetryTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var first ports.RetryTask
	found := false
	for _, t := range q.tasks {
		if !found || t.DueAt.Before(first.DueAt) {
			first = t
			found = true
		}
	}
	return first, found
}

func (q *inMemoryRetryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// --- Job Trigger ---

type fakeJobTrigger struct {
	mu    sync.Mutex
	calls []string
	err   error
	delay time.Duration
}

func (f *fakeJobTrigger) TriggerJob(ctx context.Context, projectID, userID string, source domain.TriggerSource) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, projectID)
	if f.err != nil {
		return "", f.err
	}
	return "job-" + projectID, nil
}

func (f *fakeJobTrigger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// --- Event Recorder ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) all() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}
