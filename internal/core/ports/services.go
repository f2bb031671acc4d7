package ports

import (
	"context"
	"errors"
	"time"

	"sentimatrix-automation/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService protects webhook secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService computes and checks HMAC-SHA256 payload signatures.
type SignatureService interface {
	// Sign returns "sha256=<lowercase hex>".
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// TokenService handles JWT bearer tokens of dashboard users.
type TokenService interface {
	Generate(userID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID string
}

// Trigger errors returned by JobTrigger implementations.
var (
	ErrNoActiveTargets   = errors.New("project has no active targets")
	ErrJobAlreadyRunning = errors.New("job already running for project")
)

// JobTrigger starts a collection job for a project. It is the single entry
// point used by both the scheduler and "run now".
type JobTrigger interface {
	TriggerJob(ctx context.Context, projectID, userID string, source domain.TriggerSource) (jobID string, err error)
}

// EventPublisher hands a domain event to the dispatch pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// RetryTask identifies one future attempt of a delivery.
type RetryTask struct {
	DeliveryID uuid.UUID
	Attempt    int
	DueAt      time.Time
}

// RetryQueue holds future delivery attempts ordered by due time.
type RetryQueue interface {
	Schedule(ctx context.Context, task RetryTask) error
	// ClaimDue removes and returns up to limit tasks due at or before now.
	// A task is returned to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]RetryTask, error)
}

// EventDeduplicator remembers event IDs that were already dispatched.
type EventDeduplicator interface {
	// FirstSeen returns true the first time an event ID is presented.
	FirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// --- Service Ports (Business Logic) ---

// ScheduleInput is the validated body of a create request.
type ScheduleInput struct {
	ProjectID  string
	Frequency  domain.Frequency
	Time       *string
	Timezone   string
	DayOfWeek  *int
	DayOfMonth *int
	Enabled    *bool // nil = enabled
}

// ScheduleUpdate carries a partial update; nil fields are unchanged.
type ScheduleUpdate struct {
	Frequency  *domain.Frequency
	Time       *string
	Timezone   *string
	DayOfWeek  *int
	DayOfMonth *int
	Enabled    *bool
}

// ScheduleService manages per-project schedules.
type ScheduleService interface {
	Create(ctx context.Context, userID string, in ScheduleInput) (*domain.Schedule, error)
	Get(ctx context.Context, userID, projectID string) (*domain.Schedule, error)
	List(ctx context.Context, userID string) ([]domain.Schedule, error)
	Update(ctx context.Context, userID, projectID string, in ScheduleUpdate) (*domain.Schedule, error)
	Delete(ctx context.Context, userID, projectID string) error
	SetEnabled(ctx context.Context, userID, projectID string, enabled bool) (*domain.Schedule, error)
	// RunNow triggers a job immediately without touching the schedule row.
	RunNow(ctx context.Context, userID, projectID string) (jobID string, err error)
	History(ctx context.Context, userID, projectID string, page PageParams) ([]domain.ScheduleExecution, int64, error)
}

// WebhookInput is the validated body of a create request.
type WebhookInput struct {
	ProjectID *string
	URL       string
	Events    []string
	Secret    *string
	Headers   map[string]string
	Filter    *string
	Enabled   *bool
}

// WebhookUpdate carries a partial update; nil fields are unchanged.
// An empty Secret removes signing.
type WebhookUpdate struct {
	URL     *string
	Events  []string
	Secret  *string
	Headers map[string]string
	Filter  *string
	Enabled *bool
}

// WebhookTestResult is the outcome of a synchronous test ping.
type WebhookTestResult struct {
	Success        bool    `json:"success"`
	StatusCode     *int    `json:"status_code,omitempty"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	Error          *string `json:"error,omitempty"`
}

// DeliveryDetail is a delivery with its full attempt log.
type DeliveryDetail struct {
	Delivery *domain.Delivery         `json:"delivery"`
	Attempts []domain.DeliveryAttempt `json:"attempts"`
}

// WebhookService manages subscriptions and exposes the delivery log.
type WebhookService interface {
	Create(ctx context.Context, userID string, in WebhookInput) (*domain.Webhook, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Webhook, error)
	List(ctx context.Context, userID string, projectID *string) ([]domain.Webhook, error)
	Update(ctx context.Context, userID string, id uuid.UUID, in WebhookUpdate) (*domain.Webhook, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	SetEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) (*domain.Webhook, error)
	Test(ctx context.Context, userID string, id uuid.UUID) (*WebhookTestResult, error)
	ListDeliveries(ctx context.Context, userID string, id uuid.UUID, page PageParams) ([]domain.Delivery, int64, error)
	GetDelivery(ctx context.Context, userID string, id, deliveryID uuid.UUID) (*DeliveryDetail, error)
	RetryDelivery(ctx context.Context, userID string, id, deliveryID uuid.UUID) (*domain.Delivery, error)
}
