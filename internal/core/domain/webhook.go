package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxDeliveryAttempts is the number of attempts in one delivery sequence.
	MaxDeliveryAttempts = 5
	// DefaultFailureThreshold is the consecutive failure count that disables a webhook.
	DefaultFailureThreshold = 5
	// MaxResponseSnippet bounds the response body stored with each attempt.
	MaxResponseSnippet = 1000
)

// retryOffsets are measured from the first attempt of a sequence.
var retryOffsets = [MaxDeliveryAttempts]time.Duration{
	0,
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// RetryOffset returns how long after the start of a sequence the attempt at
// the given 1-based position is due. ok is false past the last position.
func RetryOffset(position int) (offset time.Duration, ok bool) {
	if position < 1 || position > MaxDeliveryAttempts {
		return 0, false
	}
	return retryOffsets[position-1], true
}

// Webhook is a user's subscription to a set of event types.
// A nil ProjectID subscribes to events from all of the user's projects.
type Webhook struct {
	ID                  uuid.UUID         `json:"id"`
	UserID              string            `json:"user_id"`
	ProjectID           *string           `json:"project_id,omitempty"`
	URL                 string            `json:"url"`
	Events              []string          `json:"events"`
	SecretEnc           string            `json:"-"`
	Headers             map[string]string `json:"headers,omitempty"`
	Filter              *string           `json:"filter,omitempty"`
	Enabled             bool              `json:"enabled"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastTriggeredAt     *time.Time        `json:"last_triggered_at,omitempty"`
	LastStatusCode      *int              `json:"last_status_code,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// HasSecret reports whether deliveries are signed.
func (w *Webhook) HasSecret() bool {
	return w.SecretEnc != ""
}

// Subscribes reports whether w listens for the event type.
func (w *Webhook) Subscribes(t EventType) bool {
	for _, e := range w.Events {
		if EventType(e) == t {
			return true
		}
	}
	return false
}

// Validate checks the subscription definition.
func (w *Webhook) Validate() error {
	if err := ValidateWebhookURL(w.URL); err != nil {
		return err
	}
	if len(w.Events) == 0 {
		return &ValidationError{Field: "events", Message: "at least one event type is required"}
	}
	for _, e := range w.Events {
		if !EventType(e).Subscribable() {
			return &ValidationError{Field: "events", Message: fmt.Sprintf("unknown event type %q", e)}
		}
	}
	for name := range w.Headers {
		if IsReservedHeader(name) {
			return &ValidationError{Field: "headers", Message: fmt.Sprintf("header %q cannot be overridden", name)}
		}
	}
	return nil
}

// ValidateWebhookURL accepts absolute https URLs with a host.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be an absolute URL"}
	}
	if u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "must use https"}
	}
	if u.User != nil {
		return &ValidationError{Field: "url", Message: "must not contain credentials"}
	}
	return nil
}

// Protocol headers set on every delivery.
const (
	HeaderSignature  = "X-Signature-256"
	HeaderWebhookID  = "X-Webhook-ID"
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderEvent      = "X-Webhook-Event"
	HeaderTimestamp  = "X-Timestamp"
)

var reservedHeaders = map[string]struct{}{
	HeaderSignature:  {},
	HeaderWebhookID:  {},
	HeaderDeliveryID: {},
	HeaderEvent:      {},
	HeaderTimestamp:  {},
	"Content-Type":   {},
	"User-Agent":     {},
	"Content-Length": {},
	"Host":           {},
}

// IsReservedHeader reports whether a custom header would clash with the delivery protocol.
func IsReservedHeader(name string) bool {
	_, ok := reservedHeaders[http.CanonicalHeaderKey(strings.TrimSpace(name))]
	return ok
}

// DeliveryStatus is the state of a logical delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// Delivery is one event sent to one webhook, across all of its attempts.
// The ID and Payload never change between attempts.
type Delivery struct {
	ID                uuid.UUID       `json:"id"`
	WebhookID         uuid.UUID       `json:"webhook_id"`
	EventID           string          `json:"event_id"`
	EventType         EventType       `json:"event_type"`
	Payload           json.RawMessage `json:"payload"`
	Status            DeliveryStatus  `json:"status"`
	Attempts          int             `json:"attempts"`
	SequenceStart     int             `json:"-"`
	SequenceStartedAt time.Time       `json:"-"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty"`
	LastError         *string         `json:"last_error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsTerminal returns true once the delivery succeeded or exhausted its attempts.
func (d *Delivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusFailed
}

// Position returns the 1-based position of attempt within the current sequence.
func (d *Delivery) Position(attempt int) int {
	return attempt - d.SequenceStart + 1
}

// DueAt returns when attempt should run, or false if it is past the sequence.
func (d *Delivery) DueAt(attempt int) (time.Time, bool) {
	offset, ok := RetryOffset(d.Position(attempt))
	if !ok {
		return time.Time{}, false
	}
	return d.SequenceStartedAt.Add(offset), true
}

// AttemptStatus is the outcome of one HTTP attempt.
type AttemptStatus string

const (
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailed  AttemptStatus = "failed"
)

// DeliveryAttempt is the log entry of one POST to a webhook endpoint.
type DeliveryAttempt struct {
	DeliveryID     uuid.UUID     `json:"delivery_id"`
	Attempt        int           `json:"attempt"`
	Status         AttemptStatus `json:"status"`
	StatusCode     *int          `json:"status_code,omitempty"`
	ResponseTimeMs int64         `json:"response_time_ms"`
	Error          *string       `json:"error,omitempty"`
	ResponseBody   *string       `json:"response_body,omitempty"`
	AttemptedAt    time.Time     `json:"attempted_at"`
}

// Succeeded reports whether the endpoint answered with a 2xx status.
func (a *DeliveryAttempt) Succeeded() bool {
	return a.Status == AttemptStatusSuccess
}
