package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventJobStarted        EventType = "job.started"
	EventJobProgress       EventType = "job.progress"
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
	EventProjectCreated    EventType = "project.created"
	EventProjectUpdated    EventType = "project.updated"
	EventProjectDeleted    EventType = "project.deleted"
	EventResultsAvailable  EventType = "results.available"
	EventAnalysisCompleted EventType = "analysis.completed"
	EventScheduleTriggered EventType = "schedule.triggered"
	EventScheduleFailed    EventType = "schedule.failed"
	EventTargetAdded       EventType = "target.added"
	EventTargetError       EventType = "target.error"

	// EventTest is only sent by the webhook test endpoint.
	EventTest EventType = "test"
)

var eventDescriptions = map[EventType]string{
	EventJobStarted:        "A collection job has started",
	EventJobProgress:       "A running job reached 25, 50 or 75 percent",
	EventJobCompleted:      "A collection job finished successfully",
	EventJobFailed:         "A collection job failed",
	EventProjectCreated:    "A project was created",
	EventProjectUpdated:    "A project was updated",
	EventProjectDeleted:    "A project was deleted",
	EventResultsAvailable:  "New results are available for a project",
	EventAnalysisCompleted: "Sentiment analysis finished for a job",
	EventScheduleTriggered: "A schedule started a job",
	EventScheduleFailed:    "A schedule could not start a job",
	EventTargetAdded:       "A target was added to a project",
	EventTargetError:       "A target failed during collection",
}

// Subscribable reports whether webhooks may subscribe to t.
func (t EventType) Subscribable() bool {
	_, ok := eventDescriptions[t]
	return ok
}

// EventInfo describes an event type for the management API.
type EventInfo struct {
	Type        EventType `json:"type"`
	Description string    `json:"description"`
}

// AvailableEvents lists every subscribable event type, sorted by name.
func AvailableEvents() []EventInfo {
	out := make([]EventInfo, 0, len(eventDescriptions))
	for t, d := range eventDescriptions {
		out = append(out, EventInfo{Type: t, Description: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Event is a domain notification emitted by the job-execution side.
// EntityID is the project the event belongs to.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	UserID     string         `json:"user_id"`
	EntityID   string         `json:"entity_id"`
	EntityName string         `json:"entity_name,omitempty"`
	JobID      *string        `json:"job_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent builds an event with a fresh ID.
func NewEvent(t EventType, userID, entityID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     userID,
		EntityID:   entityID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate rejects events the dispatcher cannot route.
func (e *Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if !e.Type.Subscribable() && e.Type != EventTest {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	return nil
}

// PayloadData returns the event data enriched with the routing fields.
func (e *Event) PayloadData() map[string]any {
	data := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		data[k] = v
	}
	if _, ok := data["project_id"]; !ok && e.EntityID != "" {
		data["project_id"] = e.EntityID
	}
	if _, ok := data["project_name"]; !ok && e.EntityName != "" {
		data["project_name"] = e.EntityName
	}
	if _, ok := data["job_id"]; !ok && e.JobID != nil {
		data["job_id"] = *e.JobID
	}
	return data
}

// WebhookPayload is the JSON body POSTed to subscribers.
type WebhookPayload struct {
	Event     EventType       `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      map[string]any  `json:"data"`
	Metadata  PayloadMetadata `json:"metadata"`
}

// PayloadMetadata identifies the subscription and delivery.
type PayloadMetadata struct {
	WebhookID  string `json:"webhook_id"`
	DeliveryID string `json:"delivery_id"`
}

// BuildPayload serializes the body of a delivery. The result is stored and
// reused unchanged for every attempt.
func BuildPayload(e *Event, webhookID, deliveryID uuid.UUID) ([]byte, error) {
	return json.Marshal(WebhookPayload{
		Event:     e.Type,
		Timestamp: e.OccurredAt.UTC().Format(time.RFC3339),
		Data:      e.PayloadData(),
		Metadata: PayloadMetadata{
			WebhookID:  webhookID.String(),
			DeliveryID: deliveryID.String(),
		},
	})
}
