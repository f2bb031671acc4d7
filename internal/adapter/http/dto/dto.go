package dto

import (
	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"
)

// CreateScheduleRequest is the request body for POST /schedules.
type CreateScheduleRequest struct {
	ProjectID  string  `json:"project_id" binding:"required,max=100"`
	Frequency  string  `json:"frequency" binding:"required,oneof=hourly daily weekly monthly"`
	Time       *string `json:"time,omitempty" binding:"omitempty,hhmm"`
	Timezone   string  `json:"timezone,omitempty" binding:"omitempty,iana_tz"`
	DayOfWeek  *int    `json:"day_of_week,omitempty" binding:"omitempty,min=0,max=6"`
	DayOfMonth *int    `json:"day_of_month,omitempty" binding:"omitempty,min=1,max=28"`
	Enabled    *bool   `json:"enabled,omitempty"`
}

// ToInput converts the request into the service input.
func (r CreateScheduleRequest) ToInput() ports.ScheduleInput {
	return ports.ScheduleInput{
		ProjectID:  r.ProjectID,
		Frequency:  domain.Frequency(r.Frequency),
		Time:       r.Time,
		Timezone:   r.Timezone,
		DayOfWeek:  r.DayOfWeek,
		DayOfMonth: r.DayOfMonth,
		Enabled:    r.Enabled,
	}
}

// UpdateScheduleRequest is the request body for PUT /schedules/project/:project_id.
type UpdateScheduleRequest struct {
	Frequency  *string `json:"frequency,omitempty" binding:"omitempty,oneof=hourly daily weekly monthly"`
	Time       *string `json:"time,omitempty" binding:"omitempty,hhmm"`
	Timezone   *string `json:"timezone,omitempty" binding:"omitempty,iana_tz"`
	DayOfWeek  *int    `json:"day_of_week,omitempty" binding:"omitempty,min=0,max=6"`
	DayOfMonth *int    `json:"day_of_month,omitempty" binding:"omitempty,min=1,max=28"`
	Enabled    *bool   `json:"enabled,omitempty"`
}

func (r UpdateScheduleRequest) ToUpdate() ports.ScheduleUpdate {
	u := ports.ScheduleUpdate{
		Time:       r.Time,
		Timezone:   r.Timezone,
		DayOfWeek:  r.DayOfWeek,
		DayOfMonth: r.DayOfMonth,
		Enabled:    r.Enabled,
	}
	if r.Frequency != nil {
		f := domain.Frequency(*r.Frequency)
		u.Frequency = &f
	}
	return u
}

// ToggleRequest is the optional body of the toggle endpoints. A missing
// body or a null "enabled" flips the current state.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// RunNowResponse is returned when a job was started manually.
type RunNowResponse struct {
	ProjectID string `json:"project_id"`
	JobID     string `json:"job_id"`
}

// CreateWebhookRequest is the request body for POST /webhooks.
type CreateWebhookRequest struct {
	ProjectID *string           `json:"project_id,omitempty" binding:"omitempty,max=100"`
	URL       string            `json:"url" binding:"required,max=2048,https_url"`
	Events    []string          `json:"events" binding:"required,min=1,dive,required"`
	Secret    *string           `json:"secret,omitempty" binding:"omitempty,max=256"`
	Headers   map[string]string `json:"headers,omitempty" binding:"omitempty,max=20"`
	Filter    *string           `json:"filter,omitempty" binding:"omitempty,max=1000"`
	Enabled   *bool             `json:"enabled,omitempty"`
}

func (r CreateWebhookRequest) ToInput() ports.WebhookInput {
	return ports.WebhookInput{
		ProjectID: r.ProjectID,
		URL:       r.URL,
		Events:    r.Events,
		Secret:    r.Secret,
		Headers:   r.Headers,
		Filter:    r.Filter,
		Enabled:   r.Enabled,
	}
}

// UpdateWebhookRequest is the request body for PUT /webhooks/:id.
// An empty secret removes signing; an empty filter removes the filter.
type UpdateWebhookRequest struct {
	URL     *string           `json:"url,omitempty" binding:"omitempty,max=2048,https_url"`
	Events  []string          `json:"events,omitempty" binding:"omitempty,min=1,dive,required"`
	Secret  *string           `json:"secret,omitempty" binding:"omitempty,max=256"`
	Headers map[string]string `json:"headers,omitempty" binding:"omitempty,max=20"`
	Filter  *string           `json:"filter,omitempty" binding:"omitempty,max=1000"`
	Enabled *bool             `json:"enabled,omitempty"`
}

func (r UpdateWebhookRequest) ToUpdate() ports.WebhookUpdate {
	return ports.WebhookUpdate{
		URL:     r.URL,
		Events:  r.Events,
		Secret:  r.Secret,
		Headers: r.Headers,
		Filter:  r.Filter,
		Enabled: r.Enabled,
	}
}

// WebhookResponse is the API view of a subscription. The secret itself is
// never returned.
type WebhookResponse struct {
	domain.Webhook
	HasSecret bool `json:"has_secret"`
}

func NewWebhookResponse(w *domain.Webhook) WebhookResponse {
	return WebhookResponse{Webhook: *w, HasSecret: w.HasSecret()}
}

// PageQuery binds ?page=&page_size= query parameters.
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

func (q PageQuery) Params() ports.PageParams {
	return ports.PageParams{Page: q.Page, PageSize: q.PageSize}.Normalize()
}
