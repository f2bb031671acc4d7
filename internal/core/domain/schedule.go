package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frequency is how often a schedule fires.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// RunStatus is the outcome of the most recent trigger of a schedule.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// TriggerSource records who asked for a job to start.
type TriggerSource string

const (
	TriggerScheduled TriggerSource = "scheduled"
	TriggerManual    TriggerSource = "manual"
)

const (
	DefaultTimezone = "UTC"
	MaxDayOfMonth   = 28
)

// ErrScheduleExists is returned by the store when a project already has a schedule.
var ErrScheduleExists = errors.New("schedule already exists for project")

// Schedule is the recurrence definition attached to a single project.
// DayOfWeek uses 0 = Monday through 6 = Sunday.
type Schedule struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  string     `json:"project_id"`
	UserID     string     `json:"user_id"`
	Frequency  Frequency  `json:"frequency"`
	Time       *string    `json:"time,omitempty"` // HH:MM, absent for hourly
	Timezone   string     `json:"timezone"`
	DayOfWeek  *int       `json:"day_of_week,omitempty"`
	DayOfMonth *int       `json:"day_of_month,omitempty"`
	Enabled    bool       `json:"enabled"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus *RunStatus `json:"last_status,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Normalize defaults the timezone and clears fields the frequency does not use.
func (s *Schedule) Normalize() {
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	switch s.Frequency {
	case FrequencyHourly:
		s.Time = nil
		s.DayOfWeek = nil
		s.DayOfMonth = nil
	case FrequencyDaily:
		s.DayOfWeek = nil
		s.DayOfMonth = nil
	case FrequencyWeekly:
		s.DayOfMonth = nil
	case FrequencyMonthly:
		s.DayOfWeek = nil
	}
}

// Validate checks the recurrence definition. Call Normalize first.
func (s *Schedule) Validate() error {
	if s.ProjectID == "" {
		return &ValidationError{Field: "project_id", Message: "is required"}
	}
	if !s.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Message: fmt.Sprintf("unsupported frequency %q", s.Frequency)}
	}
	if _, err := LoadLocation(s.Timezone); err != nil {
		return &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", s.Timezone)}
	}
	if s.Frequency == FrequencyHourly {
		return nil
	}

	if s.Time == nil {
		return &ValidationError{Field: "time", Message: "is required for " + string(s.Frequency) + " schedules"}
	}
	if _, _, err := ParseClock(*s.Time); err != nil {
		return &ValidationError{Field: "time", Message: err.Error()}
	}

	switch s.Frequency {
	case FrequencyWeekly:
		if s.DayOfWeek == nil {
			return &ValidationError{Field: "day_of_week", Message: "is required for weekly schedules"}
		}
		if *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return &ValidationError{Field: "day_of_week", Message: "must be between 0 (Monday) and 6 (Sunday)"}
		}
	case FrequencyMonthly:
		if s.DayOfMonth == nil {
			return &ValidationError{Field: "day_of_month", Message: "is required for monthly schedules"}
		}
		if *s.DayOfMonth < 1 || *s.DayOfMonth > MaxDayOfMonth {
			return &ValidationError{Field: "day_of_month", Message: fmt.Sprintf("must be between 1 and %d", MaxDayOfMonth)}
		}
	}
	return nil
}

// ParseClock parses a strict "HH:MM" 24-hour wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("must be in HH:MM format")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("must be in HH:MM format")
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("must be a valid 24-hour time")
	}
	return hour, minute, nil
}

// ScheduleExecution is one entry of a schedule's trigger history.
type ScheduleExecution struct {
	ID         uuid.UUID     `json:"id"`
	ScheduleID uuid.UUID     `json:"schedule_id"`
	ProjectID  string        `json:"project_id"`
	JobID      *string       `json:"job_id,omitempty"`
	Status     RunStatus     `json:"status"`
	Trigger    TriggerSource `json:"trigger"`
	Error      *string       `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
}

// ValidationError reports an invalid field of a domain object.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
