package ports

import "time"

// Metrics receives operational counters from the scheduler and dispatcher.
type Metrics interface {
	ScheduleTriggered(status string)
	ScheduleClaimConflict()
	DeliveryAttempt(status string, latency time.Duration)
	DeliveryCompleted(status string)
	RetryScheduled()
	WebhookAutoDisabled()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ScheduleTriggered(string)              {}
func (NopMetrics) ScheduleClaimConflict()                {}
func (NopMetrics) DeliveryAttempt(string, time.Duration) {}
func (NopMetrics) DeliveryCompleted(string)              {}
func (NopMetrics) RetryScheduled()                       {}
func (NopMetrics) WebhookAutoDisabled()                  {}
