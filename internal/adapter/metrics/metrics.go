package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentimatrix"

// Recorder implements ports.Metrics with Prometheus collectors.
type Recorder struct {
	scheduleTriggers *prometheus.CounterVec
	claimConflicts   prometheus.Counter
	deliveryAttempts *prometheus.CounterVec
	deliveryLatency  prometheus.Histogram
	deliveriesDone   *prometheus.CounterVec
	retriesScheduled prometheus.Counter
	webhooksDisabled prometheus.Counter
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		scheduleTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "triggers_total",
			Help:      "Scheduled job triggers by outcome",
		}, []string{"status"}),
		claimConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "claim_conflicts_total",
			Help:      "Due schedules already claimed by another instance",
		}),
		deliveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "delivery_attempts_total",
			Help:      "Webhook delivery attempts by outcome",
		}, []string{"status"}),
		deliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "delivery_duration_seconds",
			Help:      "Round-trip time of webhook delivery attempts",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		deliveriesDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_completed_total",
			Help:      "Deliveries that reached a terminal status",
		}, []string{"status"}),
		retriesScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "retries_scheduled_total",
			Help:      "Delivery retries queued",
		}),
		webhooksDisabled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "auto_disabled_total",
			Help:      "Webhooks disabled after consecutive failures",
		}),
	}
}

func (r *Recorder) ScheduleTriggered(status string) {
	r.scheduleTriggers.WithLabelValues(status).Inc()
}

func (r *Recorder) ScheduleClaimConflict() {
	r.claimConflicts.Inc()
}

func (r *Recorder) DeliveryAttempt(status string, latency time.Duration) {
	r.deliveryAttempts.WithLabelValues(status).Inc()
	r.deliveryLatency.Observe(latency.Seconds())
}

func (r *Recorder) DeliveryCompleted(status string) {
	r.deliveriesDone.WithLabelValues(status).Inc()
}

func (r *Recorder) RetryScheduled() {
	r.retriesScheduled.Inc()
}

func (r *Recorder) WebhookAutoDisabled() {
	r.webhooksDisabled.Inc()
}
